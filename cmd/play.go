package main

import (
	"context"
	"fmt"

	"github.com/daikw/personachat/internal/audio"
	"github.com/urfave/cli/v3"
)

func handlePlay(ctx context.Context, c *cli.Command) error {
	source := c.Args().Get(0)
	if source == "" {
		return fmt.Errorf("audio source is required")
	}

	ctrl := audio.NewController(audio.NewExecBackend())
	defer ctrl.StopAudio()

	h, err := ctrl.PlayAudio(ctx, source)
	if err != nil {
		return err
	}
	if h == nil {
		return nil
	}

	select {
	case <-h.Done():
	case <-ctx.Done():
	}
	return nil
}
