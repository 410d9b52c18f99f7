package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/daikw/personachat/internal/voice/provider"
	"github.com/urfave/cli/v3"
)

func handleVoices(ctx context.Context, c *cli.Command) error {
	a, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer a.close()

	settings := provider.Settings{
		Region:    a.cfg.TTS.Region,
		ProjectID: a.cfg.TTS.ProjectID,
	}
	if r := c.String("region"); r != "" {
		settings.Region = r
	}
	if p := c.String("project-id"); p != "" {
		settings.ProjectID = p
	}

	name := c.String("provider")
	p, err := provider.NewFactory().CreateProvider(ctx, name, settings)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	if !p.IsAvailable(ctx) {
		return fmt.Errorf("voice provider '%s' is not available", p.Name())
	}

	var voices []provider.Voice
	language := c.String("language")
	if pp, ok := p.(*provider.PollyProvider); ok && language != "" {
		voices, err = pp.ListVoicesByLanguage(ctx, language)
	} else {
		voices, err = p.ListVoices(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to list %s voices: %w", p.Name(), err)
	}

	sort.Slice(voices, func(i, j int) bool { return voices[i].ID < voices[j].ID })

	fmt.Printf("Available voices for %s:\n\n", p.Name())
	for _, v := range voices {
		if language != "" && !strings.EqualFold(v.Language, language) && !strings.HasPrefix(strings.ToLower(v.ID), strings.ToLower(language)) {
			continue
		}
		fmt.Printf("  %s - %s (%s, %s)\n", v.ID, v.Name, v.Gender, v.Language)
	}
	return nil
}
