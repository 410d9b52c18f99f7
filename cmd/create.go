package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daikw/personachat/internal/creation"
	"github.com/daikw/personachat/internal/persona"
	"github.com/daikw/personachat/internal/voice"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

var stageMessages = map[creation.Stage]string{
	creation.StagePersonality: "Writing personality...",
	creation.StageAvatar:      "Drawing avatar...",
	creation.StageVoice:       "Choosing a voice...",
}

func handleCreate(ctx context.Context, c *cli.Command) error {
	name := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("character name is required")
	}

	a, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer a.close()

	orch := creation.New(a.client, voice.NewStore(a.store),
		creation.WithAvatarMaxWait(a.cfg.AvatarMaxWait),
	)

	// Ctrl-C cancels the run through ctx
	tok := creation.NewToken(ctx)
	defer tok.Cancel()

	stopTicker := avatarTicker(tok.Context(), orch)
	defer stopTicker()

	sink := creation.ProgressFunc(func(stage creation.Stage) {
		fmt.Println(color.CyanString(stageMessages[stage]))
	})

	var bot *persona.Bot
	err = orch.Create(tok, name, sink, func(b *persona.Bot) {
		bot = b
	})
	stopTicker()

	var createErr *creation.Error
	switch {
	case errors.Is(err, creation.ErrCancelled):
		fmt.Println(color.YellowString("Creation cancelled."))
		return nil
	case errors.As(err, &createErr):
		log.Debug().Err(createErr.Err).Str("stage", string(createErr.Stage)).Msg("Creation failed")
		return errors.New(createErr.Message)
	case err != nil:
		return err
	}

	persona.NewStore(a.store).Save(ctx, bot)
	persona.NewSessionManager(a.store).Start(ctx)

	printBot(bot)
	fmt.Println("Start chatting with: personachat chat")
	return nil
}

// avatarTicker prints the avatar elapsed time while that stage runs.
func avatarTicker(ctx context.Context, orch *creation.Orchestrator) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if state, stage := orch.State(); state == creation.StateGenerating && stage == creation.StageAvatar {
					fmt.Printf("  still drawing (%s)\n", orch.AvatarElapsed())
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func printBot(bot *persona.Bot) {
	bold := color.New(color.Bold)
	fmt.Println()
	_, _ = bold.Println(bot.Name)
	fmt.Printf("  Avatar: %s\n", truncate(bot.AvatarURL, 80))
	if bot.VoiceConfig != nil {
		fmt.Printf("  Voice:  %s (%s)\n", bot.VoiceConfig.Name, bot.VoiceConfig.Language())
	}
	fmt.Printf("  %s\n\n", truncate(bot.Personality, 300))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
