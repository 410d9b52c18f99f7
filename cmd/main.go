package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

var (
	version  = "dev"
	revision = "none"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	app := &cli.Command{
		Name:  "personachat",
		Usage: "Create AI characters and chat with them",
		Description: `personachat generates a character from a name (personality, avatar
and voice) and then holds a spoken conversation with it through the
persona chat API.`,
		Version: fmt.Sprintf("%s (rev: %s)", version, revision),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"V"},
				Usage:   "Enable verbose logging",
			},
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "Base URL of the persona chat API (default from config)",
			},
			&cli.StringFlag{
				Name:  "storage",
				Usage: "Storage backend: memory, file, sqlite, redis (default from config)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Generate a new character",
				Action:    handleCreate,
				Aliases:   []string{"new"},
				ArgsUsage: "<name>",
			},
			{
				Name:   "chat",
				Usage:  "Chat with the current character",
				Action: handleChat,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "mute",
						Usage: "Turn reply audio off and save that as the audio preference",
					},
				},
			},
			{
				Name:   "voices",
				Usage:  "List text-to-speech voices",
				Action: handleVoices,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "provider",
						Usage: "TTS provider: gcp, polly",
						Value: "gcp",
					},
					&cli.StringFlag{
						Name:  "language",
						Usage: "Only list voices for this language code, e.g. en-GB",
					},
					&cli.StringFlag{
						Name:  "region",
						Usage: "AWS region for Polly (default from config)",
					},
					&cli.StringFlag{
						Name:  "project-id",
						Usage: "Google Cloud project ID for GCP TTS",
					},
				},
			},
			{
				Name:      "play",
				Usage:     "Play an audio file, URL or data URI",
				Action:    handlePlay,
				ArgsUsage: "<source>",
			},
			{
				Name:   "reset",
				Usage:  "Forget the current character, its history and the session",
				Action: handleReset,
			},
			{
				Name:   "migrate",
				Usage:  "Upgrade stored data written by older versions",
				Action: handleMigrate,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) error {
			if c.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		stop()
		log.Fatal().Err(err).Msg("Failed to run application")
	}
}
