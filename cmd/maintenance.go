package main

import (
	"context"
	"fmt"

	"github.com/daikw/personachat/internal/chat"
	"github.com/daikw/personachat/internal/persona"
	"github.com/daikw/personachat/internal/voice"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func handleReset(ctx context.Context, c *cli.Command) error {
	a, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer a.close()

	bots := persona.NewStore(a.store)
	if bot := bots.Load(ctx); bot != nil {
		a.store.Remove(ctx, chat.HistoryKey(bot.Name))
		voice.NewStore(a.store).Remove(ctx, bot.Name)
		log.Debug().Str("character", bot.Name).Msg("Removed character data")
	}
	bots.Clear(ctx)
	persona.NewSessionManager(a.store).Reset(ctx)

	fmt.Println("Reset complete")
	return nil
}

func handleMigrate(ctx context.Context, c *cli.Command) error {
	a, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer a.close()

	// Migration runs whenever storage is opened
	fmt.Printf("Migrated %d key(s)\n", a.migrated)
	return nil
}
