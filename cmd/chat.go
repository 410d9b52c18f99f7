package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/daikw/personachat/internal/audio"
	"github.com/daikw/personachat/internal/chat"
	"github.com/daikw/personachat/internal/persona"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

// olderPage is how many messages /more reveals.
const olderPage = 20

func handleChat(ctx context.Context, c *cli.Command) error {
	a, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer a.close()

	bot := persona.NewStore(a.store).Load(ctx)
	if bot == nil {
		return fmt.Errorf("no character found. Create one with 'personachat create <name>'")
	}

	opts := []chat.Option{
		chat.WithClassifier(a.client),
		chat.WithAudioDefault(a.cfg.AudioEnabled),
		chat.WithRetryPolicy(chat.RetryPolicy{
			MaxAttempts: a.cfg.Chat.MaxAttempts,
			BaseDelay:   a.cfg.Chat.RetryDelay,
			MaxDelay:    a.cfg.Chat.MaxDelay,
		}),
	}
	if backend := audio.NewExecBackend(); backend.Available() {
		opts = append(opts, chat.WithAudio(audio.NewController(backend)))
	} else {
		log.Warn().Msg("No audio player found, replies will be text only")
	}
	if synth := newSynthesizer(ctx, a.cfg.TTS); synth != nil {
		opts = append(opts, chat.WithSynthesizer(synth))
	}

	back := false
	opts = append(opts, chat.WithNavigate(func() { back = true }))

	ctrl := chat.New(a.client, bot, a.store, opts...)
	defer ctrl.Close()

	if c.Bool("mute") {
		ctrl.SetAudioEnabled(ctx, false)
	}

	prefs := persona.NewPreferences(a.store, a.cfg.AudioEnabled)
	th := loadTheme(ctx, prefs)

	printBot(bot)

	if err := ctrl.Start(ctx); err != nil {
		printError(ctrl, err)
		if !ctrl.InputEnabled() {
			return nil
		}
	}
	log.Logger = log.With().Str("session_id", ctrl.Session().ID).Logger()
	for _, m := range ctrl.VisibleMessages() {
		printMessage(th, bot.Name, m)
	}

	fmt.Println(th.notice.Sprint("Commands: /more, /audio on|off, /theme dark|light, /back, /quit"))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(th.user.Sprint("> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/more":
			showOlder(th, ctrl)
			continue
		case strings.HasPrefix(line, "/audio"):
			setAudio(ctx, th, ctrl, strings.TrimSpace(strings.TrimPrefix(line, "/audio")))
			continue
		case strings.HasPrefix(line, "/theme"):
			th = setTheme(ctx, prefs, th, strings.TrimSpace(strings.TrimPrefix(line, "/theme")))
			continue
		case line == "/back":
			ctrl.BackToCharacterCreation(ctx)
			if back {
				fmt.Println("Character forgotten. Create a new one with: personachat create <name>")
			}
			return nil
		}

		before := len(ctrl.Messages())
		stop := watchRetrying(ctx, ctrl)
		err := ctrl.Send(ctx, line)
		stop()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			printError(ctrl, err)
		}
		// The user's own line is already on screen
		printNew(th, ctrl, before+1)
	}
}

// printNew prints the transcript from index from onward.
func printNew(th *theme, ctrl *chat.Controller, from int) {
	msgs := ctrl.Messages()
	for i := from; i < len(msgs); i++ {
		printMessage(th, ctrl.Bot().Name, msgs[i])
	}
}

func printMessage(th *theme, name string, m chat.Message) {
	if m.Sender == chat.SenderUser {
		fmt.Printf("%s %s\n", th.user.Sprint("you:"), m.Text)
		return
	}
	fmt.Printf("%s %s\n", th.assistant.Sprint(name+":"), m.Text)
}

func printError(ctrl *chat.Controller, err error) {
	msg := ctrl.Error()
	if msg == "" {
		msg = err.Error()
	}
	fmt.Println(color.RedString(msg))
}

func showOlder(th *theme, ctrl *chat.Controller) {
	if !ctrl.HasOlder() {
		fmt.Println(th.notice.Sprint("No older messages."))
		return
	}
	before := len(ctrl.VisibleMessages())
	ctrl.ShowOlder(olderPage)
	visible := ctrl.VisibleMessages()
	for _, m := range visible[:len(visible)-before] {
		printMessage(th, ctrl.Bot().Name, m)
	}
}

func setAudio(ctx context.Context, th *theme, ctrl *chat.Controller, arg string) {
	switch arg {
	case "on":
		ctrl.SetAudioEnabled(ctx, true)
	case "off":
		ctrl.SetAudioEnabled(ctx, false)
	case "":
	default:
		fmt.Println("Usage: /audio on|off")
		return
	}
	state := "off"
	if ctrl.AudioEnabled(ctx) {
		state = "on"
	}
	fmt.Println(th.notice.Sprintf("Audio is %s.", state))
}

// watchRetrying prints a notice once the controller starts retrying.
func watchRetrying(ctx context.Context, ctrl *chat.Controller) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := time.NewTicker(200 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if ctrl.Retrying() {
					fmt.Println(color.YellowString("  (retrying...)"))
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
