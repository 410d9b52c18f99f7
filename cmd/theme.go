package main

import (
	"context"
	"fmt"

	"github.com/daikw/personachat/internal/persona"
	"github.com/fatih/color"
)

// theme colours the chat transcript. Dark terminals get the bright
// variants.
type theme struct {
	dark      bool
	user      *color.Color
	assistant *color.Color
	notice    *color.Color
}

func newTheme(dark bool) *theme {
	if dark {
		return &theme{
			dark:      true,
			user:      color.New(color.FgHiGreen),
			assistant: color.New(color.FgHiCyan),
			notice:    color.New(color.FgHiWhite),
		}
	}
	return &theme{
		user:      color.New(color.FgGreen),
		assistant: color.New(color.FgBlue),
		notice:    color.New(color.FgHiBlack),
	}
}

// loadTheme reads the stored dark mode preference.
func loadTheme(ctx context.Context, prefs *persona.Preferences) *theme {
	return newTheme(prefs.DarkMode(ctx))
}

// setTheme handles "/theme dark|light" and returns the theme to use.
func setTheme(ctx context.Context, prefs *persona.Preferences, current *theme, arg string) *theme {
	switch arg {
	case "dark", "light":
		prefs.SetDarkMode(ctx, arg == "dark")
		current = loadTheme(ctx, prefs)
	case "":
	default:
		fmt.Println("Usage: /theme dark|light")
		return current
	}
	name := "light"
	if current.dark {
		name = "dark"
	}
	fmt.Println(current.notice.Sprintf("Theme is %s.", name))
	return current
}
