// devi/utils/color/color.go
package color

import (
	"os"

	"github.com/fatih/color"
)

var (
	promptColor  = color.New(color.FgCyan, color.Bold)
	infoColor    = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	deviColor    = color.New(color.FgHiMagenta, color.Bold)
	statusColor  = color.New(color.FgHiBlack)
)

func ColorPrompt(s string) string {
	return promptColor.Sprint(s)
}

func ColorInfo(s string) string {
	return infoColor.Sprint(s)
}

func ColorWarning(s string) string {
	return warningColor.Sprint(s)
}

func ColorError(s string) string {
	return errorColor.Sprint(s)
}

// ColorDevi paints the assistant's name and replies.
func ColorDevi(s string) string {
	return deviColor.Sprint(s)
}

// ColorStatus is for delivery ticks and timestamps.
func ColorStatus(s string) string {
	return statusColor.Sprint(s)
}

// DisableColorIfNotTTY turns colors off when stdout is piped.
func DisableColorIfNotTTY() {
	if fi, err := os.Stdout.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
		color.NoColor = true
	}
}
