// Package logging configures the global slog logger for clipsync binaries.
//
// Attribute values under secret-bearing keys are redacted in every output
// format: the shared secret must never reach a log line, not even at debug
// level.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pwntr/tinter"
)

// Format selects the log output format.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat converts a string to a Format, returning FormatAuto for unknown values.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "text", "tint", "human":
		return FormatText
	case "json":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// ParseLevel converts a string to a slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// redactedKeys are attribute keys whose values are replaced before emission.
var redactedKeys = map[string]bool{
	"secret":        true,
	"shared_secret": true,
	"secret_hash":   true,
	"token":         true,
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if redactedKeys[a.Key] {
		a.Value = slog.StringValue("[redacted]")
	}
	return a
}

// Setup configures the global slog logger. component tags every record with
// the emitting process role (relay, client); empty omits the attribute.
// Call once after flag/viper parsing.
func Setup(component string, format Format, level slog.Level) {
	slog.SetDefault(New(os.Stderr, component, format, level))
}

// New builds a logger without touching the global default.
func New(w io.Writer, component string, format Format, level slog.Level) *slog.Logger {
	useTint := format == FormatText || (format == FormatAuto && IsTTY(w))

	var h slog.Handler
	if useTint {
		h = tinter.NewHandler(w, &tinter.Options{
			Level:       level,
			TimeFormat:  "15:04:05.000",
			ReplaceAttr: redact,
		})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: redact,
		})
	}

	log := slog.New(h)
	if component != "" {
		log = log.With("component", component)
	}
	return log
}
