// clipsync: clipboard sync across devices through a relay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.clipsync.dev/clipsync/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clipsync",
		Short: "Clipboard sync across devices",
		Long: `clipsync keeps the clipboard in sync across devices through a central
relay. Devices prove knowledge of a shared secret; the relay fans every copy
out to every other device and retains a short history for late joiners.

Run "clipsync server" once, "clipsync client" on each device. Use
"clipsync status" to inspect a running client and "clipsync config" to manage
its saved settings.

Config file search order (first found wins):
  /etc/clipsync/clipsync.toml
  $HOME/.config/clipsync/clipsync.toml
  path supplied via --config

All flags can be set via CLIPSYNC_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServerCmd(),
		newClientCmd(),
		newStatusCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("clipsync %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(component string, interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(component, format, level)
}
