package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"go.clipsync.dev/clipsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change the saved client settings",
		Long: `Reads and writes the client settings file (server URL, shared secret,
autostart, start-minimized). A running client picks connection changes up on
its next connect.`,
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigSetCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the saved settings",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, path, err := openStore()
			if err != nil {
				return err
			}
			c := store.Get()
			fmt.Printf("path:            %s\n", path)
			fmt.Printf("server-url:      %s\n", valueOr(c.ServerURL, "(not set)"))
			// Never print the secret itself.
			fmt.Printf("shared-secret:   %s\n", secretState(c.SharedSecret))
			fmt.Printf("autostart:       %t\n", c.Autostart)
			fmt.Printf("start-minimized: %t\n", c.StartMinimized)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Long: `Keys: server-url, shared-secret, autostart, start-minimized.
Boolean keys take true or false.`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			store, _, err := openStore()
			if err != nil {
				return err
			}
			key, val := args[0], args[1]
			cur := store.Get()
			switch key {
			case "server-url":
				return store.SetConnection(val, cur.SharedSecret)
			case "shared-secret":
				return store.SetConnection(cur.ServerURL, val)
			case "autostart":
				b, err := strconv.ParseBool(val)
				if err != nil {
					return fmt.Errorf("autostart takes true or false, got %q", val)
				}
				return store.SetAutostart(b)
			case "start-minimized":
				b, err := strconv.ParseBool(val)
				if err != nil {
					return fmt.Errorf("start-minimized takes true or false, got %q", val)
				}
				return store.SetStartMinimized(b)
			default:
				return fmt.Errorf("unknown key %q (server-url, shared-secret, autostart, start-minimized)", key)
			}
		},
	}
	return cmd
}

func openStore() (*config.Store, string, error) {
	path, err := config.DefaultPath()
	if err != nil {
		return nil, "", err
	}
	store, err := config.Open(path)
	if err != nil {
		return nil, "", err
	}
	return store, path, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func secretState(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "(set)"
}
