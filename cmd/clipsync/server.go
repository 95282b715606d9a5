package main

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.clipsync.dev/clipsync/internal/relay"
)

func newServerCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the relay server",
		Long: `Starts the clipsync relay. Every authenticated device shares a clipboard:
each accepted copy is fanned out to all other devices, and a short history is
retained and replayed to devices that join later.

With a secret set, clients must prove knowledge of it and all frames are
encrypted with a key derived from it. An empty secret runs an open,
unencrypted relay — only for trusted networks.

Precedence (lowest → highest): defaults → config file → CLIPSYNC_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServer(v) },
	}

	f := cmd.Flags()
	f.String("addr", "0.0.0.0:8752", "TCP listen address")
	f.String("secret", "", "shared secret (empty = no auth, no encryption)")
	f.Int("history-size", 0, "retained history entries replayed to joining devices (0 = default)")
	f.Int("max-image-bytes", 0, "largest accepted image payload in bytes (0 = default)")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServer(v *viper.Viper) error {
	setupLogging(v, "relay")

	addr := v.GetString("addr")
	secret := v.GetString("secret")

	srv, err := relay.NewServer(relay.Options{
		Secret:          secret,
		HistoryCapacity: v.GetInt("history-size"),
		MaxImageBytes:   v.GetInt("max-image-bytes"),
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	slog.Info("clipsync relay starting",
		"version", Version,
		"addr", ln.Addr(),
		"auth", secret != "",
		"encrypted", secret != "",
	)

	return srv.Serve(ln)
}
