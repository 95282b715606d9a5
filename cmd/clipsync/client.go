package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.clipsync.dev/clipsync/internal/clip"
	"go.clipsync.dev/clipsync/internal/config"
	"go.clipsync.dev/clipsync/internal/engine"
	"go.clipsync.dev/clipsync/internal/ipc"
	"go.clipsync.dev/clipsync/internal/notify"
)

func newClientCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run the sync client for this device",
		Long: `Starts the clipsync client: watches the system clipboard, pushes every copy
to the relay, and writes items copied on other devices into the local
clipboard.

With --server and --secret the client connects immediately and saves both for
next time. Without them it auto-connects using the saved settings (see
"clipsync config"); if nothing is saved it stays idle until configured.

Connections that drop are retried with growing backoff until "clipsync client"
exits. A wrong secret is not retried.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runClient(v) },
	}

	f := cmd.Flags()
	f.String("server", "", "relay address (host:port); empty = use saved settings")
	f.String("secret", "", "shared secret")
	f.String("device-id", "", "device identity in item origins (default: fresh uuid per run)")
	f.Bool("paused", false, "start with outbound sync paused")
	f.Int("max-image-bytes", 0, "largest image payload to push in bytes (0 = default)")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runClient(v *viper.Viper) error {
	setupLogging(v, "client")

	cfgPath, err := config.DefaultPath()
	if err != nil {
		return err
	}
	store, err := config.Open(cfgPath)
	if err != nil {
		return err
	}

	src := clip.System()
	defer src.Close()

	bus := notify.NewBus(0)
	eng := engine.New(engine.Options{
		DeviceID:      v.GetString("device-id"),
		Source:        src,
		Notifier:      bus,
		Config:        store,
		MaxImageBytes: v.GetInt("max-image-bytes"),
	})

	slog.Info("clipsync client starting",
		"version", Version,
		"device", eng.DeviceID(),
		"clipboard", src.Name(),
		"config", cfgPath,
	)

	go logEvents(bus)

	if v.GetBool("paused") {
		eng.ToggleSync(true)
	}

	if server := v.GetString("server"); server != "" {
		if err := eng.Connect(server, v.GetString("secret")); err != nil {
			return fmt.Errorf("connect %s: %w", server, err)
		}
	} else {
		eng.AutoConnect()
	}

	// Status socket for `clipsync status`.
	sock := ipc.SocketPath()
	ln, err := ipc.Listen(sock)
	if err != nil {
		slog.Warn("status socket unavailable", "err", err)
	} else {
		slog.Info("status socket listening", "path", sock)
		defer ln.Close()
		go ipc.Serve(ln, func() any { return eng.Status() })
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Info("shutting down", "signal", s)
	eng.Disconnect()
	return nil
}

// logEvents drains the notifier bus into the log, the headless stand-in for
// a UI layer.
func logEvents(bus *notify.Bus) {
	for ev := range bus.Events() {
		switch {
		case ev.ConnectionStatus != nil:
			s := ev.ConnectionStatus
			switch {
			case s.Connected:
				slog.Info("connected to relay")
			case s.Retrying:
				slog.Warn("disconnected, retrying", "err", s.Err)
			case s.Err != "":
				slog.Error("disconnected", "err", s.Err)
			default:
				slog.Info("disconnected")
			}
		case ev.ClipboardReceived != nil:
			it := ev.ClipboardReceived.Item
			slog.Info("clipboard received", "id", it.ID, "kind", it.Kind, "origin", it.OriginDeviceID)
		case ev.HistoryLoaded != nil:
			slog.Info("history loaded", "items", len(ev.HistoryLoaded.Items))
		}
	}
}
