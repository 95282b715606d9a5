package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.clipsync.dev/clipsync/internal/engine"
	"go.clipsync.dev/clipsync/internal/ipc"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running client's sync state",
		Long: `Queries the client daemon on this machine over its local status socket and
prints connection state, pause state, and history size.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runStatus(v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(v *viper.Viper) error {
	sock := ipc.SocketPath()
	raw, err := ipc.Query(sock)
	if err != nil {
		return err
	}

	if v.GetBool("json") {
		var buf map[string]any
		if err := json.Unmarshal(raw, &buf); err != nil {
			return fmt.Errorf("status parse: %w", err)
		}
		enc, _ := json.MarshalIndent(buf, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	var st engine.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("status parse: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Socket:\t%s\n", sock)
	fmt.Fprintf(w, "Device:\t%s\n", st.DeviceID)
	fmt.Fprintf(w, "Connected:\t%s\n", connState(st))
	if st.ServerURL != "" {
		fmt.Fprintf(w, "Server:\t%s\n", st.ServerURL)
	}
	fmt.Fprintf(w, "Sync:\t%s\n", syncState(st.Paused))
	fmt.Fprintf(w, "History:\t%d items\n", st.HistoryLen)
	return w.Flush()
}

func connState(st engine.Status) string {
	switch {
	case st.Connected:
		return "yes"
	case st.Retrying:
		return "no (retrying)"
	default:
		return "no"
	}
}

func syncState(paused bool) string {
	if paused {
		return "paused"
	}
	return "active"
}
