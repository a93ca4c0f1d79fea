package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/flowlens/internal/api"
)

// ControlClient is what the control commands need from a running monitor.
type ControlClient interface {
	State(ctx context.Context) (api.StateInfo, error)
	Start(ctx context.Context, overrides map[string]any) (api.StateInfo, error)
	Stop(ctx context.Context) (api.StateInfo, error)
	SetFilter(ctx context.Context, expr string) error
	Diagnostics(ctx context.Context) (json.RawMessage, error)
}

var (
	apiAddr    string
	apiTimeout time.Duration

	startFlags struct {
		iface   string
		file    string
		filter  string
		source  string
		keyMode string
	}
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the capture state of a running monitor",
	Run: func(cmd *cobra.Command, args []string) {
		runControl(cmd, func(ctx context.Context, c ControlClient, w io.Writer) error {
			return runStatus(ctx, c, w)
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a capture on a running monitor",
	Long: `Start a capture session on a monitor started with --api. Flags override
the monitor's configured capture settings.

Examples:
  flowlens start --api 127.0.0.1:9470 -i eth1
  flowlens start --file trace.pcap --source file`,
	Run: func(cmd *cobra.Command, args []string) {
		overrides := startOverrides(cmd)
		runControl(cmd, func(ctx context.Context, c ControlClient, w io.Writer) error {
			return runStart(ctx, c, overrides, w)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the capture on a running monitor",
	Run: func(cmd *cobra.Command, args []string) {
		runControl(cmd, func(ctx context.Context, c ControlClient, w io.Writer) error {
			return runStop(ctx, c, w)
		})
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter EXPR",
	Short: "Replace the BPF filter of the running capture",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runControl(cmd, func(ctx context.Context, c ControlClient, w io.Writer) error {
			return runFilter(ctx, c, args[0], w)
		})
	},
}

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Print capture diagnostics of a running monitor",
	Run: func(cmd *cobra.Command, args []string) {
		runControl(cmd, func(ctx context.Context, c ControlClient, w io.Writer) error {
			return runDiag(ctx, c, w)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, startCmd, stopCmd, filterCmd, diagCmd} {
		c.Flags().StringVar(&apiAddr, "api", "127.0.0.1:9470", "monitor API address")
		c.Flags().DurationVarP(&apiTimeout, "timeout", "t", 10*time.Second, "request timeout")
	}
	startCmd.Flags().StringVarP(&startFlags.iface, "interface", "i", "", "interface to capture on")
	startCmd.Flags().StringVarP(&startFlags.file, "file", "f", "", "capture file to replay")
	startCmd.Flags().StringVar(&startFlags.filter, "filter", "", "BPF filter expression")
	startCmd.Flags().StringVar(&startFlags.source, "source", "", "capture source: pcap, afpacket or file")
	startCmd.Flags().StringVar(&startFlags.keyMode, "key-mode", "", "flow key: endpoints or hosts")
}

func runControl(cmd *cobra.Command, fn func(context.Context, ControlClient, io.Writer) error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), apiTimeout)
	defer cancel()
	if err := fn(ctx, api.NewClient(apiAddr, apiTimeout), cmd.OutOrStdout()); err != nil {
		exitWithError(cmd.Name()+" failed", err)
	}
}

func startOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	set := func(flag, key, value string) {
		if cmd.Flags().Changed(flag) {
			overrides[key] = value
		}
	}
	set("interface", "interface", startFlags.iface)
	set("file", "file", startFlags.file)
	set("filter", "filter", startFlags.filter)
	set("source", "source", startFlags.source)
	set("key-mode", "key_mode", startFlags.keyMode)
	return overrides
}

func writeState(w io.Writer, st api.StateInfo) {
	fmt.Fprintf(w, "state: %s\n", st.State)
	if st.Device != "" {
		fmt.Fprintf(w, "device: %s\n", st.Device)
	}
	if !st.Since.IsZero() {
		fmt.Fprintf(w, "since: %s\n", st.Since.Format(time.RFC3339))
	}
	if st.Error != "" {
		fmt.Fprintf(w, "error: %s\n", st.Error)
	}
}

func runStatus(ctx context.Context, c ControlClient, w io.Writer) error {
	st, err := c.State(ctx)
	if err != nil {
		return err
	}
	writeState(w, st)
	return nil
}

func runStart(ctx context.Context, c ControlClient, overrides map[string]any, w io.Writer) error {
	st, err := c.Start(ctx, overrides)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "✓ Capture started")
	writeState(w, st)
	return nil
}

func runStop(ctx context.Context, c ControlClient, w io.Writer) error {
	if _, err := c.Stop(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "✓ Capture stopped")
	return nil
}

func runFilter(ctx context.Context, c ControlClient, expr string, w io.Writer) error {
	if err := c.SetFilter(ctx, expr); err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ Filter set to %q\n", expr)
	return nil
}

func runDiag(ctx context.Context, c ControlClient, w io.Writer) error {
	raw, err := c.Diagnostics(ctx)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}
