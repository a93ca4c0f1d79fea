package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/flowlens/internal/console"
	"firestige.xyz/flowlens/internal/source"
)

var interfacesJSON bool

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List capturable network interfaces",
	Long: `List the devices libpcap can open together with their addresses and OS
traffic counters. The interface monitor picks when none is configured is
marked with '*'.`,
	Run: func(cmd *cobra.Command, args []string) {
		ifaces, err := source.ListInterfaces()
		if err != nil {
			exitWithError("failed to list interfaces", err)
		}
		if err := writeInterfaces(cmd.OutOrStdout(), ifaces, interfacesJSON); err != nil {
			exitWithError("failed to print interfaces", err)
		}
	},
}

func init() {
	interfacesCmd.Flags().BoolVar(&interfacesJSON, "json", false, "print as JSON")
}

func writeInterfaces(w io.Writer, ifaces []source.Interface, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ifaces)
	}

	def, _ := source.DefaultInterface(ifaces)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tSTATE\tRECV\tSENT\tDROP_IN\tADDRESSES")
	for _, i := range ifaces {
		mark := ""
		if i.Name == def {
			mark = "*"
		}
		state := "down"
		if i.Up {
			state = "up"
		}
		if i.Loopback {
			state += ",loopback"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			mark, i.Name, state,
			console.FormatBytes(i.BytesRecv), console.FormatBytes(i.BytesSent),
			i.DropIn, strings.Join(i.Addresses, ","))
	}
	return tw.Flush()
}
