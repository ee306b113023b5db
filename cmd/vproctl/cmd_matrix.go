package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/KevinKickass/vprocontrol/internal/vpro"
	"github.com/spf13/cobra"
)

func newMatrixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "matrix <device|host>",
		Short: "Show the routing table of a device",
		Long: `Query the current routing table.

  vproctl matrix studio
  vproctl matrix 10.0.0.20
  vproctl matrix 10.0.0.20:9000 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _, err := setup()
			if err != nil {
				return err
			}

			device, err := service.Manager().Resolve(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			state, err := service.QueryDevice(ctx, device)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(state)
			}
			return printMatrix(os.Stdout, state)
		},
	}
}

func printMatrix(out io.Writer, state *vpro.MatrixState) error {
	if len(state.Connections) == 0 {
		fmt.Fprintln(out, "no connections")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tLABEL\tSOURCES")
	for _, conn := range state.Connections {
		sources := make([]string, 0, len(conn.Sources))
		for _, src := range conn.Sources {
			sources = append(sources, fmt.Sprintf("%d (%s)", src, state.SourceLabel(src)))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", conn.Target, state.TargetLabel(conn.Target), strings.Join(sources, ", "))
	}
	return w.Flush()
}
