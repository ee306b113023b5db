package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/KevinKickass/vprocontrol/internal/types"
	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List configured devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _, err := setup()
			if err != nil {
				return err
			}

			list := service.Manager().ListDevices()
			infos := make([]types.DeviceInfo, 0, len(list))
			for _, d := range list {
				infos = append(infos, d.Info())
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(infos)
			}
			if len(infos) == 0 {
				fmt.Println("no devices configured")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDRESS\tMATRIX\tDESCRIPTION")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Name, info.Address, info.MatrixPath, info.Description)
			}
			return w.Flush()
		},
	}
}
