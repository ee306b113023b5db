package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/KevinKickass/vprocontrol/internal/vpro"
	"github.com/spf13/cobra"
)

func newConnectCmd() *cobra.Command {
	var source, target string

	cmd := &cobra.Command{
		Use:   "connect <device|host> -s <source> -t <target>",
		Short: "Route a source to a target",
		Long: `Route one source to one target and wait for the device to confirm.

Exits non-zero when the device rejects the request.

  vproctl connect studio -s 2 -t 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := vpro.ParseIndex("source", source)
			if err != nil {
				return err
			}
			tgt, err := vpro.ParseIndex("target", target)
			if err != nil {
				return err
			}

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

			result, err := service.ConnectDevice(ctx, device, src, tgt)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
					return err
				}
			} else if result.Acknowledged() {
				suffix := ""
				if result.Pending {
					suffix = " (pending)"
				}
				fmt.Printf("%s: source %d -> target %d%s\n", device.Name, src, tgt, suffix)
			}

			if !result.Acknowledged() {
				return fmt.Errorf("%s rejected source %d -> target %d: %s", device.Name, src, tgt, result.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "source index")
	cmd.Flags().StringVarP(&target, "target", "t", "", "target index")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
