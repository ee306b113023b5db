package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/KevinKickass/vprocontrol/internal/devices"
	"github.com/KevinKickass/vprocontrol/internal/vpro"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch [device...]",
		Short: "Poll configured devices and print routing changes",
		Long: `Poll every configured device (or only the named ones) and print the
routing table whenever it changes. Stops on Ctrl-C.

  vproctl watch -c config.yaml --interval 2s
  vproctl watch studio gallery`,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, logger, err := setup()
			if err != nil {
				return err
			}
			if service.Manager().Count() == 0 {
				return fmt.Errorf("no devices configured")
			}

			sink := &printSink{only: lowerAll(args)}
			poller := devices.NewPoller(service, sink, interval, logger)
			if err := poller.Start(); err != nil {
				return err
			}
			defer poller.Stop()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			select {
			case <-sigChan:
			case <-cmd.Context().Done():
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

// printSink writes poller events to stdout.
type printSink struct {
	only []string
}

func (s *printSink) wants(device string) bool {
	return len(s.only) == 0 || slices.Contains(s.only, strings.ToLower(device))
}

func (s *printSink) MatrixChanged(device string, state *vpro.MatrixState) {
	if !s.wants(device) {
		return
	}
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"device": device, "state": state})
		return
	}
	fmt.Printf("== %s %s\n", device, time.Now().Format(time.TimeOnly))
	_ = printMatrix(os.Stdout, state)
}

func (s *printSink) DeviceError(device string, err error) {
	if s.wants(device) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", device, err)
	}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
