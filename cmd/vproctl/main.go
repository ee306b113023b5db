// vproctl queries and switches VPRO video matrices from the command line.
//
// Usage:
//
//	vproctl devices                          List configured devices
//	vproctl matrix <device|host>             Show the routing table
//	vproctl connect <device|host> -s 2 -t 1  Route source 2 to target 1
//	vproctl watch [device...]                Print routing changes
//
// Devices are taken from the service config (-c). A bare IP address or
// host name works without any config.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/KevinKickass/vprocontrol/internal/config"
	"github.com/KevinKickass/vprocontrol/internal/devices"
	"github.com/KevinKickass/vprocontrol/internal/system"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	timeout    time.Duration
	jsonOutput bool
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "vproctl",
	Short:             "Query and switch VPRO video matrices",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "service config file (YAML)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "overall timeout per command")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newDevicesCmd(),
		newMatrixCmd(),
		newConnectCmd(),
		newWatchCmd(),
	)
}

// setup loads the config and builds the device service.
func setup() (*devices.Service, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	cfg.Logging.Development = true
	cfg.Logging.Level = "warn"
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := system.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	service, err := system.NewDeviceService(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return service, logger, nil
}

// commandContext applies --timeout to the command's context.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), timeout)
}
