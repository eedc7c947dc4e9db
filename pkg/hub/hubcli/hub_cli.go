package hubcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/evhub-io/evhub/pkg/hub"
	"github.com/spf13/cobra"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "evhub"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type hubProvider func() *hub.Hub

func NewRootCmd(configDir string) *cobra.Command {
	cfg := hub.Config{
		DataDir:       filepath.Join(configDir, "data"),
		DevicesConfig: filepath.Join(configDir, "devices.yml"),
		NetworkConfig: filepath.Join(configDir, "network.yml"),
	}
	hubCmd := &cobra.Command{
		Use:   "evhub",
		Short: "Event Hub",
		Long:  `The Event Hub collects, filters and timestamps device events and bridges them between hub instances.`,
	}
	var h *hub.Hub
	hubProvider := func() *hub.Hub {
		return h
	}
	hubCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	hubCmd.PersistentFlags().StringVar(&cfg.DevicesConfig, "devices-config", cfg.DevicesConfig, "devices config file")
	hubCmd.PersistentFlags().StringVar(&cfg.NetworkConfig, "network-config", cfg.NetworkConfig, "network config file")
	hubCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		h, err = hub.New(cfg)
		return err
	}
	hubCmd.AddCommand(NewRun(hubProvider))
	hubCmd.AddCommand(NewListDevices(hubProvider))
	return hubCmd
}

func NewRun(hub hubProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the Event Hub",
		Long:  `Runs the hub daemon until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer hub().Close()
			return hub().Run(cmd.Context())
		},
	}
}

func NewListDevices(hub hubProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List known devices",
		Long:  `List the devices recorded in the hub database, including ones from previous runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer hub().Close()
			records, err := hub().Devices().ListDeviceRecords()
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}
