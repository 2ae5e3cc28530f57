package cli

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"plate-node/internal/config"
)

var (
	initPath   string
	initNodeID string
	initHubURL string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the node configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration for a new node",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID := initNodeID
		if nodeID == "" {
			nodeID = uuid.NewString()
		}
		if err := config.WriteDefault(initPath, nodeID, initHubURL); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s for node %s\n", initPath, nodeID)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Settings(configPath)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&initPath, "path", config.ConfigName+".json", "where to write the file")
	configInitCmd.Flags().StringVar(&initNodeID, "node-id", "", "node id (default: random UUID)")
	configInitCmd.Flags().StringVar(&initHubURL, "hub", "http://localhost:5000", "hub server URL")
	configCmd.AddCommand(configInitCmd, configShowCmd)
}
