package cmd

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/mediakit/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage MediaKit configuration profiles.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Printf("# profile: %s\n", cfg.Profile)
		fmt.Print(string(out))
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configuration profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := config.ReadRoot(cfgFile)
		if err != nil {
			return err
		}
		for _, name := range root.ProfileNames() {
			marker := " "
			if name == cfg.Profile {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use [profile]",
	Short: "Set the active profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UpdateActiveConfig(cfgFile, args[0]); err != nil {
			return err
		}
		// Make sure the new profile resolves before reporting success
		if _, err := config.LoadWithProfile(cfgFile, args[0]); err != nil {
			return fmt.Errorf("profile %s is active but invalid: %w", args[0], err)
		}
		fmt.Printf("Active profile: %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configUseCmd)
}
