package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "singularctl",
		Short: "Exercise the lazy singleton coordinator",
		Long: `Exercise the lazy singleton coordinator.

Examples:
  singularctl stress --workers 128 --iterations 5000
  singularctl stress --config stress.yaml --metrics :9102
  singularctl config --config stress.yaml
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.AddCommand(stressCmd(&configPath))
	cmd.AddCommand(configCmd(&configPath))

	return cmd
}

func configCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}
