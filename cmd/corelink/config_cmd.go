package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the loaded configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# config file: %s\n", viper.GetString("config_file"))

			cfg.DNA.Password = redacted
			if cfg.Loans != nil {
				loans := *cfg.Loans
				loans.Password = redacted
				cfg.Loans = &loans
			}
			if cfg.Insights != nil && cfg.Insights.APIKey != "" {
				insights := *cfg.Insights
				insights.APIKey = redacted
				cfg.Insights = &insights
			}
			if cfg.Database.DSN != "" {
				cfg.Database.DSN = redacted
			}

			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}
