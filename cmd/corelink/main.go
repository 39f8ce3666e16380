package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kiosklab/corelink/pkg/config"
	"github.com/kiosklab/corelink/pkg/logging"
	"github.com/kiosklab/corelink/pkg/upstream"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "dev"

var verboseFlag bool

func main() {
	rootCmd := &cobra.Command{
		Use:           "corelink",
		Short:         "Kiosk queue and core banking integration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			godotenv.Load()
			upstream.UserAgent = "corelink/" + Version

			level := slog.LevelInfo
			if verboseFlag {
				level = slog.LevelDebug
			}
			slog.SetDefault(logging.New(os.Stderr, level, os.Getenv("PRETTY_LOGS") != "false"))
		},
	}

	viper.SetEnvPrefix("CORELINK")
	viper.AutomaticEnv()
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
	flags.StringP("config-file", "f", config.DefaultFile, "config file")
	viper.BindPFlag("config_file", flags.Lookup("config-file"))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newLookupCmd())
	rootCmd.AddCommand(newArchiveCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := viper.GetString("config_file")
	cfg, err := config.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config file %q: %w", path, err)
	}
	return cfg, nil
}
