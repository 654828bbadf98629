package cli

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string
)

var rootCmd = &cobra.Command{
	Use:   "sanctum",
	Short: "Per-user isolated storage for a personal guidance backend",
	Long: "Sanctum keeps each user's learned profile and activity records in a private " +
		"storage unit of their own, and serves them over an HTTP API.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.sanctum/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override storage.data_dir")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(sweepCmd)
}
