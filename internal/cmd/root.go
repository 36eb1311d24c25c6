// Package cmd implements the panehost command line.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/panehost/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "panehost",
	Short: "Main-process resource manager for multi-window terminal apps",
	Long: `panehost owns the pseudo-terminal sessions and filesystem watchers of a
multi-window desktop application. Each resource belongs to exactly one
window and is torn down when that window closes. Renderer windows connect
over a local WebSocket; profiles map to at most one open window each.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/panehost/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PANEHOST")
	// e.g. PANEHOST_WATCH_DEBOUNCE_MS for watch.debounce_ms
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
