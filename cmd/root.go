// Package cmd holds the visatrack CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mfreeman/visatrack/internal/notify"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "visatrack",
	Short: "Track US visa bulletin movement and notify subscribers",
	Long: `Visatrack fetches the monthly US Visa Bulletin from the State
Department website, extracts the category cutoff dates, diffs them
against the previous bulletin and emails subscribers whose categories
moved.

Run history, comparisons and subscriptions are stored in PostgreSQL.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("visatrack v0.3.1")
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.visatrack/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		viper.AddConfigPath(home + "/.visatrack")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetDefault("smtp_port", 587)
	viper.SetDefault("app_base_url", "http://localhost:8080")

	// Read in environment variables that match VISATRACK_*
	viper.SetEnvPrefix("VISATRACK")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// databaseURL resolves the PostgreSQL DSN: the conventional DATABASE_URL
// environment variable wins over the config file.
func databaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	return viper.GetString("database_url")
}

// notifierConfig builds the notifier settings from configuration.
func notifierConfig() notify.Config {
	return notify.Config{
		FromEmail:  viper.GetString("from_email"),
		SMTPHost:   viper.GetString("smtp_host"),
		SMTPPort:   viper.GetInt("smtp_port"),
		SMTPUser:   viper.GetString("smtp_user"),
		SMTPPass:   viper.GetString("smtp_pass"),
		AppBaseURL: viper.GetString("app_base_url"),
		PreviewDir: viper.GetString("preview_dir"),
	}
}
