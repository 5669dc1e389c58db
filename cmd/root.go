package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/killallgit/atelier/pkg/config"
	"github.com/killallgit/atelier/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "atelier",
	Short: "Design rooms with an assistant from the terminal",
	Long: `atelier is a terminal client for a conversational room-design assistant.
Run it without a subcommand to open the chat for your last project.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	Args:              cobra.MaximumNArgs(1),
	RunE:              runChat,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .atelier/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("api-url", "", "backend API base url")
	viper.BindPFlag("api.base_url", rootCmd.PersistentFlags().Lookup("api-url"))

	rootCmd.PersistentFlags().String("ws-url", "", "push channel url")
	viper.BindPFlag("api.ws_url", rootCmd.PersistentFlags().Lookup("ws-url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token")
	viper.BindPFlag("auth.token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().String("session-store", "", "where the active project is remembered: file, redis or memory")
	viper.BindPFlag("session.store", rootCmd.PersistentFlags().Lookup("session-store"))

	rootCmd.PersistentFlags().Bool("no-push", false, "send every turn over plain HTTP")

	rootCmd.AddCommand(chatCmd, projectsCmd, stubCmd)
}

// setup loads the dotenv file, the config and the logger for every command.
func setup(cmd *cobra.Command, args []string) error {
	if err := loadEnv(envFile); err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if noPush, _ := cmd.Flags().GetBool("no-push"); noPush {
		cfg.Channel.Enabled = false
	}

	if err := logger.Init(); err != nil {
		return err
	}
	logger.Debug("Config loaded from %q", config.GetConfigFileUsed())
	return nil
}

// loadEnv loads path into the environment. A missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
