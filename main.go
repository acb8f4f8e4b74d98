package main

import (
	"fmt"
	"os"
	"strings"

	"TruckGate/config"
	"TruckGate/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	devLog     bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "truckgate <command>",
	Short:         "Truck gate access control: detection, plate OCR and gate commands",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(); err != nil {
			return err
		}
		c, err := config.Load(config.Path(configPath, cmd.Flags().Changed("config")))
		if err != nil {
			return err
		}
		mode := c.Log.Mode
		if devLog {
			mode = "development"
		}
		if err := logger.Init(mode, c.Log.Level); err != nil {
			return err
		}
		if len(c.Warnings) > 0 {
			logger.Log().Warn(strings.Repeat("!", 64))
			for _, w := range c.Warnings {
				logger.Log().Warn("config", zap.String("warning", w))
			}
			logger.Log().Warn(strings.Repeat("!", 64))
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "config file (env "+config.EnvConfig+")")
	rootCmd.PersistentFlags().BoolVar(&devLog, "dev", false, "human-readable development logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inferCmd)
	rootCmd.AddCommand(allowCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
