package main

import (
	"fmt"
	"os"

	"uthernet2/internal/config"
	"uthernet2/internal/pkg/logger"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd is the base command when uthernet2sim is invoked with no
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "uthernet2sim",
	Short: "Uthernet II card emulation core, driven from the command line",
	Long: `uthernet2sim hosts one emulated Uthernet II card outside of any
CPU emulator, so the MMIO facade, virtual services, and host-socket
adapter can be exercised and observed directly.

Examples:
  uthernet2sim run
  uthernet2sim run --metrics
  uthernet2sim version
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initCLILogger(cmd)
	},
}

func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n[FATAL] uthernet2sim crashed unexpectedly: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./configs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig lets viper pick up a config file and environment
// overrides ahead of any subcommand's own config.LoadConfig call.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.AutomaticEnv()
	viper.ReadInConfig() // no config file is not fatal; Default() covers it
}

// initCLILogger wires logrus so every subcommand logs consistently,
// honoring --log-level when the flag was actually set.
func initCLILogger(cmd *cobra.Command) {
	level := "info"
	if flag := cmd.Flags().Lookup("log-level"); flag != nil && flag.Changed {
		level = flag.Value.String()
	}

	if level != "debug" {
		pterm.DisableDebugMessages()
	}

	logCfg := &config.LogConfig{
		Level:  level,
		Format: "text",
		Output: "stdout",
		Caller: false,
	}
	if _, err := logger.InitLogger(logCfg); err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
	}
}
