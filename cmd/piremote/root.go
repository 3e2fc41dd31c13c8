package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/marcuoli/go-piremote/internal/config"
	"github.com/marcuoli/go-piremote/internal/logging"
	"github.com/marcuoli/go-piremote/pkg/piremote"
	"github.com/marcuoli/go-piremote/pkg/piremote/oui"
)

var (
	cfgFile    string
	logLevel   string
	debugLevel string

	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "piremote",
	Short: "Find Raspberry Pi boards on the LAN and drive them over SSH",
	Long: `piremote sweeps a /24 for SSH-reachable hosts, flags the ones whose
hostname looks like a Raspberry Pi, and runs commands or uploads files to a
board over a self-healing SSH connection.

Examples:
  piremote scan                      one pass over the local /24
  piremote scan 10.0.4 --continuous  keep scanning until Ctrl-C
  piremote exec --host 192.168.1.42 -u pi -- vcgencmd measure_temp
  piremote upload --host 192.168.1.42 -u pi photo.jpg`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n[FATAL] piremote crashed: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./piremote.yaml or ~/.config/piremote/piremote.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&debugLevel, "debug", "", "library debug output (off, basic, verbose)")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newSubnetCmd())
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	if debugLevel != "" {
		loaded.Log.DebugLevel = debugLevel
	}
	cfg = loaded

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	log, logCloser = logger, closer

	level, err := piremote.ParseDebugLevel(cfg.Log.DebugLevel)
	if err != nil {
		return err
	}
	logging.InstallDebugSink(log, level)
	if log.IsLevelEnabled(logrus.DebugLevel) {
		pterm.EnableDebugMessages()
	}

	if cfg.Scan.OUIDatabase != "" {
		if err := oui.SetDatabase(cfg.Scan.OUIDatabase); err != nil {
			log.WithError(err).Warn("vendor lookup disabled")
		}
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}
