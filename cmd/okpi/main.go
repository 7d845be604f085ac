// Command okpi is a voice front end: it waits for a trigger phrase, listens
// for a command and dispatches it to the skill whose phrase template matches.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/normanking/okpi/internal/config"
	"github.com/normanking/okpi/internal/logging"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool

	// logCloser releases the log file opened by initLogging.
	logCloser io.Closer

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func main() {
	rootCmd := newRootCmd()
	err := rootCmd.Execute()
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "okpi",
		Short: "okpi - trigger-phrase voice assistant",
		Long: titleStyle.Render("okpi") + `

Waits for a trigger phrase such as "ok pi", then listens for one command and
hands it to the skill whose phrase template matches best.

Listen on the microphone:  okpi listen
Replay a recording:        okpi replay clip.wav
Type instead of talking:   okpi console
Configuration:             okpi config show`,
		PersistentPreRunE: initLogging,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.okpi/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "okpi v%s\n", version)
		},
	})

	rootCmd.AddCommand(listenCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(consoleCmd())
	rootCmd.AddCommand(matchCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(configCmd())

	return rootCmd
}

func getConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromPath(getConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogging(cmd *cobra.Command, args []string) error {
	lcfg := logging.DefaultConfig()
	if verbose {
		lcfg = logging.VerboseConfig()
	}

	// The config file may set a level and a log file; a broken config is
	// reported by the command that needs it.
	if cfg, err := config.LoadFromPath(getConfigPath()); err == nil {
		if !verbose {
			lcfg.Level = logging.ParseLevel(cfg.Logging.Level)
		}
		lcfg.FilePath = cfg.Logging.File
	}

	// The console REPL owns the terminal.
	if cmd.Name() == "console" {
		lcfg.NoConsole = true
		if lcfg.FilePath == "" {
			lcfg.FilePath = logging.SessionFile(config.DataDir(), time.Now())
		}
	}

	logger, closer, err := logging.New(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	logCloser = closer
	logging.SetGlobal(logger)

	log.Debug().Str("config", getConfigPath()).Str("command", cmd.Name()).Msg("okpi started")
	return nil
}
