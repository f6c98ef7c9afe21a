package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Elegant996/bitsyd/internal/config"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "bitsyd",
	Short: "bitsyd is a BitTorrent protocol engine",
	Long: `bitsyd drives torrent downloads end to end: piece acquisition,
choke-slot scheduling, and tracker announces, exposed as a small CLI
over the engine library.`,
}

// Execute runs the root command, exiting the process on failure the
// way the teacher's cobra-generated entrypoint does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.bitsyd.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "sets log level to debug")

	cobra.OnInitialize(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	})
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}
