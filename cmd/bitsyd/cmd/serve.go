package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Elegant996/bitsyd/engine"
	"github.com/Elegant996/bitsyd/internal/metrics"
	"github.com/Elegant996/bitsyd/internal/resumestore"
	"github.com/Elegant996/bitsyd/internal/statsserver"
)

var torrentFiles []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine as a long-lived daemon with a stats/metrics HTTP server",
	Run: func(c *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		collectors := metrics.New(prometheus.DefaultRegisterer)

		engCfg := cfg.ToEngineConfig()
		engCfg.Observer = collectors

		eng, err := engine.New(engCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct engine")
		}

		if err := eng.Initialize(); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize engine")
		}
		defer eng.Cleanup()

		store, err := resumestore.Open(path.Join(cfg.BaseDir, "resume.db"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open resume store")
		}
		defer store.Close()

		for _, tp := range torrentFiles {
			d, err := eng.AddTorrent(tp)
			if err != nil {
				log.Error().Err(err).Str("path", tp).Msg("failed to add torrent")
				continue
			}
			resumestore.Restore(store, d)
		}

		done := make(chan struct{})
		go store.RunSync(eng, done)
		defer close(done)

		srv := statsserver.New(cfg.StatsAddr, eng, promhttp.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("stats server stopped")
			}
		}()
		defer srv.Close()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		store.SyncAll(eng)
		log.Info().Msg("shutting down")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringSliceVarP(&torrentFiles, "torrent", "t", nil, "torrent file(s) to track on startup")
}
