package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/codetesla51/lotterykv/server"
	"github.com/codetesla51/lotterykv/store"
)

const cleanupInterval = time.Minute

var seedPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP surface over the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, cfg, logger, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if seedPath != "" {
			seed, err := store.LoadSeed(seedPath)
			if err != nil {
				return err
			}
			if err := seed.Apply(ctx, s); err != nil {
				return err
			}
			logger.Info("seed applied", "path", seedPath)
		}

		srv := server.New(s, server.Options{
			Address:      cfg.HTTP.Address,
			StaticDir:    cfg.HTTP.StaticDir,
			StaticPrefix: cfg.HTTP.StaticPrefix,
		}, logger)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Serve(ctx) })

		// rows with a passed TTL are invisible but still stored until removed
		if ds, ok := s.(*store.DatabaseStore); ok {
			g.Go(func() error { return runCleanup(ctx, ds) })
		}

		return g.Wait()
	},
}

func runCleanup(ctx context.Context, ds *store.DatabaseStore) error {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := ds.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

func init() {
	serveCmd.Flags().StringVar(&seedPath, "seed", "", "JSON seed file applied before serving")
	rootCmd.AddCommand(serveCmd)
}
