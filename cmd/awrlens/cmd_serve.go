package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"awrlens/internal/config"
	"awrlens/internal/diagnose"
	"awrlens/internal/ingest"
	"awrlens/internal/logging"
	"awrlens/internal/server"
	"awrlens/internal/store"
)

func newServeCmd(a *app) *cobra.Command {
	var flags struct {
		addr    string
		storage string
		dataDir string
		workers int
	}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, parse workers and diagnostic engine",
		Long: `Serves the report API under /api/v1 with /healthz and /metrics.

Uploaded files are kept under <data_dir>/uploads and parsed by a pool of
workers. Reports left mid-parse by a previous run are marked failed on start;
pending ones are requeued.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := a.cfg.Server
			if flags.addr != "" {
				sc.Addr = flags.addr
			}
			if flags.storage != "" {
				sc.Storage = flags.storage
			}
			if flags.dataDir != "" {
				sc.DataDir = flags.dataDir
			}
			if flags.workers > 0 {
				sc.Workers = flags.workers
			}
			return serve(cmd.Context(), sc)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.addr, "addr", "", "listen address (default from config, :8000)")
	f.StringVar(&flags.storage, "storage", "", "sqlite or memory")
	f.StringVar(&flags.dataDir, "data-dir", "", "directory for the database and uploaded files")
	f.IntVar(&flags.workers, "workers", 0, "parse workers")
	return cmd
}

func openStore(sc config.ServerConfig) (store.Store, error) {
	switch sc.Storage {
	case config.StorageMemory:
		return store.NewMemStore(), nil
	case config.StorageSQLite, "":
		return store.Open(sc.DBFile())
	}
	return nil, fmt.Errorf("unknown storage %q", sc.Storage)
}

func serve(ctx context.Context, sc config.ServerConfig) error {
	log := logging.New("serve")
	gin.SetMode(gin.ReleaseMode)

	st, err := openStore(sc)
	if err != nil {
		return err
	}
	defer st.Close()

	blobs, err := ingest.NewBlobStore(sc.DataDir)
	if err != nil {
		return err
	}
	metrics := server.NewMetrics()
	svc := ingest.NewService(st, blobs,
		ingest.WithWorkers(sc.Workers),
		ingest.WithQueueSize(sc.QueueSize),
		ingest.WithParseHook(metrics.ObserveParse),
	)

	rules, err := diagnose.LoadRuleSet(sc.RulesDir)
	if err != nil {
		return err
	}
	engine, err := diagnose.NewEngine(rules)
	if err != nil {
		return err
	}
	analyzer := diagnose.NewAnalyzer(st, engine, diagnose.WithRunHook(metrics.ObserveRun))
	defer analyzer.Wait()

	opts := []server.Option{
		server.WithMetrics(metrics),
		server.WithUploadLimits(sc.MaxUploadBytes, sc.Extensions),
		server.WithAsyncAnalysis(sc.AsyncAnalysis),
	}
	if sc.RedisAddr != "" {
		rdb, err := server.DialRedis(ctx, sc.RedisAddr, sc.RedisPassword, sc.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts = append(opts, server.WithIdempotency(server.NewRedisIdempotency(rdb, "", sc.IdempotencyTTL.Duration)))
		log.Info("idempotency keys in redis", slog.String("addr", sc.RedisAddr))
	} else {
		opts = append(opts, server.WithIdempotency(server.NewMemIdempotency(sc.IdempotencyTTL.Duration)))
	}
	srv := server.New(st, svc, analyzer, opts...)

	log.Info("starting awrlens",
		slog.String("version", version),
		slog.String("storage", sc.Storage),
		slog.Int("rules", len(rules)),
		slog.Int("workers", sc.Workers),
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx, sc.Addr) })
	return g.Wait()
}
