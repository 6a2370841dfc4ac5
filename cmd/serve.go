package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/doggobot/sentry/internal/annotate"
	"github.com/doggobot/sentry/internal/classifier"
	"github.com/doggobot/sentry/internal/embeddings"
	"github.com/doggobot/sentry/internal/framecache"
	"github.com/doggobot/sentry/internal/hub"
	"github.com/doggobot/sentry/internal/ingest"
	"github.com/doggobot/sentry/internal/roster"
	"github.com/doggobot/sentry/internal/server"
)

type serveOptions struct {
	Addr         string
	APIKey       string
	StoragePath  string
	Workers      int
	Threshold    float64
	Cooldown     time.Duration
	RedisAddr    string
	RedisDB      int
	WhitelistDir string
	Annotate     bool
	OllamaURL    string
	OllamaPort   int
	FaceModels   string
	Loiter       bool
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection alert pipeline server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), serveOpts)
	},
}

func runServe(ctx context.Context, opts serveOptions) error {
	log := Logger

	rosterStore := roster.NewStore(DB.Pool(), log, time.Minute)
	if err := rosterStore.Refresh(ctx); err != nil {
		// The classifier fails open to unknown without a roster, so a cold
		// start with an unreachable roster table is survivable.
		log.Warn("initial roster load failed", "error", err)
	}

	var ledger classifier.Ledger
	if opts.RedisAddr != "" {
		rl, err := classifier.NewRedisLedger(ctx, opts.RedisAddr,
			getEnv("REDIS_PASSWORD", ""), opts.RedisDB, opts.Cooldown)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rl.Close()
		ledger = rl
		log.Info("using redis cooldown ledger", "addr", opts.RedisAddr)
	} else {
		ledger = classifier.NewMemoryLedger(opts.Cooldown)
	}

	var escalate classifier.Escalation = classifier.NoEscalation{}
	if opts.Loiter {
		escalate = classifier.NewLoiterEscalation(0, 0)
	}
	cls := classifier.New(rosterStore, log, classifier.Config{
		Threshold: opts.Threshold,
		Escalate:  escalate,
	})

	h := hub.New(log, hub.Options{})
	cache := &framecache.Cache{}

	var (
		annotator *annotate.Annotator
		sink      ingest.Annotator
	)
	if opts.Annotate {
		agent, err := annotate.NewAgent(ctx, log, opts.OllamaURL, opts.OllamaPort)
		if err != nil {
			return fmt.Errorf("failed to initialize vision agent: %w", err)
		}
		annotator = annotate.New(agent, DB, log)
		sink = annotator
	}

	pipe := ingest.NewPipeline(cls, ledger, DB, h, sink, log, opts.Workers)
	gateway := ingest.NewGateway(cache, pipe)

	srv := server.New(server.Config{
		Log:         log,
		Store:       DB,
		Gateway:     gateway,
		Hub:         h,
		Cache:       cache,
		Roster:      rosterStore,
		APIKey:      opts.APIKey,
		StoragePath: opts.StoragePath,
		Health:      DB.Ping,
	})

	httpSrv := &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	if err := pipe.Start(ctx); err != nil {
		return err
	}
	if annotator != nil {
		annotator.Start(ctx)
	}

	g.Go(func() error {
		if err := h.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if opts.WhitelistDir != "" {
		embedder, err := embeddings.NewFaceEmbedder(opts.FaceModels)
		if err != nil {
			return err
		}
		defer embedder.Close()

		embedSvc := embeddings.NewService(embedder, 2)
		defer embedSvc.Close()

		watcher := roster.NewWatcher(opts.WhitelistDir, embedSvc, rosterStore, log, time.Second)
		g.Go(func() error {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		log.Info("server listening", "addr", opts.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}

		pipe.Wait()
		if annotator != nil {
			annotator.Wait()
		}
		return nil
	})

	return g.Wait()
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.Addr, "addr", ":"+getEnv("SERVER_PORT", "8080"), "listen address")
	f.StringVar(&serveOpts.APIKey, "api-key", getEnv("API_KEY", ""),
		"shared key required on producer endpoints (empty disables the check)")
	f.StringVar(&serveOpts.StoragePath, "storage", "./storage", "root directory for alert snapshots")
	f.IntVar(&serveOpts.Workers, "workers", 4, "pipeline worker count")
	f.Float64Var(&serveOpts.Threshold, "threshold", classifier.DefaultThreshold,
		"maximum embedding distance still considered a roster match")
	f.DurationVar(&serveOpts.Cooldown, "cooldown", classifier.DefaultCooldown,
		"suppression window for repeat alerts of the same identity")
	f.StringVar(&serveOpts.RedisAddr, "redis", getEnv("REDIS_ADDR", ""),
		"redis address for the shared cooldown ledger (empty uses in-process memory)")
	f.IntVar(&serveOpts.RedisDB, "redis-db", getEnvAsInt("REDIS_DB", 0), "redis database number")
	f.StringVar(&serveOpts.WhitelistDir, "whitelist-dir", "",
		"directory of reference photos to auto-enroll on change")
	f.BoolVar(&serveOpts.Annotate, "annotate", false,
		"caption alert snapshots with a local vision model")
	f.StringVar(&serveOpts.OllamaURL, "ollama-url", getEnv("OLLAMA_URL", ""), "Ollama base URL")
	f.IntVar(&serveOpts.OllamaPort, "ollama-port", 11434, "Ollama port for the vision agent")
	f.StringVar(&serveOpts.FaceModels, "face-models", getEnv("FACE_MODELS_DIR", "models"),
		"directory holding the dlib face models used for enrollment")
	f.BoolVar(&serveOpts.Loiter, "loiter", true,
		"escalate unknown visitors to suspicious when they linger")

	rootCmd.AddCommand(serveCmd)
}
