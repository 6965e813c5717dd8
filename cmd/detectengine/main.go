// Package main is the entry point for the detection-engine lifecycle
// process: it owns the master registry, the sync latch, the worker fleet,
// and the control loop that turns a reload request into a published
// snapshot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/cheewill/detectengine/internal/adminhttp"
	"github.com/cheewill/detectengine/internal/database"
	"github.com/cheewill/detectengine/internal/database/postgres"
	"github.com/cheewill/detectengine/internal/detect"
	"github.com/cheewill/detectengine/internal/detectconfig"
	"github.com/cheewill/detectengine/internal/fleet"
	"github.com/cheewill/detectengine/internal/infrastructure/lock"
	"github.com/cheewill/detectengine/internal/rulesfile"
	"github.com/cheewill/detectengine/internal/signalwatch"
	"github.com/cheewill/detectengine/pkg/logger"
	"github.com/cheewill/detectengine/pkg/storage"
)

const (
	serviceName    = "detect-engine"
	serviceVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	rulesPath := flag.String("rules", "", "Path to newline-delimited rule file")
	matcher := flag.String("matcher", detect.MatcherDefault, "MPM matcher family")
	workers := flag.Int("workers", 4, "Number of simulated detection threads")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	v := viper.New()
	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read config: %v\n", err)
			os.Exit(1)
		}
	}

	tree := detectconfig.LoadTree(v)
	if err := tree.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{Level: "info", Format: "json", Output: "stdout"})
	slog.SetDefault(log)
	log.Info("starting detect engine", "service", serviceName, "version", serviceVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := detect.NewMetrics(reg, tree.MetricsNamespace)

	engine := detect.New(log)
	engine.Orchestrator.Observer = metrics

	store := connectStorage(ctx, tree, log)
	if store != nil {
		defer store.Close(ctx)
	}

	reloadLock := connectReloadLock(tree, log)

	f := fleet.NewFleet()
	fleetWorkers := make([]*fleet.Worker, 0, *workers)
	for i := 0; i < *workers; i++ {
		w := fleet.NewWorker(i, fmt.Sprintf("worker-%d", i), 16, log)
		f.Add(w)
		fleetWorkers = append(fleetWorkers, w)
		go w.Run(ctx)
	}

	initial := detect.InitMinimal(engine.NextSnapshotID())
	engine.Publish(initial)
	for _, w := range fleetWorkers {
		w.Slot().Store(mustThreadContext(engine, w, initial, log))
	}

	watcher := signalwatch.New(engine.Latch, tree.SIGHUPDebounce, log, metrics)
	watcher.Start(ctx)
	defer watcher.Stop()

	hub := adminhttp.NewEventHub(log)
	adminRouter := adminhttp.NewRouter(engine, hub, log)
	adminRouter.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	adminServer := &http.Server{Addr: tree.AdminAddr, Handler: adminRouter}
	go func() {
		log.Info("admin HTTP server starting", "addr", tree.AdminAddr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin HTTP server failed", "error", err)
		}
	}()

	var sigLoader detect.SignatureLoader
	if *rulesPath != "" {
		cl, err := rulesfile.NewCachingLoader(*rulesPath, 8)
		if err != nil {
			log.Error("failed to set up rule loader", "error", err)
			os.Exit(1)
		}
		sigLoader = cl
	}
	buildOpts := func(prefix string) detect.BuildOptions {
		return detect.BuildOptions{
			Viper:                 v,
			ConfigPrefix:          prefix,
			MPMMatcher:            *matcher,
			SignatureLoader:       sigLoader,
			SignatureGroupBuilder: rulesfile.GroupBuilder{Logger: log},
			Logger:                log,
		}
	}

	runControlLoop(ctx, engine, f, store, reloadLock, hub, buildOpts, metrics, log)

	log.Info("shutting down detect engine")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server forced shutdown", "error", err)
	}
	log.Info("detect engine exited")
}

// runControlLoop is the single goroutine that owns the master registry: it
// polls the sync latch and, once a reload is requested, builds a fresh
// snapshot and drives the orchestrator through the worker fleet.
func runControlLoop(
	ctx context.Context,
	engine *detect.DetectEngine,
	f *fleet.Fleet,
	store *storage.ReloadStore,
	reloadLock *lock.ReloadLock,
	hub *adminhttp.EventHub,
	buildOpts func(prefix string) detect.BuildOptions,
	metrics *detect.Metrics,
	log *slog.Logger,
) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var reloadSeq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !engine.Latch.IsReloadRequested() {
				continue
			}
			performReload(ctx, engine, f, store, reloadLock, hub, buildOpts, metrics, reloadSeq, log)
			reloadSeq++
			engine.Latch.ConsumeDone()
		}
	}
}

func performReload(
	ctx context.Context,
	engine *detect.DetectEngine,
	f *fleet.Fleet,
	store *storage.ReloadStore,
	reloadLock *lock.ReloadLock,
	hub *adminhttp.EventHub,
	buildOpts func(prefix string) detect.BuildOptions,
	metrics *detect.Metrics,
	reloadSeq uint64,
	log *slog.Logger,
) {
	start := time.Now()
	if reloadLock != nil {
		acquired, err := reloadLock.AcquireWithRetry(ctx, 3)
		if err != nil || !acquired {
			log.Error("failed to acquire reload lock, deferring to next poll", "error", err)
			return
		}
		defer reloadLock.Release(ctx)
	}

	id := engine.NextSnapshotID()
	prefix := detectconfig.ReloadSubtree(reloadSeq)
	snap, err := detect.Init(id, buildOpts(prefix))
	if err != nil {
		log.Error("reload build failed, keeping previous snapshot", "error", err, "snapshot_id", id)
		engine.Latch.MarkDone()
		if store != nil {
			failed := &detect.ReloadReport{Outcome: detect.OutcomeConfigError, Duration: time.Since(start), Err: err}
			if recErr := store.RecordReload(ctx, id, failed, start); recErr != nil {
				log.Error("failed to persist reload record", "error", recErr)
			}
		}
		return
	}

	prev := engine.Registry.CurrentUnsafe()
	engine.Publish(snap)

	report, err := engine.Orchestrator.Run(ctx, f, snap, ctx.Done())
	engine.Latch.MarkDone()

	if report != nil {
		metrics.RecordReload(report)
		if hub != nil {
			hub.Broadcast(adminhttp.ReloadEvent{
				SnapshotID: id,
				Outcome:    string(report.Outcome),
				Workers:    report.WorkersTotal,
				Adopted:    report.Adopted,
				DurationMS: report.Duration.Milliseconds(),
			})
		}
	}

	switch {
	case err == nil, errors.Is(err, detect.ErrNoWorkers):
		// With every worker on the new snapshot (or no workers at all) the
		// previous snapshot only waits on stragglers holding references;
		// retire it and reclaim whatever has already hit refcount zero.
		if prev != nil {
			if mvErr := engine.Registry.MoveToFreeList(prev); mvErr != nil {
				log.Error("failed to retire previous snapshot", "error", mvErr, "snapshot_id", prev.ID)
			}
			reclaimed := engine.Registry.PruneFreeList()
			log.Info("previous snapshot retired", "snapshot_id", prev.ID, "reclaimed", reclaimed)
		}
		log.Info("reload completed", "snapshot_id", id, "outcome", report.Outcome, "adopted", report.Adopted,
			"duration_ms", report.Duration.Milliseconds())
	default:
		log.Error("reload failed", "error", err, "snapshot_id", id)
	}
	metrics.RecordSnapshots(engine.Registry)

	if store != nil && report != nil {
		if err := store.RecordReload(ctx, id, report, start); err != nil {
			log.Error("failed to persist reload record", "error", err)
		}
	}
}

func mustThreadContext(engine *detect.DetectEngine, w *fleet.Worker, snap *detect.EngineSnapshot, log *slog.Logger) *detect.ThreadContext {
	tc, err := detect.NewThreadContext(engine.Registry, w.Handle(), detect.ThreadContextOptions{
		Snapshot:       snap,
		UnitTestRunner: true,
		Logger:         log,
	})
	if err != nil {
		log.Error("failed to build initial thread context", "error", err, "worker", w.Handle().Name)
		os.Exit(1)
	}
	return tc
}

func connectStorage(ctx context.Context, tree detectconfig.Tree, log *slog.Logger) *storage.ReloadStore {
	if tree.PostgresDSN == "" {
		log.Info("no postgres DSN configured, reload audit history disabled")
		return nil
	}
	// tree.PostgresDSN gates whether persistence is enabled at all; the
	// actual connection parameters come from the DB_* environment variables
	// postgres.LoadFromEnv reads.
	cfg := postgres.LoadFromEnv()
	pool := postgres.NewPool(cfg, log)
	if err := pool.Connect(ctx); err != nil {
		log.Error("failed to connect to postgres, continuing without reload history", "error", err)
		return nil
	}
	if err := database.RunMigrations(ctx, pool, log); err != nil {
		log.Warn("migrations failed, continuing with existing schema", "error", err)
	}
	return storage.NewReloadStore(pool, log)
}

func connectReloadLock(tree detectconfig.Tree, log *slog.Logger) *lock.ReloadLock {
	if tree.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: tree.RedisAddr})
	return lock.NewReloadLock(client, "detect-engine-reload", nil, log)
}
