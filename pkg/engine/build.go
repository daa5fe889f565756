package engine

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/subjective-labs/resolver/pkg/chain"
	"github.com/subjective-labs/resolver/pkg/clockanchor"
	"github.com/subjective-labs/resolver/pkg/codegen"
	"github.com/subjective-labs/resolver/pkg/config"
	"github.com/subjective-labs/resolver/pkg/dedupe"
	"github.com/subjective-labs/resolver/pkg/evidence"
	"github.com/subjective-labs/resolver/pkg/executor"
	"github.com/subjective-labs/resolver/pkg/observability"
	"github.com/subjective-labs/resolver/pkg/sandbox"
	"github.com/subjective-labs/resolver/pkg/scheduler"
	"github.com/subjective-labs/resolver/pkg/settlement"
	"github.com/subjective-labs/resolver/pkg/store"
	"github.com/subjective-labs/resolver/pkg/verifier"
	"github.com/subjective-labs/resolver/pkg/watcher"
)

// Build wires a production engine from configuration. Components that are
// optional (Redis, S3 export, telemetry export, templates) degrade to local
// equivalents when unconfigured.
func Build(ctx context.Context, cfg *config.Config) (*Engine, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Engine, func(), error) {
		closeAll()
		return nil, nil, err
	}

	// One connection shared by both stores; a second handle on the same file
	// would contend for the write lock.
	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return fail(fmt.Errorf("open database: %w", err))
	}
	db.SetMaxOpenConns(1)
	closers = append(closers, func() { _ = db.Close() })

	st, err := store.New(db)
	if err != nil {
		return fail(fmt.Errorf("open lifecycle store: %w", err))
	}
	ev, err := evidence.New(db)
	if err != nil {
		return fail(fmt.Errorf("open evidence store: %w", err))
	}

	obs, err := observability.New(ctx, observability.Config{
		ServiceName:    "subjective-resolver",
		ServiceVersion: "0.4.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fail(fmt.Errorf("init telemetry: %w", err))
	}
	closers = append(closers, func() { _ = obs.Shutdown(context.Background()) })

	anchor := clockanchor.New(clockanchor.NewHTTPSource(cfg.TimeAuthURL), cfg.AnchorStaleness)
	chainClient := chain.NewHTTPClient(cfg.ChainRPCURL)

	registry, err := executor.LoadRegistry(cfg.TemplateRegistryPath)
	if err != nil {
		return fail(fmt.Errorf("load template registry: %w", err))
	}

	wasi, err := sandbox.NewWASIRunner(ctx, sandbox.WASIConfig{MemoryLimitBytes: 256 << 20})
	if err != nil {
		return fail(fmt.Errorf("init wasi runner: %w", err))
	}
	closers = append(closers, func() { _ = wasi.Close() })

	var gen codegen.Client
	if cfg.CodegenURL != "" {
		gen = codegen.NewOpenAIClient(cfg.CodegenURL, cfg.CodegenKey, cfg.CodegenModel)
	}

	exec := executor.New(
		sandbox.NewHTTPService(cfg.SandboxURL),
		wasi,
		gen,
		registry,
		ev,
		cfg.ExecTimeout,
	)

	ver, err := verifier.New()
	if err != nil {
		return fail(fmt.Errorf("init verifier: %w", err))
	}

	var recent dedupe.Cache
	if cfg.RedisAddr != "" {
		r := dedupe.NewRedis(cfg.RedisAddr)
		closers = append(closers, func() { _ = r.Close() })
		recent = r
	} else {
		recent = dedupe.NewMemory()
	}

	auth := settlement.NewAuthorizer(cfg.CapabilityToken, []byte(cfg.CapabilitySecret))
	settler := settlement.New(chainClient, st, ev, auth, recent, cfg.ConfirmInterval, cfg.ConfirmTimeout)

	sched := scheduler.New(st, anchor, exec, ver, settler, scheduler.Options{
		MaxAttempts: cfg.MaxAttempts,
		MaxWorkers:  cfg.MaxWorkers,
		Tick:        cfg.PollInterval,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
		Metrics:     obs,
	})

	w := watcher.New(chainClient, st, watcher.Options{
		PollInterval:     cfg.PollInterval,
		LivenessDelay:    cfg.LivenessDelay,
		ResolutionWindow: cfg.ResolutionWindow,
		Preparer:         exec,
		Recent:           recent,
	})

	var exporter Exporter
	if cfg.S3Bucket != "" {
		s3exp, err := evidence.NewS3Exporter(ctx, evidence.S3ExporterConfig{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return fail(fmt.Errorf("init evidence exporter: %w", err))
		}
		exporter = s3exp
	}

	eng := New(Components{
		Store:          st,
		Evidence:       ev,
		Anchor:         anchor,
		Watcher:        w,
		Scheduler:      sched,
		Settler:        settler,
		Exporter:       exporter,
		ClockSyncEvery: cfg.ClockSyncEvery,
	})
	return eng, closeAll, nil
}
