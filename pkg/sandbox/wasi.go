package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASIRunner executes vetted, pre-compiled resolution templates in-process
// with wazero. Deny-by-default: no filesystem, no network, no environment.
// Templates that need live data use the remote sandbox service instead.
type WASIRunner struct {
	runtime wazero.Runtime
	config  wazero.ModuleConfig
}

// WASIConfig bounds one runner. Zero values mean unbounded, which is only
// acceptable in tests.
type WASIConfig struct {
	MemoryLimitBytes int64
}

func NewWASIRunner(ctx context.Context, cfg WASIConfig) (*WASIRunner, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitBytes > 0 {
		// wazero measures memory in 64KB pages.
		pages := uint32(cfg.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	// No WithFSConfig, no WithRandSource, no env vars: templates are pure
	// functions of their stdin.
	modCfg := wazero.NewModuleConfig().
		WithName("resolver-template").
		WithStartFunctions("_start")

	return &WASIRunner{runtime: r, config: modCfg}, nil
}

func (w *WASIRunner) Execute(ctx context.Context, job Job) (*ExecResult, error) {
	if len(job.Wasm) == 0 {
		return nil, fmt.Errorf("sandbox: wasi runner requires a compiled module")
	}
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	modCfg := w.config.
		WithStdin(bytes.NewReader(job.Input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	compiled, err := w.runtime.CompileModule(ctx, job.Wasm)
	if err != nil {
		return nil, fmt.Errorf("wasi: compilation failed: %w", err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	mod, err := w.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("wasi: execution timed out after %v", job.Timeout)
		}
		// A non-zero exit still leaves usable output; the caller decides
		// what to make of it.
		return &ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 1},
			fmt.Errorf("wasi: instantiation failed: %w", err)
	}
	defer func() { _ = mod.Close(ctx) }()

	return &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// Close shuts down the wazero runtime, freeing compiled module caches.
func (w *WASIRunner) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.runtime.Close(ctx)
}
