// Package engine drives the external R decomposition engine.
//
// An Engine is an exclusive, single-use handle: Initialize prepares the
// local R library and analysis script, Decompose runs one dataset through
// the script, and Release disposes the handle for good.
package engine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/verte-zerg/heartica/internal/config"
	"github.com/verte-zerg/heartica/internal/model"
)

const (
	// DefaultRscript is the R front end looked up on PATH.
	DefaultRscript = "Rscript"
	// DefaultPackage provides the JADE decomposition.
	DefaultPackage = "JADE"
	// DefaultRepo is the CRAN mirror used for package installs.
	DefaultRepo = "https://cloud.r-project.org"
)

//go:embed scripts/KinectHeartRate_JADE.r
var bundledScript []byte

var (
	// ErrInitialization wraps every failure reported by Initialize.
	ErrInitialization = errors.New("engine initialization failed")
	// ErrUninitialized is returned when Decompose runs before a successful Initialize.
	ErrUninitialized = errors.New("engine is not initialized")
	// ErrMissingOutput matches MissingOutputError.
	ErrMissingOutput = errors.New("missing decomposition output")
	// ErrReleased is returned by every call made after Release.
	ErrReleased = errors.New("engine has been released")
)

// MissingOutputError reports an output symbol the analysis script did not populate.
type MissingOutputError struct {
	Name string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingOutput, e.Name)
}

func (e *MissingOutputError) Unwrap() error {
	return ErrMissingOutput
}

// Config locates the R installation, the local library, and the analysis script.
type Config struct {
	Rscript string
	WorkDir string
	LibDir  string
	Package string
	Repo    string
	Script  string
}

// WithDefaults fills unset fields. LibDir and Script default to locations
// under WorkDir.
func (c Config) WithDefaults() Config {
	if c.Rscript == "" {
		c.Rscript = DefaultRscript
	}
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if abs, err := filepath.Abs(c.WorkDir); err == nil {
		c.WorkDir = abs
	}
	if c.LibDir == "" {
		c.LibDir = config.DefaultLibDir(c.WorkDir)
	}
	if c.Package == "" {
		c.Package = DefaultPackage
	}
	if c.Repo == "" {
		c.Repo = DefaultRepo
	}
	if c.Script == "" {
		c.Script = config.DefaultScriptPath(c.WorkDir)
	}
	return c
}

// Options configures an Engine.
type Options struct {
	Runner Runner
	Logger *slog.Logger
}

// Engine owns the external engine handle.
type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
	released    bool
}

// New returns an uninitialized Engine.
func New(cfg Config, opts Options) *Engine {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg.WithDefaults(),
		runner: opts.Runner,
		logger: opts.Logger,
	}
}

// Config returns the resolved configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Initialize prepares the engine. It returns nil immediately once a previous
// call succeeded; after a failure the next call tries again. Failures are
// logged and returned wrapped in ErrInitialization, leaving the engine
// uninitialized.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return ErrReleased
	}
	if e.initialized {
		return nil
	}
	if err := e.initialize(ctx); err != nil {
		e.logger.Error("engine initialization failed", "libdir", e.cfg.LibDir, "err", err)
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	e.initialized = true
	e.logger.Info("engine initialized", "workdir", e.cfg.WorkDir, "libdir", e.cfg.LibDir, "package", e.cfg.Package)
	return nil
}

func (e *Engine) initialize(ctx context.Context) error {
	if err := os.MkdirAll(e.cfg.LibDir, 0o755); err != nil {
		return fmt.Errorf("failed to create library directory: %w", err)
	}

	pkgDir := filepath.Join(e.cfg.LibDir, e.cfg.Package)
	if _, err := os.Stat(pkgDir); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat package directory: %w", err)
		}
		e.logger.Info("installing R package", "package", e.cfg.Package, "repo", e.cfg.Repo)
		if _, err := e.run(ctx, installProgram(e.cfg)); err != nil {
			return fmt.Errorf("failed to install %s: %w", e.cfg.Package, err)
		}
		// install.packages only warns on failure.
		if _, err := os.Stat(pkgDir); err != nil {
			return fmt.Errorf("package %s missing from %s after install", e.cfg.Package, e.cfg.LibDir)
		}
	}

	if err := ensureScript(e.cfg.Script); err != nil {
		return err
	}

	out, err := e.run(ctx, verifyProgram(e.cfg))
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", e.cfg.Package, err)
	}
	if !hasReadyMarker(out) {
		return fmt.Errorf("engine did not confirm loading %s", e.cfg.Package)
	}
	return nil
}

func ensureScript(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat analysis script: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create script directory: %w", err)
	}
	if err := os.WriteFile(path, bundledScript, 0o644); err != nil {
		return fmt.Errorf("failed to write analysis script: %w", err)
	}
	return nil
}

// Ready reports whether Decompose may be called.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized && !e.released
}

// Decompose runs the analysis script against the dataset at datasetPath and
// returns its four outputs. It blocks until the engine exits.
func (e *Engine) Decompose(ctx context.Context, datasetPath string) (model.Decomposition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return model.Decomposition{}, ErrReleased
	}
	if !e.initialized {
		return model.Decomposition{}, ErrUninitialized
	}
	abs, err := filepath.Abs(datasetPath)
	if err != nil {
		return model.Decomposition{}, fmt.Errorf("failed to resolve dataset path: %w", err)
	}
	out, err := e.run(ctx, decomposeProgram(e.cfg, filepath.ToSlash(abs)))
	if err != nil {
		return model.Decomposition{}, fmt.Errorf("failed to run decomposition: %w", err)
	}
	result, err := parseOutputs(out)
	if err != nil {
		return model.Decomposition{}, err
	}
	e.logger.Debug("decomposition finished", "dataset", abs,
		"hr1", result.HR1, "hr2", result.HR2, "hr3", result.HR3, "hr4", result.HR4)
	return result, nil
}

// Release disposes the handle. The engine cannot be used afterwards.
func (e *Engine) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released = true
	e.initialized = false
	return nil
}

// run writes program to a temporary file and executes it with Rscript.
func (e *Engine) run(ctx context.Context, program string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "heartica-*.R")
	if err != nil {
		return nil, fmt.Errorf("failed to create engine program: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.WriteString(program); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("failed to write engine program: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close engine program: %w", err)
	}

	env := append(os.Environ(), "R_LIBS_USER="+e.cfg.LibDir)
	return e.runner.Run(ctx, Command{
		Path: e.cfg.Rscript,
		Args: []string{"--vanilla", tmpPath},
		Dir:  e.cfg.WorkDir,
		Env:  env,
	})
}
