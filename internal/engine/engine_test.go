package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/heartica/internal/model"
)

type fakeRunner struct {
	mu       sync.Mutex
	programs []string
	commands []Command
	handle   func(program string) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) ([]byte, error) {
	data, err := os.ReadFile(cmd.Args[len(cmd.Args)-1])
	if err != nil {
		return nil, err
	}
	program := string(data)
	f.mu.Lock()
	f.programs = append(f.programs, program)
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	return f.handle(program)
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.programs)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// healthyR simulates an R installation where install.packages succeeds and
// the analysis script emits the given outputs.
func healthyR(cfg Config, outputs string) func(string) ([]byte, error) {
	return func(program string) ([]byte, error) {
		switch {
		case strings.Contains(program, "install.packages("):
			return nil, os.MkdirAll(filepath.Join(cfg.LibDir, cfg.Package), 0o755)
		case strings.Contains(program, "source("):
			return []byte(outputs), nil
		default:
			return []byte("@@heartica ready\n"), nil
		}
	}
}

func newTestEngine(t *testing.T, handle func(Config) func(string) ([]byte, error)) (*Engine, *fakeRunner) {
	t.Helper()
	cfg := Config{WorkDir: t.TempDir()}.WithDefaults()
	runner := &fakeRunner{handle: handle(cfg)}
	return New(cfg, Options{Runner: runner, Logger: quietLogger()}), runner
}

const fullOutputs = "loading\n@@heartica hr1 72\n@@heartica hr2 10\n@@heartica hr3 5\n@@heartica hr4 68\n"

func TestConfigDefaults(t *testing.T) {
	work := t.TempDir()
	cfg := Config{WorkDir: work}.WithDefaults()
	require.Equal(t, DefaultRscript, cfg.Rscript)
	require.Equal(t, filepath.Join(work, "Libs"), cfg.LibDir)
	require.Equal(t, filepath.Join(work, "RScripts", "KinectHeartRate_JADE.r"), cfg.Script)
	require.Equal(t, DefaultPackage, cfg.Package)
	require.Equal(t, DefaultRepo, cfg.Repo)
}

func TestInitializeInstallsMissingPackage(t *testing.T) {
	eng, runner := newTestEngine(t, func(cfg Config) func(string) ([]byte, error) {
		return healthyR(cfg, "")
	})
	require.False(t, eng.Ready())
	require.NoError(t, eng.Initialize(context.Background()))
	require.True(t, eng.Ready())

	cfg := eng.Config()
	require.DirExists(t, filepath.Join(cfg.LibDir, "JADE"))
	require.Equal(t, 2, runner.calls())
	require.Contains(t, runner.programs[0], `install.packages("JADE", repos = "https://cloud.r-project.org", lib = "`+cfg.LibDir+`")`)
	require.Contains(t, runner.programs[1], `setwd("`+cfg.WorkDir+`")`)
	require.Contains(t, runner.programs[1], `library(JADE, lib.loc = "`+cfg.LibDir+`")`)
	require.Equal(t, cfg.WorkDir, runner.commands[1].Dir)
	require.Contains(t, runner.commands[1].Env, "R_LIBS_USER="+cfg.LibDir)

	script, err := os.ReadFile(cfg.Script)
	require.NoError(t, err)
	require.Equal(t, bundledScript, script)
}

func TestInitializeSkipsInstallWhenPackagePresent(t *testing.T) {
	eng, runner := newTestEngine(t, func(cfg Config) func(string) ([]byte, error) {
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.LibDir, cfg.Package), 0o755))
		return healthyR(cfg, "")
	})
	require.NoError(t, eng.Initialize(context.Background()))
	require.Equal(t, 1, runner.calls())
	require.NotContains(t, runner.programs[0], "install.packages")
}

func TestInitializeKeepsExistingScript(t *testing.T) {
	eng, _ := newTestEngine(t, func(cfg Config) func(string) ([]byte, error) {
		require.NoError(t, os.MkdirAll(filepath.Dir(cfg.Script), 0o755))
		require.NoError(t, os.WriteFile(cfg.Script, []byte("hr1 <- 1\n"), 0o644))
		return healthyR(cfg, "")
	})
	require.NoError(t, eng.Initialize(context.Background()))
	script, err := os.ReadFile(eng.Config().Script)
	require.NoError(t, err)
	require.Equal(t, "hr1 <- 1\n", string(script))
}

func TestInitializeIsIdempotentAfterSuccess(t *testing.T) {
	eng, runner := newTestEngine(t, func(cfg Config) func(string) ([]byte, error) {
		return healthyR(cfg, "")
	})
	require.NoError(t, eng.Initialize(context.Background()))
	calls := runner.calls()
	require.NoError(t, eng.Initialize(context.Background()))
	require.Equal(t, calls, runner.calls())
}

func TestInitializeFailsWhenLibDirUncreatable(t *testing.T) {
	work := t.TempDir()
	blocker := filepath.Join(work, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	cfg := Config{WorkDir: work, LibDir: filepath.Join(blocker, "Libs")}
	runner := &fakeRunner{}
	runner.handle = healthyR(cfg.WithDefaults(), "")
	eng := New(cfg, Options{Runner: runner, Logger: quietLogger()})

	err := eng.Initialize(context.Background())
	require.ErrorIs(t, err, ErrInitialization)
	require.False(t, eng.Ready())
	require.Equal(t, 0, runner.calls())

	_, err = eng.Decompose(context.Background(), filepath.Join(work, "data.csv"))
	require.ErrorIs(t, err, ErrUninitialized)

	// A later call retries and can succeed once the cause is gone.
	require.NoError(t, os.Remove(blocker))
	require.NoError(t, eng.Initialize(context.Background()))
	require.True(t, eng.Ready())
}

func TestInitializeFailsWhenInstallLeavesNoPackage(t *testing.T) {
	eng, _ := newTestEngine(t, func(Config) func(string) ([]byte, error) {
		return func(string) ([]byte, error) { return nil, nil }
	})
	err := eng.Initialize(context.Background())
	require.ErrorIs(t, err, ErrInitialization)
	require.Contains(t, err.Error(), "after install")
	require.False(t, eng.Ready())
}

func TestInitializeFailsWhenLibraryDoesNotLoad(t *testing.T) {
	eng, _ := newTestEngine(t, func(cfg Config) func(string) ([]byte, error) {
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.LibDir, cfg.Package), 0o755))
		return func(string) ([]byte, error) {
			return nil, errors.New("there is no package called 'JADE'")
		}
	})
	err := eng.Initialize(context.Background())
	require.ErrorIs(t, err, ErrInitialization)
	require.False(t, eng.Ready())
}

func TestInitializeRequiresReadyMarker(t *testing.T) {
	eng, _ := newTestEngine(t, func(cfg Config) func(string) ([]byte, error) {
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.LibDir, cfg.Package), 0o755))
		return func(string) ([]byte, error) { return []byte("something else\n"), nil }
	})
	require.ErrorIs(t, eng.Initialize(context.Background()), ErrInitialization)
}

func TestDecomposeBeforeInitialize(t *testing.T) {
	eng, runner := newTestEngine(t, func(cfg Config) func(string) ([]byte, error) {
		return healthyR(cfg, fullOutputs)
	})
	_, err := eng.Decompose(context.Background(), "data.csv")
	require.ErrorIs(t, err, ErrUninitialized)
	require.Equal(t, 0, runner.calls())
}

func TestDecomposeReadsOutputs(t *testing.T) {
	eng, runner := newTestEngine(t, func(cfg Config) func(string) ([]byte, error) {
		return healthyR(cfg, fullOutputs)
	})
	require.NoError(t, eng.Initialize(context.Background()))

	datasetPath := filepath.Join(eng.Config().WorkDir, "NormHeartRate_1.csv")
	got, err := eng.Decompose(context.Background(), datasetPath)
	require.NoError(t, err)
	require.Equal(t, model.Decomposition{HR1: 72, HR2: 10, HR3: 5, HR4: 68}, got)

	program := runner.programs[len(runner.programs)-1]
	require.Contains(t, program, `heartRateData <- read.csv("`+filepath.ToSlash(datasetPath)+`", sep = ",", dec = ".")`)
	require.Contains(t, program, `source("`+eng.Config().Script+`")`)
	require.Contains(t, program, `c("hr1", "hr2", "hr3", "hr4")`)
}

func TestDecomposeMissingOutput(t *testing.T) {
	eng, _ := newTestEngine(t, func(cfg Config) func(string) ([]byte, error) {
		return healthyR(cfg, "@@heartica hr1 72\n@@heartica hr2 10\n@@heartica hr3 5\n")
	})
	require.NoError(t, eng.Initialize(context.Background()))

	_, err := eng.Decompose(context.Background(), "data.csv")
	require.ErrorIs(t, err, ErrMissingOutput)
	var missing *MissingOutputError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "hr4", missing.Name)
}

func TestDecomposeRunnerFailure(t *testing.T) {
	eng, _ := newTestEngine(t, func(cfg Config) func(string) ([]byte, error) {
		ok := healthyR(cfg, "")
		return func(program string) ([]byte, error) {
			if strings.Contains(program, "source(") {
				return nil, errors.New("Error in read.csv: cannot open file")
			}
			return ok(program)
		}
	})
	require.NoError(t, eng.Initialize(context.Background()))
	_, err := eng.Decompose(context.Background(), "data.csv")
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot open file")
	require.True(t, eng.Ready())
}

func TestReleaseMakesEngineUnusable(t *testing.T) {
	eng, _ := newTestEngine(t, func(cfg Config) func(string) ([]byte, error) {
		return healthyR(cfg, fullOutputs)
	})
	require.NoError(t, eng.Initialize(context.Background()))
	require.NoError(t, eng.Release())
	require.False(t, eng.Ready())

	_, err := eng.Decompose(context.Background(), "data.csv")
	require.ErrorIs(t, err, ErrReleased)
	require.ErrorIs(t, eng.Initialize(context.Background()), ErrReleased)
	require.NoError(t, eng.Release())
}

func TestRString(t *testing.T) {
	require.Equal(t, `"C:\\data\\Libs"`, rString(`C:\data\Libs`))
	require.Equal(t, `"say \"hi\""`, rString(`say "hi"`))
}

func TestParseOutputs(t *testing.T) {
	got, err := parseOutputs([]byte("@@heartica hr1 1.5\nnoise @@heartica\n@@heartica hr1 9\n@@heartica hr2 2\n@@heartica hr3 3e+01\n@@heartica hr4 -4\n"))
	require.NoError(t, err)
	require.Equal(t, model.Decomposition{HR1: 1.5, HR2: 2, HR3: 30, HR4: -4}, got)

	_, err = parseOutputs([]byte("@@heartica hr1 abc\n"))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrMissingOutput))
}

func TestParseOutputsToleratesLongLines(t *testing.T) {
	long := strings.Repeat("x", 256*1024)
	out := "@@heartica hr1 71\n" + long + "\n@@heartica hr2 2\n@@heartica hr3 3\n@@heartica hr4 69\r\n"
	got, err := parseOutputs([]byte(out))
	require.NoError(t, err)
	require.Equal(t, model.Decomposition{HR1: 71, HR2: 2, HR3: 3, HR4: 69}, got)
	require.True(t, hasReadyMarker([]byte(long+"\n@@heartica ready\n")))
}
