package loadgen

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func TestBuildArgs(t *testing.T) {
	spec := &LaunchSpec{
		Script:     "loadtest.py",
		TargetHost: "http://localhost:3020",
		Users:      50,
		SpawnRate:  5,
		Duration:   120 * time.Second,
		CSVPrefix:  "outputs/shopapi_stage1_u50_20260826_120000",
	}

	args := buildArgs(spec)

	assert.Equal(t, []string{
		"-f", "loadtest.py",
		"--host", "http://localhost:3020",
		"--users", "50",
		"--spawn-rate", "5",
		"--run-time", "120s",
		"--headless",
		"--csv", "outputs/shopapi_stage1_u50_20260826_120000",
		"--csv-full-history",
		"--only-summary",
	}, args)
}

// startProcess wraps a shell command in the process handle used by Launch.
func startProcess(t *testing.T, script string) *process {
	t.Helper()

	cmd := exec.Command("sh", "-c", script)
	require.NoError(t, cmd.Start())

	p := &process{cmd: cmd, done: make(chan struct{})}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p
}

func TestProcess_WaitCleanExit(t *testing.T) {
	p := startProcess(t, "exit 0")

	code, err := p.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.False(t, p.Alive())
}

func TestProcess_WaitNonZeroExit(t *testing.T) {
	p := startProcess(t, "exit 3")

	code, err := p.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestProcess_WaitTimeout(t *testing.T) {
	p := startProcess(t, "sleep 30")
	defer p.Terminate(time.Second)

	_, err := p.Wait(50 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, p.Alive())
}

func TestProcess_Terminate(t *testing.T) {
	p := startProcess(t, "sleep 30")

	assert.True(t, p.Alive())

	p.Terminate(2 * time.Second)

	assert.False(t, p.Alive())
}

func TestProcess_TerminateAfterExit(t *testing.T) {
	p := startProcess(t, "exit 0")

	_, err := p.Wait(5 * time.Second)
	require.NoError(t, err)

	// Must not panic or block on an already-exited process.
	p.Terminate(time.Second)
}

func TestLauncher_Launch(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.loadgen.log")

	// "true" ignores the load generator flags and exits 0 immediately.
	launcher := NewLauncher(testLogger(), "true")

	proc, err := launcher.Launch(context.Background(), &LaunchSpec{
		Script:     "loadtest.py",
		TargetHost: "http://localhost:3020",
		Users:      1,
		SpawnRate:  1,
		Duration:   time.Second,
		CSVPrefix:  filepath.Join(dir, "run"),
		LogPath:    logPath,
	})
	require.NoError(t, err)

	code, err := proc.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	// The log file is created even when the process writes nothing.
	assert.FileExists(t, logPath)
}

func TestLauncher_LaunchMissingBinary(t *testing.T) {
	dir := t.TempDir()
	launcher := NewLauncher(testLogger(), filepath.Join(dir, "no-such-binary"))

	_, err := launcher.Launch(context.Background(), &LaunchSpec{
		LogPath:   filepath.Join(dir, "run.loadgen.log"),
		CSVPrefix: filepath.Join(dir, "run"),
	})
	require.Error(t, err)
}

func TestLauncher_LaunchBadLogPath(t *testing.T) {
	launcher := NewLauncher(testLogger(), "true")

	_, err := launcher.Launch(context.Background(), &LaunchSpec{
		LogPath: filepath.Join(t.TempDir(), "missing", "dir", "run.log"),
	})
	require.Error(t, err)
}
