package loadgen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// LaunchSpec describes one load generator invocation.
type LaunchSpec struct {
	Script     string
	TargetHost string
	Users      int
	SpawnRate  int
	Duration   time.Duration
	CSVPrefix  string
	LogPath    string
}

// Process is a handle to a running load generator process.
type Process interface {
	// Alive reports whether the process is still running.
	Alive() bool

	// Wait blocks until the process exits or the timeout elapses. It returns
	// the exit code on termination and an error on timeout.
	Wait(timeout time.Duration) (int, error)

	// Terminate sends SIGTERM, waits up to the given duration for a clean
	// exit, then SIGKILLs. Safe to call on an already-exited process.
	Terminate(wait time.Duration)
}

// Launcher starts load generator processes.
type Launcher interface {
	Launch(ctx context.Context, spec *LaunchSpec) (Process, error)
}

// NewLauncher creates a Launcher that invokes the given binary.
func NewLauncher(log logrus.FieldLogger, binary string) Launcher {
	return &execLauncher{
		log:    log.WithField("component", "loadgen"),
		binary: binary,
	}
}

type execLauncher struct {
	log    logrus.FieldLogger
	binary string
}

var _ Launcher = (*execLauncher)(nil)

// Launch starts the load generator with its combined output redirected to
// the per-run log file. Teardown is explicit SIGTERM-then-SIGKILL via
// Process.Terminate rather than context cancellation.
func (l *execLauncher) Launch(_ context.Context, spec *LaunchSpec) (Process, error) {
	args := buildArgs(spec)

	l.log.WithFields(logrus.Fields{
		"users":    spec.Users,
		"duration": spec.Duration,
	}).Info("Starting load generator")
	l.log.WithField("command", l.binary+" "+strings.Join(args, " ")).
		Debug("Launch command")

	logFile, err := os.Create(spec.LogPath)
	if err != nil {
		return nil, fmt.Errorf("creating load generator log file: %w", err)
	}

	cmd := exec.Command(l.binary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()

		return nil, fmt.Errorf("starting load generator: %w", err)
	}

	p := &process{cmd: cmd, done: make(chan struct{})}

	go func() {
		defer logFile.Close()

		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// buildArgs encodes the load generator CLI contract.
func buildArgs(spec *LaunchSpec) []string {
	return []string{
		"-f", spec.Script,
		"--host", spec.TargetHost,
		"--users", strconv.Itoa(spec.Users),
		"--spawn-rate", strconv.Itoa(spec.SpawnRate),
		"--run-time", fmt.Sprintf("%ds", int(spec.Duration.Seconds())),
		"--headless",
		"--csv", spec.CSVPrefix,
		"--csv-full-history",
		"--only-summary",
	}
}

type process struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error // written once before done closes
}

var _ Process = (*process)(nil)

func (p *process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *process) Wait(timeout time.Duration) (int, error) {
	select {
	case <-p.done:
		return p.exitCode(), nil
	case <-time.After(timeout):
		return 0, fmt.Errorf("load generator did not exit within %s", timeout)
	}
}

func (p *process) Terminate(wait time.Duration) {
	select {
	case <-p.done:
		return
	default:
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
	case <-time.After(wait):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

func (p *process) exitCode() int {
	if p.waitErr == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
