// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package watchdog

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Child is a running server process
type Child interface {
	// Done is closed once the process has exited
	Done() <-chan struct{}
	// Stop terminates the process, killing it after grace
	Stop(grace time.Duration) error
}

// Starter launches a new server process
type Starter func() (Child, error)

// StartCommand runs args with the watchdog's environment and output
func StartCommand(args []string) Starter {
	return func() (Child, error) {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()
		if err := cmd.Start(); err != nil {
			return nil, err
		}

		c := &process{cmd: cmd, done: make(chan struct{})}
		go func() {
			err := cmd.Wait()
			slog.Info("server process exited", "pid", cmd.Process.Pid, "error", err)
			close(c.done)
		}()
		slog.Info("server process started", "pid", cmd.Process.Pid, "cmd", args)
		return c, nil
	}
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

func (p *process) Stop(grace time.Duration) error {
	if exited(p) {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Warn("terminate failed, killing", "error", err)
		return p.kill()
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
		return nil
	case <-t.C:
		slog.Warn("server ignored SIGTERM, killing", "grace", grace)
		return p.kill()
	}
}

func (p *process) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-p.done
	return nil
}
