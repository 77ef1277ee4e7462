//go:build !windows

package channel

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

// LocalConfig describes a shell started on a local pseudo-terminal.
type LocalConfig struct {
	Shell string
	Args  []string
	Dir   string
	Term  string
	Cols  int
	Rows  int
}

// StartLocal runs the shell on a new PTY. Closing the stream closes the PTY
// and reaps the process.
func StartLocal(cfg LocalConfig, opts ...StreamOption) (*Stream, error) {
	shell := cfg.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	term := cfg.Term
	if term == "" {
		term = "xterm-256color"
	}
	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	cmd := exec.Command(shell, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), "TERM="+term)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("start pty %s: %w", shell, err)
	}
	zap.S().Infof("[channel] local %s: started pid %d (%dx%d)", shell, cmd.Process.Pid, cols, rows)

	closer := func() error {
		err := ptmx.Close()
		if cmd.ProcessState == nil {
			cmd.Process.Kill()
		}
		waitErr := make(chan error, 1)
		go func() { waitErr <- cmd.Wait() }()
		select {
		case <-waitErr:
		case <-time.After(2 * time.Second):
			zap.S().Warnf("[channel] local %s: pid %d did not exit", shell, cmd.Process.Pid)
		}
		if errors.Is(err, os.ErrClosed) {
			return nil
		}
		return err
	}

	opts = append([]StreamOption{WithResize(func(cols, rows int) error {
		return pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	})}, opts...)
	return NewStream("local "+shell, ptmx, ptmx, closer, opts...), nil
}
