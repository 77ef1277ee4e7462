package channel

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"path"
	"strings"
	"sync"
	"time"
)

// Mock shell identity defaults.
const (
	DefaultMockUser = "demo_user"
	DefaultMockHost = "demo-server"
	DefaultMockHome = "/home/demo"
)

const (
	mockListing = "file1.txt\r\nfile2.py\r\nfolder1\r\nfolder2\r\n"
	mockUname   = "Linux demo-server 5.15.0 x86_64"
	clearScreen = "\x1b[2J\x1b[H"
)

// MockShell is a deterministic shell simulator. Bytes written to it are
// echoed like a PTY with ECHO set; a carriage return or newline runs the
// line against a fixed command table and queues its output and a fresh
// prompt for Read.
type MockShell struct {
	user, host, home string
	latency          time.Duration
	jitter           time.Duration
	fragment         bool
	poll             time.Duration

	mu       sync.Mutex
	rng      *rand.Rand
	cwd      string
	line     []byte
	lastCR   bool
	out      []byte
	cols     int
	rows     int
	hungUp   bool
	ended    bool
	closed   bool
	commands []string

	notify    chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
}

// MockOption configures a MockShell.
type MockOption func(*MockShell)

// WithLatency delays every Read that returns data by d plus a random jitter
// in [0, jitter) drawn from a generator seeded with seed.
func WithLatency(d, jitter time.Duration, seed int64) MockOption {
	return func(m *MockShell) {
		m.latency = d
		m.jitter = jitter
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// WithFragmentation makes Read return a random number of bytes (at most max)
// so that output arrives split at arbitrary offsets, control sequences
// included.
func WithFragmentation(seed int64) MockOption {
	return func(m *MockShell) {
		m.fragment = true
		if m.rng == nil {
			m.rng = rand.New(rand.NewSource(seed))
		}
	}
}

// WithIdentity overrides the user, host and home directory. Empty values keep
// the defaults.
func WithIdentity(user, host, home string) MockOption {
	return func(m *MockShell) {
		if user != "" {
			m.user = user
		}
		if host != "" {
			m.host = host
		}
		if home != "" {
			m.home = home
		}
	}
}

// WithMockPollTimeout sets how long Read waits for output before returning
// empty.
func WithMockPollTimeout(d time.Duration) MockOption {
	return func(m *MockShell) {
		if d > 0 {
			m.poll = d
		}
	}
}

// NewMockShell returns a shell that has already printed its banner and first
// prompt.
func NewMockShell(opts ...MockOption) *MockShell {
	m := &MockShell{
		user:   DefaultMockUser,
		host:   DefaultMockHost,
		home:   DefaultMockHome,
		poll:   DefaultPollTimeout,
		cols:   80,
		rows:   24,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(1))
	}
	m.cwd = m.home
	m.out = append(m.out, fmt.Sprintf("Welcome to %s (simulated shell)\r\n", m.host)...)
	m.out = append(m.out, m.prompt()...)
	return m
}

func (m *MockShell) prompt() string {
	return fmt.Sprintf("\x1b[1;32m%s@%s\x1b[0m:\x1b[1;34m%s\x1b[0m$ ", m.user, m.host, m.cwd)
}

// Run executes one command line against the command table and returns its
// output without echo or prompt. It updates the working directory for cd.
func (m *MockShell) Run(cmdline string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runLocked(cmdline)
}

func (m *MockShell) runLocked(cmdline string) string {
	cmdline = strings.TrimSpace(cmdline)
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return ""
	}
	m.commands = append(m.commands, cmdline)

	switch fields[0] {
	case "ls":
		return mockListing
	case "pwd":
		return m.cwd + "\r\n"
	case "whoami":
		return m.user + "\r\n"
	case "uname":
		return mockUname + "\r\n"
	case "cd":
		target := ""
		if len(fields) > 1 {
			target = fields[1]
		}
		m.cwd = m.resolve(target)
		return ""
	case "clear":
		return clearScreen
	case "echo":
		return strings.Join(fields[1:], " ") + "\r\n"
	case "exit", "logout":
		m.hungUp = true
		return "logout\r\n"
	}
	return cmdline + ": command simulated\r\n"
}

// resolve applies a cd target to the working directory. Nothing is validated.
func (m *MockShell) resolve(target string) string {
	switch {
	case target == "" || target == "~":
		return m.home
	case strings.HasPrefix(target, "~/"):
		return path.Clean(path.Join(m.home, target[2:]))
	case strings.HasPrefix(target, "/"):
		return path.Clean(target)
	}
	return path.Clean(path.Join(m.cwd, target))
}

// Cwd returns the tracked working directory.
func (m *MockShell) Cwd() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cwd
}

// Commands returns the command lines run so far.
func (m *MockShell) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Size returns the last window size set with Resize.
func (m *MockShell) Size() (cols, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cols, m.rows
}

// Write feeds keystrokes to the shell.
func (m *MockShell) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.hungUp {
		return 0, ErrClosed
	}

	for _, c := range p {
		if c == '\n' && m.lastCR {
			m.lastCR = false
			continue
		}
		m.lastCR = c == '\r'

		switch c {
		case '\r', '\n':
			m.out = append(m.out, "\r\n"...)
			line := string(m.line)
			m.line = m.line[:0]
			m.out = append(m.out, m.runLocked(line)...)
			if m.hungUp {
				m.signal()
				return len(p), nil
			}
			m.out = append(m.out, m.prompt()...)
		case 0x7f, '\b':
			if len(m.line) > 0 {
				m.line = trimLastRune(m.line)
				m.out = append(m.out, "\b \b"...)
			}
		case 0x03:
			m.line = m.line[:0]
			m.out = append(m.out, "^C\r\n"...)
			m.out = append(m.out, m.prompt()...)
		default:
			m.line = append(m.line, c)
			m.out = append(m.out, c)
		}
	}
	m.signal()
	return len(p), nil
}

func trimLastRune(b []byte) []byte {
	i := len(b) - 1
	for i > 0 && b[i]&0xC0 == 0x80 {
		i--
	}
	return b[:i]
}

// Inject queues raw output as if the remote end had sent it.
func (m *MockShell) Inject(p []byte) {
	m.mu.Lock()
	m.out = append(m.out, p...)
	m.mu.Unlock()
	m.signal()
}

// Hangup simulates the remote end closing the stream. Output already queued
// is still readable; after it is drained Read returns io.EOF.
func (m *MockShell) Hangup() {
	m.mu.Lock()
	m.hungUp = true
	m.mu.Unlock()
	m.signal()
}

func (m *MockShell) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *MockShell) Read(ctx context.Context, max int) ([]byte, error) {
	max = readSize(max)

	if err := m.waitOutput(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if len(m.out) == 0 {
		if m.hungUp {
			m.ended = true
			m.mu.Unlock()
			return nil, io.EOF
		}
		m.mu.Unlock()
		return nil, nil
	}
	delay := m.latency
	if m.jitter > 0 {
		delay += time.Duration(m.rng.Int63n(int64(m.jitter)))
	}
	n := min(max, len(m.out))
	if m.fragment {
		n = 1 + m.rng.Intn(n)
	}
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-m.stop:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	// Only Read consumes out, so it holds at least n bytes.
	chunk := make([]byte, n)
	copy(chunk, m.out)
	m.out = m.out[n:]
	return chunk, nil
}

// waitOutput blocks until output may be available or the poll timeout passes.
func (m *MockShell) waitOutput(ctx context.Context) error {
	m.mu.Lock()
	ready := len(m.out) > 0 || m.hungUp || m.closed
	m.mu.Unlock()
	if ready {
		return nil
	}

	t := time.NewTimer(m.poll)
	defer t.Stop()
	select {
	case <-m.notify:
	case <-t.C:
	case <-m.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Resize records the window size.
func (m *MockShell) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("channel mock: invalid size %dx%d", cols, rows)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cols, m.rows = cols, rows
	return nil
}

func (m *MockShell) Alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && !m.ended
}

func (m *MockShell) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.stop)
	})
	return nil
}
