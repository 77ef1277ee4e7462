package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/termstream/termstream/internal/channel"
	"github.com/termstream/termstream/internal/decoder"
	"github.com/termstream/termstream/internal/render"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder is a render consumer that keeps every batch.
type recorder struct {
	mu      sync.Mutex
	batches []render.Batch
}

func (r *recorder) Consume(b render.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

func (r *recorder) snapshot() []render.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]render.Batch(nil), r.batches...)
}

func (r *recorder) tokens() []decoder.Token {
	var out []decoder.Token
	for _, b := range r.snapshot() {
		out = append(out, b.Tokens...)
	}
	return out
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Window = 5 * time.Millisecond
	opts.DrainTimeout = time.Second
	return opts
}

func newMock(opts ...channel.MockOption) *channel.MockShell {
	return channel.NewMockShell(append([]channel.MockOption{channel.WithMockPollTimeout(10 * time.Millisecond)}, opts...)...)
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("session %s did not end", s.ID())
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// mockTranscript returns everything a fresh mock prints after running input.
func mockTranscript(t *testing.T, input string) string {
	t.Helper()
	m := newMock()
	defer m.Close()
	if input != "" {
		m.Write([]byte(input))
	}
	m.Hangup()
	var acc strings.Builder
	for {
		chunk, err := m.Read(context.Background(), 0)
		acc.Write(chunk)
		if errors.Is(err, io.EOF) {
			return acc.String()
		}
		if err != nil {
			t.Fatalf("transcript: %v", err)
		}
	}
}

func TestSessionDeliversStreamUntilEOF(t *testing.T) {
	c := NewController(testOptions())
	defer c.CloseAll()

	src := newMock(channel.WithFragmentation(5))
	rec := &recorder{}
	s, err := c.Open(Spec{Mode: "mock", Source: src, Consumer: rec})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := c.Write(s.ID(), []byte("cd /tmp\rpwd\rclear\r")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	src.Hangup()
	waitDone(t, s)

	if !errors.Is(s.Err(), io.EOF) {
		t.Errorf("Err() = %v, want io.EOF", s.Err())
	}

	want := mockTranscript(t, "cd /tmp\rpwd\rclear\r")
	got := rec.tokens()
	if string(decoder.Bytes(got)) != want {
		t.Errorf("delivered bytes differ from the source:\n got %q\nwant %q", decoder.Bytes(got), want)
	}

	oneShot := decoder.New()
	expected := decoder.Normalize(append(oneShot.Decode([]byte(want)), oneShot.Flush()...))
	normalized := decoder.Normalize(got)
	if len(normalized) != len(expected) {
		t.Fatalf("got %d normalized tokens, want %d", len(normalized), len(expected))
	}
	for i := range expected {
		if !normalized[i].Equal(expected[i]) {
			t.Fatalf("token %d = %v, want %v", i, normalized[i], expected[i])
		}
	}

	var lastSeq uint64
	for _, b := range rec.snapshot() {
		if b.Seq <= lastSeq {
			t.Fatalf("batch seq %d after %d", b.Seq, lastSeq)
		}
		lastSeq = b.Seq
		if b.SessionID != s.ID() {
			t.Errorf("batch for %q in session %q", b.SessionID, s.ID())
		}
	}
}

func TestCloseFlushesPendingBatchOnce(t *testing.T) {
	opts := testOptions()
	opts.Window = time.Hour
	c := NewController(opts)
	defer c.CloseAll()

	rec := &recorder{}
	s, err := c.Open(Spec{Source: newMock(), Consumer: rec})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitFor(t, "banner to be pending", func() bool { return s.Info().Pending > 0 })

	if err := c.Close(context.Background(), s.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := rec.snapshot()
	if len(got) != 1 {
		t.Fatalf("delivered %d batches, want exactly 1", len(got))
	}
	if !got[0].Final {
		t.Error("close flush not marked final")
	}
	if !strings.Contains(decoder.Text(got[0].Tokens), "Welcome to demo-server") {
		t.Errorf("final batch = %q", decoder.Text(got[0].Tokens))
	}
	if !errors.Is(s.Err(), ErrClosed) {
		t.Errorf("Err() = %v, want ErrClosed", s.Err())
	}

	time.Sleep(20 * time.Millisecond)
	if len(rec.snapshot()) != 1 {
		t.Error("batch delivered after close")
	}
	if _, err := c.Get(s.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after close = %v, want ErrNotFound", err)
	}
	if err := c.Close(context.Background(), s.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Close = %v, want ErrNotFound", err)
	}
}

func TestUnterminatedSequenceSurfacesOnEOF(t *testing.T) {
	c := NewController(testOptions())
	defer c.CloseAll()

	src := newMock()
	rec := &recorder{}
	s, err := c.Open(Spec{Source: src, Consumer: rec})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	src.Inject([]byte("tail\x1b[12"))
	src.Hangup()
	waitDone(t, s)

	if out := string(decoder.Bytes(rec.tokens())); !strings.HasSuffix(out, "tail\x1b[12") {
		t.Errorf("unterminated sequence lost: %q", out)
	}
	last := rec.tokens()[len(rec.tokens())-1]
	if last.Kind != decoder.Literal {
		t.Errorf("trailing bytes surfaced as %v, want a literal run", last.Kind)
	}
}

func TestStalledConsumerEndsSession(t *testing.T) {
	opts := testOptions()
	opts.Window = time.Millisecond
	opts.MaxBatches = 2
	opts.MaxTokens = 8
	opts.DrainTimeout = 50 * time.Millisecond
	c := NewController(opts)
	defer c.CloseAll()

	release := make(chan struct{})
	defer close(release)
	stuck := render.ConsumerFunc(func(render.Batch) error {
		<-release
		return nil
	})

	src := newMock()
	s, err := c.Open(Spec{Source: src, Consumer: stuck})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for s.Err() == nil {
		select {
		case <-deadline:
			t.Fatal("session never reported a stalled sink")
		case <-s.Done():
		default:
			src.Inject([]byte("more output\r\n"))
			time.Sleep(2 * time.Millisecond)
		}
	}
	if !errors.Is(s.Err(), render.ErrStalled) {
		t.Errorf("Err() = %v, want ErrStalled", s.Err())
	}
}

func TestConsumerFailuresAreContained(t *testing.T) {
	c := NewController(testOptions())
	defer c.CloseAll()

	var mu sync.Mutex
	calls := 0
	rec := &recorder{}
	flaky := render.ConsumerFunc(func(b render.Batch) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 1:
			return errors.New("widget detached")
		case 2:
			panic("render callback raised")
		}
		return rec.Consume(b)
	})

	src := newMock()
	s, err := c.Open(Spec{Source: src, Consumer: flaky})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 3; i++ {
		waitFor(t, "batch to flush", func() bool { return s.Info().Pending == 0 && s.Info().Batches > uint64(i) })
		c.Write(s.ID(), []byte("whoami\r"))
	}
	waitFor(t, "a later batch to be consumed", func() bool { return len(rec.snapshot()) > 0 })

	if s.Err() != nil {
		t.Errorf("session ended after consumer failures: %v", s.Err())
	}
}

// plainSource is a Source without resize support.
type plainSource struct{ channel.Source }

func TestWriteAndResize(t *testing.T) {
	c := NewController(testOptions())
	defer c.CloseAll()

	src := newMock()
	s, err := c.Open(Spec{Source: src, Consumer: &recorder{}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Resize(s.ID(), 120, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if cols, rows := src.Size(); cols != 120 || rows != 40 {
		t.Errorf("source size = %dx%d", cols, rows)
	}
	if err := c.Write(s.ID(), []byte("cd /srv\r")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitFor(t, "cd to run", func() bool { return src.Cwd() == "/srv" })

	if err := c.Write("missing", []byte("x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Write to unknown session = %v", err)
	}
	if err := c.Resize("missing", 1, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resize of unknown session = %v", err)
	}

	plain, err := c.Open(Spec{Source: plainSource{newMock()}, Consumer: &recorder{}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Resize(plain.ID(), 80, 24); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("Resize without support = %v, want ErrUnsupported", err)
	}
}

func TestRegistryNamesAndShutdown(t *testing.T) {
	c := NewController(testOptions())

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := c.Open(Spec{Mode: "mock", Source: newMock(), Consumer: &recorder{}})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		sessions = append(sessions, s)
	}

	seen := map[string]bool{}
	for i, s := range sessions {
		if want := "Terminal " + string(rune('1'+i)); s.Name() != want {
			t.Errorf("session %d name = %q, want %q", i, s.Name(), want)
		}
		if seen[s.ID()] {
			t.Errorf("duplicate id %s", s.ID())
		}
		seen[s.ID()] = true
	}

	list := c.List()
	if len(list) != 3 || list[0].ID != sessions[0].ID() {
		t.Fatalf("List() = %+v", list)
	}

	if _, err := c.Open(Spec{ID: sessions[0].ID(), Source: newMock(), Consumer: &recorder{}}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Open with a taken id = %v, want ErrDuplicate", err)
	}

	c.CloseAll()
	c.CloseAll()

	opened, ended := 0, 0
	for ev := range c.Events() {
		switch ev.Type {
		case EventOpened:
			opened++
		case EventEnded:
			ended++
			if ev.Reason != "shutdown" {
				t.Errorf("session %s ended with %q, want shutdown", ev.Info.ID, ev.Reason)
			}
			if ev.Info.Alive {
				t.Error("ended event reports a live session")
			}
		}
	}
	if opened != 3 || ended != 3 {
		t.Errorf("events: %d opened, %d ended; want 3 and 3", opened, ended)
	}
	if c.Count() != 0 {
		t.Errorf("Count() = %d after CloseAll", c.Count())
	}
	if _, err := c.Open(Spec{Source: newMock(), Consumer: &recorder{}}); !errors.Is(err, ErrShutdown) {
		t.Errorf("Open after CloseAll = %v, want ErrShutdown", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	c := NewController(testOptions())
	defer c.CloseAll()

	broken := render.ConsumerFunc(func(render.Batch) error { panic("boom") })
	bad, err := c.Open(Spec{Source: newMock(), Consumer: broken})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	good := &recorder{}
	src := newMock()
	ok, err := c.Open(Spec{Source: src, Consumer: good})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	bad.src.(*channel.MockShell).Hangup()
	waitDone(t, bad)

	c.Write(ok.ID(), []byte("whoami\r"))
	waitFor(t, "healthy session output", func() bool {
		return strings.Contains(decoder.Text(good.tokens()), "demo_user\r\n")
	})
	if ok.Err() != nil {
		t.Errorf("healthy session ended: %v", ok.Err())
	}
}

func TestReasonString(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{io.EOF, "eof"},
		{ErrClosed, "closed"},
		{ErrShutdown, "shutdown"},
		{render.ErrStalled, "stalled"},
		{errors.New("read: connection reset"), "read: connection reset"},
	}
	for _, tt := range tests {
		if got := reasonString(tt.err); got != tt.want {
			t.Errorf("reasonString(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
