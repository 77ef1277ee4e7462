package screen

import (
	"reflect"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/termstream/termstream/internal/decoder"
)

// feed decodes raw output and applies it the way the viewer does.
func feed(s *Screen, raw string) {
	d := decoder.New()
	toks := d.Decode([]byte(raw))
	toks = append(toks, d.Flush()...)
	s.Apply(toks)
}

func TestLines(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"plain", "hello", []string{"hello"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b", ""}},
		{"carriage return overwrites", "abcdef\rXY", []string{"XYcdef"}},
		{"backspace echo", "ls\b \b", []string{"l "}},
		{"tab", "a\tb", []string{"a       b"}},
		{"bell ignored", "a\ab", []string{"ab"}},
		{"erase line to end", "abcdef\x1b[3D\x1b[K", []string{"abc"}},
		{"erase line start", "abcdef\x1b[1K", []string{"      "}},
		{"erase whole line", "abc\x1b[2K", []string{""}},
		{"clear", "one\r\ntwo\x1b[2J\x1b[Hthree", []string{"three"}},
		{"erase display to end", "abc\r\ndef\x1b[2D\x1b[J", []string{"abc", "d"}},
		{"erase display start", "abc\r\ndef\x1b[1J", []string{"   "}},
		{"cursor column", "abcdef\x1b[3GZ", []string{"abZdef"}},
		{"cursor forward pads", "a\x1b[3Cb", []string{"a   b"}},
		{"cursor back clamps", "ab\x1b[9DX", []string{"Xb"}},
		{"vertical motion ignored", "ab\x1b[5Ac", []string{"abc"}},
		{"unknown sequence", "a\x1b[5zb", []string{"ab"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(0)
			feed(s, tt.raw)
			if got := s.Text(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitChunksRenderSame(t *testing.T) {
	raw := "\x1b[1;32mdemo_user@demo-server\x1b[0m:\x1b[1;34m~\x1b[0m$ ls\r\nfile1.txt\r\nfolder1\r\n"

	whole := New(0)
	feed(whole, raw)

	split := New(0)
	d := decoder.New()
	for i := 0; i < len(raw); i++ {
		split.Apply(d.Decode([]byte{raw[i]}))
	}
	split.Apply(d.Flush())

	if !reflect.DeepEqual(whole.Text(), split.Text()) {
		t.Fatalf("split text %q != whole %q", split.Text(), whole.Text())
	}
	if !reflect.DeepEqual(whole.Render(0), split.Render(0)) {
		t.Fatal("split render differs from whole render")
	}
	if whole.Cursor() != split.Cursor() {
		t.Errorf("cursor %d after split, %d whole", split.Cursor(), whole.Cursor())
	}
}

func TestAttributesFollowCells(t *testing.T) {
	s := New(0)
	feed(s, "\x1b[31mred\x1b[0m plain")
	l := s.lines[0]
	if l[0].attrs.Fg != "1" || l[2].attrs.Fg != "1" {
		t.Fatalf("red run attrs = %+v", l[0].attrs)
	}
	if !l[3].attrs.IsZero() {
		t.Fatalf("plain run attrs = %+v", l[3].attrs)
	}
}

func TestRenderClipsToWidth(t *testing.T) {
	s := New(0)
	feed(s, "\x1b[1m"+strings.Repeat("x", 50)+"\x1b[0m")
	for _, width := range []int{10, 49, 80} {
		got := s.Render(width)[0]
		want := width
		if want > 50 {
			want = 50
		}
		if w := ansi.StringWidth(got); w != want {
			t.Errorf("Render(%d) width = %d, want %d", width, w, want)
		}
	}
}

func TestHiddenRendersBlank(t *testing.T) {
	s := New(0)
	feed(s, "\x1b[8msecret\x1b[0m!")
	if got := ansi.Strip(s.Render(0)[0]); got != "      !" {
		t.Errorf("rendered %q", got)
	}
}

func TestScrollbackTrims(t *testing.T) {
	s := New(3)
	feed(s, "1\r\n2\r\n3\r\n4\r\n5")
	if got := s.Text(); !reflect.DeepEqual(got, []string{"3", "4", "5"}) {
		t.Fatalf("Text() = %q", got)
	}
	if s.Trimmed() != 2 {
		t.Errorf("Trimmed() = %d, want 2", s.Trimmed())
	}
}

func TestAltScreenRestoresMain(t *testing.T) {
	s := New(0)
	feed(s, "$ vim\r\n")
	feed(s, "\x1b[?1049hediting")
	if !s.Alt() {
		t.Fatal("alt screen not entered")
	}
	if got := s.Text(); !reflect.DeepEqual(got, []string{"editing"}) {
		t.Fatalf("alt Text() = %q", got)
	}
	feed(s, "\x1b[?1049l$ ")
	if s.Alt() {
		t.Fatal("alt screen not left")
	}
	if got := s.Text(); !reflect.DeepEqual(got, []string{"$ vim", "$ "}) {
		t.Fatalf("restored Text() = %q", got)
	}
}
