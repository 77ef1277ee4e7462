package decoder

import (
	"bytes"
	"math/rand"
	"testing"
)

const sample = "hello \x1b[31mworld\x1b[0m\n"

// decodeAll decodes the chunks one at a time and flushes at the end.
func decodeAll(chunks ...[]byte) []Token {
	d := New()
	var out []Token
	for _, c := range chunks {
		out = append(out, d.Decode(c)...)
	}
	return append(out, d.Flush()...)
}

func assertTokens(t *testing.T, got, want []Token) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("token[%d] = %#v, want %#v", i, got[i], want[i])
		}
	}
}

func sgr(raw string, params ...int) Token {
	return ControlEffect(Effect{Type: EffectSGR, Final: "m", Params: params, Raw: raw})
}

func TestDecodeSample(t *testing.T) {
	got := decodeAll([]byte(sample))
	want := []Token{
		LiteralRun("hello ", Attrs{}),
		sgr("\x1b[31m", 31),
		LiteralRun("world", Attrs{Fg: "1"}),
		sgr("\x1b[0m", 0),
		LiteralRun("\n", Attrs{}),
	}
	assertTokens(t, got, want)
}

func TestSplitInvariance_EveryOffset(t *testing.T) {
	stream := []byte(sample)
	whole := Normalize(decodeAll(stream))

	for i := 0; i <= len(stream); i++ {
		got := Normalize(decodeAll(stream[:i], stream[i:]))
		if len(got) != len(whole) {
			t.Fatalf("split at %d: got %v, want %v", i, got, whole)
		}
		for k := range whole {
			if !got[k].Equal(whole[k]) {
				t.Errorf("split at %d: token[%d] = %#v, want %#v", i, k, got[k], whole[k])
			}
		}
	}
}

func TestSplitInvariance_ByteAtATime(t *testing.T) {
	streams := []string{
		sample,
		"\x1b[1;32mdemo_user@demo-server\x1b[0m:\x1b[1;34m/home/demo\x1b[0m$ ",
		"a\x1bXb\x1b[12;;3\x1b[2Jc",
		"caf\xc3\xa9 \xe2\x82\xac \xf0\x9f\x98\x80\x1b[?2004h",
		"\x1b[\x1b[\x1b",
		"\x1b[38;5;208morange\x1b[48;2;1;2;3mrgb\x1b[m",
	}
	for _, s := range streams {
		var chunks [][]byte
		for i := 0; i < len(s); i++ {
			chunks = append(chunks, []byte{s[i]})
		}
		assertTokens(t, Normalize(decodeAll(chunks...)), Normalize(decodeAll([]byte(s))))
	}
}

func TestSplitInvariance_RandomPartitions(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []byte("ab;?[\x1b0123456789mJKHz\n\xc3\xa9")

	for iter := 0; iter < 500; iter++ {
		stream := make([]byte, rng.Intn(80))
		for i := range stream {
			stream[i] = alphabet[rng.Intn(len(alphabet))]
		}

		var chunks [][]byte
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}

		whole := decodeAll(stream)
		split := decodeAll(chunks...)
		assertTokens(t, Normalize(split), Normalize(whole))

		if !bytes.Equal(Bytes(split), stream) {
			t.Fatalf("bytes not preserved: got %q, want %q", Bytes(split), stream)
		}
	}
}

func FuzzSplitInvariance(f *testing.F) {
	f.Add([]byte(sample), uint8(9))
	f.Add([]byte("\x1b[?25l\x1b"), uint8(3))
	f.Fuzz(func(t *testing.T, stream []byte, cut uint8) {
		i := int(cut) % (len(stream) + 1)
		whole := Normalize(decodeAll(stream))
		split := Normalize(decodeAll(stream[:i], stream[i:]))
		assertTokens(t, split, whole)
		if !bytes.Equal(Bytes(split), stream) {
			t.Fatalf("bytes not preserved: got %q, want %q", Bytes(split), stream)
		}
	})
}

func TestPartialSequenceCarriedAcrossChunks(t *testing.T) {
	d := New()

	if got := d.Decode([]byte("abc\x1b[3")); len(got) != 1 || got[0].Text != "abc" {
		t.Fatalf("first chunk = %v, want one literal \"abc\"", got)
	}
	if !d.InSequence() {
		t.Fatal("decoder should be inside a sequence after a split chunk")
	}
	if d.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", d.Pending())
	}

	got := d.Decode([]byte("1mred"))
	want := []Token{
		sgr("\x1b[31m", 31),
		LiteralRun("red", Attrs{Fg: "1"}),
	}
	assertTokens(t, got, want)
	if d.Pending() != 0 {
		t.Errorf("Pending() after completion = %d, want 0", d.Pending())
	}
}

func TestEscapeThenEndOfStream(t *testing.T) {
	d := New()
	if got := d.Decode([]byte("tail\x1b")); len(got) != 1 || got[0].Text != "tail" {
		t.Fatalf("Decode = %v, want literal \"tail\"", got)
	}

	got := d.Flush()
	assertTokens(t, got, []Token{LiteralRun("\x1b", Attrs{})})

	if d.Pending() != 0 || d.InSequence() {
		t.Error("decoder should be empty and in normal state after Flush")
	}
}

func TestFlushPartialCSI(t *testing.T) {
	d := New()
	d.Decode([]byte("\x1b[12;"))
	assertTokens(t, d.Flush(), []Token{LiteralRun("\x1b[12;", Attrs{})})
}

func TestMalformedSequencesBecomeLiteral(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Token
	}{
		{
			name:  "EscapeWithoutBracket",
			input: "a\x1bXb",
			want:  []Token{LiteralRun("a", Attrs{}), LiteralRun("\x1bXb", Attrs{})},
		},
		{
			name:  "BadByteInParams",
			input: "\x1b[1$x",
			want:  []Token{LiteralRun("\x1b[1$x", Attrs{})},
		},
		{
			name:  "DoubleEscape",
			input: "\x1b\x1b[K",
			want: []Token{
				LiteralRun("\x1b", Attrs{}),
				ControlEffect(Effect{Type: EffectEraseLine, Final: "K", Raw: "\x1b[K"}),
			},
		},
		{
			name:  "NewlineInsideSequence",
			input: "\x1b[3\nx",
			want:  []Token{LiteralRun("\x1b[3\nx", Attrs{})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTokens(t, decodeAll([]byte(tt.input)), tt.want)
		})
	}
}

func TestUnknownFinalIsNoOpControl(t *testing.T) {
	got := decodeAll([]byte("x\x1b[5zy"))
	want := []Token{
		LiteralRun("x", Attrs{}),
		ControlEffect(Effect{Type: EffectNone, Final: "z", Params: []int{5}, Raw: "\x1b[5z"}),
		LiteralRun("y", Attrs{}),
	}
	assertTokens(t, got, want)
	if Text(got) != "xy" {
		t.Errorf("Text() = %q, want %q", Text(got), "xy")
	}
}

func TestOverlongSequenceAborts(t *testing.T) {
	long := "\x1b[" + string(bytes.Repeat([]byte("1"), DefaultMaxSequence)) + "m"
	got := decodeAll([]byte(long))
	if len(got) != 1 || got[0].Kind != Literal || got[0].Text != long {
		t.Fatalf("got %v, want a single literal carrying the whole input", got)
	}
}

func TestEffectTable(t *testing.T) {
	tests := []struct {
		input   string
		want    EffectType
		params  []int
		private bool
		mode    string
	}{
		{"\x1b[2J", EffectEraseDisplay, []int{2}, false, ""},
		{"\x1b[K", EffectEraseLine, nil, false, ""},
		{"\x1b[10;5H", EffectCursorPosition, []int{10, 5}, false, ""},
		{"\x1b[;5f", EffectCursorPosition, []int{0, 5}, false, ""},
		{"\x1b[3A", EffectCursorUp, []int{3}, false, ""},
		{"\x1b[B", EffectCursorDown, nil, false, ""},
		{"\x1b[4C", EffectCursorForward, []int{4}, false, ""},
		{"\x1b[D", EffectCursorBack, nil, false, ""},
		{"\x1b[7G", EffectCursorColumn, []int{7}, false, ""},
		{"\x1b[?2004h", EffectModeSet, []int{2004}, true, "bracketed_paste"},
		{"\x1b[?1049l", EffectModeReset, []int{1049}, true, "alt_screen"},
		{"\x1b[?25l", EffectModeReset, []int{25}, true, "cursor_visible"},
		{"\x1b[?7h", EffectModeSet, []int{7}, true, ""},
	}

	for _, tt := range tests {
		got := decodeAll([]byte(tt.input))
		if len(got) != 1 || got[0].Kind != Control {
			t.Fatalf("%q: got %v, want one control token", tt.input, got)
		}
		e := got[0].Effect
		if e.Type != tt.want {
			t.Errorf("%q: type = %s, want %s", tt.input, e.Type, tt.want)
		}
		if !(Effect{Params: e.Params}).Equal(Effect{Params: tt.params}) {
			t.Errorf("%q: params = %v, want %v", tt.input, e.Params, tt.params)
		}
		if e.Private != tt.private {
			t.Errorf("%q: private = %v, want %v", tt.input, e.Private, tt.private)
		}
		if e.Mode() != tt.mode {
			t.Errorf("%q: Mode() = %q, want %q", tt.input, e.Mode(), tt.mode)
		}
		if e.Raw != tt.input {
			t.Errorf("%q: raw = %q", tt.input, e.Raw)
		}
	}
}

func TestEffectParamDefault(t *testing.T) {
	e := Effect{Params: []int{0, 7}}
	if got := e.Param(0, 1); got != 1 {
		t.Errorf("Param(0, 1) = %d, want 1", got)
	}
	if got := e.Param(1, 1); got != 7 {
		t.Errorf("Param(1, 1) = %d, want 7", got)
	}
	if got := e.Param(5, 3); got != 3 {
		t.Errorf("Param(5, 3) = %d, want 3", got)
	}
}

func TestAttributesCarryAcrossChunks(t *testing.T) {
	d := New()
	d.Decode([]byte("\x1b[1;4;32m"))
	got := d.Decode([]byte("go"))
	want := Attrs{Fg: "2", Bold: true, Underline: true}
	if len(got) != 1 || got[0].Attrs != want {
		t.Fatalf("got %v, want literal with %+v", got, want)
	}

	d.Decode([]byte("\x1b[22;24;39m"))
	if !d.Attrs().IsZero() {
		t.Errorf("Attrs() = %+v after resets, want zero", d.Attrs())
	}
}

func TestSGRCodes(t *testing.T) {
	tests := []struct {
		params []int
		start  Attrs
		want   Attrs
	}{
		{nil, Attrs{Bold: true}, Attrs{}},
		{[]int{0}, Attrs{Fg: "3"}, Attrs{}},
		{[]int{91}, Attrs{}, Attrs{Fg: "9"}},
		{[]int{44}, Attrs{}, Attrs{Bg: "4"}},
		{[]int{103}, Attrs{}, Attrs{Bg: "11"}},
		{[]int{49}, Attrs{Bg: "4"}, Attrs{}},
		{[]int{2, 3, 5, 7, 8}, Attrs{}, Attrs{Dim: true, Italic: true, Blink: true, Reverse: true, Hidden: true}},
		{[]int{38, 5, 208}, Attrs{}, Attrs{Fg: "208"}},
		{[]int{48, 2, 255, 128, 0}, Attrs{}, Attrs{Bg: "#ff8000"}},
		{[]int{38, 5}, Attrs{Fg: "1"}, Attrs{Fg: "1"}},
		{[]int{38, 2, 1, 2, 3, 1}, Attrs{}, Attrs{Fg: "#010203", Bold: true}},
	}

	for _, tt := range tests {
		if got := applySGR(tt.start, tt.params); got != tt.want {
			t.Errorf("applySGR(%+v, %v) = %+v, want %+v", tt.start, tt.params, got, tt.want)
		}
	}
}

func TestUTF8HeldAcrossChunks(t *testing.T) {
	d := New()
	euro := []byte("\xe2\x82\xac")

	got := d.Decode(append([]byte("1"), euro[:2]...))
	assertTokens(t, got, []Token{LiteralRun("1", Attrs{})})
	if d.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", d.Pending())
	}

	got = d.Decode(append(euro[2:], '!'))
	assertTokens(t, got, []Token{LiteralRun("\u20ac!", Attrs{})})
}

func TestTruncatedRuneSurfacesOnFlush(t *testing.T) {
	d := New()
	if got := d.Decode([]byte{0xf0, 0x9f}); len(got) != 0 {
		t.Fatalf("Decode = %v, want nothing until the rune completes", got)
	}
	assertTokens(t, d.Flush(), []Token{LiteralRun("\xf0\x9f", Attrs{})})
}

func TestNormalize(t *testing.T) {
	in := []Token{
		LiteralRun("a", Attrs{}),
		LiteralRun("", Attrs{}),
		LiteralRun("b", Attrs{}),
		LiteralRun("c", Attrs{Bold: true}),
		sgr("\x1b[m"),
		LiteralRun("d", Attrs{}),
	}
	want := []Token{
		LiteralRun("ab", Attrs{}),
		LiteralRun("c", Attrs{Bold: true}),
		sgr("\x1b[m"),
		LiteralRun("d", Attrs{}),
	}
	assertTokens(t, Normalize(in), want)
}
