// Package decoder tokenizes a terminal output stream into literal runs and
// control effects.
//
// The stream may be split at any byte boundary. A Decoder advances one byte at
// a time through a small state machine and carries only the unterminated
// suffix of a control sequence from one chunk to the next, so decoding a
// stream chunk by chunk yields the same normalized tokens as decoding it in
// one call.
//
// Grammar: ESC '[' {digit | ';' | '?'} letter. Anything else is literal text.
// A byte that does not fit the grammar while a sequence is open aborts the
// sequence; the bytes consumed so far are re-emitted as literal text and the
// offending byte is reprocessed as ordinary input.
package decoder

import "unicode/utf8"

const escape = 0x1b

// DefaultMaxSequence bounds the length of one control sequence. Longer
// sequences are aborted and passed through as literal text.
const DefaultMaxSequence = 64

type state int

const (
	stateNormal state = iota
	stateSawEscape
	stateSawBracket
	stateReadingParams
)

var stateNames = map[state]string{
	stateNormal:        "normal",
	stateSawEscape:     "saw_escape",
	stateSawBracket:    "saw_bracket",
	stateReadingParams: "reading_params",
}

func (s state) String() string {
	return stateNames[s]
}

// Decoder is not safe for concurrent use. Each session owns exactly one and
// feeds it from its read loop.
type Decoder struct {
	state state
	// seq holds the bytes of the control sequence currently being read and
	// nothing else.
	seq []byte
	// lit collects normal-state bytes until the next transition or the end
	// of the chunk.
	lit []byte
	// held is the incomplete UTF-8 rune that ended the previous chunk.
	held   []byte
	attrs  Attrs
	maxSeq int
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxSequence sets the control sequence length bound. Non-positive values
// keep the default.
func WithMaxSequence(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxSeq = n
		}
	}
}

func New(opts ...Option) *Decoder {
	d := &Decoder{maxSeq: DefaultMaxSequence}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode consumes one chunk and returns the tokens it completes.
func (d *Decoder) Decode(chunk []byte) []Token {
	var out []Token
	if len(d.held) > 0 {
		d.lit = append(d.lit, d.held...)
		d.held = d.held[:0]
	}
	for _, b := range chunk {
		out = d.step(out, b)
	}
	if d.state == stateNormal {
		if n := incompleteRune(d.lit); n > 0 {
			d.held = append(d.held, d.lit[len(d.lit)-n:]...)
			d.lit = d.lit[:len(d.lit)-n]
		}
	}
	return d.emitLiteral(out)
}

// Flush ends the stream. Any unterminated control sequence and any held
// partial rune are surfaced as a final literal run.
func (d *Decoder) Flush() []Token {
	d.lit = append(d.lit, d.held...)
	d.lit = append(d.lit, d.seq...)
	d.held = d.held[:0]
	d.seq = d.seq[:0]
	d.state = stateNormal
	return d.emitLiteral(nil)
}

// Attrs returns the attribute context that the next literal run will carry.
func (d *Decoder) Attrs() Attrs {
	return d.attrs
}

// Pending reports how many bytes are buffered awaiting more input.
func (d *Decoder) Pending() int {
	return len(d.seq) + len(d.held)
}

// InSequence reports whether a control sequence is open.
func (d *Decoder) InSequence() bool {
	return d.state != stateNormal
}

func (d *Decoder) step(out []Token, b byte) []Token {
	switch d.state {
	case stateNormal:
		if b == escape {
			out = d.emitLiteral(out)
			d.seq = append(d.seq, b)
			d.state = stateSawEscape
			return out
		}
		d.lit = append(d.lit, b)

	case stateSawEscape:
		if b == '[' {
			d.seq = append(d.seq, b)
			d.state = stateSawBracket
			return out
		}
		d.abort()
		return d.step(out, b)

	case stateSawBracket, stateReadingParams:
		switch {
		case isParam(b) && len(d.seq) < d.maxSeq:
			d.seq = append(d.seq, b)
			d.state = stateReadingParams
		case isFinal(b):
			d.seq = append(d.seq, b)
			out = d.emitControl(out)
		default:
			d.abort()
			return d.step(out, b)
		}
	}
	return out
}

// abort turns the open sequence back into literal text.
func (d *Decoder) abort() {
	d.lit = append(d.lit, d.seq...)
	d.seq = d.seq[:0]
	d.state = stateNormal
}

func (d *Decoder) emitControl(out []Token) []Token {
	e := lookupEffect(d.seq)
	if e.Type == EffectSGR {
		d.attrs = applySGR(d.attrs, e.Params)
	}
	d.seq = d.seq[:0]
	d.state = stateNormal
	return append(out, ControlEffect(e))
}

func (d *Decoder) emitLiteral(out []Token) []Token {
	if len(d.lit) == 0 {
		return out
	}
	out = append(out, LiteralRun(string(d.lit), d.attrs))
	d.lit = d.lit[:0]
	return out
}

func isParam(b byte) bool {
	return (b >= '0' && b <= '9') || b == ';' || b == '?'
}

func isFinal(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// incompleteRune returns the length of a truncated multi-byte UTF-8 rune at
// the end of p, or 0.
func incompleteRune(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if p[i] >= 0xC0 && !utf8.FullRune(p[i:]) {
			return len(p) - i
		}
		return 0
	}
	return 0
}
