package decoder

import (
	"encoding/json"
	"strings"
)

type Kind int

const (
	Literal Kind = iota
	Control
)

var kindNames = map[Kind]string{
	Literal: "literal",
	Control: "control",
}

var kindFromName = map[string]Kind{
	"literal": Literal,
	"control": Control,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := kindFromName[s]; ok {
		*k = v
	}
	return nil
}

// Attrs is the text attribute context in effect for a literal run.
// Colors are either an ANSI palette index ("0".."255") or "#rrggbb";
// empty means the terminal default.
type Attrs struct {
	Fg        string `json:"fg,omitempty"`
	Bg        string `json:"bg,omitempty"`
	Bold      bool   `json:"bold,omitempty"`
	Dim       bool   `json:"dim,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Underline bool   `json:"underline,omitempty"`
	Blink     bool   `json:"blink,omitempty"`
	Reverse   bool   `json:"reverse,omitempty"`
	Hidden    bool   `json:"hidden,omitempty"`
}

// IsZero reports whether no attribute is set.
func (a Attrs) IsZero() bool {
	return a == Attrs{}
}

// Token is one element of the decoded stream: either a literal run of text
// or a control effect. Tokens are never mutated after the decoder emits them.
type Token struct {
	Kind   Kind    `json:"kind"`
	Text   string  `json:"text,omitempty"`
	Attrs  Attrs   `json:"attrs,omitempty"`
	Effect *Effect `json:"effect,omitempty"`
}

// LiteralRun builds a literal token.
func LiteralRun(text string, attrs Attrs) Token {
	return Token{Kind: Literal, Text: text, Attrs: attrs}
}

// ControlEffect builds a control token.
func ControlEffect(e Effect) Token {
	return Token{Kind: Control, Effect: &e}
}

func (t Token) String() string {
	if t.Kind == Control && t.Effect != nil {
		return t.Effect.String()
	}
	return t.Text
}

// Equal compares two tokens by value.
func (t Token) Equal(o Token) bool {
	if t.Kind != o.Kind || t.Text != o.Text || t.Attrs != o.Attrs {
		return false
	}
	if (t.Effect == nil) != (o.Effect == nil) {
		return false
	}
	if t.Effect == nil {
		return true
	}
	return t.Effect.Equal(*o.Effect)
}

// Normalize merges adjacent literal runs that share the same attributes.
// Literal runs are cut at chunk boundaries, so two decodings of the same byte
// stream are compared on their normalized form.
func Normalize(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Kind == Literal && t.Text == "" {
			continue
		}
		if n := len(out); n > 0 && t.Kind == Literal && out[n-1].Kind == Literal && out[n-1].Attrs == t.Attrs {
			out[n-1].Text += t.Text
			continue
		}
		out = append(out, t)
	}
	return out
}

// Text concatenates the text of every literal run.
func Text(tokens []Token) string {
	var b strings.Builder
	for _, t := range tokens {
		if t.Kind == Literal {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Bytes rebuilds the original byte stream from the tokens: literal text plus
// the raw bytes of every control sequence.
func Bytes(tokens []Token) []byte {
	var b strings.Builder
	for _, t := range tokens {
		switch t.Kind {
		case Literal:
			b.WriteString(t.Text)
		case Control:
			if t.Effect != nil {
				b.WriteString(t.Effect.Raw)
			}
		}
	}
	return []byte(b.String())
}
