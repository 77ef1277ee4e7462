package decoder

import (
	"fmt"
	"strconv"
)

// EffectType names the semantic effect selected by a control sequence.
type EffectType string

const (
	EffectNone           EffectType = "none"
	EffectSGR            EffectType = "sgr"
	EffectEraseDisplay   EffectType = "erase_display"
	EffectEraseLine      EffectType = "erase_line"
	EffectCursorPosition EffectType = "cursor_position"
	EffectCursorUp       EffectType = "cursor_up"
	EffectCursorDown     EffectType = "cursor_down"
	EffectCursorForward  EffectType = "cursor_forward"
	EffectCursorBack     EffectType = "cursor_back"
	EffectCursorColumn   EffectType = "cursor_column"
	EffectModeSet        EffectType = "mode_set"
	EffectModeReset      EffectType = "mode_reset"
)

// effectTable maps the terminating letter of a control sequence to its effect.
// Letters absent from the table decode to EffectNone.
var effectTable = map[byte]EffectType{
	'm': EffectSGR,
	'J': EffectEraseDisplay,
	'K': EffectEraseLine,
	'H': EffectCursorPosition,
	'f': EffectCursorPosition,
	'A': EffectCursorUp,
	'B': EffectCursorDown,
	'C': EffectCursorForward,
	'D': EffectCursorBack,
	'G': EffectCursorColumn,
	'h': EffectModeSet,
	'l': EffectModeReset,
}

// privateModes names the DEC private modes commonly toggled by shells.
var privateModes = map[int]string{
	1:    "cursor_keys",
	25:   "cursor_visible",
	1049: "alt_screen",
	2004: "bracketed_paste",
}

// Effect is the decoded meaning of one control sequence.
type Effect struct {
	Type    EffectType `json:"type"`
	Final   string     `json:"final"`
	Params  []int      `json:"params,omitempty"`
	Private bool       `json:"private,omitempty"`
	// Raw holds the exact bytes of the sequence, escape marker included.
	Raw string `json:"raw"`
}

// Param returns the i-th parameter, or def when it is absent or zero.
func (e Effect) Param(i, def int) int {
	if i < len(e.Params) && e.Params[i] != 0 {
		return e.Params[i]
	}
	return def
}

// Mode returns the name of the private mode toggled by a mode_set or
// mode_reset effect, or "" if the mode is not one we know.
func (e Effect) Mode() string {
	if !e.Private || (e.Type != EffectModeSet && e.Type != EffectModeReset) || len(e.Params) == 0 {
		return ""
	}
	return privateModes[e.Params[0]]
}

func (e Effect) Equal(o Effect) bool {
	if e.Type != o.Type || e.Final != o.Final || e.Private != o.Private || e.Raw != o.Raw {
		return false
	}
	if len(e.Params) != len(o.Params) {
		return false
	}
	for i := range e.Params {
		if e.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

func (e Effect) String() string {
	return fmt.Sprintf("%s%v", e.Type, e.Params)
}

// lookupEffect builds the effect for a completed sequence. seq is the whole
// accumulated sequence: ESC '[' params... final.
func lookupEffect(seq []byte) Effect {
	final := seq[len(seq)-1]
	body := seq[2 : len(seq)-1]

	e := Effect{
		Type:  EffectNone,
		Final: string(final),
		Raw:   string(seq),
	}
	if t, ok := effectTable[final]; ok {
		e.Type = t
	}
	e.Params, e.Private = parseParams(body)
	return e
}

// parseParams splits a parameter string on ';'. Empty fields read as 0, the
// way terminals treat omitted parameters. A '?' anywhere marks the sequence
// as private.
func parseParams(body []byte) ([]int, bool) {
	if len(body) == 0 {
		return nil, false
	}
	private := false
	var params []int
	field := 0
	for _, b := range body {
		switch {
		case b == '?':
			private = true
		case b == ';':
			params = append(params, field)
			field = 0
		case b >= '0' && b <= '9':
			if field < 1<<20 {
				field = field*10 + int(b-'0')
			}
		}
	}
	return append(params, field), private
}

// applySGR updates attrs for a select-graphic-rendition parameter list.
func applySGR(attrs Attrs, params []int) Attrs {
	if len(params) == 0 {
		return Attrs{}
	}
	for i := 0; i < len(params); i++ {
		code := params[i]
		switch {
		case code == 0:
			attrs = Attrs{}
		case code == 1:
			attrs.Bold = true
		case code == 2:
			attrs.Dim = true
		case code == 3:
			attrs.Italic = true
		case code == 4:
			attrs.Underline = true
		case code == 5:
			attrs.Blink = true
		case code == 7:
			attrs.Reverse = true
		case code == 8:
			attrs.Hidden = true
		case code == 22:
			attrs.Bold = false
			attrs.Dim = false
		case code == 23:
			attrs.Italic = false
		case code == 24:
			attrs.Underline = false
		case code == 25:
			attrs.Blink = false
		case code == 27:
			attrs.Reverse = false
		case code == 28:
			attrs.Hidden = false
		case code >= 30 && code <= 37:
			attrs.Fg = strconv.Itoa(code - 30)
		case code == 39:
			attrs.Fg = ""
		case code >= 40 && code <= 47:
			attrs.Bg = strconv.Itoa(code - 40)
		case code == 49:
			attrs.Bg = ""
		case code >= 90 && code <= 97:
			attrs.Fg = strconv.Itoa(code - 90 + 8)
		case code >= 100 && code <= 107:
			attrs.Bg = strconv.Itoa(code - 100 + 8)
		case code == 38 || code == 48:
			color, used := extendedColor(params[i+1:])
			i += used
			if color == "" {
				continue
			}
			if code == 38 {
				attrs.Fg = color
			} else {
				attrs.Bg = color
			}
		}
	}
	return attrs
}

// extendedColor reads a 5;n or 2;r;g;b color spec and reports how many
// parameters it consumed.
func extendedColor(rest []int) (string, int) {
	if len(rest) == 0 {
		return "", 0
	}
	switch rest[0] {
	case 5:
		if len(rest) < 2 {
			return "", len(rest)
		}
		return strconv.Itoa(clampByte(rest[1])), 2
	case 2:
		if len(rest) < 4 {
			return "", len(rest)
		}
		return fmt.Sprintf("#%02x%02x%02x", clampByte(rest[1]), clampByte(rest[2]), clampByte(rest[3])), 4
	}
	return "", 1
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
