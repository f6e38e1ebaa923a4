package rodengine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-rod/rod/lib/input"
)

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"space":      input.Space,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"shift":      input.ShiftLeft,
	"control":    input.ControlLeft,
	"ctrl":       input.ControlLeft,
	"alt":        input.AltLeft,
	"meta":       input.MetaLeft,
}

// parseKeys splits a chord like "Shift+Tab" into its held modifiers and the
// key that is pressed last.
func parseKeys(chord string) (mods []input.Key, key input.Key, err error) {
	if chord == "" {
		return nil, 0, fmt.Errorf("empty key")
	}
	parts := strings.Split(chord, "+")
	if chord == "+" || strings.HasSuffix(chord, "++") {
		parts = append(parts[:len(parts)-2], "+")
	}
	keys := make([]input.Key, 0, len(parts))
	for _, p := range parts {
		k, err := lookupKey(p)
		if err != nil {
			return nil, 0, fmt.Errorf("key %q: %w", chord, err)
		}
		keys = append(keys, k)
	}
	return keys[:len(keys)-1], keys[len(keys)-1], nil
}

func lookupKey(name string) (input.Key, error) {
	if k, ok := namedKeys[strings.ToLower(name)]; ok {
		return k, nil
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return input.Key(r), nil
	}
	return 0, fmt.Errorf("unknown key name %q", name)
}
