package rodengine

import (
	"testing"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeys(t *testing.T) {
	tests := []struct {
		chord string
		mods  []input.Key
		key   input.Key
	}{
		{"Enter", []input.Key{}, input.Enter},
		{"tab", []input.Key{}, input.Tab},
		{"a", []input.Key{}, input.Key('a')},
		{"Shift+Tab", []input.Key{input.ShiftLeft}, input.Tab},
		{"Control+Shift+k", []input.Key{input.ControlLeft, input.ShiftLeft}, input.Key('k')},
		{"+", []input.Key{}, input.Key('+')},
		{"Shift++", []input.Key{input.ShiftLeft}, input.Key('+')},
	}
	for _, tt := range tests {
		t.Run(tt.chord, func(t *testing.T) {
			mods, key, err := parseKeys(tt.chord)
			require.NoError(t, err)
			assert.Equal(t, tt.mods, mods)
			assert.Equal(t, tt.key, key)
		})
	}

	_, _, err := parseKeys("Hyper+x")
	require.ErrorContains(t, err, "unknown key name")
	_, _, err = parseKeys("")
	require.Error(t, err)
}

func TestAbortReason(t *testing.T) {
	assert.Equal(t, proto.NetworkErrorReasonInternetDisconnected, abortReason("offline"))
	assert.Equal(t, proto.NetworkErrorReasonBlockedByClient, abortReason("Blocked"))
	assert.Equal(t, proto.NetworkErrorReasonFailed, abortReason(""))
	assert.Equal(t, proto.NetworkErrorReasonFailed, abortReason("route aborted by test"))
}

func TestConvertCookie(t *testing.T) {
	session := convertCookie(&proto.NetworkCookie{Name: "sid", Value: "abc", Domain: "app.test", Path: "/", Expires: -1, HTTPOnly: true})
	assert.Equal(t, "sid", session.Name)
	assert.True(t, session.HTTPOnly)
	assert.True(t, session.Expires.IsZero())

	persistent := convertCookie(&proto.NetworkCookie{Name: "pref", Expires: 1_700_000_000.5, SameSite: proto.NetworkCookieSameSiteLax})
	assert.Equal(t, time.Unix(1_700_000_000, 500_000_000).UTC(), persistent.Expires)
	assert.Equal(t, "Lax", persistent.SameSite)
}

func TestConsoleFormatting(t *testing.T) {
	assert.Equal(t, "error", consoleLevel(proto.RuntimeConsoleAPICalledTypeError))
	assert.Equal(t, "warning", consoleLevel(proto.RuntimeConsoleAPICalledTypeWarning))
	assert.Equal(t, "log", consoleLevel(proto.RuntimeConsoleAPICalledTypeInfo))

	text := consoleText([]*proto.RuntimeRemoteObject{
		{Type: proto.RuntimeRemoteObjectTypeObject, Description: "Error: boom"},
		nil,
		{Type: proto.RuntimeRemoteObjectTypeObject, Description: "Array(2)"},
	})
	assert.Equal(t, "Error: boom Array(2)", text)

	assert.Equal(t, "TypeError: x is undefined", exceptionText(&proto.RuntimeExceptionDetails{
		Text:      "Uncaught",
		Exception: &proto.RuntimeRemoteObject{Description: "TypeError: x is undefined"},
	}))
	assert.Equal(t, "Uncaught", exceptionText(&proto.RuntimeExceptionDetails{Text: "Uncaught"}))
}
