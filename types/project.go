package types

import "fmt"

// Viewport is the emulated window size in CSS pixels
type Viewport struct {
	Width  int `json:"width" yaml:"width" toml:"width"`
	Height int `json:"height" yaml:"height" toml:"height"`
}

func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// BrowserEngine names the rendering engine a project runs against
type BrowserEngine string

const (
	EngineChromium BrowserEngine = "chromium"
	EngineFirefox  BrowserEngine = "firefox"
	EngineWebKit   BrowserEngine = "webkit"
)

// ProjectConfig is one named browser/viewport configuration of the test matrix
type ProjectConfig struct {
	Name              string        `json:"name"`
	Viewport          Viewport      `json:"viewport"`
	UserAgent         string        `json:"userAgent,omitempty"`
	BrowserEngine     BrowserEngine `json:"browserEngine"`
	DeviceScaleFactor float64       `json:"deviceScaleFactor,omitempty"`
	IsMobile          bool          `json:"isMobile,omitempty"`
	HasTouch          bool          `json:"hasTouch,omitempty"`
}

// Validate checks that the project can drive a session.
func (p ProjectConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if p.Viewport.Width <= 0 || p.Viewport.Height <= 0 {
		return fmt.Errorf("project %q: viewport must be positive, got %s", p.Name, p.Viewport)
	}
	switch p.BrowserEngine {
	case EngineChromium, EngineFirefox, EngineWebKit:
	default:
		return fmt.Errorf("project %q: unknown browser engine %q", p.Name, p.BrowserEngine)
	}
	return nil
}

// FormatKind names one report output format
type FormatKind string

const (
	FormatHTML  FormatKind = "html"
	FormatJSON  FormatKind = "json"
	FormatJUnit FormatKind = "junit"
	FormatList  FormatKind = "list"
)

// AllFormats lists every supported report format in emission order
var AllFormats = []FormatKind{FormatHTML, FormatJSON, FormatJUnit, FormatList}

// ParseFormatKind validates a reporter name.
func ParseFormatKind(s string) (FormatKind, error) {
	for _, f := range AllFormats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown reporter %q", s)
}
