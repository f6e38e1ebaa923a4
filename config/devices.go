package config

import (
	"slices"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

var devices = map[string]types.ProjectConfig{
	"Desktop Chrome": {
		Viewport:          types.Viewport{Width: 1280, Height: 720},
		BrowserEngine:     types.EngineChromium,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		DeviceScaleFactor: 1,
	},
	"Desktop Firefox": {
		Viewport:          types.Viewport{Width: 1280, Height: 720},
		BrowserEngine:     types.EngineFirefox,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		DeviceScaleFactor: 1,
	},
	"Desktop Safari": {
		Viewport:          types.Viewport{Width: 1280, Height: 720},
		BrowserEngine:     types.EngineWebKit,
		UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		DeviceScaleFactor: 2,
	},
	"Pixel 5": {
		Viewport:          types.Viewport{Width: 393, Height: 851},
		BrowserEngine:     types.EngineChromium,
		UserAgent:         "Mozilla/5.0 (Linux; Android 11; Pixel 5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
		DeviceScaleFactor: 2.75,
		IsMobile:          true,
		HasTouch:          true,
	},
	"iPhone 12": {
		Viewport:          types.Viewport{Width: 390, Height: 664},
		BrowserEngine:     types.EngineWebKit,
		UserAgent:         "Mozilla/5.0 (iPhone; CPU iPhone OS 14_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0.3 Mobile/15E148 Safari/604.1",
		DeviceScaleFactor: 3,
		IsMobile:          true,
		HasTouch:          true,
	},
	"iPad Pro": {
		Viewport:          types.Viewport{Width: 834, Height: 1194},
		BrowserEngine:     types.EngineWebKit,
		UserAgent:         "Mozilla/5.0 (iPad; CPU OS 12_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/12.0 Mobile/15E148 Safari/604.1",
		DeviceScaleFactor: 2,
		IsMobile:          true,
		HasTouch:          true,
	},
}

// Device returns the emulation preset registered under name, with the
// project name set to name.
func Device(name string) (types.ProjectConfig, bool) {
	d, ok := devices[name]
	d.Name = name
	return d, ok
}

// DeviceNames lists the known presets in sorted order.
func DeviceNames() []string {
	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultProjects is the desktop and mobile matrix used when the config file
// names no projects.
func DefaultProjects() []types.ProjectConfig {
	matrix := []struct{ name, device string }{
		{"Desktop Chrome", "Desktop Chrome"},
		{"Desktop Firefox", "Desktop Firefox"},
		{"Desktop Safari", "Desktop Safari"},
		{"Mobile Chrome", "Pixel 5"},
		{"Mobile Safari", "iPhone 12"},
		{"Tablet", "iPad Pro"},
	}
	out := make([]types.ProjectConfig, 0, len(matrix))
	for _, m := range matrix {
		p, _ := Device(m.device)
		p.Name = m.name
		out = append(out, p)
	}
	return out
}
