package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

func TestDefaults(t *testing.T) {
	local := Defaults(Env{})
	assert.Equal(t, 0, local.Retries)
	assert.Equal(t, 0, local.Workers)
	assert.False(t, local.ForbidOnly)
	assert.Equal(t, harness.PolicyLenient, local.UXPolicy)
	assert.Equal(t, DefaultBaseURL, local.BaseURL)
	assert.Equal(t, 10*time.Second, local.ActionTimeout)
	assert.Equal(t, 30*time.Second, local.NavigationTimeout)
	assert.Equal(t, 60*time.Second, local.TestTimeout)
	assert.Equal(t, types.AllFormats, local.Reporters)
	assert.Len(t, local.Projects, 6)
	require.NoError(t, local.Validate())

	ci := Defaults(Env{CI: true, BaseURL: "http://staging.test"})
	assert.Equal(t, 2, ci.Retries)
	assert.Equal(t, 1, ci.Workers)
	assert.True(t, ci.ForbidOnly)
	assert.Equal(t, harness.PolicyStrict, ci.UXPolicy)
	assert.Equal(t, "http://staging.test", ci.BaseURL)
}

func TestDefaultProjectsUsePresets(t *testing.T) {
	byName := make(map[string]types.ProjectConfig)
	for _, p := range DefaultProjects() {
		require.NoError(t, p.Validate())
		byName[p.Name] = p
	}
	assert.Equal(t, types.EngineFirefox, byName["Desktop Firefox"].BrowserEngine)
	mobile := byName["Mobile Chrome"]
	assert.Equal(t, types.Viewport{Width: 393, Height: 851}, mobile.Viewport)
	assert.True(t, mobile.IsMobile)
	assert.True(t, mobile.HasTouch)
	assert.Equal(t, types.EngineWebKit, byName["Tablet"].BrowserEngine)
}

func TestDevice(t *testing.T) {
	d, ok := Device("iPhone 12")
	require.True(t, ok)
	assert.Equal(t, "iPhone 12", d.Name)
	assert.Equal(t, 3.0, d.DeviceScaleFactor)
	_, ok = Device("Nokia 3310")
	assert.False(t, ok)
	assert.Contains(t, DeviceNames(), "iPad Pro")
}

func TestLoadYAMLAndTOMLAgree(t *testing.T) {
	for _, name := range []string{"webcheck.yaml", "webcheck.toml"} {
		t.Run(name, func(t *testing.T) {
			f, err := Load(filepath.Join("testdata", name))
			require.NoError(t, err)
			c, err := f.Apply(Defaults(Env{}), Env{})
			require.NoError(t, err)
			require.NoError(t, c.Validate())

			assert.Equal(t, "e2e", c.TestDir)
			assert.Equal(t, 1, c.Retries)
			assert.Equal(t, 3, c.Workers)
			assert.Equal(t, []types.FormatKind{types.FormatJSON, types.FormatList}, c.Reporters)
			assert.Equal(t, "http://shop.test:8080", c.BaseURL)
			assert.Equal(t, 2500*time.Millisecond, c.ActionTimeout)
			assert.Equal(t, 4*time.Second, c.ExpectTimeout)
			assert.Equal(t, 30*time.Second, c.NavigationTimeout)
			assert.False(t, c.Screenshots)
			assert.Equal(t, harness.PolicyStrict, c.UXPolicy)

			require.Len(t, c.Projects, 3)
			assert.Equal(t, "desktop", c.Projects[0].Name)
			assert.Equal(t, types.Viewport{Width: 1280, Height: 720}, c.Projects[0].Viewport)
			phone := c.Projects[1]
			assert.Equal(t, types.Viewport{Width: 360, Height: 740}, phone.Viewport)
			assert.True(t, phone.IsMobile)
			assert.Equal(t, 2.75, phone.DeviceScaleFactor)
			assert.Equal(t, types.EngineFirefox, c.Projects[2].BrowserEngine)

			require.NotNil(t, c.WebServer)
			assert.Equal(t, "npm run dev", c.WebServer.StartCommand)
			assert.Equal(t, "http://shop.test:8080/healthz", c.WebServer.ReadyURL)
			assert.True(t, c.WebServer.ReuseExisting)
			assert.Equal(t, 30*time.Second, c.WebServer.StartTimeout)
		})
	}
}

func TestCIDisablesServerReuse(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "webcheck.yaml"))
	require.NoError(t, err)
	env := Env{CI: true}
	c, err := f.Apply(Defaults(env), env)
	require.NoError(t, err)
	assert.False(t, c.WebServer.ReuseExisting)
	// explicit file values win over CI defaults
	assert.Equal(t, 1, c.Retries)
	assert.Equal(t, 3, c.Workers)
	assert.True(t, c.ForbidOnly)
}

func TestBaseURLEnvWins(t *testing.T) {
	f := &File{BaseURL: "http://file.test"}
	env := Env{BaseURL: "http://env.test"}
	c, err := f.Apply(Defaults(env), env)
	require.NoError(t, err)
	assert.Equal(t, "http://env.test", c.BaseURL)
}

func TestSchemaRejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		problem string
	}{
		{"unknown field", "retry: 2\n", "retry"},
		{"negative retries", "retries: -1\n", "retries"},
		{"zero workers", "workers: 0\n", "workers"},
		{"unknown reporter", "reporters: [html, pdf]\n", "reporters"},
		{"bad policy", "ux: {policy: sometimes}\n", "policy"},
		{"project without name", "projects:\n  - device: Pixel 5\n", "name"},
		{"unknown project field", "projects:\n  - name: a\n    colour: red\n", "colour"},
		{"relative ready url", "webServer: {readyURL: /healthz}\n", "readyURL"},
		{"bad engine", "projects:\n  - name: a\n    browserEngine: ie6\n", "browserEngine"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatYAML, "webcheck.yaml")
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, "webcheck.yaml", schemaErr.Path)
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	f, err := Parse(nil, FormatYAML, "empty.yaml")
	require.NoError(t, err)
	c, err := f.Apply(Defaults(Env{}), Env{})
	require.NoError(t, err)
	assert.Equal(t, "tests", c.TestDir)
}

func TestApplyRejectsUnknownDevice(t *testing.T) {
	f := &File{Projects: []Project{{Name: "x", Device: "Nokia 3310"}}}
	_, err := f.Apply(Defaults(Env{}), Env{})
	require.ErrorContains(t, err, `unknown device "Nokia 3310"`)
}

func TestValidate(t *testing.T) {
	c := Defaults(Env{})
	c.BaseURL = "localhost"
	c.AuditEngine = AuditAxe
	c.Projects = append(c.Projects, c.Projects[0])
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baseURL")
	assert.Contains(t, err.Error(), "axeScript")
	assert.Contains(t, err.Error(), "duplicate project")
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]Format{"a.yaml": FormatYAML, "a.YML": FormatYAML, "a.json": FormatYAML, "a.toml": FormatTOML} {
		got, err := FormatOf(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}
	_, err := FormatOf("a.ini")
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
