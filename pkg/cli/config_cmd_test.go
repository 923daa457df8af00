package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args and returns its stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd := newRootCmd()
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"short", "abc", "****"},
		{"exactly_10", "1234567890", "****"},
		{"long_token", "eyJhbGciOiJIUzI1NiJ9.payload.sig", "eyJh****.sig"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, maskSecret(tt.input))
		})
	}
}

func TestMaskConfig(t *testing.T) {
	cfg := &UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {
				Host:   "http://localhost:8080",
				APIKey: "sk-1234567890abcdef",
				Token:  "eyJhbGciOiJIUzI1NiJ9.payload.signature",
			},
		},
	}

	masked := maskConfig(cfg)

	assert.Equal(t, "http://localhost:8080", masked.Profiles["default"].Host)
	assert.Equal(t, "sk-1****cdef", masked.Profiles["default"].APIKey)
	assert.Contains(t, masked.Profiles["default"].Token, "****")

	// The original is untouched.
	assert.Equal(t, "sk-1234567890abcdef", cfg.Profiles["default"].APIKey)
}

func TestConfigSetProfileAndShow(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := runCLI(t, "config", "set-profile", "--name", "staging",
		"--host", "https://staging.example.com", "--api-key", "dsk_staging_123456", "--output", "table")
	require.NoError(t, err)

	_, err = runCLI(t, "config", "use-profile", "staging")
	require.NoError(t, err)

	out, err := runCLI(t, "config", "show", "--output", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "PROFILE")
	assert.Contains(t, out, "ACTIVE")
	assert.Contains(t, out, "staging")
	assert.Contains(t, out, "https://staging.example.com")
	assert.Contains(t, out, "*")
	assert.NotContains(t, out, "dsk_staging_123456", "api key should be masked")

	out, err = runCLI(t, "config", "show", "--reveal", "--output", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "dsk_staging_123456")
	assert.Contains(t, out, `"current_profile": "staging"`)
}

func TestConfigSetProfile_Validation(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := runCLI(t, "config", "set-profile", "--name", "bad", "--output", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")

	_, err = runCLI(t, "config", "set-profile", "--name", "bad", "--host", "localhost:8080")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want an http:// or https:// URL")

	_, err = runCLI(t, "config", "use-profile", "missing")
	require.Error(t, err)
}

func TestUnknownProfileFlag(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := runCLI(t, "--profile", "nope", "version")
	require.EqualError(t, err, `profile "nope" not found`)
}

func TestConfigDeleteProfile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	for _, name := range []string{"local", "prod"} {
		_, err := runCLI(t, "config", "set-profile", "--name", name, "--host", "http://"+name+".example.com/")
		require.NoError(t, err)
	}
	_, err := runCLI(t, "config", "use-profile", "prod")
	require.NoError(t, err)

	out, err := runCLI(t, "-o", "json", "config", "delete-profile", "prod")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","deleted_profile":"prod"}`, out)

	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, cfg.profileNames())
	assert.Empty(t, cfg.CurrentProfile)
	assert.Equal(t, "http://local.example.com", cfg.Profiles["local"].Host, "trailing slash is dropped")

	_, err = runCLI(t, "config", "delete-profile", "prod")
	require.EqualError(t, err, `profile "prod" not found`)
}
