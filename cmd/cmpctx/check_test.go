package main

import (
	"os"
	"strings"
	"testing"
)

// =============================================================================
// Check Tests
// =============================================================================

func TestF_Check_Basic(t *testing.T) {
	tc := newTestContext(t)
	cfg := tc.writeConfig(false)

	out, err := executeCommand(rootCmd, "check", "--config", cfg)
	assertNoError(t, err)
	assertContains(t, out,
		"ca.example.com:8080",
		"/pkix/",
		"CN=Test CA,O=Test Org",
		"client.example.com",
		"Serial:      42",
		"implicit_confirm",
		"Configuration OK",
	)
}

func TestF_Check_WithCredentials(t *testing.T) {
	tc := newTestContext(t)
	cfg := tc.writeConfig(true)

	out, err := executeCommand(rootCmd, "check", "--config", cfg)
	assertNoError(t, err)
	assertContains(t, out, "CN=client.example.com,O=Test Org", "ecdsa-p256")
}

func TestF_Check_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"[Functional] Check: unknown option", "server:\n  host: a\noptions:\n  no_such_option: 1\n"},
		{"[Functional] Check: option out of range", "server:\n  host: a\noptions:\n  popo_method: 9\n"},
		{"[Functional] Check: bad verbosity", "server:\n  host: a\nverbosity: loud\n"},
		{"[Functional] Check: invalid YAML", "server: [\n"},
		{"[Functional] Check: missing key file", "server:\n  host: a\ncredentials:\n  key:\n    key_path: /nonexistent/key.pem\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestContext(t)
			cfg := tc.writeFile("context.yaml", tt.content)

			_, err := executeCommand(rootCmd, "check", "--config", cfg)
			assertError(t, err)
		})
	}
}

func TestF_Check_Verbosity(t *testing.T) {
	tests := []struct {
		name      string
		flags     []string
		yaml      string
		wantDebug bool
	}{
		{"[Functional] Check: default level hides debug", nil, "", false},
		{"[Functional] Check: --verbosity debug", []string{"--verbosity", "debug"}, "", true},
		{"[Functional] Check: config verbosity wins", []string{"--verbosity", "debug"}, "verbosity: info\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestContext(t)
			cfg := tc.writeConfig(true)
			data, err := os.ReadFile(cfg)
			assertNoError(t, err)
			cfg = tc.writeFile("context.yaml", string(data)+"trust:\n  build_chain: true\n"+tt.yaml)

			args := append([]string{"check", "--config", cfg}, tt.flags...)
			out, _ := executeCommand(rootCmd, args...)
			if got := strings.Contains(out, "trying to build chain"); got != tt.wantDebug {
				t.Errorf("debug message present = %v, want %v:\n%s", got, tt.wantDebug, out)
			}
		})
	}
}

func TestF_Check_MissingFile(t *testing.T) {
	tc := newTestContext(t)

	_, err := executeCommand(rootCmd, "check", "--config", tc.path("absent.yaml"))
	assertError(t, err)
}

func TestF_Root_InvalidVerbosity(t *testing.T) {
	tc := newTestContext(t)
	cfg := tc.writeConfig(false)

	_, err := executeCommand(rootCmd, "check", "--config", cfg, "--verbosity", "chatty")
	assertError(t, err)
}
