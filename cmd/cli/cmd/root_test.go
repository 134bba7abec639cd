package cmd

import (
	"bytes"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("FEDPLANE")
	viper.AutomaticEnv()
}

// resetFlags restores every flag of the command tree to its default so that
// values set by one test do not leak into the next.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs flctl with args against the given controller URL and token
// and returns everything it printed.
func execute(t *testing.T, url, token string, args ...string) string {
	t.Helper()
	resetFlags(rootCmd)
	viper.Set("url", url)
	viper.Set("token", token)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out.String()
}

func TestRootCommand_EnvVarBinding(t *testing.T) {
	resetViper()

	t.Setenv("FEDPLANE_TOKEN", "env-token-value")
	t.Setenv("FEDPLANE_URL", "http://custom-url:8080")
	t.Setenv("FEDPLANE_ADMIN_SECRET", "env-secret")

	if got := viper.GetString("token"); got != "env-token-value" {
		t.Errorf("expected token from env var, got: %s", got)
	}
	if got := viper.GetString("url"); got != "http://custom-url:8080" {
		t.Errorf("expected url from env var, got: %s", got)
	}
	if got := viper.GetString("admin_secret"); got != "env-secret" {
		t.Errorf("expected admin secret from env var, got: %s", got)
	}
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := map[string]bool{"site": false, "project": false, "batch": false, "runs": false, "files": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %q subcommand to be registered", name)
		}
	}
}

func TestExecute_ReturnsError(t *testing.T) {
	resetViper()

	rootCmd.SetArgs([]string{"unknown-command-xyz"})
	if err := Execute(); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestRootCommand_CustomConfigFile(t *testing.T) {
	resetViper()

	tmpFile, err := os.CreateTemp("", "flctl-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	tmpFile.WriteString("url: http://custom-from-config:9999\ntoken: config-token\n")
	tmpFile.Close()

	cfgFile = tmpFile.Name()
	defer func() { cfgFile = "" }()
	initConfig()

	if got := viper.GetString("url"); got != "http://custom-from-config:9999" {
		t.Errorf("expected url from config file, got: %s", got)
	}
	if got := viper.GetString("token"); got != "config-token" {
		t.Errorf("expected token from config file, got: %s", got)
	}
}

func TestCommands_RequireToken(t *testing.T) {
	resetViper()

	commands := [][]string{
		{"site", "show", "uid"},
		{"runs", "list", "p1"},
		{"batch", "start", "p1"},
		{"files", "list", "r1"},
	}
	for _, args := range commands {
		out := execute(t, "http://127.0.0.1:1", "", args...)
		if !bytes.Contains([]byte(out), []byte("API token not found")) {
			t.Errorf("%v: expected token hint, got: %s", args, out)
		}
	}
}
