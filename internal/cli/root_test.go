package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersFlags(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	for _, name := range []string{"config", "env-file", "verbose", "json", "no-progress", "host", "port", "model", "model-dir"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	for _, name := range []string{"device", "format", "auto-paste", "backend", "hotkey", "ui", "theme", "silence-gate"} {
		require.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	require.Equal(t, "true", cmd.Flags().Lookup("auto-paste").DefValue)
	require.Equal(t, "shell", cmd.Flags().Lookup("ui").DefValue)
	require.Equal(t, "-65", cmd.Flags().Lookup("silence-threshold-dbfs").DefValue)

	declared := map[string]bool{}
	collect := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) { declared[f.Name] = true })
	}
	collect(cmd.PersistentFlags())
	collect(cmd.Flags())
	for _, sub := range cmd.Commands() {
		collect(sub.Flags())
	}
	for name := range flagKeys {
		require.True(t, declared[name], "flag %q is mapped but never declared", name)
	}
}

func TestRootHelpListsSubcommands(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	for _, sub := range []string{"setup", "devices", "record", "transcribe", "toggle", "status", "history", "mcp", "version"} {
		require.Contains(t, out.String(), sub)
	}
}

func TestSubcommandHelpParsesSuccessfully(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		args     []string
		contains string
	}{
		{name: "setup", args: []string{"setup", "--help"}, contains: "Download and verify speech models"},
		{name: "devices", args: []string{"devices", "--help"}, contains: "List recording devices"},
		{name: "record", args: []string{"record", "--help"}, contains: "Record a test clip"},
		{name: "transcribe", args: []string{"transcribe", "--help"}, contains: "Transcribe an audio file"},
		{name: "toggle", args: []string{"toggle", "--help"}, contains: "Start or stop dictation"},
		{name: "history", args: []string{"history", "--help"}, contains: "past transcripts"},
		{name: "mcp", args: []string{"mcp", "--help"}, contains: "MCP clients"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd := NewRootCmd()
			out := new(bytes.Buffer)
			cmd.SetOut(out)
			cmd.SetErr(out)
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			require.Contains(t, out.String(), tt.contains)
		})
	}
}

func TestFlagsOverrideSettings(t *testing.T) {
	t.Parallel()

	app := testApp(t)
	_, _, err := runApp(t, app, []string{"--model", "base.en", "--port", "5099", "history", "--limit", "3"})
	// history fails without a database, settings are loaded before that
	require.ErrorContains(t, err, "no transcript history")
	require.Equal(t, "base.en", app.settings.Model.Name)
	require.Equal(t, 5099, app.settings.Server.Port)
	require.Equal(t, "cpu", app.settings.Model.Device)
}
