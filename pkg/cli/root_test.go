package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects command output for the duration of the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := out
	out = &buf
	t.Cleanup(func() { out = prev })
	return &buf
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "ssobridge", root.Name)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{
		"check",
		"login-url",
		"map-roles",
		"introspect",
		"sweep",
		"serve",
	}
	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "Expected subcommand %s to be registered", cmdName)
		assert.NotNil(t, root.Subcommands[cmdName].Run)
		assert.NotNil(t, root.Subcommands[cmdName].Flags)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	buf := captureOutput(t)

	require.NoError(t, NewRootCommand().usage())

	output := buf.String()
	assert.Contains(t, output, "Usage: ssobridge <command> [args]")
	assert.Contains(t, output, "Commands:")
	assert.Contains(t, output, "login-url")
	assert.Contains(t, output, "map-roles")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("check")), bytes.Index(buf.Bytes(), []byte("sweep")))
}

func TestCommandExecute(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no args prints usage", args: nil},
		{name: "help flag", args: []string{"--help"}},
		{name: "help word", args: []string{"help"}},
		{name: "unknown command", args: []string{"deploy"}, wantErr: "unknown command: deploy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captureOutput(t)
			err := NewRootCommand().Execute(tt.args)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCommandExecute_DispatchesArgs(t *testing.T) {
	var got []string
	root := &Command{
		Name: "test",
		Subcommands: map[string]*Command{
			"echo": {Name: "echo", Run: func(args []string) error {
				got = args
				return nil
			}},
		},
	}

	require.NoError(t, root.Execute([]string{"echo", "-a", "b"}))
	assert.Equal(t, []string{"-a", "b"}, got)
}
