package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with a clean environment and returns stdout,
// stderr and the command error.
func execute(t *testing.T, env map[string]string, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := newRootCommand(&RootOptions{LookupEnv: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}})
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "sovereign.db")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "sovereign", cmd.Use)
	assert.Contains(t, cmd.Long, "Sovereign Truth")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"run"}, {"monitor"}, {"vote"}, {"spawn"}, {"challenge"}, {"rules"}, {"drill"},
		{"consensus", "check"}, {"consensus", "pending"}, {"consensus", "sweep"},
		{"killswitch", "check"}, {"killswitch", "halt"}, {"killswitch", "resume"},
		{"ledger", "tail"}, {"ledger", "write"},
		{"mode", "get"}, {"mode", "set"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

func TestSubcommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	spawnCmd, _, err := cmd.Find([]string{"spawn"})
	require.NoError(t, err)
	paramFlag := spawnCmd.Flags().Lookup("param")
	require.NotNil(t, paramFlag)
	assert.Equal(t, "p", paramFlag.Shorthand)

	tailCmd, _, err := cmd.Find([]string{"ledger", "tail"})
	require.NoError(t, err)
	limitFlag := tailCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "20", limitFlag.DefValue)

	drillCmd, _, err := cmd.Find([]string{"drill"})
	require.NoError(t, err)
	require.NotNil(t, drillCmd.Flags().Lookup("filter"))
}

func TestFormatValidation(t *testing.T) {
	_, _, err := execute(t, nil, "--format", "xml", "rules")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVoteRequiresFlags(t *testing.T) {
	_, _, err := execute(t, nil, "--db", tempDB(t), "vote", "--agent", "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "evidence")
}

func TestInvalidConfigIsCommandError(t *testing.T) {
	env := map[string]string{"SOVEREIGN_QUORUM": "0"}
	out, _, err := execute(t, env, "--db", tempDB(t), "--format", "json", "consensus", "pending")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `"E_CONFIG"`)
}
