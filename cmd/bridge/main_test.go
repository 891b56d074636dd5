package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
	"github.com/unicitynetwork/sol-bridge-go/core/replay"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	keygenOut, stateList, stateJSON, lockKeypair, lockRecipient = "", false, false, "", ""
	envFile = filepath.Join(t.TempDir(), "absent.env")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(append(args, "--env-file", envFile))
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestKeygen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minter.key")
	out, err := run(t, "keygen", "--out", path)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	key, err := identity.LoadMinterKey(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	assert.Contains(t, out, key.Address())
	assert.NotContains(t, out, key.SecretHex())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = run(t, "keygen", "--out", path)
	assert.Error(t, err, "existing key files are not overwritten")
}

func TestState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")
	require.NoError(t, replay.NewFileStore(path).Save(context.Background(), &types.ProcessedSnapshot{
		ProcessedTransactions: []string{"sigA", "sigB"},
		LastCheckedHeight:     4242,
	}))
	t.Setenv("BRIDGE_REPLAY_BACKEND", "file")
	t.Setenv("BRIDGE_REPLAY_PATH", path)

	out, err := run(t, "state", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "processed:           2")
	assert.Contains(t, out, "last checked height: 4242")
	assert.Contains(t, out, "sigB")

	out, err = run(t, "state", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"lastCheckedHeight": 4242`)
}

func TestCommandErrors(t *testing.T) {
	_, err := run(t, "validate")
	assert.Error(t, err)

	_, err = run(t, "lock", "lots", "--recipient", "alice")
	assert.ErrorContains(t, err, "invalid amount")

	t.Setenv("BRIDGE_ORIGIN_KEYPAIR", "")
	_, err = run(t, "lock", "1000", "--recipient", "alice")
	assert.ErrorContains(t, err, "no origin keypair")

	t.Setenv("BRIDGE_TARGET_KIND", "ledger")
	_, err = run(t, "state")
	assert.ErrorContains(t, err, "invalid configuration")
}
