package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
	"github.com/unicitynetwork/sol-bridge-go/core/monitor"
	"github.com/unicitynetwork/sol-bridge-go/core/oracle"
	"github.com/unicitynetwork/sol-bridge-go/core/replay"
	"github.com/unicitynetwork/sol-bridge-go/core/sink"
	"github.com/unicitynetwork/sol-bridge-go/core/submitter"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultRPCURL, cfg.Origin.RPCURL)
	assert.Equal(t, "ws://127.0.0.1:8900", cfg.Origin.WSURL)
	assert.Equal(t, DefaultProgramID, cfg.Origin.ProgramID)
	assert.Equal(t, uint64(oracle.DefaultConfirmationThreshold), cfg.Policy.ConfirmationThreshold)
	assert.Equal(t, monitor.DefaultPollInterval, cfg.Monitor.PollInterval)
	assert.Equal(t, monitor.DefaultMissedTxPollInterval, cfg.Monitor.MissedTxPollInterval)
	assert.Equal(t, submitter.DefaultInclusionTimeout, cfg.Mint.InclusionTimeout)
	assert.False(t, cfg.Mint.RequireFinalized)
	assert.Equal(t, TargetMemory, cfg.Target.Kind)
	assert.Equal(t, ReplayFile, cfg.Replay.Backend)
	assert.Equal(t, "minted", cfg.Sink.Dir)
	assert.Nil(t, cfg.Sink.Kafka)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "bridge.yaml", `
origin:
  rpc_url: https://api.devnet.solana.com
  commitment: finalized
policy:
  confirmation_threshold: 32
mint:
  require_finalized: true
  inclusion_timeout: 30s
monitor:
  poll_interval: 1s
  missed_tx_poll_interval: 2m
target:
  kind: gateway
  gateway_url: https://gateway.example.org
  namespace: bridge
replay:
  backend: pebble
  path: /var/lib/bridge/replay
sink:
  dir: /var/lib/bridge/minted
  kafka:
    brokers: ["kafka1:9092", "kafka2:9092"]
    topic: minted-tokens
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://api.devnet.solana.com", cfg.Origin.WSURL)
	assert.Equal(t, "finalized", cfg.Origin.Commitment)
	assert.Equal(t, uint64(32), cfg.Policy.ConfirmationThreshold)
	assert.True(t, cfg.Mint.RequireFinalized)
	assert.Equal(t, 30*time.Second, cfg.Mint.InclusionTimeout)
	assert.Equal(t, time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Monitor.MissedTxPollInterval)
	assert.Equal(t, TargetGateway, cfg.Target.Kind)
	assert.Equal(t, ReplayPebble, cfg.Replay.Backend)
	require.NotNil(t, cfg.Sink.Kafka)
	assert.Equal(t, []string{"kafka1:9092", "kafka2:9092"}, cfg.Sink.Kafka.Brokers)
	assert.Equal(t, "all", cfg.Sink.Kafka.RequiredAcks)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "origin:\n  rpc: http://x\n"},
		{"bad commitment", "origin:\n  commitment: instant\n"},
		{"gateway without url", "target:\n  kind: gateway\n"},
		{"unknown target", "target:\n  kind: ledger\n"},
		{"postgres without dsn", "replay:\n  backend: postgres\n"},
		{"kafka without topic", "sink:\n  kafka:\n    brokers: [\"k:9092\"]\n"},
		{"bad duration", "monitor:\n  poll_interval: often\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bridge.yaml", tt.yaml))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "bridge.yaml", "origin:\n  rpc_url: http://10.0.0.1:8899\n")
	t.Setenv("BRIDGE_ORIGIN_RPC_URL", "http://10.0.0.2:9000")
	t.Setenv("BRIDGE_POLL_INTERVAL", "500ms")
	t.Setenv("BRIDGE_CONFIRMATION_THRESHOLD", "20")
	t.Setenv("BRIDGE_REQUIRE_FINALIZED", "true")
	t.Setenv("BRIDGE_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("BRIDGE_KAFKA_TOPIC", "minted")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:9000", cfg.Origin.RPCURL)
	assert.Equal(t, "ws://10.0.0.2:9001", cfg.Origin.WSURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.PollInterval)
	assert.Equal(t, uint64(20), cfg.Policy.ConfirmationThreshold)
	assert.True(t, cfg.Mint.RequireFinalized)
	require.NotNil(t, cfg.Sink.Kafka)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Sink.Kafka.Brokers)

	t.Setenv("BRIDGE_REQUIRE_FINALIZED", "sometimes")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "BRIDGE_TEST_ONLY_VALUE=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("BRIDGE_TEST_ONLY_VALUE") })

	require.NoError(t, LoadEnv(path, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, "from-dotenv", os.Getenv("BRIDGE_TEST_ONLY_VALUE"))
}

func TestMinterLoadKey(t *testing.T) {
	key, err := identity.GenerateMinterKey()
	require.NoError(t, err)

	t.Setenv(MinterKeyEnv, "")
	_, err = MinterConfig{}.LoadKey()
	assert.Error(t, err)

	file := writeFile(t, "minter.key", key.SecretHex()+"\n")
	loaded, err := MinterConfig{KeyFile: file}.LoadKey()
	require.NoError(t, err)
	assert.Equal(t, key.Address(), loaded.Address())

	other, err := identity.GenerateMinterKey()
	require.NoError(t, err)
	t.Setenv(MinterKeyEnv, other.SecretHex())
	loaded, err = MinterConfig{KeyFile: file}.LoadKey()
	require.NoError(t, err)
	assert.Equal(t, other.Address(), loaded.Address())
}

func TestOpenStoreAndSink(t *testing.T) {
	dir := t.TempDir()

	store, err := ReplayConfig{Backend: ReplayFile, Path: filepath.Join(dir, "p.json")}.OpenStore(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &replay.FileStore{}, store)

	store, err = ReplayConfig{Backend: ReplayPebble, Path: filepath.Join(dir, "db")}.OpenStore(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &replay.PebbleStore{}, store)
	require.NoError(t, store.Close())

	s, err := SinkConfig{Dir: filepath.Join(dir, "minted")}.Open(nil)
	require.NoError(t, err)
	assert.IsType(t, &sink.FileSink{}, s)

	kafka := &sink.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "minted"}
	kafka.SetDefaults()
	s, err = SinkConfig{Dir: filepath.Join(dir, "minted"), Kafka: kafka}.Open(nil)
	require.NoError(t, err)
	assert.IsType(t, sink.Multi{}, s)
	require.NoError(t, s.Close())
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "wss://api.mainnet-beta.solana.com", WebsocketURL("https://api.mainnet-beta.solana.com"))
	assert.Equal(t, "ws://localhost:8900", WebsocketURL("http://localhost:8899"))
}
