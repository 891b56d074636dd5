// Package config loads the bridge configuration from YAML, an optional
// .env file and BRIDGE_* environment variables, in increasing precedence.
package config

import (
	"context"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"github.com/unicitynetwork/sol-bridge-go/core/monitor"
	"github.com/unicitynetwork/sol-bridge-go/core/oracle"
	"github.com/unicitynetwork/sol-bridge-go/core/origin"
	"github.com/unicitynetwork/sol-bridge-go/core/replay"
	"github.com/unicitynetwork/sol-bridge-go/core/sink"
	"github.com/unicitynetwork/sol-bridge-go/core/submitter"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const (
	DefaultProgramID = "9q5thPnZG7FKKNr61wceXdfuy2QRLYky8RTJonh2YzyB"
	DefaultRPCURL    = "http://127.0.0.1:8899"

	// MinterKeyEnv holds the minter secret as hex. It takes precedence over
	// minter.key_file.
	MinterKeyEnv = "BRIDGE_MINTER_KEY"
)

type Config struct {
	Origin  OriginConfig     `yaml:"origin"`
	Policy  oracle.Policy    `yaml:"policy"`
	Minter  MinterConfig     `yaml:"minter"`
	Mint    submitter.Config `yaml:"mint"`
	Target  TargetConfig     `yaml:"target"`
	Monitor monitor.Config   `yaml:"monitor" validate:"-"`
	Replay  ReplayConfig     `yaml:"replay"`
	Sink    SinkConfig       `yaml:"sink"`
	Log     logging.Config   `yaml:"log"`
}

type OriginConfig struct {
	RPCURL     string  `yaml:"rpc_url" validate:"required,url"`
	WSURL      string  `yaml:"ws_url" validate:"omitempty,url"`
	ProgramID  string  `yaml:"program_id" validate:"required"`
	Commitment string  `yaml:"commitment" validate:"omitempty,oneof=processed confirmed finalized"`
	RateLimit  float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst  int     `yaml:"rate_burst" validate:"gte=0"`
	// KeypairPath is the origin wallet used by the lock command.
	KeypairPath string `yaml:"keypair_path"`
}

func (c *OriginConfig) SetDefaults() {
	if c.RPCURL == "" {
		c.RPCURL = DefaultRPCURL
	}
	if c.ProgramID == "" {
		c.ProgramID = DefaultProgramID
	}
	if c.Commitment == "" {
		c.Commitment = origin.CommitmentConfirmed
	}
	if c.WSURL == "" {
		c.WSURL = WebsocketURL(c.RPCURL)
	}
}

// WebsocketURL derives the subscription endpoint from an RPC URL the way
// the origin chain's clients do: ws(s) scheme and, when a port is given,
// the next port up.
func WebsocketURL(rpcURL string) string {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if port := u.Port(); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(n+1))
		}
	}
	return u.String()
}

// MinterConfig locates the minter key. The secret never lives in Config.
type MinterConfig struct {
	KeyFile string `yaml:"key_file"`
}

// LoadKey reads the minter secret from MinterKeyEnv or KeyFile.
func (c MinterConfig) LoadKey() (*identity.MinterKey, error) {
	if secret := strings.TrimSpace(os.Getenv(MinterKeyEnv)); secret != "" {
		return identity.LoadMinterKey(secret)
	}
	if c.KeyFile == "" {
		return nil, errors.Errorf("no minter key: set %s or minter.key_file", MinterKeyEnv)
	}
	raw, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "read minter key file")
	}
	return identity.LoadMinterKey(strings.TrimSpace(string(raw)))
}

const (
	TargetMemory  = "memory"
	TargetGateway = "gateway"
)

type TargetConfig struct {
	Kind         string        `yaml:"kind" validate:"oneof=memory gateway"`
	GatewayURL   string        `yaml:"gateway_url" validate:"required_if=Kind gateway"`
	Namespace    string        `yaml:"namespace"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (c *TargetConfig) SetDefaults() {
	if c.Kind == "" {
		c.Kind = TargetMemory
	}
}

const (
	ReplayFile     = "file"
	ReplayPebble   = "pebble"
	ReplayPostgres = "postgres"
)

type ReplayConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file pebble postgres"`
	// Path is the JSON file or the pebble directory.
	Path string `yaml:"path" validate:"required_unless=Backend postgres"`
	DSN  string `yaml:"dsn" validate:"required_if=Backend postgres"`
}

func (c *ReplayConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = ReplayFile
	}
	if c.Path == "" {
		switch c.Backend {
		case ReplayFile:
			c.Path = "processed-transactions.json"
		case ReplayPebble:
			c.Path = "replay-db"
		}
	}
}

// OpenStore opens the configured replay backend.
func (c ReplayConfig) OpenStore(ctx context.Context) (replay.Store, error) {
	switch c.Backend {
	case ReplayFile:
		return replay.NewFileStore(c.Path), nil
	case ReplayPebble:
		return replay.OpenPebbleStore(c.Path, nil)
	case ReplayPostgres:
		return replay.OpenPostgresStore(ctx, c.DSN)
	default:
		return nil, errors.Errorf("unknown replay backend %q", c.Backend)
	}
}

type SinkConfig struct {
	Dir   string            `yaml:"dir"`
	Kafka *sink.KafkaConfig `yaml:"kafka"`
}

func (c *SinkConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "minted"
	}
	if c.Kafka != nil {
		c.Kafka.SetDefaults()
	}
}

// Open builds the artifact sinks. Artifacts always go to Dir; Kafka is
// added when configured.
func (c SinkConfig) Open(logger *zap.Logger) (sink.Sink, error) {
	files, err := sink.NewFileSink(c.Dir)
	if err != nil {
		return nil, err
	}
	if c.Kafka == nil {
		return files, nil
	}
	k, err := sink.NewKafkaSink(*c.Kafka, logger)
	if err != nil {
		return nil, err
	}
	return sink.Multi{files, k}, nil
}

func (c *Config) SetDefaults() {
	c.Origin.SetDefaults()
	c.Policy.SetDefaults()
	c.Mint.SetDefaults()
	c.Target.SetDefaults()
	c.Monitor.SetDefaults()
	c.Replay.SetDefaults()
	c.Sink.SetDefaults()
}

func (c *Config) Validate() error {
	return errors.Wrap(validator.New().Struct(c), "invalid configuration")
}

// LoadEnv loads .env files into the environment. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "load %s", f)
		}
	}
	return nil
}

// Load reads path (optional), applies environment overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"BRIDGE_ORIGIN_RPC_URL":    &c.Origin.RPCURL,
		"BRIDGE_ORIGIN_WS_URL":     &c.Origin.WSURL,
		"BRIDGE_PROGRAM_ID":        &c.Origin.ProgramID,
		"BRIDGE_ORIGIN_COMMITMENT": &c.Origin.Commitment,
		"BRIDGE_ORIGIN_KEYPAIR":    &c.Origin.KeypairPath,
		"BRIDGE_MINTER_KEY_FILE":   &c.Minter.KeyFile,
		"BRIDGE_TARGET_KIND":       &c.Target.Kind,
		"BRIDGE_TARGET_URL":        &c.Target.GatewayURL,
		"BRIDGE_TARGET_NAMESPACE":  &c.Target.Namespace,
		"BRIDGE_REPLAY_BACKEND":    &c.Replay.Backend,
		"BRIDGE_REPLAY_PATH":       &c.Replay.Path,
		"BRIDGE_REPLAY_DSN":        &c.Replay.DSN,
		"BRIDGE_SINK_DIR":          &c.Sink.Dir,
		"BRIDGE_LOG_LEVEL":         &c.Log.Level,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"BRIDGE_POLL_INTERVAL":           &c.Monitor.PollInterval,
		"BRIDGE_MISSED_TX_POLL_INTERVAL": &c.Monitor.MissedTxPollInterval,
		"BRIDGE_INCLUSION_TIMEOUT":       &c.Mint.InclusionTimeout,
	}
	for name, dst := range durations {
		if v, ok := os.LookupEnv(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return errors.Wrapf(err, "%s", name)
			}
			*dst = d
		}
	}

	if v, ok := os.LookupEnv("BRIDGE_CONFIRMATION_THRESHOLD"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.Wrap(err, "BRIDGE_CONFIRMATION_THRESHOLD")
		}
		c.Policy.ConfirmationThreshold = n
	}
	if v, ok := os.LookupEnv("BRIDGE_REQUIRE_FINALIZED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "BRIDGE_REQUIRE_FINALIZED")
		}
		c.Mint.RequireFinalized = b
	}
	if v, ok := os.LookupEnv("BRIDGE_KAFKA_BROKERS"); ok && v != "" {
		if c.Sink.Kafka == nil {
			c.Sink.Kafka = &sink.KafkaConfig{}
		}
		c.Sink.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("BRIDGE_KAFKA_TOPIC"); ok && c.Sink.Kafka != nil {
		c.Sink.Kafka.Topic = v
	}
	return nil
}
