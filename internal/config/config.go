// Package config loads the service configuration from YAML or TOML, an
// optional .env file and LANDLORD_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/distribution"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ethsig"
)

const (
	ModeMemory   = "memory"
	ModePostgres = "postgres"
	ModeChain    = "chain"

	ReplayNone     = "none"
	ReplayMemory   = "memory"
	ReplayPostgres = "postgres"
	ReplayBolt     = "bolt"
)

// DevOwner is the first well-known development account; used when no owner is configured.
const DevOwner = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

// defaultInitialSupply is 10^14 tokens with 18 decimals.
const defaultInitialSupply = "100000000000000000000000000000000"

// Duration wraps time.Duration to support YAML and TOML strings such as "15s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText is used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the API server.
type Config struct {
	Listen     string         `yaml:"listen" toml:"listen"`
	GRPCListen string         `yaml:"grpc_listen" toml:"grpc_listen"`
	Ledger     LedgerConfig   `yaml:"ledger" toml:"ledger"`
	Chain      ChainConfig    `yaml:"chain" toml:"chain"`
	Postgres   PostgresConfig `yaml:"postgres" toml:"postgres"`
	Signer     SignerConfig   `yaml:"signer" toml:"signer"`
	Policy     PolicyConfig   `yaml:"policy" toml:"policy"`
	Replay     ReplayConfig   `yaml:"replay" toml:"replay"`
	Auth       AuthConfig     `yaml:"auth" toml:"auth"`
	HTTP       HTTPConfig     `yaml:"http" toml:"http"`
	Log        LogConfig      `yaml:"log" toml:"log"`
}

// LedgerConfig selects the ledger backend. Owner and InitialSupply bootstrap
// the memory and postgres backends; they are ignored in chain mode.
type LedgerConfig struct {
	Mode          string `yaml:"mode" toml:"mode"`
	Owner         string `yaml:"owner" toml:"owner"`
	InitialSupply string `yaml:"initial_supply" toml:"initial_supply"`
}

// ChainConfig points at the deployed contract.
type ChainConfig struct {
	RPCURL   string   `yaml:"rpc_url" toml:"rpc_url"`
	Contract string   `yaml:"contract" toml:"contract"`
	Timeout  Duration `yaml:"timeout" toml:"timeout"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" toml:"dsn"`
}

// SignerConfig locates the backend signing key. Key wins over KeyEnv over KeyFile.
type SignerConfig struct {
	Key     string `yaml:"key" toml:"key"`
	KeyEnv  string `yaml:"key_env" toml:"key_env"`
	KeyFile string `yaml:"key_file" toml:"key_file"`
}

// PolicyConfig bounds how old a requested block may be, in blocks. Zero disables the bound.
type PolicyConfig struct {
	BalanceMaxAgeBlocks   *uint64 `yaml:"balance_max_age_blocks" toml:"balance_max_age_blocks"`
	SignatureMaxAgeBlocks *uint64 `yaml:"signature_max_age_blocks" toml:"signature_max_age_blocks"`
}

// ReplayConfig selects the ownership nonce registry.
type ReplayConfig struct {
	Store    string   `yaml:"store" toml:"store"`
	TTL      Duration `yaml:"ttl" toml:"ttl"`
	BoltPath string   `yaml:"bolt_path" toml:"bolt_path"`
}

type AuthConfig struct {
	Secret    string           `yaml:"secret" toml:"secret"`
	SecretEnv string           `yaml:"secret_env" toml:"secret_env"`
	Issuer    string           `yaml:"issuer" toml:"issuer"`
	TokenTTL  Duration         `yaml:"token_ttl" toml:"token_ttl"`
	Operators []OperatorConfig `yaml:"operators" toml:"operators"`
}

// OperatorConfig is an admin account; PasswordHash is a bcrypt hash.
type OperatorConfig struct {
	Name         string   `yaml:"name" toml:"name"`
	PasswordHash string   `yaml:"password_hash" toml:"password_hash"`
	Roles        []string `yaml:"roles" toml:"roles"`
}

type HTTPConfig struct {
	CORSOrigins    []string `yaml:"cors_origins" toml:"cors_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" toml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" toml:"rate_limit_burst"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" toml:"max_body_bytes"`
	ReadTimeout    Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout" toml:"write_timeout"`
}

type LogConfig struct {
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads path (YAML or TOML by extension; empty means defaults only),
// applies environment overrides and defaults, then validates.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path = strings.TrimSpace(path); path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Signer.normalise(); err != nil {
		return cfg, fmt.Errorf("signer: %w", err)
	}
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	case ".yaml", ".yml", "":
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Listen, "LANDLORD_LISTEN")
	set(&cfg.GRPCListen, "LANDLORD_GRPC_LISTEN")
	set(&cfg.Ledger.Mode, "LANDLORD_LEDGER_MODE")
	set(&cfg.Chain.RPCURL, "LANDLORD_RPC_URL")
	set(&cfg.Chain.Contract, "LANDLORD_CONTRACT_ADDRESS")
	set(&cfg.Postgres.DSN, "LANDLORD_PG_DSN")
	set(&cfg.Signer.Key, "LANDLORD_SIGNER_KEY")
	set(&cfg.Auth.Secret, "LANDLORD_AUTH_SECRET")
	set(&cfg.Replay.Store, "LANDLORD_REPLAY_STORE")
	set(&cfg.Log.File, "LANDLORD_LOG_FILE")
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.GRPCListen == "" {
		cfg.GRPCListen = ":9090"
	}
	cfg.Ledger.Mode = strings.ToLower(strings.TrimSpace(cfg.Ledger.Mode))
	if cfg.Ledger.Mode == "" {
		cfg.Ledger.Mode = ModeMemory
	}
	if cfg.Ledger.Owner == "" {
		cfg.Ledger.Owner = DevOwner
	}
	if cfg.Ledger.InitialSupply == "" {
		cfg.Ledger.InitialSupply = defaultInitialSupply
	}
	if cfg.Chain.Timeout.Duration == 0 {
		cfg.Chain.Timeout.Duration = 10 * time.Second
	}
	if cfg.Policy.BalanceMaxAgeBlocks == nil {
		v := distribution.DefaultBalanceMaxAge
		cfg.Policy.BalanceMaxAgeBlocks = &v
	}
	if cfg.Policy.SignatureMaxAgeBlocks == nil {
		v := distribution.DefaultSignatureMaxAge
		cfg.Policy.SignatureMaxAgeBlocks = &v
	}
	cfg.Replay.Store = strings.ToLower(strings.TrimSpace(cfg.Replay.Store))
	if cfg.Replay.Store == "" {
		cfg.Replay.Store = ReplayNone
	}
	if cfg.Replay.TTL.Duration == 0 {
		cfg.Replay.TTL.Duration = 24 * time.Hour
	}
	if cfg.Replay.BoltPath == "" {
		cfg.Replay.BoltPath = "landlord-nonces.db"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "landlord"
	}
	if cfg.Auth.TokenTTL.Duration == 0 {
		cfg.Auth.TokenTTL.Duration = time.Hour
	}
	if len(cfg.HTTP.CORSOrigins) == 0 {
		cfg.HTTP.CORSOrigins = []string{"*"}
	}
	if cfg.HTTP.RateLimitRPS <= 0 {
		cfg.HTTP.RateLimitRPS = 10
	}
	if cfg.HTTP.RateLimitBurst <= 0 {
		cfg.HTTP.RateLimitBurst = 20
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}
	if cfg.HTTP.ReadTimeout.Duration == 0 {
		cfg.HTTP.ReadTimeout.Duration = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout.Duration == 0 {
		cfg.HTTP.WriteTimeout.Duration = 15 * time.Second
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 30
	}
}

func validate(cfg Config) error {
	switch cfg.Ledger.Mode {
	case ModeMemory, ModeChain:
	case ModePostgres:
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			return fmt.Errorf("postgres.dsn must be configured for ledger mode %q", cfg.Ledger.Mode)
		}
	default:
		return fmt.Errorf("unknown ledger mode %q", cfg.Ledger.Mode)
	}
	if cfg.Ledger.Mode != ModeChain {
		if !ethsig.IsAddress(cfg.Ledger.Owner) {
			return fmt.Errorf("ledger.owner %q is not an address", cfg.Ledger.Owner)
		}
		if _, err := uint256.FromDecimal(cfg.Ledger.InitialSupply); err != nil {
			return fmt.Errorf("ledger.initial_supply: %w", err)
		}
	}
	if c := strings.TrimSpace(cfg.Chain.Contract); c != "" && !ethsig.IsAddress(c) {
		return fmt.Errorf("chain.contract %q is not an address", c)
	}
	switch cfg.Replay.Store {
	case ReplayNone, ReplayMemory, ReplayBolt:
	case ReplayPostgres:
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			return fmt.Errorf("postgres.dsn must be configured for replay store %q", cfg.Replay.Store)
		}
	default:
		return fmt.Errorf("unknown replay store %q", cfg.Replay.Store)
	}
	for i, op := range cfg.Auth.Operators {
		if strings.TrimSpace(op.Name) == "" || strings.TrimSpace(op.PasswordHash) == "" {
			return fmt.Errorf("auth.operators[%d] needs name and password_hash", i)
		}
	}
	return nil
}

// normalise resolves the key from env or file. A missing key is not an error
// here: the API starts without one and the signature endpoint reports it.
func (s *SignerConfig) normalise() error {
	s.Key = strings.TrimSpace(s.Key)
	s.KeyEnv = strings.TrimSpace(s.KeyEnv)
	s.KeyFile = strings.TrimSpace(s.KeyFile)
	if s.Key != "" {
		return nil
	}
	switch {
	case s.KeyEnv != "":
		value := strings.TrimSpace(os.Getenv(s.KeyEnv))
		if value == "" {
			return fmt.Errorf("key_env %s is empty", s.KeyEnv)
		}
		s.Key = value
	case s.KeyFile != "":
		contents, err := os.ReadFile(s.KeyFile)
		if err != nil {
			return fmt.Errorf("read key_file: %w", err)
		}
		s.Key = strings.TrimSpace(string(contents))
	}
	return nil
}

func (a *AuthConfig) normalise() error {
	a.Secret = strings.TrimSpace(a.Secret)
	if a.Secret == "" && strings.TrimSpace(a.SecretEnv) != "" {
		a.Secret = strings.TrimSpace(os.Getenv(strings.TrimSpace(a.SecretEnv)))
		if a.Secret == "" {
			return fmt.Errorf("secret_env %s is empty", a.SecretEnv)
		}
	}
	return nil
}
