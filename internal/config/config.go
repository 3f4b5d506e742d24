package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eigerco/transfersol/internal/account"
	"github.com/eigerco/transfersol/internal/crypto"
)

var ErrInvalidGenesisAccount = errors.New("invalid genesis account")

const (
	DefaultLogLevel = "info"
	DefaultLogType  = "console"
)

// GenesisAccount is a wallet funded when the ledger is initialised.
type GenesisAccount struct {
	Pubkey   string `yaml:"pubkey"`
	Lamports uint64 `yaml:"lamports"`
}

type Config struct {
	LogLevel    string           `yaml:"log_level"`
	LogType     string           `yaml:"log_type"`
	DBPath      string           `yaml:"db_path"`
	MetricsAddr string           `yaml:"metrics_addr"`
	Rent        account.Rent     `yaml:"rent"`
	Genesis     []GenesisAccount `yaml:"genesis"`
}

func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		LogType:  DefaultLogType,
		Rent:     account.DefaultRent(),
	}
}

// Load reads a YAML file. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes data over Default, so fields the document leaves out, including
// single rent parameters, keep their default values.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogType == "" {
		c.LogType = DefaultLogType
	}
}

func (c Config) Validate() error {
	seen := make(crypto.PubkeySet, len(c.Genesis))
	for i, g := range c.Genesis {
		pk, err := crypto.ParsePubkey(g.Pubkey)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrInvalidGenesisAccount, i, err)
		}
		if pk == account.SystemProgramID {
			return fmt.Errorf("%w: entry %d: system program address", ErrInvalidGenesisAccount, i)
		}
		if seen.Has(pk) {
			return fmt.Errorf("%w: entry %d: duplicate pubkey %s", ErrInvalidGenesisAccount, i, pk)
		}
		seen.Add(pk)
	}
	return nil
}

// GenesisAccounts returns the genesis balances keyed by parsed pubkey.
func (c Config) GenesisAccounts() (map[crypto.Pubkey]uint64, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out := make(map[crypto.Pubkey]uint64, len(c.Genesis))
	for _, g := range c.Genesis {
		pk, _ := crypto.ParsePubkey(g.Pubkey)
		out[pk] = g.Lamports
	}
	return out, nil
}
