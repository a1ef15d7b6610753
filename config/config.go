package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the operator-facing settings of the escrowd daemon.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`
	LogFile       string `toml:"LogFile"`

	// OwnerAddress is the hex-encoded seller identity fixed for the
	// instance's lifetime. InstanceLabel distinguishes instances run by
	// the same owner.
	OwnerAddress  string `toml:"OwnerAddress"`
	InstanceLabel string `toml:"InstanceLabel"`

	// MinimumDeposit is the reference-currency threshold in whole units,
	// e.g. "5" for five reference units.
	MinimumDeposit string `toml:"MinimumDeposit"`

	// Price feed settings. When PriceFeedURL is empty the daemon pins
	// StaticPrice (reference units per native unit) instead of fetching.
	PriceFeedURL    string `toml:"PriceFeedURL"`
	PriceFeedAsset  string `toml:"PriceFeedAsset"`
	PriceFeedVs     string `toml:"PriceFeedVs"`
	PriceDecimals   uint8  `toml:"PriceDecimals"`
	StaticPrice     string `toml:"StaticPrice"`
	MaxQuoteAgeSecs int64  `toml:"MaxQuoteAgeSecs"`
}

// Load reads the configuration from the given path, creating a commented
// default file on first run.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./escrowd-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if strings.TrimSpace(cfg.InstanceLabel) == "" {
		cfg.InstanceLabel = "default"
	}
	if strings.TrimSpace(cfg.MinimumDeposit) == "" {
		cfg.MinimumDeposit = "5"
	}
	if strings.TrimSpace(cfg.PriceFeedAsset) == "" {
		cfg.PriceFeedAsset = "ethereum"
	}
	if strings.TrimSpace(cfg.PriceFeedVs) == "" {
		cfg.PriceFeedVs = "usd"
	}
	if cfg.PriceDecimals == 0 {
		cfg.PriceDecimals = 8
	}
	if cfg.MaxQuoteAgeSecs == 0 {
		cfg.MaxQuoteAgeSecs = 300
	}
}

func validate(cfg *Config) error {
	owner := strings.TrimSpace(strings.TrimPrefix(cfg.OwnerAddress, "0x"))
	if len(owner) != 40 {
		return fmt.Errorf("config: OwnerAddress must be a 20-byte hex address")
	}
	if strings.TrimSpace(cfg.PriceFeedURL) == "" && strings.TrimSpace(cfg.StaticPrice) == "" {
		return fmt.Errorf("config: either PriceFeedURL or StaticPrice must be set")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		OwnerAddress: "0x0000000000000000000000000000000000000000",
		StaticPrice:  "2000",
	}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("config: wrote default configuration to %s; set OwnerAddress before starting", path)
}
