package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/blindauction/auctionapi"
	"github.com/cloudx-io/blindauction/oblivious"
)

// Config is the auctiond YAML configuration. One process runs one auction.
type Config struct {
	AuctionID      string `yaml:"auction_id"`
	Seller         string `yaml:"seller"`
	WidthBits      uint8  `yaml:"width_bits"`
	Reserve        string `yaml:"reserve"`
	BidDeadline    uint64 `yaml:"bid_deadline"`
	RevealDeadline uint64 `yaml:"reveal_deadline"`

	Listen  ListenConfig  `yaml:"listen"`
	Chain   ChainConfig   `yaml:"chain"`
	Journal JournalConfig `yaml:"journal"`
	Attest  AttestConfig  `yaml:"attest"`
	Log     LogConfig     `yaml:"log"`
}

// ListenConfig selects the transport: vsock inside an enclave, tcp for
// local runs.
type ListenConfig struct {
	Mode string `yaml:"mode"`
	Port uint32 `yaml:"port"`
	Addr string `yaml:"addr"`
}

// ChainConfig drives the block-height clock. Without a chain connection the
// daemon derives heights from wall time at a fixed block interval.
type ChainConfig struct {
	StartHeight   uint64   `yaml:"start_height"`
	BlockInterval Duration `yaml:"block_interval"`
}

// Duration decodes YAML duration strings such as "2s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// JournalConfig enables the event journal. An empty path with in_memory
// false disables journaling.
type JournalConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// AttestConfig selects the settlement receipt signer: "nitro" for the NSM,
// "local" for a self-signed development attester, "off" for no receipts.
type AttestConfig struct {
	Mode string `yaml:"mode"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// LoadConfig reads and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.WidthBits == 0 {
		c.WidthBits = 64
	}
	if c.Listen.Mode == "" {
		c.Listen.Mode = "tcp"
	}
	if c.Listen.Mode == "vsock" && c.Listen.Port == 0 {
		c.Listen.Port = 5000
	}
	if c.Listen.Mode == "tcp" && c.Listen.Addr == "" {
		c.Listen.Addr = ":7072"
	}
	if c.Chain.BlockInterval == 0 {
		c.Chain.BlockInterval = Duration(2 * time.Second)
	}
	if c.Attest.Mode == "" {
		c.Attest.Mode = "off"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects configurations the engine would refuse or the server
// cannot serve.
func (c *Config) Validate() error {
	if c.AuctionID == "" {
		return fmt.Errorf("auction_id is required")
	}
	if c.Seller == "" {
		return fmt.Errorf("seller is required")
	}
	if _, err := oblivious.ParseWidth(c.WidthBits); err != nil {
		return fmt.Errorf("width_bits: %w", err)
	}
	if c.Reserve != "" {
		if _, err := auctionapi.ParseAmount(c.Reserve); err != nil {
			return fmt.Errorf("reserve: %w", err)
		}
	}
	if c.BidDeadline >= c.RevealDeadline {
		return fmt.Errorf("bid_deadline %d must precede reveal_deadline %d", c.BidDeadline, c.RevealDeadline)
	}
	switch c.Listen.Mode {
	case "vsock":
		if c.Listen.Port == 0 {
			return fmt.Errorf("listen.port is required for vsock mode")
		}
	case "tcp":
		if c.Listen.Addr == "" {
			return fmt.Errorf("listen.addr is required for tcp mode")
		}
	default:
		return fmt.Errorf("unknown listen.mode %q (want vsock or tcp)", c.Listen.Mode)
	}
	switch c.Attest.Mode {
	case "nitro", "local", "off":
	default:
		return fmt.Errorf("unknown attest.mode %q (want nitro, local, or off)", c.Attest.Mode)
	}
	if c.Chain.BlockInterval <= 0 {
		return fmt.Errorf("chain.block_interval must be positive")
	}
	return nil
}

// Width returns the configured bid width.
func (c *Config) Width() oblivious.Width {
	return oblivious.Width(c.WidthBits)
}

// ReserveMinorUnits converts the reserve amount string to minor units. An
// empty reserve means zero.
func (c *Config) ReserveMinorUnits() (uint64, error) {
	if c.Reserve == "" {
		return 0, nil
	}
	return auctionapi.ParseAmount(c.Reserve)
}
