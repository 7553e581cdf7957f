package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/tradecore/matchd/internal/engine"
)

// Config is the engine configuration, loaded from matchd.yaml with
// environment and flag overlays.
type Config struct {
	Instance struct {
		Tag       string `mapstructure:"tag" validate:"max=16"`
		ProductID uint16 `mapstructure:"product_id" validate:"required"`
	} `mapstructure:"instance"`

	Network struct {
		// ListenAddr is the inbound UDP group:port the receiver binds.
		ListenAddr string `mapstructure:"listen_addr" validate:"required,hostname_port"`
		// BroadcastAddr is where trade and stats frames are sent.
		BroadcastAddr string `mapstructure:"broadcast_addr" validate:"required,hostname_port"`
	} `mapstructure:"network"`

	Book struct {
		BasePrice uint64 `mapstructure:"base_price"`
		Tick      uint64 `mapstructure:"tick" validate:"required,gt=0"`
		MaxLevels int    `mapstructure:"max_levels" validate:"required,gt=0"`
	} `mapstructure:"book"`

	Auction struct {
		StartInAuction bool `mapstructure:"start_in_auction"`
		DrainToBook    bool `mapstructure:"drain_to_book"`
	} `mapstructure:"auction"`

	Pipeline struct {
		InboundQueue  int           `mapstructure:"inbound_queue" validate:"gt=0"`
		OutboundQueue int           `mapstructure:"outbound_queue" validate:"gt=0"`
		DropWhenFull  bool          `mapstructure:"drop_when_full"`
		StatsInterval time.Duration `mapstructure:"stats_interval" validate:"gt=0"`
	} `mapstructure:"pipeline"`

	Admin struct {
		Addr string `mapstructure:"addr" validate:"required,hostname_port"`
	} `mapstructure:"admin"`

	Log struct {
		Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	} `mapstructure:"log"`

	// TestOrderBookSize pre-populates the book with resting orders per side.
	// Flag-only; human-readable sizes accepted (N, Nk, Nm, Ng).
	TestOrderBookSize uint32 `mapstructure:"-"`
}

// Overrides carries the CLI surface that beats file and environment values.
type Overrides struct {
	Tag               string
	ProductID         string
	TestOrderBookSize string
}

// Load reads matchd.yaml (optional), applies environment variables and flag
// overrides, and validates the result.
func Load(configPath string, overrides Overrides) (*Config, error) {
	v := viper.New()
	v.SetConfigName("matchd")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/matchd")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("MATCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	cfg.Instance.Tag = resolveTag(cfg.Instance.Tag)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network.listen_addr", "224.0.0.1:5000")
	v.SetDefault("network.broadcast_addr", "224.0.0.2:5001")
	v.SetDefault("book.base_price", 1)
	v.SetDefault("book.tick", 1)
	v.SetDefault("book.max_levels", 65536)
	v.SetDefault("auction.start_in_auction", false)
	v.SetDefault("auction.drain_to_book", true)
	v.SetDefault("pipeline.inbound_queue", 65536)
	v.SetDefault("pipeline.outbound_queue", 8192)
	v.SetDefault("pipeline.drop_when_full", false)
	v.SetDefault("pipeline.stats_interval", 10*time.Second)
	v.SetDefault("admin.addr", "127.0.0.1:9090")
	v.SetDefault("log.level", "info")
}

func applyOverrides(cfg *Config, overrides Overrides) error {
	if overrides.Tag != "" {
		cfg.Instance.Tag = overrides.Tag
	}
	if overrides.ProductID != "" {
		id, err := strconv.ParseUint(overrides.ProductID, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid product id %q: must be a 16-bit unsigned integer", overrides.ProductID)
		}
		cfg.Instance.ProductID = uint16(id)
	}
	if overrides.TestOrderBookSize != "" {
		size, err := ParseHumanSize(overrides.TestOrderBookSize)
		if err != nil {
			return fmt.Errorf("invalid test order book size %q: %w", overrides.TestOrderBookSize, err)
		}
		cfg.TestOrderBookSize = size
	}
	return nil
}

// resolveTag falls back to INST_NAME, then to a generated tag. Tags longer
// than the 16 bytes the wire carries fail validation afterwards.
func resolveTag(tag string) string {
	if tag == "" {
		tag = os.Getenv("INST_NAME")
	}
	if tag == "" {
		tag = "matchd-" + uuid.NewString()[:8]
	}
	return tag
}

// InstanceTag returns the instance tag in wire form.
func (c *Config) InstanceTag() engine.InstanceTag {
	return engine.TagFromString(c.Instance.Tag)
}

// ParseHumanSize parses a count with an optional k, m, or g suffix
// (case-insensitive, powers of a thousand).
func ParseHumanSize(s string) (uint32, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := uint64(1)
	switch s[len(s)-1] {
	case 'k':
		multiplier = 1_000
		s = s[:len(s)-1]
	case 'm':
		multiplier = 1_000_000
		s = s[:len(s)-1]
	case 'g':
		multiplier = 1_000_000_000
		s = s[:len(s)-1]
	default:
		if s[len(s)-1] < '0' || s[len(s)-1] > '9' {
			return 0, fmt.Errorf("unsupported unit %q", s[len(s)-1:])
		}
	}

	base, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number part: %w", err)
	}
	if base > uint64(^uint32(0))/multiplier {
		return 0, fmt.Errorf("size overflows 32 bits")
	}
	return uint32(base * multiplier), nil
}
