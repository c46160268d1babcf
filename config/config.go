package config

import (
	"errors"
	"fmt"
	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"strings"
	"time"
)

const (
	DefaultPort         = 9034
	DefaultBufferSize   = 256
	DefaultFlushTimeout = 5 * time.Second
)

// Strategy selects the readiness primitive.
type Strategy string

const (
	// StrategyDynamic uses poll(2): no bound on member count or descriptor value.
	StrategyDynamic Strategy = "dynamic"
	// StrategyBitset uses select(2): members bounded by Capacity and FD_SETSIZE.
	StrategyBitset Strategy = "bitset"
)

var ErrInvalidConfig = errors.New("invalid config")

// Size is a byte count that decodes from either a number or a human readable string
// such as "4KiB".
type Size int64

func (s *Size) UnmarshalText(text []byte) error {
	n, err := units.RAMInBytes(string(text))
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

func (s Size) String() string {
	return units.BytesSize(float64(s))
}

// Duration decodes "250ms" style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Config struct {
	Host       string   `toml:"host"`
	Port       int      `toml:"port"`
	BufferSize Size     `toml:"buffer_size"`
	Strategy   Strategy `toml:"strategy"`
	// Capacity is the maximum number of peer connections for the bitset strategy.
	// The listener is not counted.
	Capacity int `toml:"capacity"`
	// Timeout bounds each readiness wait. Negative blocks indefinitely, zero polls.
	Timeout      Duration `toml:"timeout"`
	FlushTimeout Duration `toml:"flush_timeout"`
	// AcceptDrain accepts every pending connection per listener event. Nil picks the
	// strategy default: drain for dynamic, one accept for bitset.
	AcceptDrain *bool  `toml:"accept_drain"`
	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`
}

func Default() Config {
	return Config{
		Port:         DefaultPort,
		BufferSize:   DefaultBufferSize,
		Strategy:     StrategyDynamic,
		Timeout:      Duration{-1},
		FlushTimeout: Duration{DefaultFlushTimeout},
		LogLevel:     "info",
	}
}

// Load reads a TOML file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Drain resolves AcceptDrain against the strategy default.
func (c Config) Drain() bool {
	if c.AcceptDrain != nil {
		return *c.AcceptDrain
	}
	return c.Strategy == StrategyDynamic
}

func (c Config) Validate() error {
	var problems []string
	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.BufferSize <= 0 {
		problems = append(problems, "buffer size must be positive")
	}
	switch c.Strategy {
	case StrategyDynamic:
	case StrategyBitset:
		if c.Capacity <= 0 {
			problems = append(problems, "bitset strategy requires a positive capacity")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown strategy %q", c.Strategy))
	}
	if c.FlushTimeout.Duration <= 0 {
		problems = append(problems, "flush timeout must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
