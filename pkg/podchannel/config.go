package podchannel

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration defaults, matching the engine's historical behavior: relay
// reads up to 320 KiB at a time and waits up to a minute for a half-closed
// channel to drain.
const (
	DefaultReadMax        = 1 << 16 * 5
	DefaultCloseWait      = 60 * time.Second
	DefaultEventQueueSize = 64

	// DefaultOrder is the order index assigned to middleware descriptors
	// that do not set one. Valid orders run 0 through 100.
	DefaultOrder = 50
	minOrder     = 0
	maxOrder     = 100
)

// Duration is a time.Duration that unmarshals from YAML either as a duration
// string ("45s", "2m") or as a plain number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds int64
	if err := node.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value at line %d", node.Line)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MiddlewareConfig describes one middleware in the pipeline: the registered
// type id, an order index (0..100, default 50; ties are broken by
// declaration order), and free-form parameters handed to the factory.
type MiddlewareConfig struct {
	Name   string `yaml:"name"`
	Order  *int   `yaml:"order,omitempty"`
	Params Params `yaml:"params,omitempty"`
}

func (c MiddlewareConfig) order() int {
	if c.Order == nil {
		return DefaultOrder
	}
	return *c.Order
}

// ExtensionConfig describes one engine-scoped extension: the registry name
// it will be reachable under, the registered factory type id ("use"), and
// free-form parameters.
type ExtensionConfig struct {
	Name   string `yaml:"name"`
	Use    string `yaml:"use"`
	Params Params `yaml:"params,omitempty"`
}

// Config is the Engine configuration surface. The Engine consumes it once at
// construction; middleware and extension sets are immutable afterward.
type Config struct {
	// Middlewares is the ordered list of middleware descriptors.
	Middlewares []MiddlewareConfig `yaml:"middlewares,omitempty"`

	// Extensions is the list of extension descriptors, instantiated and set
	// up in declaration order.
	Extensions []ExtensionConfig `yaml:"extensions,omitempty"`

	// ConnectTarget is the address the default router sends every inbound
	// connection to. Ignored when a custom Router is installed.
	ConnectTarget string `yaml:"connect_target,omitempty"`

	// ReadMax is the host read buffer size hint, in bytes.
	ReadMax int `yaml:"read_max,omitempty"`

	// MaxPendingBytes bounds the data buffered on a Channel before it is
	// Established. Zero means ReadMax.
	MaxPendingBytes int `yaml:"max_pending_bytes,omitempty"`

	// CloseWait bounds how long a half-closed Channel may take to drain
	// before the surviving endpoint is forced closed.
	CloseWait Duration `yaml:"close_wait,omitempty"`

	// EventQueueSize is the per-Channel event queue depth.
	EventQueueSize int `yaml:"event_queue_size,omitempty"`
}

// DefaultConfig returns a Config with all defaults filled in and no
// middleware or extensions.
func DefaultConfig() *Config {
	return &Config{
		ReadMax:         DefaultReadMax,
		MaxPendingBytes: DefaultReadMax,
		CloseWait:       Duration(DefaultCloseWait),
		EventQueueSize:  DefaultEventQueueSize,
	}
}

// LoadConfig parses a YAML document over the defaults and validates the
// result.
func LoadConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes zero values to defaults and rejects descriptors the
// Engine could not instantiate deterministically.
func (c *Config) Validate() error {
	if c.ReadMax < 0 {
		return fmt.Errorf("read_max must not be negative")
	}
	if c.ReadMax == 0 {
		c.ReadMax = DefaultReadMax
	}
	if c.MaxPendingBytes == 0 {
		c.MaxPendingBytes = c.ReadMax
	}
	if c.CloseWait <= 0 {
		c.CloseWait = Duration(DefaultCloseWait)
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = DefaultEventQueueSize
	}
	for i, mw := range c.Middlewares {
		if mw.Name == "" {
			return fmt.Errorf("middleware %d: name is required", i)
		}
		if mw.Order != nil && (*mw.Order < minOrder || *mw.Order > maxOrder) {
			return fmt.Errorf("middleware %q: order %d out of range %d..%d",
				mw.Name, *mw.Order, minOrder, maxOrder)
		}
	}
	for i, ext := range c.Extensions {
		if ext.Name == "" {
			return fmt.Errorf("extension %d: name is required", i)
		}
		if ext.Use == "" {
			return fmt.Errorf("extension %q: use is required", ext.Name)
		}
	}
	return nil
}
