package podchannel

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ReadMax != DefaultReadMax {
		t.Errorf("ReadMax = %d, want %d", cfg.ReadMax, DefaultReadMax)
	}
	if cfg.MaxPendingBytes != DefaultReadMax {
		t.Errorf("MaxPendingBytes = %d, want %d", cfg.MaxPendingBytes, DefaultReadMax)
	}
	if cfg.CloseWait.Std() != DefaultCloseWait {
		t.Errorf("CloseWait = %v, want %v", cfg.CloseWait.Std(), DefaultCloseWait)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults returned error: %s", err)
	}
}

func TestLoadConfig(t *testing.T) {
	doc := `
connect_target: upstream:8080
read_max: 4096
close_wait: 45s
middlewares:
  - name: upper
    order: 10
  - name: dropper
    order: 20
    params:
      word: DROP
extensions:
  - name: metrics
    use: metrics
`
	cfg, err := LoadConfig([]byte(doc))
	if err != nil {
		t.Fatalf("LoadConfig() returned error: %s", err)
	}
	if cfg.ConnectTarget != "upstream:8080" {
		t.Errorf("ConnectTarget = %q, want upstream:8080", cfg.ConnectTarget)
	}
	if cfg.ReadMax != 4096 {
		t.Errorf("ReadMax = %d, want 4096", cfg.ReadMax)
	}
	// MaxPendingBytes defaults to ReadMax when unset.
	if cfg.MaxPendingBytes != 4096 {
		t.Errorf("MaxPendingBytes = %d, want 4096", cfg.MaxPendingBytes)
	}
	if cfg.CloseWait.Std() != 45*time.Second {
		t.Errorf("CloseWait = %v, want 45s", cfg.CloseWait.Std())
	}
	if len(cfg.Middlewares) != 2 || cfg.Middlewares[1].Params.GetString("word", "") != "DROP" {
		t.Errorf("Middlewares = %+v, want upper then dropper with word param", cfg.Middlewares)
	}
	if cfg.Middlewares[0].order() != 10 || cfg.Middlewares[1].order() != 20 {
		t.Errorf("orders = (%d, %d), want (10, 20)",
			cfg.Middlewares[0].order(), cfg.Middlewares[1].order())
	}
	if len(cfg.Extensions) != 1 || cfg.Extensions[0].Use != "metrics" {
		t.Errorf("Extensions = %+v, want one metrics descriptor", cfg.Extensions)
	}
}

func TestDurationAcceptsSecondsInteger(t *testing.T) {
	cfg, err := LoadConfig([]byte("close_wait: 90\n"))
	if err != nil {
		t.Fatalf("LoadConfig() returned error: %s", err)
	}
	if cfg.CloseWait.Std() != 90*time.Second {
		t.Errorf("CloseWait = %v, want 90s", cfg.CloseWait.Std())
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	if _, err := LoadConfig([]byte("close_wait: soon\n")); err == nil {
		t.Errorf("LoadConfig() accepted an unparseable duration")
	}
}

func TestMiddlewareOrderDefaultsAndBounds(t *testing.T) {
	mc := MiddlewareConfig{Name: "x"}
	if mc.order() != DefaultOrder {
		t.Errorf("order() = %d, want %d", mc.order(), DefaultOrder)
	}

	cfg := DefaultConfig()
	cfg.Middlewares = []MiddlewareConfig{{Name: "x", Order: orderOf(101)}}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("Validate() error = %v, want out of range", err)
	}
}

func TestValidateRejectsIncompleteDescriptors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Middlewares = []MiddlewareConfig{{}}
	if err := cfg.Validate(); err == nil {
		t.Errorf("Validate() accepted a middleware without a name")
	}

	cfg = DefaultConfig()
	cfg.Extensions = []ExtensionConfig{{Name: "x"}}
	if err := cfg.Validate(); err == nil {
		t.Errorf("Validate() accepted an extension without a type id")
	}
}
