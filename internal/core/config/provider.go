package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/knadh/koanf/providers/file"
)

// Provider yields the current pipeline settings. Intake and the dispatcher
// read it at the start of every operation rather than caching values, so a
// settings change takes effect on the next run.
type Provider interface {
	Pipeline() PipelineConfig
}

// Static wraps a fixed PipelineConfig; used in tests and when no config
// file is watched.
type Static struct {
	cfg PipelineConfig
}

func NewStatic(cfg PipelineConfig) *Static {
	return &Static{cfg: cfg}
}

func (s *Static) Pipeline() PipelineConfig {
	return s.cfg
}

// Live re-reads the config file whenever it changes on disk and serves the
// latest valid pipeline section. Invalid edits are logged and skipped, the
// previous settings stay in effect.
type Live struct {
	mu      sync.RWMutex
	current PipelineConfig
	path    string
}

// NewLive builds a live provider seeded from an already-loaded config and
// starts watching the file. Watching is best-effort: if the watch cannot be
// established the provider still serves the seed settings.
func NewLive(seed *Config, configPath string) (*Live, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required for a live provider")
	}

	p := &Live{current: seed.Pipeline, path: configPath}

	f := file.Provider(configPath)
	if err := f.Watch(func(event interface{}, err error) {
		if err != nil {
			slog.Error("[Config] Watch error", "error", err)
			return
		}
		p.reload()
	}); err != nil {
		slog.Warn("[Config] File watch unavailable, settings frozen at startup values",
			"path", configPath, "error", err)
	}

	return p, nil
}

func (p *Live) reload() {
	cfg, err := Load(p.path)
	if err != nil {
		slog.Error("[Config] Reload failed, keeping previous settings",
			"path", p.path, "error", err)
		return
	}

	p.mu.Lock()
	p.current = cfg.Pipeline
	p.mu.Unlock()

	slog.Info("[Config] Pipeline settings reloaded",
		"transmission_method", cfg.Pipeline.TransmissionMethod,
		"batch_size", cfg.Pipeline.BatchSize)
}

func (p *Live) Pipeline() PipelineConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}
