package config

import (
	"fmt"
	"sync"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/structs"
)

// Store holds the pipeline configuration shared by the acquisition loop and
// the command and HTTP servers.
type Store struct {
	mu sync.RWMutex
	p  Pipeline
}

func NewStore(p Pipeline) *Store {
	return &Store{p: p.Clone()}
}

// PipelineConfig returns a copy of the current configuration.
func (s *Store) PipelineConfig() Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p.Clone()
}

// Set validates and replaces the configuration.
func (s *Store) Set(p Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.p = p.Clone()
	s.mu.Unlock()
	return nil
}

// Merge overlays patch, keyed like the YAML file, onto the current
// configuration. Nothing changes if the result is invalid.
func (s *Store) Merge(patch map[string]any) (Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(s.p, "koanf"), nil); err != nil {
		return s.p.Clone(), fmt.Errorf("load current config: %w", err)
	}
	if err := k.Load(confmap.Provider(patch, "."), nil); err != nil {
		return s.p.Clone(), fmt.Errorf("load patch: %w", err)
	}

	var next Pipeline
	if err := k.Unmarshal("", &next); err != nil {
		return s.p.Clone(), fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := next.Validate(); err != nil {
		return s.p.Clone(), err
	}
	s.p = next
	return next.Clone(), nil
}
