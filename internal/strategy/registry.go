package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/newthinker/atlas-bt/internal/core"
	"go.uber.org/zap"
)

// Factory builds an unconfigured strategy instance.
type Factory func() Strategy

// Registry maps strategy names to factories. Every New call returns a
// fresh instance, so parallel runs never share strategy state.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger ...*zap.Logger) *Registry {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    l,
	}
}

// Register adds a factory under name
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns registered names in lexical order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds and initialises the named strategy
func (r *Registry) New(name string, cfg Config) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown strategy %q", name))
	}

	s := f()
	if err := s.Init(cfg); err != nil {
		r.logger.Warn("strategy init failed",
			zap.String("strategy", name),
			zap.Error(err),
		)
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("%s: %w", name, err))
	}
	return s, nil
}

// Describe returns the description of an unconfigured instance of name
func (r *Registry) Describe(name string) (string, bool) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return "", false
	}
	return f().Description(), true
}
