// Package publisher holds the external blog platforms articles are pushed to.
package publisher

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"content-pilot/internal/ports"
)

var ErrUnknownPlatform = errors.New("no publisher registered for platform")

// Registry resolves a publisher by platform name, case-insensitively.
type Registry struct {
	mu         sync.RWMutex
	publishers map[string]ports.Publisher
}

var _ ports.PublisherResolver = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{publishers: make(map[string]ports.Publisher)}
}

func (r *Registry) Register(platform string, p ports.Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[strings.ToLower(strings.TrimSpace(platform))] = p
}

func (r *Registry) Resolve(platform string) (ports.Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.publishers[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	return p, nil
}

// Platforms lists registered names.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.publishers))
	for name := range r.publishers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
