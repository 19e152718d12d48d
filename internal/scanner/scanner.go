package scanner

import (
	"fmt"

	"NewsHub/internal/domain"
	"NewsHub/internal/ports"
)

// Registry keeps a mapping from source types to their fetchers.
type Registry struct {
	fetchers map[domain.SourceType]ports.SourceFetcher
}

// NewRegistry builds a registry from the given fetchers.
func NewRegistry(fetchers ...ports.SourceFetcher) *Registry {
	r := &Registry{fetchers: map[domain.SourceType]ports.SourceFetcher{}}
	for _, f := range fetchers {
		r.Register(f)
	}
	return r
}

// Register adds or replaces a fetcher implementation.
func (r *Registry) Register(fetcher ports.SourceFetcher) {
	if r.fetchers == nil {
		r.fetchers = map[domain.SourceType]ports.SourceFetcher{}
	}
	r.fetchers[fetcher.Type()] = fetcher
}

// Resolve returns the fetcher for a source type or an error if it is absent.
func (r *Registry) Resolve(kind domain.SourceType) (ports.SourceFetcher, error) {
	if fetcher, ok := r.fetchers[kind]; ok {
		return fetcher, nil
	}
	return nil, fmt.Errorf("no fetcher registered for source type %q", kind)
}
