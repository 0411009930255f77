package pipeline

import (
	"fmt"
	"sync"
)

// Registry tracks the running pipelines by exchange and symbol. One pipeline
// exists per (exchange, symbol) pair; the registry is how the process
// supervises and tears them down.
type Registry struct {
	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]*Pipeline)}
}

func registryKey(exchange, symbol string) string {
	return fmt.Sprintf("%s:%s", exchange, symbol)
}

// Add registers a pipeline. It fails if the pair is already tracked.
func (r *Registry) Add(p *Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey(p.Exchange(), p.Symbol())
	if _, exists := r.pipelines[key]; exists {
		return fmt.Errorf("market %s is already tracked", key)
	}
	r.pipelines[key] = p
	return nil
}

func (r *Registry) Get(exchange, symbol string) (*Pipeline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pipelines[registryKey(exchange, symbol)]
	return p, ok
}

// Remove stops a pipeline and drops it from the registry.
func (r *Registry) Remove(exchange, symbol string) {
	key := registryKey(exchange, symbol)
	r.mu.Lock()
	p, ok := r.pipelines[key]
	delete(r.pipelines, key)
	r.mu.Unlock()
	if ok {
		p.Stop()
	}
}

func (r *Registry) All() []*Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		out = append(out, p)
	}
	return out
}

// StopAll stops every tracked pipeline and empties the registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		pipelines = append(pipelines, p)
	}
	r.pipelines = make(map[string]*Pipeline)
	r.mu.Unlock()

	for _, p := range pipelines {
		p.Stop()
	}
}
