package wsserver

import (
	"sync"

	"github.com/cobaltfleet/fgcore/wsprotocol"
)

// ParameterStore is a simple map[string]Value store with change
// notification to subscribed clients, matching original_source's
// parameter handling: no persistence or validation beyond type
// tagging, since neither is asked for by the distilled spec.
type ParameterStore struct {
	mu     sync.Mutex
	values map[string]wsprotocol.Parameter
	subs   map[*client]map[string]struct{}
}

func NewParameterStore() *ParameterStore {
	return &ParameterStore{
		values: make(map[string]wsprotocol.Parameter),
		subs:   make(map[*client]map[string]struct{}),
	}
}

// Get returns the current value of each named parameter that exists.
// An unknown name is silently omitted, matching the "best effort"
// behavior original_source uses for missing parameters.
func (p *ParameterStore) Get(names []string) []wsprotocol.Parameter {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]wsprotocol.Parameter, 0, len(names))
	for _, name := range names {
		if v, ok := p.values[name]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Set stores each parameter and returns the full set of values that
// changed, for the caller to broadcast to subscribed clients.
func (p *ParameterStore) Set(params []wsprotocol.Parameter) []wsprotocol.Parameter {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]wsprotocol.Parameter, 0, len(params))
	for _, param := range params {
		p.values[param.Name] = param
		out = append(out, param)
	}
	return out
}

func (p *ParameterStore) Subscribe(c *client, names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.subs[c]
	if !ok {
		set = make(map[string]struct{})
		p.subs[c] = set
	}
	for _, n := range names {
		set[n] = struct{}{}
	}
}

func (p *ParameterStore) Unsubscribe(c *client, names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.subs[c]
	if !ok {
		return
	}
	for _, n := range names {
		delete(set, n)
	}
}

func (p *ParameterStore) RemoveClient(c *client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, c)
}

// Interested filters params down to the subset c is subscribed to.
func (p *ParameterStore) Interested(c *client, changed map[string]struct{}) []wsprotocol.Parameter {
	p.mu.Lock()
	set, ok := p.subs[c]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	var names []string
	for n := range set {
		if _, ok := changed[n]; ok {
			names = append(names, n)
		}
	}
	p.mu.Unlock()
	if len(names) == 0 {
		return nil
	}
	return p.Get(names)
}
