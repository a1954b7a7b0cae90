package wsserver

import (
	"sync"

	"github.com/cobaltfleet/fgcore/wsprotocol"
)

// graphSubscribers tracks which clients asked for connection graph
// updates. original_source models the graph itself as a diff-free full
// snapshot the caller publishes on demand — there is no incremental
// diffing here, matching that.
type graphSubscribers struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newGraphSubscribers() *graphSubscribers {
	return &graphSubscribers{clients: make(map[*client]struct{})}
}

func (s *Server) graphSubscribe(c *client) {
	if !s.caps.has(CapabilityConnectionGraph) {
		s.sendStatus(c, wsprotocol.StatusLevelError, "connectionGraph capability not advertised", nil)
		return
	}
	s.graph.mu.Lock()
	s.graph.clients[c] = struct{}{}
	s.graph.mu.Unlock()
}

func (s *Server) graphUnsubscribe(c *client) {
	s.graph.mu.Lock()
	delete(s.graph.clients, c)
	s.graph.mu.Unlock()
}

// PublishConnectionGraph broadcasts a full connection graph snapshot
// to every client currently subscribed to graph updates.
func (s *Server) PublishConnectionGraph(snapshot wsprotocol.ConnectionGraphUpdate) {
	snapshot.Op = "connectionGraphUpdate"
	s.graph.mu.Lock()
	targets := make([]*client, 0, len(s.graph.clients))
	for c := range s.graph.clients {
		targets = append(targets, c)
	}
	s.graph.mu.Unlock()
	for _, c := range targets {
		s.sendJSON(c, snapshot)
	}
}
