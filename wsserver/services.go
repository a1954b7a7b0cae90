package wsserver

import (
	"sync"

	"github.com/cobaltfleet/fgcore/wsprotocol"
	v2 "github.com/cobaltfleet/fgcore/wsprotocol/v2"
)

// ServiceHandler answers one service call request and returns the
// response payload (already encoded in the service's own encoding) or
// an error, which is reported to the client as ServiceCallFailure.
type ServiceHandler func(req wsprotocol.ServiceCall) ([]byte, error)

// ServiceHandlerRegistry maps a service id to the handler that answers
// its calls, symmetric with ServerListener: original_source shows
// service calls forwarded to a registered handler keyed by service id,
// with request/call id pairs that are otherwise opaque to the server.
type ServiceHandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[uint32]ServiceHandler
	services []wsprotocol.ServiceDescriptor
}

func NewServiceHandlerRegistry() *ServiceHandlerRegistry {
	return &ServiceHandlerRegistry{handlers: make(map[uint32]ServiceHandler)}
}

// Register advertises a service and installs its handler. It returns
// the assigned service id.
func (r *ServiceHandlerRegistry) Register(desc wsprotocol.ServiceDescriptor, handler ServiceHandler) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[desc.ID] = handler
	r.services = append(r.services, desc)
	return desc.ID
}

func (r *ServiceHandlerRegistry) lookup(id uint32) (ServiceHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

func (r *ServiceHandlerRegistry) descriptors() []wsprotocol.ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wsprotocol.ServiceDescriptor, len(r.services))
	copy(out, r.services)
	return out
}

// handleRequest dispatches one client service call request to its
// registered handler, replying with ServiceCallResponse on success or
// ServiceCallFailure if no handler is registered or the handler errors.
// A handler may do real work (a deadline-bound RPC, a disk read), so
// when the server has a worker pool configured, invocation runs off
// the read-pump goroutine there rather than blocking it — the listener
// callback contract's "long work must be spawned onto a worker" rule
// applies just as much to service handlers.
func (r *ServiceHandlerRegistry) handleRequest(s *Server, c *client, req wsprotocol.ServiceCall) {
	if !s.caps.has(CapabilityServices) {
		s.sendStatus(c, wsprotocol.StatusLevelError, "services capability not advertised", nil)
		return
	}
	handler, ok := r.lookup(req.ServiceID)
	if !ok {
		s.sendJSON(c, wsprotocol.ServiceCallFailure{
			Op:        "serviceCallFailure",
			ServiceID: req.ServiceID,
			CallID:    req.CallID,
			Message:   "no handler registered for service",
		})
		return
	}

	invoke := func() {
		payload, err := handler(req)
		if err != nil {
			s.sendJSON(c, wsprotocol.ServiceCallFailure{
				Op:        "serviceCallFailure",
				ServiceID: req.ServiceID,
				CallID:    req.CallID,
				Message:   err.Error(),
			})
			return
		}
		resp := wsprotocol.ServiceCall{ServiceID: req.ServiceID, CallID: req.CallID, Encoding: req.Encoding, Payload: payload}
		s.sendBinaryV2(c, v2.EncodeServiceCallResponse(resp), nil)
	}

	if s.workers != nil {
		s.workers.Submit(invoke)
		return
	}
	invoke()
}

// AdvertiseServices broadcasts the registry's current service list to
// every connected client; a client that connects later receives the
// current list from handleUpgrade.
func (s *Server) AdvertiseServices() {
	if !s.caps.has(CapabilityServices) {
		return
	}
	s.broadcastJSON(wsprotocol.AdvertiseServices{Op: "advertiseServices", Services: s.services.descriptors()})
}

// RegisterService installs a handler for a new service and broadcasts
// its advertisement to connected clients.
func (s *Server) RegisterService(desc wsprotocol.ServiceDescriptor, handler ServiceHandler) {
	s.services.Register(desc, handler)
	s.AdvertiseServices()
}
