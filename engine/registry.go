package engine

import "sync"

// typeRegistry maps request type tags to their invokers. Registration usually
// happens at startup but may run alongside dispatch.
type typeRegistry struct {
	mu        sync.RWMutex
	requests  map[uint16]RequestInvoker
	responses map[uint16]ResponseInvoker
}

func newTypeRegistry() *typeRegistry {
	return &typeRegistry{
		requests:  make(map[uint16]RequestInvoker),
		responses: make(map[uint16]ResponseInvoker),
	}
}

func (r *typeRegistry) setRequest(tag uint16, inv RequestInvoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[tag] = inv
}

func (r *typeRegistry) setResponse(tag uint16, inv ResponseInvoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[tag] = inv
}

func (r *typeRegistry) deleteRequest(tag uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, tag)
}

func (r *typeRegistry) deleteResponse(tag uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.responses, tag)
}

func (r *typeRegistry) requestInvoker(tag uint16) (RequestInvoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.requests[tag]
	return inv, ok
}

func (r *typeRegistry) responseInvoker(tag uint16) (ResponseInvoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.responses[tag]
	return inv, ok
}
