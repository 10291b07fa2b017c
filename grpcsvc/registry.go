package grpcsvc

import (
	"sort"
	"sync"
)

// Registry holds the four name->handler maps spec §4.G describes.
// Registration is expected at boot; lookup at request time is a lock-free
// sync.Map read, matching the teacher's handler-cache's read-mostly shape.
type Registry struct {
	unary        sync.Map // string -> UnaryHandler
	serverStream sync.Map // string -> ServerStreamHandler
	clientStream sync.Map // string -> ClientStreamHandler
	bidi         sync.Map // string -> BidiHandler

	mu      sync.Mutex // guards methods, append-only
	methods []MethodDescriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) record(d MethodDescriptor) {
	r.mu.Lock()
	r.methods = append(r.methods, d)
	r.mu.Unlock()
}

// RegisterUnary registers a unary method.
func (r *Registry) RegisterUnary(service, method string, h UnaryHandler) {
	d := MethodDescriptor{Service: service, Method: method, Pattern: Unary}
	r.unary.Store(d.Path(), h)
	r.record(d)
}

// RegisterServerStream registers a server-streaming method.
func (r *Registry) RegisterServerStream(service, method string, h ServerStreamHandler) {
	d := MethodDescriptor{Service: service, Method: method, Pattern: ServerStream}
	r.serverStream.Store(d.Path(), h)
	r.record(d)
}

// RegisterClientStream registers a client-streaming method.
func (r *Registry) RegisterClientStream(service, method string, h ClientStreamHandler) {
	d := MethodDescriptor{Service: service, Method: method, Pattern: ClientStream}
	r.clientStream.Store(d.Path(), h)
	r.record(d)
}

// RegisterBidi registers a bidirectional-streaming method.
func (r *Registry) RegisterBidi(service, method string, h BidiHandler) {
	d := MethodDescriptor{Service: service, Method: method, Pattern: Bidi}
	r.bidi.Store(d.Path(), h)
	r.record(d)
}

// lookup classifies path by whichever map contains it, in the fixed
// Unary -> ServerStream -> ClientStream -> Bidi order.
func (r *Registry) lookup(path string) (CallPattern, any, bool) {
	if h, ok := r.unary.Load(path); ok {
		return Unary, h, true
	}
	if h, ok := r.serverStream.Load(path); ok {
		return ServerStream, h, true
	}
	if h, ok := r.clientStream.Load(path); ok {
		return ClientStream, h, true
	}
	if h, ok := r.bidi.Load(path); ok {
		return Bidi, h, true
	}
	return 0, nil, false
}

// ListMethods returns every registered method, sorted by path, for startup
// diagnostics (spec §4.G).
func (r *Registry) ListMethods() []MethodDescriptor {
	r.mu.Lock()
	out := make([]MethodDescriptor, len(r.methods))
	copy(out, r.methods)
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}
