package proxy

import (
	"fmt"
	"sync"
)

// HandlerBox is a CallbackHandler whose inner implementation can be
// installed after the Transport is already running. Proxies are dialed
// and init()'d before the scenario is sealed, but the CallbackHandler
// (internal/services.Dispatcher) needs the sealed scenario and causality
// analysis to exist — HandlerBox breaks that ordering dependency.
type HandlerBox struct {
	mu    sync.Mutex
	inner CallbackHandler
}

// NewHandlerBox creates an empty box; callbacks received before Set fail.
func NewHandlerBox() *HandlerBox { return &HandlerBox{} }

// Set installs the real handler, to be called once the scenario is sealed.
func (b *HandlerBox) Set(h CallbackHandler) {
	b.mu.Lock()
	b.inner = h
	b.mu.Unlock()
}

// HandleCallback implements CallbackHandler.
func (b *HandlerBox) HandleCallback(method string, args []any, kwargs map[string]any) (any, error) {
	b.mu.Lock()
	h := b.inner
	b.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("proxy: callback %q arrived before setup completed", method)
	}
	return h.HandleCallback(method, args, kwargs)
}
