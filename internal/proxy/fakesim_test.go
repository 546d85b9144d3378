package proxy_test

import (
	"fmt"
	"net"

	"github.com/myorg/cosim/internal/proxy"
)

// fakeSimHandler answers the fixed method script a test needs, playing the
// simulator side of the protocol: from its Transport's point of view, every
// request the core sends arrives as an inbound "callback" to service.
type fakeSimHandler struct {
	initReply  any
	stepReply  any
	dataReply  any
	failInit   bool
}

func (h *fakeSimHandler) HandleCallback(method string, args []any, kwargs map[string]any) (any, error) {
	switch method {
	case "init":
		if h.failInit {
			return nil, fmt.Errorf("boom")
		}
		return h.initReply, nil
	case "create":
		return map[string]any{"entities": []any{}}, nil
	case "setup_done":
		return nil, nil
	case "step":
		return h.stepReply, nil
	case "get_data":
		return h.dataReply, nil
	case "stop":
		return nil, nil
	default:
		return nil, fmt.Errorf("fake simulator: unhandled method %q", method)
	}
}

// noopHandler services the core side of the pipe, which in these tests
// never receives an unsolicited callback from the fake simulator.
type noopHandler struct{}

func (noopHandler) HandleCallback(method string, args []any, kwargs map[string]any) (any, error) {
	return nil, fmt.Errorf("unexpected callback %q", method)
}

// newFakePair wires a core-side Transport to a fake simulator's Transport
// over an in-memory pipe.
func newFakePair(sim *fakeSimHandler) *proxy.Transport {
	a, b := net.Pipe()
	core := proxy.NewOverConn(a, noopHandler{})
	proxy.NewOverConn(b, sim)
	return core
}
