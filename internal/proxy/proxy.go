package proxy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/myorg/cosim/internal/cosimerr"
	"github.com/myorg/cosim/internal/modelmeta"
	"github.com/myorg/cosim/internal/tick"
)

// CoreAPIVersion is the API version this core implements, compared against
// each simulator's declared version at init() time.
const CoreAPIVersion = "0.3"

// Proxy is the core's local handle on one remote simulator process: it
// turns the typed Go calls the scheduler makes into wire frames over a
// Transport, and tracks the bookkeeping fields the scheduler's readiness
// logic reads (last_step, next_step, progress, terminated).
type Proxy struct {
	ID         modelmeta.SimulatorId
	transport  *Transport
	handlerBox *HandlerBox

	mu         sync.Mutex
	meta       modelmeta.Meta
	lastStep   tick.Tick
	nextStep   tick.Tick
	progress   tick.Tick
	terminated bool
}

// New wraps an established Transport as a named simulator proxy. handlerBox
// is the same box that was passed as the Transport's CallbackHandler at
// Dial/NewOverConn time, so the runner can install the real callback
// handler once the scenario is sealed; pass nil if this proxy's simulator
// never calls back into the core.
func New(id modelmeta.SimulatorId, transport *Transport, handlerBox *HandlerBox) *Proxy {
	return &Proxy{ID: id, transport: transport, handlerBox: handlerBox}
}

// HandlerBox returns the box installed at construction, for the runner to
// bind the real services dispatcher into once the scenario is sealed.
func (p *Proxy) HandlerBox() *HandlerBox { return p.handlerBox }

// Init performs the init() handshake, parses the reply into modelmeta.Meta,
// and enforces API-version compatibility (§6): major versions must match
// exactly, and the simulator's minor version must not exceed the core's.
func (p *Proxy) Init(ctx context.Context, simParams map[string]any) (modelmeta.Meta, error) {
	raw, err := p.transport.Call(ctx, "init", []any{string(p.ID)}, simParams)
	if err != nil {
		return modelmeta.Meta{}, err
	}

	res, err := decodeInitResult(raw)
	if err != nil {
		return modelmeta.Meta{}, cosimerr.NewProtocolError(fmt.Sprintf("decoding init() reply from %q: %v", p.ID, err))
	}
	if err := checkAPIVersion(CoreAPIVersion, res.APIVersion); err != nil {
		return modelmeta.Meta{}, err
	}

	kind, err := modelmeta.ParseSimulatorKind(res.Type)
	if err != nil {
		return modelmeta.Meta{}, cosimerr.NewProtocolError(fmt.Sprintf("simulator %q: %v", p.ID, err))
	}

	meta := modelmeta.Meta{
		APIVersion: res.APIVersion,
		Kind:       kind,
		Models:     make(map[string]modelmeta.Model, len(res.Models)),
	}
	for name, m := range res.Models {
		model := modelmeta.Model{
			Params:     toSet(m.Params),
			Inputs:     attrKinds(m.Inputs, modelmeta.Measurement),
			Outputs:    attrKinds(m.Outputs, modelmeta.Measurement),
			AnyInputs:  m.AnyInputs,
			PublicName: m.Public,
		}
		for _, e := range m.Events {
			if _, isInput := model.Inputs[e]; !isInput {
				model.Outputs[e] = modelmeta.Event
			}
		}
		meta.Models[name] = model
	}

	p.mu.Lock()
	p.meta = meta
	p.mu.Unlock()
	return meta, nil
}

// checkAPIVersion enforces §6's compatibility rule.
func checkAPIVersion(core, sim string) error {
	coreMajor, coreMinor, err := splitVersion(core)
	if err != nil {
		return cosimerr.NewProtocolError(fmt.Sprintf("invalid core API version %q: %v", core, err))
	}
	simMajor, simMinor, err := splitVersion(sim)
	if err != nil {
		return cosimerr.NewProtocolError(fmt.Sprintf("invalid simulator API version %q: %v", sim, err))
	}
	if simMajor != coreMajor {
		return cosimerr.NewProtocolError(fmt.Sprintf("API version mismatch: core %s, simulator %s", core, sim))
	}
	if simMinor > coreMinor {
		return cosimerr.NewProtocolError(fmt.Sprintf("simulator API version %s is newer than core %s", sim, core))
	}
	return nil
}

func splitVersion(v string) (major, minor int, err error) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected MAJOR.MINOR, got %q", v)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return major, minor, nil
}

// Create issues a create() call for num entities of model, returning the
// descriptors the simulator assigns them.
func (p *Proxy) Create(ctx context.Context, model string, num int, params map[string]any) ([]EntityDescriptor, error) {
	kwargs := map[string]any{"model": model, "num": num}
	for k, v := range params {
		kwargs[k] = v
	}
	raw, err := p.transport.Call(ctx, "create", nil, kwargs)
	if err != nil {
		return nil, err
	}
	return decodeEntities(raw)
}

// SetupDone signals that scenario wiring is complete and the simulator may
// begin stepping.
func (p *Proxy) SetupDone(ctx context.Context) error {
	_, err := p.transport.Call(ctx, "setup_done", nil, nil)
	return err
}

// Step issues a step() call at t with the given inputs and max_advance
// promise. hasNext reports whether the simulator requested a self-scheduled
// next step; if false, next is meaningless and the caller must not treat it
// as a same-time re-step.
func (p *Proxy) Step(ctx context.Context, t tick.Tick, inputs DataPush, maxAdvance tick.Tick) (next tick.Tick, hasNext bool, err error) {
	p.mu.Lock()
	p.lastStep = t
	p.mu.Unlock()

	raw, err := p.transport.Call(ctx, "step", []any{int64(t), inputs, int64(maxAdvance)}, nil)
	if err != nil {
		return 0, false, err
	}
	rawNext, hasNext, err := decodeStepReply(raw)
	if err != nil {
		return 0, false, cosimerr.NewProtocolError(fmt.Sprintf("decoding step() reply from %q: %v", p.ID, err))
	}
	if !hasNext {
		return 0, false, nil
	}

	n := tick.Tick(rawNext)
	p.mu.Lock()
	p.nextStep = n
	p.mu.Unlock()
	return n, true, nil
}

// GetData issues a get_data() call for the requested eid -> attrs map.
func (p *Proxy) GetData(ctx context.Context, outputs map[string][]string) (GetDataResult, error) {
	raw, err := p.transport.Call(ctx, "get_data", nil, map[string]any{"outputs": outputs})
	if err != nil {
		return nil, err
	}
	return decodeGetData(raw)
}

// Stop issues a best-effort stop() call; errors are reported but should not
// block run teardown.
func (p *Proxy) Stop(ctx context.Context) error {
	_, err := p.transport.Call(ctx, "stop", nil, nil)
	return err
}

// Close tears down the underlying transport.
func (p *Proxy) Close() error {
	return p.transport.Close()
}

// Meta returns the parsed init() reply.
func (p *Proxy) Meta() modelmeta.Meta {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta
}

// Progress returns this simulator's committed progress tick and whether it
// has terminated.
func (p *Proxy) Progress() (tick.Tick, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress, p.terminated
}

// SetProgress records progress after a step's outputs have been committed.
func (p *Proxy) SetProgress(t tick.Tick) {
	p.mu.Lock()
	p.progress = t
	p.mu.Unlock()
}

// MarkTerminated records that this simulator will take no further steps.
func (p *Proxy) MarkTerminated() {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
}

// Terminated reports whether MarkTerminated has been called.
func (p *Proxy) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func attrKinds(names []string, kind modelmeta.AttrKind) map[string]modelmeta.AttrKind {
	out := make(map[string]modelmeta.AttrKind, len(names))
	for _, n := range names {
		out[n] = kind
	}
	return out
}
