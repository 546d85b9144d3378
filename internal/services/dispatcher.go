package services

import (
	"fmt"

	"github.com/myorg/cosim/internal/modelmeta"
	"github.com/myorg/cosim/internal/tick"
)

// Dispatcher adapts the generic proxy.CallbackHandler wire shape to the
// typed Services methods for one particular calling simulator. The
// runner constructs one per proxy, bound to that proxy's identity and a
// live reader of its current step time.
type Dispatcher struct {
	svc        *Services
	caller     modelmeta.SimulatorId
	callerTime func() tick.Tick
}

// NewDispatcher binds svc to the given caller's identity.
func NewDispatcher(svc *Services, caller modelmeta.SimulatorId, callerTime func() tick.Tick) *Dispatcher {
	return &Dispatcher{svc: svc, caller: caller, callerTime: callerTime}
}

// HandleCallback implements proxy.CallbackHandler.
func (d *Dispatcher) HandleCallback(method string, args []any, kwargs map[string]any) (any, error) {
	switch method {
	case "get_progress":
		p, err := d.svc.GetProgress(d.caller)
		if err != nil {
			return nil, err
		}
		return int64(p), nil

	case "get_related_entities":
		ids, err := parseEntityList(firstArg(args, kwargs, "entities"))
		if err != nil {
			return nil, err
		}
		related, err := d.svc.GetRelatedEntities(ids)
		if err != nil {
			return nil, err
		}
		out := make(map[string][]string, len(related))
		for id, rels := range related {
			strs := make([]string, len(rels))
			for i, r := range rels {
				strs[i] = r.FullID()
			}
			out[id.FullID()] = strs
		}
		return out, nil

	case "get_data":
		pulls, err := parsePulls(kwargs["attrs"])
		if err != nil {
			return nil, err
		}
		data, err := d.svc.GetData(d.caller, d.callerTime(), pulls)
		if err != nil {
			return nil, err
		}
		out := make(map[string]map[string]any, len(data))
		for ent, attrs := range data {
			out[ent.FullID()] = attrs
		}
		return out, nil

	case "set_data":
		pushes, err := parsePushes(kwargs["data"])
		if err != nil {
			return nil, err
		}
		return nil, d.svc.SetData(d.callerTime(), pushes)

	case "set_event":
		return nil, d.handleSetEvent(kwargs)

	default:
		return nil, fmt.Errorf("services: unknown callback method %q", method)
	}
}

func (d *Dispatcher) handleSetEvent(kwargs map[string]any) error {
	fullID, _ := kwargs["eid"].(string)
	attr, _ := kwargs["attr"].(string)
	target, err := modelmeta.ParseEntityRef(fullID)
	if err != nil {
		return err
	}
	tRaw, _ := kwargs["time"].(float64)
	return d.svc.SetEvent(d.caller, d.callerTime(), target, attr, tick.Tick(int64(tRaw)), kwargs["value"])
}

func firstArg(args []any, kwargs map[string]any, name string) any {
	if v, ok := kwargs[name]; ok {
		return v
	}
	if len(args) > 0 {
		return args[0]
	}
	return nil
}

func parseEntityList(raw any) ([]modelmeta.EntityRef, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("services: expected a list of entity ids")
	}
	out := make([]modelmeta.EntityRef, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("services: entity id must be a string")
		}
		ref, err := modelmeta.ParseEntityRef(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

// parsePulls decodes get_data's "attrs" kwarg: {"sid.eid": ["attr1", ...]}.
func parsePulls(raw any) ([]DataPull, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("services: get_data attrs must be an object")
	}
	var out []DataPull
	for fullID, attrsRaw := range m {
		ref, err := modelmeta.ParseEntityRef(fullID)
		if err != nil {
			return nil, err
		}
		attrs, ok := attrsRaw.([]any)
		if !ok {
			return nil, fmt.Errorf("services: get_data attrs for %q must be a list", fullID)
		}
		for _, a := range attrs {
			name, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("services: attribute name must be a string")
			}
			out = append(out, DataPull{Entity: ref, Attr: name})
		}
	}
	return out, nil
}

// parsePushes decodes set_data's "data" kwarg: {"sid.eid": {"attr": value}}.
func parsePushes(raw any) ([]DataPush, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("services: set_data data must be an object")
	}
	var out []DataPush
	for fullID, attrsRaw := range m {
		ref, err := modelmeta.ParseEntityRef(fullID)
		if err != nil {
			return nil, err
		}
		attrs, ok := attrsRaw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("services: set_data data for %q must be an object", fullID)
		}
		for attr, value := range attrs {
			out = append(out, DataPush{Entity: ref, Attr: attr, Value: value})
		}
	}
	return out, nil
}
