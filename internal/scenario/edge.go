package scenario

import "github.com/myorg/cosim/internal/modelmeta"

// EdgeKind is the sum type recommended by the design notes: the
// scheduler's readiness predicate switches on it exhaustively instead of
// checking a pair of boolean flags that could (in principle) both be true.
type EdgeKind interface {
	isEdgeKind()
}

// Direct is an ordinary edge: the consumer requires the producer to have
// progressed strictly past the consumer's step time.
type Direct struct{}

func (Direct) isEdgeKind() {}

// TimeShifted delivers values produced at t to the consumer at t+1.
// Initial holds the seed value per destination attribute, required because
// a consumer stepping at t=0 has no producer commit to read yet.
type TimeShifted struct {
	Initial map[string]any
}

func (TimeShifted) isEdgeKind() {}

// Weak edges are excluded from ranking and progress conditions; they are
// the only mechanism that lets a cycle re-enter the same logical time (the
// same-time loop).
type Weak struct{}

func (Weak) isEdgeKind() {}

// Edge connects one source entity's output attributes to one destination
// entity's input attributes, with a single modifier applying to the whole
// mapping.
type Edge struct {
	SrcEntity modelmeta.EntityRef
	DstEntity modelmeta.EntityRef
	// AttrMap maps source attribute name -> destination attribute name.
	AttrMap map[string]string
	Kind     EdgeKind

	// Trigger[dstAttr] is true iff dstAttr is event-typed: a delivered
	// value schedules a step at the event's time.
	Trigger map[string]bool
	// Persistent[srcAttr] is true iff srcAttr is measurement-typed:
	// allows caching a value across time.
	Persistent map[string]bool
}

// TimeShift reports whether this edge is time-shifted.
func (e *Edge) TimeShift() bool {
	_, ok := e.Kind.(TimeShifted)
	return ok
}

// IsWeak reports whether this edge is weak.
func (e *Edge) IsWeak() bool {
	_, ok := e.Kind.(Weak)
	return ok
}

// InitialValue returns the seed value for dstAttr on a time-shifted edge.
func (e *Edge) InitialValue(dstAttr string) (any, bool) {
	ts, ok := e.Kind.(TimeShifted)
	if !ok {
		return nil, false
	}
	v, ok := ts.Initial[dstAttr]
	return v, ok
}

// key identifies an edge's (src entity, src attr) -> (dst entity, dst attr)
// endpoints, independent of modifiers, for duplicate detection.
type edgeKey struct {
	srcEntity modelmeta.EntityRef
	srcAttr   string
	dstEntity modelmeta.EntityRef
	dstAttr   string
}

func edgeKeys(e *Edge) []edgeKey {
	keys := make([]edgeKey, 0, len(e.AttrMap))
	for src, dst := range e.AttrMap {
		keys = append(keys, edgeKey{e.SrcEntity, src, e.DstEntity, dst})
	}
	return keys
}

// sameModifiers reports whether two edges carry identical modifiers, used
// to distinguish a harmless re-declaration from a genuinely conflicting
// duplicate (§4.3 rule 5).
func sameModifiers(a, b *Edge) bool {
	switch ak := a.Kind.(type) {
	case Direct:
		_, ok := b.Kind.(Direct)
		return ok
	case Weak:
		_, ok := b.Kind.(Weak)
		return ok
	case TimeShifted:
		bk, ok := b.Kind.(TimeShifted)
		if !ok {
			return false
		}
		if len(ak.Initial) != len(bk.Initial) {
			return false
		}
		for k, v := range ak.Initial {
			if bk.Initial[k] != v {
				return false
			}
		}
		return true
	default:
		return false
	}
}
