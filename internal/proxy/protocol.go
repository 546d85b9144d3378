// Package proxy implements the simulator proxy (C2) and the wire protocol
// described in §6: a length-prefixed JSON-RPC-style framing over TCP, with
// a full-duplex read loop so a simulator can call back into the core
// (get_data/set_data/set_event/get_progress/get_related_entities) while a
// step request from the core is still outstanding.
package proxy

// MsgType is the first element of every frame's envelope.
type MsgType int

const (
	MsgRequest MsgType = 0
	MsgSuccess MsgType = 1
	MsgError   MsgType = 2
)

// Frame is the decoded [msg_type, msg_id, content] envelope.
type Frame struct {
	Type    MsgType
	ID      int64
	Content any
}

// InitResult is the typed reply to init(), before modelmeta.Meta parsing.
type InitResult struct {
	APIVersion string                  `json:"api_version"`
	Type       string                  `json:"type"`
	Models     map[string]ModelResult  `json:"models"`
}

// ModelResult is one entry of InitResult.Models.
type ModelResult struct {
	Public     bool     `json:"public"`
	Params     []string `json:"params"`
	Inputs     []string `json:"attrs"`
	Outputs    []string `json:"outputs,omitempty"`
	Events     []string `json:"events,omitempty"`
	AnyInputs  bool     `json:"any_inputs,omitempty"`
}

// CreateResult is the typed reply to create().
type CreateResult struct {
	Entities []EntityDescriptor `json:"entities"`
}

// EntityDescriptor describes one entity created by a create() call.
type EntityDescriptor struct {
	Eid      string   `json:"eid"`
	Type     string   `json:"type"`
	Rel      []string `json:"rel,omitempty"`
	Children []EntityDescriptor `json:"children,omitempty"`
}

// StepResult is the typed reply to step(). NextStep is a pointer so a
// simulator that replies with an object shape can still send
// {"next_step": null} to mean "no self-schedule."
type StepResult struct {
	NextStep *int64 `json:"next_step"`
}

// GetDataResult maps eid -> attr -> value for a get_data() reply.
type GetDataResult map[string]map[string]any

// DataPush is the payload of an outbound set_data call: eid -> attr ->
// src_full_id -> value, mirroring the wire shape so multiple producers
// writing the same input attribute are distinguishable.
type DataPush map[string]map[string]map[string]any
