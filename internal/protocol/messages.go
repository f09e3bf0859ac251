// Package protocol implements the newline-delimited JSON control channel spoken between the
// connector and its host runtime.
//
// Every line is one JSON object with exactly one tag naming the message:
//
//	in:  {"open":{...}}  {"acknowledge":{}}
//	out: {"opened":{...}}  {"document":{...}}  {"checkpoint":{...}}
package protocol

import "encoding/json"

// Request is a message read from the runtime. Exactly one field is set.
type Request struct {
	Open        *Open        `json:"open,omitempty"`
	Acknowledge *Acknowledge `json:"acknowledge,omitempty"`
}

// Tag returns the name of the message carried by the request.
func (r *Request) Tag() string {
	switch {
	case r.Open != nil:
		return TagOpen
	case r.Acknowledge != nil:
		return TagAcknowledge
	default:
		return ""
	}
}

// Message tags
const (
	TagOpen        = "open"
	TagAcknowledge = "acknowledge"
	TagOpened      = "opened"
	TagDocument    = "document"
	TagCheckpoint  = "checkpoint"
)

// Open starts a capture session
type Open struct {
	Name             string          `json:"name"`
	Config           json.RawMessage `json:"config,omitempty"`
	Version          string          `json:"version"`
	KeyBegin         uint32          `json:"keyBegin"`
	KeyEnd           uint32          `json:"keyEnd"`
	DriverCheckpoint json.RawMessage `json:"driverCheckpoint,omitempty"`
	IntervalSeconds  int             `json:"intervalSeconds,omitempty"`
	Bindings         []Binding       `json:"bindings"`
}

// Binding maps one collection to the resource that feeds it
type Binding struct {
	Collection     Collection      `json:"collection"`
	ResourceConfig json.RawMessage `json:"resourceConfig,omitempty"`
	ResourcePath   []string        `json:"resourcePath,omitempty"`
}

// Collection describes the target collection of a binding
type Collection struct {
	Name            string          `json:"name"`
	Schema          json.RawMessage `json:"schema,omitempty"`
	Key             []string        `json:"key"`
	PartitionFields []string        `json:"partitionFields,omitempty"`
	Projections     json.RawMessage `json:"projections,omitempty"`
}

// Acknowledge confirms the single outstanding checkpoint. It has no payload.
type Acknowledge struct{}

// Response is a message written to the runtime. Exactly one field is set.
type Response struct {
	Opened     *Opened     `json:"opened,omitempty"`
	Document   *Document   `json:"document,omitempty"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// Opened answers Open
type Opened struct {
	ExplicitAcknowledgements bool `json:"explicitAcknowledgements"`
}

// Document carries one captured document for a binding
type Document struct {
	Binding int             `json:"binding"`
	Doc     json.RawMessage `json:"doc"`
}

// Checkpoint marks a committable boundary after the preceding documents
type Checkpoint struct {
	State *ConnectorState `json:"state,omitempty"`
}

// ConnectorState is the driver checkpoint update carried by a Checkpoint
type ConnectorState struct {
	Updated    json.RawMessage `json:"updated"`
	MergePatch bool            `json:"mergePatch,omitempty"`
}

// NewOpened builds the opened response. Acknowledgements are always explicit: HTTP
// responses are gated on them.
func NewOpened() Response {
	return Response{Opened: &Opened{ExplicitAcknowledgements: true}}
}

// NewDocument builds a document response
func NewDocument(binding int, doc json.RawMessage) Response {
	return Response{Document: &Document{Binding: binding, Doc: doc}}
}

// NewCheckpoint builds an empty merge-patch checkpoint
func NewCheckpoint() Response {
	return Response{Checkpoint: &Checkpoint{State: &ConnectorState{
		Updated:    json.RawMessage(`{}`),
		MergePatch: true,
	}}}
}
