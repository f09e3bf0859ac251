package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Router errors. Each is wrapped in *Error.
var (
	ErrUnknownResource       = errors.New("unknown resource")
	ErrMissingIdentityHeader = errors.New("missing identity header")
	ErrMalformedBody         = errors.New("malformed body")
)

// Error is a per-request resolution failure. It never affects the session.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Kind }

// StatusCode returns the HTTP status a listener should answer with
func (e *Error) StatusCode() int {
	if errors.Is(e.Kind, ErrUnknownResource) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// Delivery is one inbound webhook request
type Delivery struct {
	Path       string
	Header     http.Header
	Query      url.Values
	Body       []byte
	ReceivedAt time.Time
}

// Resolved is a delivery routed to a binding with its document built
type Resolved struct {
	Binding    int
	Collection string
	ID         string
	Doc        json.RawMessage
	Published  int
}

// Router resolves deliveries against a fixed set of bindings
type Router struct {
	bindings Bindings
	newID    func() string
}

// Option configures a Router
type Option func(*Router)

// WithIDGenerator replaces the identity generator used by bindings without idFromHeader
func WithIDGenerator(fn func() string) Option {
	return func(r *Router) {
		r.newID = fn
	}
}

// New creates a router over bindings
func New(bindings Bindings, opts ...Option) *Router {
	r := &Router{
		bindings: bindings,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bindings returns the route table
func (r *Router) Bindings() Bindings {
	return r.bindings
}

// Resolve routes d to its binding and builds the document to emit. First match by path
// wins; configuration order is authoritative.
func (r *Router) Resolve(d Delivery) (*Resolved, error) {
	binding, ok := r.bindings.Match(d.Path)
	if !ok {
		return nil, &Error{Kind: ErrUnknownResource, Detail: d.Path}
	}

	var id string
	switch rc := binding.Resource.(type) {
	case HeaderIdentity:
		id = firstNonEmpty(d.Header.Values(rc.Header))
		if id == "" {
			return nil, &Error{Kind: ErrMissingIdentityHeader, Detail: rc.Header}
		}
	case PathMatch:
		id = r.newID()
	default:
		panic(fmt.Sprintf("router: unhandled resource config %T", rc))
	}

	doc, err := buildDocument(binding, id, d)
	if err != nil {
		return nil, err
	}

	return &Resolved{
		Binding:    binding.Index,
		Collection: binding.Collection,
		ID:         id,
		Doc:        doc,
		Published:  1,
	}, nil
}

// redactedHeaders are never copied into documents
var redactedHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
}

func buildDocument(b Binding, id string, d Delivery) (json.RawMessage, error) {
	doc, err := decodeObject(d.Body)
	if err != nil {
		return nil, &Error{Kind: ErrMalformedBody, Detail: err.Error()}
	}

	meta, _ := doc["_meta"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	if !d.ReceivedAt.IsZero() {
		meta["receivedAt"] = d.ReceivedAt.UTC().Format(time.RFC3339Nano)
	}
	meta["reqPath"] = "/" + normalizePath(d.Path)
	if headers := flattenHeaders(d.Header); len(headers) > 0 {
		meta["headers"] = headers
	}
	if len(d.Query) > 0 {
		query := make(map[string]any, len(d.Query))
		for k, v := range d.Query {
			if len(v) > 0 {
				query[k] = v[0]
			}
		}
		meta["query"] = query
	}
	doc["_meta"] = meta

	if err := setPointer(doc, b.KeyPointer, id); err != nil {
		return nil, &Error{Kind: ErrMalformedBody, Detail: err.Error()}
	}

	out, err := gojson.Marshal(doc)
	if err != nil {
		return nil, &Error{Kind: ErrMalformedBody, Detail: err.Error()}
	}
	return out, nil
}

// decodeObject parses body as a single JSON object. An empty body is an empty object.
func decodeObject(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}

	dec := gojson.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("body must be a JSON object")
	}
	return obj, nil
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		name := strings.ToLower(k)
		if redactedHeaders[name] || len(v) == 0 {
			continue
		}
		out[name] = v[0]
	}
	return out
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
