// Package router maps inbound webhook deliveries onto the bindings of a capture session.
package router

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/dsjohal14/httpingest/internal/protocol"
	gojson "github.com/goccy/go-json"
)

// DefaultKeyPointer is where the identity is written when a collection declares no key
const DefaultKeyPointer = "/_meta/webhookId"

// ResourceConfig selects how requests are matched to a binding. It is a closed set:
// PathMatch or HeaderIdentity.
type ResourceConfig interface {
	resourcePath() string
	isResourceConfig()
}

// PathMatch matches requests by path and generates a fresh identity per delivery
type PathMatch struct {
	Path string
}

// HeaderIdentity matches requests by path and takes the identity from a request header
type HeaderIdentity struct {
	Path   string
	Header string
}

func (p PathMatch) resourcePath() string      { return p.Path }
func (PathMatch) isResourceConfig()            {}
func (h HeaderIdentity) resourcePath() string { return h.Path }
func (HeaderIdentity) isResourceConfig()       {}

// Binding is one configured route, identified by its index in the open message
type Binding struct {
	Index      int
	Collection string
	KeyPointer string
	Resource   ResourceConfig
}

// Path returns the normalized resource path of the binding
func (b Binding) Path() string {
	return normalizePath(b.Resource.resourcePath())
}

// Bindings is the immutable, ordered route table of a session. It is safe for concurrent use.
type Bindings []Binding

// resourceConfigJSON is the wire shape of a binding's resourceConfig
type resourceConfigJSON struct {
	Path         string `json:"path,omitempty"`
	IDFromHeader string `json:"idFromHeader,omitempty"`
}

// NewBindings builds the route table from the bindings of an open message
func NewBindings(in []protocol.Binding) (Bindings, error) {
	out := make(Bindings, 0, len(in))
	for i, b := range in {
		binding, err := newBinding(i, b)
		if err != nil {
			return nil, fmt.Errorf("binding %d (%s): %w", i, b.Collection.Name, err)
		}
		out = append(out, binding)
	}
	return out, nil
}

func newBinding(index int, b protocol.Binding) (Binding, error) {
	var rc resourceConfigJSON
	if raw := bytes.TrimSpace(b.ResourceConfig); len(raw) != 0 && !bytes.Equal(raw, []byte("null")) {
		if err := gojson.Unmarshal(raw, &rc); err != nil {
			return Binding{}, fmt.Errorf("invalid resourceConfig: %w", err)
		}
	}

	path := rc.Path
	if path == "" && len(b.ResourcePath) > 0 {
		path = b.ResourcePath[0]
	}
	if path == "" {
		path = b.Collection.Name
	}
	if normalizePath(path) == "" {
		return Binding{}, fmt.Errorf("no resource path")
	}

	pointer := DefaultKeyPointer
	if len(b.Collection.Key) > 0 {
		pointer = b.Collection.Key[0]
	}
	if _, err := splitPointer(pointer); err != nil {
		return Binding{}, err
	}

	var resource ResourceConfig = PathMatch{Path: path}
	if header := strings.TrimSpace(rc.IDFromHeader); header != "" {
		resource = HeaderIdentity{Path: path, Header: http.CanonicalHeaderKey(header)}
	}

	return Binding{
		Index:      index,
		Collection: b.Collection.Name,
		KeyPointer: pointer,
		Resource:   resource,
	}, nil
}

// Match returns the first binding, in configured order, whose path equals path
func (bs Bindings) Match(path string) (Binding, bool) {
	path = normalizePath(path)
	for _, b := range bs {
		if b.Path() == path {
			return b, true
		}
	}
	return Binding{}, false
}

// normalizePath strips a single leading slash
func normalizePath(p string) string {
	return strings.TrimPrefix(p, "/")
}
