package router

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/dsjohal14/httpingest/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBindings(t *testing.T) Bindings {
	t.Helper()
	bindings, err := NewBindings([]protocol.Binding{
		{
			Collection:     protocol.Collection{Name: "aliceCo/test/webhook-data", Key: []string{"/_meta/webhookId"}},
			ResourceConfig: json.RawMessage(`{}`),
			ResourcePath:   []string{"aliceCo/test/webhook-data"},
		},
		{
			Collection:     protocol.Collection{Name: "aliceCo/test/webhook-data", Key: []string{"/_meta/webhookId"}},
			ResourceConfig: json.RawMessage(`{"path":"another.json","idFromHeader":"X-Webhook-Id"}`),
			ResourcePath:   []string{"/another.json"},
		},
	})
	require.NoError(t, err)
	return bindings
}

func fixedID(id string) Option {
	return WithIDGenerator(func() string { return id })
}

func decodeDoc(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestNewBindingsVariants(t *testing.T) {
	bindings := testBindings(t)

	require.Len(t, bindings, 2)
	assert.Equal(t, PathMatch{Path: "aliceCo/test/webhook-data"}, bindings[0].Resource)
	assert.Equal(t, HeaderIdentity{Path: "another.json", Header: "X-Webhook-Id"}, bindings[1].Resource)
	assert.Equal(t, 1, bindings[1].Index)
}

func TestNewBindingsFallbacks(t *testing.T) {
	bindings, err := NewBindings([]protocol.Binding{
		{Collection: protocol.Collection{Name: "acme/events"}},
		{Collection: protocol.Collection{Name: "acme/other", Key: []string{"/id"}}, ResourceConfig: json.RawMessage(`{"path":"/hooks/other"}`)},
	})
	require.NoError(t, err)

	assert.Equal(t, "acme/events", bindings[0].Path())
	assert.Equal(t, DefaultKeyPointer, bindings[0].KeyPointer)
	assert.Equal(t, "hooks/other", bindings[1].Path())
	assert.Equal(t, PathMatch{Path: "/hooks/other"}, bindings[1].Resource)
}

func TestNewBindingsResourceConfigFields(t *testing.T) {
	bindings, err := NewBindings([]protocol.Binding{{
		Collection:     protocol.Collection{Name: "acme/events"},
		ResourceConfig: json.RawMessage(`{"path":"hooks","idFromHeader":" x-delivery-id ","stream":"ignored"}`),
	}})
	require.NoError(t, err)

	r := New(bindings)
	require.Len(t, r.Bindings(), 1)
	assert.Equal(t, HeaderIdentity{Path: "hooks", Header: "X-Delivery-Id"}, r.Bindings()[0].Resource)
}

func TestNewBindingsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		binding protocol.Binding
	}{
		{"bad resource config", protocol.Binding{Collection: protocol.Collection{Name: "a"}, ResourceConfig: json.RawMessage(`[]`)}},
		{"no path", protocol.Binding{Collection: protocol.Collection{Name: "/"}}},
		{"bad key", protocol.Binding{Collection: protocol.Collection{Name: "a", Key: []string{"id"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBindings([]protocol.Binding{tt.binding})
			assert.Error(t, err)
		})
	}
}

func TestResolvePathBinding(t *testing.T) {
	r := New(testBindings(t), fixedID("generated-1"))
	received := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	res, err := r.Resolve(Delivery{
		Path:       "/aliceCo/test/webhook-data",
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(`{"x":1,"nested":{"y":[1,2]}}`),
		ReceivedAt: received,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Binding)
	assert.Equal(t, "generated-1", res.ID)
	assert.Equal(t, 1, res.Published)

	doc := decodeDoc(t, res.Doc)
	assert.Equal(t, float64(1), doc["x"])
	meta := doc["_meta"].(map[string]any)
	assert.Equal(t, "generated-1", meta["webhookId"])
	assert.Equal(t, "/aliceCo/test/webhook-data", meta["reqPath"])
	assert.Equal(t, "2026-10-18T12:00:00Z", meta["receivedAt"])
	assert.Equal(t, map[string]any{"content-type": "application/json"}, meta["headers"])
}

func TestResolveHeaderBinding(t *testing.T) {
	r := New(testBindings(t), WithIDGenerator(func() string {
		t.Fatal("generator must not be used for header identity")
		return ""
	}))

	header := http.Header{}
	header.Set("x-webhook-id", "same-id")
	header.Set("Authorization", "Bearer secret")

	res, err := r.Resolve(Delivery{
		Path:   "another.json",
		Header: header,
		Query:  url.Values{"source": {"github", "ignored"}},
		Body:   []byte(`{"docIndex":3}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Binding)
	assert.Equal(t, "same-id", res.ID)

	meta := decodeDoc(t, res.Doc)["_meta"].(map[string]any)
	assert.Equal(t, "same-id", meta["webhookId"])
	assert.Equal(t, map[string]any{"source": "github"}, meta["query"])
	headers := meta["headers"].(map[string]any)
	assert.NotContains(t, headers, "authorization")
	assert.Equal(t, "same-id", headers["x-webhook-id"])
}

func TestResolveIsDeterministic(t *testing.T) {
	r := New(testBindings(t))
	header := http.Header{"X-Webhook-Id": {"abc"}}
	d := Delivery{Path: "/another.json", Header: header, Body: []byte(`{"b":2,"a":1}`)}

	first, err := r.Resolve(d)
	require.NoError(t, err)
	second, err := r.Resolve(d)
	require.NoError(t, err)

	assert.Equal(t, first.Binding, second.Binding)
	assert.Equal(t, string(first.Doc), string(second.Doc))
}

func TestResolveGeneratedIDsAreDistinct(t *testing.T) {
	r := New(testBindings(t))
	d := Delivery{Path: "aliceCo/test/webhook-data", Body: []byte(`{}`)}

	a, err := r.Resolve(d)
	require.NoError(t, err)
	b, err := r.Resolve(d)
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestResolveFirstMatchWins(t *testing.T) {
	bindings, err := NewBindings([]protocol.Binding{
		{Collection: protocol.Collection{Name: "first"}, ResourceConfig: json.RawMessage(`{"path":"shared"}`)},
		{Collection: protocol.Collection{Name: "second"}, ResourceConfig: json.RawMessage(`{"path":"/shared"}`)},
	})
	require.NoError(t, err)

	res, err := New(bindings, fixedID("x")).Resolve(Delivery{Path: "/shared"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Binding)
	assert.Equal(t, "first", res.Collection)
}

func TestResolveErrors(t *testing.T) {
	r := New(testBindings(t), fixedID("x"))

	tests := []struct {
		name     string
		delivery Delivery
		kind     error
		status   int
	}{
		{"unknown path", Delivery{Path: "/nope", Body: []byte(`{}`)}, ErrUnknownResource, http.StatusNotFound},
		{"missing header", Delivery{Path: "/another.json", Body: []byte(`{}`)}, ErrMissingIdentityHeader, http.StatusBadRequest},
		{"blank header", Delivery{Path: "/another.json", Header: http.Header{"X-Webhook-Id": {"  "}}}, ErrMissingIdentityHeader, http.StatusBadRequest},
		{"invalid json", Delivery{Path: "/aliceCo/test/webhook-data", Body: []byte(`{"x":`)}, ErrMalformedBody, http.StatusBadRequest},
		{"not an object", Delivery{Path: "/aliceCo/test/webhook-data", Body: []byte(`[1]`)}, ErrMalformedBody, http.StatusBadRequest},
		{"trailing data", Delivery{Path: "/aliceCo/test/webhook-data", Body: []byte(`{} {}`)}, ErrMalformedBody, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.delivery)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var rerr *Error
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.status, rerr.StatusCode())
		})
	}
}

func TestResolveEmptyBody(t *testing.T) {
	res, err := New(testBindings(t), fixedID("empty")).Resolve(Delivery{Path: "aliceCo/test/webhook-data"})
	require.NoError(t, err)

	meta := decodeDoc(t, res.Doc)["_meta"].(map[string]any)
	assert.Equal(t, "empty", meta["webhookId"])
}

func TestSetPointer(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"keep": true}}

	require.NoError(t, setPointer(doc, "/a/b~1c/d~0e", "v"))
	assert.Equal(t, map[string]any{
		"keep": true,
		"b/c":  map[string]any{"d~e": "v"},
	}, doc["a"])

	doc = map[string]any{"a": "scalar"}
	assert.Error(t, setPointer(doc, "/a/b", "v"))
}
