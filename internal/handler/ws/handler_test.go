package ws

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	id     string
	subbed []string
	unsub  []string
}

func (f *fakeSubscriber) ID() string                    { return f.id }
func (f *fakeSubscriber) Subscribe(analysisID string)   { f.subbed = append(f.subbed, analysisID) }
func (f *fakeSubscriber) Unsubscribe(analysisID string) { f.unsub = append(f.unsub, analysisID) }

func decodeResponse(t *testing.T, raw []byte) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestHandlePing(t *testing.T) {
	h := NewHandler(zerolog.Nop())
	sub := &fakeSubscriber{id: "c1"}

	raw, err := h.Handle(sub, TypePing, nil)
	require.NoError(t, err)
	assert.Equal(t, TypePong, decodeResponse(t, raw).Type)
}

func TestHandleSubscribe(t *testing.T) {
	h := NewHandler(zerolog.Nop())
	sub := &fakeSubscriber{id: "c1"}

	raw, err := h.Handle(sub, TypeSubscribe, json.RawMessage(`{"analysis_id":"a-42"}`))
	require.NoError(t, err)

	resp := decodeResponse(t, raw)
	assert.Equal(t, TypeSubscribe, resp.Type)
	assert.Equal(t, []string{"a-42"}, sub.subbed)
}

func TestHandleSubscribeMissingID(t *testing.T) {
	h := NewHandler(zerolog.Nop())
	sub := &fakeSubscriber{id: "c1"}

	raw, err := h.Handle(sub, TypeSubscribe, json.RawMessage(`{}`))
	require.NoError(t, err)

	assert.Equal(t, TypeError, decodeResponse(t, raw).Type)
	assert.Empty(t, sub.subbed)
}

func TestHandleUnsubscribe(t *testing.T) {
	h := NewHandler(zerolog.Nop())
	sub := &fakeSubscriber{id: "c1"}

	raw, err := h.Handle(sub, TypeUnsubscribe, json.RawMessage(`{"analysis_id":"a-42"}`))
	require.NoError(t, err)

	assert.Equal(t, TypeUnsubscribe, decodeResponse(t, raw).Type)
	assert.Equal(t, []string{"a-42"}, sub.unsub)
}

func TestHandleUnknownType(t *testing.T) {
	h := NewHandler(zerolog.Nop())
	sub := &fakeSubscriber{id: "c1"}

	raw, err := h.Handle(sub, "bogus", nil)
	require.NoError(t, err)
	assert.Equal(t, TypeError, decodeResponse(t, raw).Type)
}
