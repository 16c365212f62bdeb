package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkMessageFields(t *testing.T) {
	now := time.UnixMilli(1760000000000)

	data, err := Marshal(NewLink("u-1", "alice", "relay-abc", now))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"link","userId":"u-1","username":"alice","clientId":"relay-abc","timestamp":1760000000000}`, string(data))

	data, err = Marshal(NewUnlink(now))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"unlink","timestamp":1760000000000}`, string(data))
}

func TestDecodeLink(t *testing.T) {
	m, err := DecodeLink([]byte(`{"action":"unlink","timestamp":5,"extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, ActionUnlink, m.Action)

	_, err = DecodeLink([]byte(`{"action":"pair"}`))
	assert.True(t, errors.Is(err, ErrInvalidPayload))

	_, err = DecodeLink(nil)
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestDecodeStatus(t *testing.T) {
	s, err := DecodeStatus([]byte(`{"connected":true}`))
	require.NoError(t, err)
	assert.True(t, s.Connected)

	_, err = DecodeStatus([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNotification(t *testing.T) {
	now := time.UnixMilli(1760000000123)
	a := NewNotification("Title", "Body", "Mail", now)
	b := NewNotification("Title", "Body", "Mail", now)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID, "ids must be unique")
	assert.True(t, a.Time().Equal(now))

	data, err := Marshal(a)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, k := range []string{"id", "title", "content", "appName", "timestamp"} {
		assert.Contains(t, raw, k)
	}
}

func TestDecodeDiscoverResponse(t *testing.T) {
	r, err := DecodeDiscoverResponse([]byte(`{"available":true,"name":"Pixel"}`))
	require.NoError(t, err)
	assert.True(t, r.Available)
	assert.Equal(t, "Pixel", r.Name)
}
