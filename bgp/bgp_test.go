package bgp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMessageRoundTrip(t *testing.T) {
	open := NewOpenMessage(65001, 180, net.ParseIP("1.1.1.1"))
	msg := &Message{Body: open}
	b, err := msg.Serialize()
	require.NoError(t, err)

	h := &Header{}
	require.NoError(t, h.DecodeFromBytes(b[:BGP_HEADER_LENGTH]))
	assert.Equal(t, BGP_MSG_OPEN, h.Type)
	assert.EqualValues(t, len(b), h.Length)

	parsed, err := ParseBody(h, b[BGP_HEADER_LENGTH:])
	require.NoError(t, err)
	got := parsed.Body.(*OpenMessage)
	assert.EqualValues(t, 65001, got.AS)
	assert.EqualValues(t, 180, got.HoldTime)
	assert.Equal(t, "1.1.1.1", got.RouterID().String())
}

func TestKeepaliveRoundTrip(t *testing.T) {
	msg := &Message{Body: NewKeepaliveMessage()}
	b, err := msg.Serialize()
	require.NoError(t, err)
	assert.Equal(t, BGP_HEADER_LENGTH, len(b))

	h := &Header{}
	require.NoError(t, h.DecodeFromBytes(b))
	assert.Equal(t, BGP_MSG_KEEPALIVE, h.Type)
}

func TestNotificationRoundTrip(t *testing.T) {
	notif := NewNotificationMessage(BGP_ERROR_OPEN_MSG_ERROR, BGP_ERROR_SUB_BAD_PEER_AS, nil)
	msg := &Message{Body: notif}
	b, err := msg.Serialize()
	require.NoError(t, err)

	h := &Header{}
	require.NoError(t, h.DecodeFromBytes(b[:BGP_HEADER_LENGTH]))
	parsed, err := ParseBody(h, b[BGP_HEADER_LENGTH:])
	require.NoError(t, err)
	got := parsed.Body.(*NotificationMessage)
	assert.EqualValues(t, BGP_ERROR_OPEN_MSG_ERROR, got.ErrorCode)
	assert.EqualValues(t, BGP_ERROR_SUB_BAD_PEER_AS, got.ErrorSubcode)
}

func TestHeaderRejectsOverLength(t *testing.T) {
	h := &Header{}
	data := NewHeader(BGP_MSG_UPDATE, BGP_PACKET_MAX_LEN).Serialize()
	data[16] = 0xff
	data[17] = 0xff
	assert.Error(t, h.DecodeFromBytes(data))
}

func TestPeekLength(t *testing.T) {
	h := NewHeader(BGP_MSG_KEEPALIVE, 0)
	assert.Equal(t, BGP_HEADER_LENGTH, PeekLength(h.Serialize()))
	assert.Equal(t, 0, PeekLength(nil))
}
