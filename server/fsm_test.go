package server

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zebra-rs/bgpd/bgp"
	"github.com/zebra-rs/bgpd/config"
)

func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	mailbox := make(chan InstanceMsg, 256)
	p := NewPeer(net.ParseIP("10.0.0.2"), 65001, 65002, net.ParseIP("1.1.1.1"), false, mailbox)
	t.Cleanup(func() {
		p.AdminState = AdminStateDown
		fsm(p, Event{Kind: EventStop})
	})
	return p
}

// remoteReader drains framed BGP messages off the far end of a pipe on
// its own goroutine, since net.Pipe writes block until read.
type remoteReader struct {
	conn net.Conn
	msgs chan *bgp.Message
}

func newRemoteReader(conn net.Conn) *remoteReader {
	r := &remoteReader{conn: conn, msgs: make(chan *bgp.Message, 16)}
	go func() {
		defer close(r.msgs)
		for {
			header := make([]byte, bgp.BGP_HEADER_LENGTH)
			if _, err := io.ReadFull(conn, header); err != nil {
				return
			}
			h := &bgp.Header{}
			if h.DecodeFromBytes(header) != nil {
				return
			}
			body := make([]byte, int(h.Length)-bgp.BGP_HEADER_LENGTH)
			if _, err := io.ReadFull(conn, body); err != nil {
				return
			}
			msg, err := bgp.ParseBody(h, body)
			if err != nil {
				return
			}
			r.msgs <- msg
		}
	}()
	return r
}

func (r *remoteReader) next(t *testing.T) *bgp.Message {
	t.Helper()
	select {
	case msg, ok := <-r.msgs:
		require.True(t, ok, "remote closed before expected message")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message from peer")
		return nil
	}
}

// connectPeer drives the peer to OpenSent over a fresh pipe and
// returns the remote side's reader.
func connectPeer(t *testing.T, p *Peer) *remoteReader {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })
	r := newRemoteReader(remote)

	p.State.Current = bgp.BGP_FSM_CONNECT
	fsm(p, Event{Kind: EventConnected, Conn: local})
	require.Equal(t, bgp.BGP_FSM_OPENSENT, p.State.Current)
	return r
}

// establishPeer runs the full handshake through Established.
func establishPeer(t *testing.T, p *Peer) *remoteReader {
	t.Helper()
	r := connectPeer(t, p)
	r.next(t) // our Open

	open := bgp.NewOpenMessage(65002, 180, net.ParseIP("10.0.0.2"))
	fsm(p, Event{Kind: EventBGPOpen, Open: open})
	require.Equal(t, bgp.BGP_FSM_OPENCONFIRM, p.State.Current)
	r.next(t) // our Keepalive

	fsm(p, Event{Kind: EventKeepAliveMsg})
	require.Equal(t, bgp.BGP_FSM_ESTABLISHED, p.State.Current)
	return r
}

// Scenario 1: a clean Open handshake lands in Established with the
// keepalive and hold timers armed.
func TestOpenHandshake(t *testing.T) {
	p := newTestPeer(t)
	r := connectPeer(t, p)

	// P1: one reader, one writer, exactly when a session is up.
	assert.NotNil(t, p.task.reader)
	assert.NotNil(t, p.task.writer)
	assert.NotNil(t, p.sendCh)

	msg := r.next(t)
	open, ok := msg.Body.(*bgp.OpenMessage)
	require.True(t, ok, "first message must be Open, got %T", msg.Body)
	assert.EqualValues(t, 65001, open.AS)
	assert.EqualValues(t, DefaultHoldTime, open.HoldTime)
	assert.Equal(t, "1.1.1.1", open.RouterID().String())

	fsm(p, Event{Kind: EventBGPOpen, Open: bgp.NewOpenMessage(65002, 180, net.ParseIP("10.0.0.2"))})
	require.Equal(t, bgp.BGP_FSM_OPENCONFIRM, p.State.Current)
	_, ok = r.next(t).Body.(*bgp.KeepaliveMessage)
	assert.True(t, ok, "Keepalive must follow the accepted Open")

	fsm(p, Event{Kind: EventKeepAliveMsg})
	assert.Equal(t, bgp.BGP_FSM_ESTABLISHED, p.State.Current)
	// P2: keepalive armed iff Established.
	assert.NotNil(t, p.timer.keepalive)
	assert.NotNil(t, p.timer.hold)
}

// Scenario 2: an Open with the wrong ASN is answered with a
// Notification (code 2, subcode 2) and the peer drops to Idle with
// idle-hold re-armed.
func TestOpenASNMismatch(t *testing.T) {
	p := newTestPeer(t)
	r := connectPeer(t, p)
	r.next(t) // our Open

	fsm(p, Event{Kind: EventBGPOpen, Open: bgp.NewOpenMessage(65003, 180, net.ParseIP("10.0.0.2"))})

	assert.Equal(t, bgp.BGP_FSM_IDLE, p.State.Current)
	notif, ok := r.next(t).Body.(*bgp.NotificationMessage)
	require.True(t, ok)
	assert.EqualValues(t, bgp.BGP_ERROR_OPEN_MSG_ERROR, notif.ErrorCode)
	assert.EqualValues(t, bgp.BGP_ERROR_SUB_BAD_PEER_AS, notif.ErrorSubcode)

	// Idle cleanup ran: tasks gone, idle-hold re-armed.
	assert.Nil(t, p.task.reader)
	assert.Nil(t, p.task.writer)
	assert.Nil(t, p.sendCh)
	assert.NotNil(t, p.timer.idleHold)
}

func TestOpenRouterIDMismatch(t *testing.T) {
	p := newTestPeer(t)
	r := connectPeer(t, p)
	r.next(t) // our Open

	fsm(p, Event{Kind: EventBGPOpen, Open: bgp.NewOpenMessage(65002, 180, net.ParseIP("9.9.9.9"))})

	assert.Equal(t, bgp.BGP_FSM_IDLE, p.State.Current)
	notif, ok := r.next(t).Body.(*bgp.NotificationMessage)
	require.True(t, ok)
	assert.EqualValues(t, bgp.BGP_ERROR_SUB_BAD_BGP_IDENTIFIER, notif.ErrorSubcode)
}

// Scenario 3: hold-timer expiry in Established notifies the peer
// (code 4) and drops to Idle.
func TestHoldTimerExpiry(t *testing.T) {
	p := newTestPeer(t)
	r := establishPeer(t, p)

	fsm(p, Event{Kind: EventHoldTimerExpires})

	assert.Equal(t, bgp.BGP_FSM_IDLE, p.State.Current)
	notif, ok := r.next(t).Body.(*bgp.NotificationMessage)
	require.True(t, ok)
	assert.EqualValues(t, bgp.BGP_ERROR_HOLD_TIMER_EXPIRED, notif.ErrorCode)
	assert.Nil(t, p.timer.keepalive)
	assert.Nil(t, p.task.reader)
	assert.Nil(t, p.task.writer)
}

// Scenario 4: EOF in Established falls back to Active with I/O tasks
// gone and connect-retry armed; retry expiry re-enters Connect.
func TestConnFailRecovery(t *testing.T) {
	p := newTestPeer(t)
	establishPeer(t, p)

	fsm(p, Event{Kind: EventConnFail})

	assert.Equal(t, bgp.BGP_FSM_ACTIVE, p.State.Current)
	assert.Nil(t, p.task.reader)
	assert.Nil(t, p.task.writer)
	assert.Nil(t, p.sendCh)
	assert.NotNil(t, p.timer.connectRetry)

	fsm(p, Event{Kind: EventConnRetryTimerExpires})
	assert.Equal(t, bgp.BGP_FSM_CONNECT, p.State.Current)
	assert.NotNil(t, p.task.connect)
}

// P3: Stop from any state cancels everything and re-arms idle-hold.
func TestStopCleansUpAndRearmsIdleHold(t *testing.T) {
	p := newTestPeer(t)
	establishPeer(t, p)

	fsm(p, Event{Kind: EventStop})

	assert.Equal(t, bgp.BGP_FSM_IDLE, p.State.Current)
	assert.Nil(t, p.task.reader)
	assert.Nil(t, p.task.writer)
	assert.Nil(t, p.task.connect)
	assert.Nil(t, p.timer.hold)
	assert.Nil(t, p.timer.keepalive)
	assert.Nil(t, p.sendCh)
	assert.NotNil(t, p.timer.idleHold)
}

// P4: inbound Keepalive and Update both refresh the session instead of
// disturbing it.
func TestInboundPacketsRefreshEstablished(t *testing.T) {
	p := newTestPeer(t)
	establishPeer(t, p)

	fsm(p, Event{Kind: EventKeepAliveMsg})
	assert.Equal(t, bgp.BGP_FSM_ESTABLISHED, p.State.Current)
	assert.EqualValues(t, 2, p.Counters.KeepaliveRecv)

	fsm(p, Event{Kind: EventUpdateMsg, Update: &bgp.UpdateMessage{}})
	assert.Equal(t, bgp.BGP_FSM_ESTABLISHED, p.State.Current)
	assert.EqualValues(t, 1, p.Counters.UpdateRecv)
	assert.NotNil(t, p.timer.hold)
}

func TestNotificationDropsToIdle(t *testing.T) {
	p := newTestPeer(t)
	establishPeer(t, p)

	fsm(p, Event{Kind: EventNotifMsg, Notif: bgp.NewNotificationMessage(bgp.BGP_ERROR_CEASE, 0, nil)})
	assert.Equal(t, bgp.BGP_FSM_IDLE, p.State.Current)
}

func TestHoldTimeNegotiatesDown(t *testing.T) {
	p := newTestPeer(t)
	r := connectPeer(t, p)
	r.next(t)

	fsm(p, Event{Kind: EventBGPOpen, Open: bgp.NewOpenMessage(65002, 90, net.ParseIP("10.0.0.2"))})
	assert.Equal(t, bgp.BGP_FSM_OPENCONFIRM, p.State.Current)
	assert.EqualValues(t, 90, p.HoldTime)
}

func TestConnectRetryBackoffDoublesAndCaps(t *testing.T) {
	p := newTestPeer(t)
	seen := make([]time.Duration, 0, 8)
	for i := 0; i < 8; i++ {
		seen = append(seen, p.nextConnectRetryBackoff())
	}
	// Jitter is +/-20%, so compare against generous bounds.
	minBound := float64(MinConnectRetry) * 1.3
	assert.Less(t, seen[0], time.Duration(minBound)*time.Second)
	last := seen[len(seen)-1]
	assert.Greater(t, last, time.Duration(float64(MaxConnectRetry)*0.7)*time.Second)
	assert.Less(t, last, time.Duration(float64(MaxConnectRetry)*1.3)*time.Second)
}

func TestInstanceReconcilesNeighbors(t *testing.T) {
	b := NewBgpInstance(65001, net.ParseIP("1.1.1.1"), nil)

	set := config.BgpConfigSet{}
	set.Bgp.Global = config.Global{AS: 65001, RouterID: "1.1.1.1"}
	set.Bgp.Neighbors = []config.Neighbor{
		{Address: "10.0.0.2", PeerAS: 65002},
		{Address: "10.0.0.3", PeerAS: 65003, Shutdown: true},
	}
	b.applyConfig(set)

	p2, ok := b.Peer(net.ParseIP("10.0.0.2"))
	require.True(t, ok)
	assert.Equal(t, AdminStateUp, p2.AdminState)
	assert.NotNil(t, p2.timer.idleHold)

	p3, ok := b.Peer(net.ParseIP("10.0.0.3"))
	require.True(t, ok)
	assert.Equal(t, AdminStateDown, p3.AdminState)
	assert.Nil(t, p3.timer.idleHold)

	// Second snapshot drops one neighbor and re-enables the other.
	set.Bgp.Neighbors = []config.Neighbor{
		{Address: "10.0.0.3", PeerAS: 65003},
	}
	b.applyConfig(set)

	_, ok = b.Peer(net.ParseIP("10.0.0.2"))
	assert.False(t, ok)
	p3, _ = b.Peer(net.ParseIP("10.0.0.3"))
	assert.Equal(t, AdminStateUp, p3.AdminState)
	assert.NotNil(t, p3.timer.idleHold)

	b.applyConfig(config.BgpConfigSet{})
	assert.Empty(t, b.peers)
}

func TestSummaryListsPeers(t *testing.T) {
	b := NewBgpInstance(65001, net.ParseIP("1.1.1.1"), nil)
	set := config.BgpConfigSet{}
	set.Bgp.Global = config.Global{AS: 65001, RouterID: "1.1.1.1"}
	set.Bgp.Neighbors = []config.Neighbor{{Address: "10.0.0.2", PeerAS: 65002}}
	b.applyConfig(set)

	lines := b.summaryLines()
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Contains(t, lines[0], "65001")
	assert.Contains(t, lines[2], "10.0.0.2")
	assert.Contains(t, lines[2], "Idle")

	b.applyConfig(config.BgpConfigSet{})
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) HandleUpdate(peerIdent uint32, withdrawn, attrs, nlri []byte) {
	m.Called(peerIdent, withdrawn, attrs, nlri)
}

func TestUpdateDispatchesToSink(t *testing.T) {
	sink := &mockSink{}
	b := NewBgpInstance(65001, net.ParseIP("1.1.1.1"), sink)
	set := config.BgpConfigSet{}
	set.Bgp.Global = config.Global{AS: 65001, RouterID: "1.1.1.1"}
	set.Bgp.Neighbors = []config.Neighbor{{Address: "10.0.0.2", PeerAS: 65002}}
	b.applyConfig(set)
	t.Cleanup(func() { b.applyConfig(config.BgpConfigSet{}) })

	p, ok := b.Peer(net.ParseIP("10.0.0.2"))
	require.True(t, ok)
	p.State.Current = bgp.BGP_FSM_ESTABLISHED

	nlri := []byte{24, 10, 1, 1}
	sink.On("HandleUpdate", p.Ident, mock.Anything, mock.Anything, nlri).Return()
	b.dispatchEvent(Event{Kind: EventUpdateMsg, Ident: p.Ident, Update: &bgp.UpdateMessage{NLRI: nlri}})
	sink.AssertExpectations(t)
}
