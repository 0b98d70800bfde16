// Copyright (C) 2014 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"bytes"
	"math/rand"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zebra-rs/bgpd/bgp"
	"github.com/zebra-rs/bgpd/timer"
)

// fsm is the single mutation point for a Peer: it dispatches one event
// against the current state, then applies the universal post-condition
// (Idle² cleanup re-entry whenever a non-Idle state drops to Idle).
func fsm(peer *Peer, ev Event) {
	prev := peer.State.Current
	var next bgp.FSMState
	switch ev.Kind {
	case EventStart:
		next = fsmStart(peer)
	case EventStop:
		next = fsmStop(peer)
	case EventConnRetryTimerExpires:
		next = fsmConnRetryExpires(peer)
	case EventHoldTimerExpires:
		next = fsmHoldTimerExpires(peer)
	case EventKeepaliveTimerExpires:
		next = fsmKeepaliveTimerExpires(peer)
	case EventIdleHoldTimerExpires:
		next = fsmIdleHoldTimerExpires(peer)
	case EventConnected:
		next = fsmConnected(peer, ev.Conn)
	case EventConnFail:
		next = fsmConnFail(peer)
	case EventBGPOpen:
		next = fsmBGPOpen(peer, ev.Open)
	case EventKeepAliveMsg:
		next = fsmKeepAliveMsg(peer)
	case EventNotifMsg:
		next = fsmNotifMsg(peer)
	case EventUpdateMsg:
		next = fsmUpdateMsg(peer, ev.Update)
	default:
		peer.log().WithField("event", ev.Kind).Panic("unknown event kind")
	}

	if next != peer.State.Current {
		peer.log().WithFields(log.Fields{
			"old":   prev.String(),
			"new":   next.String(),
			"event": ev.Kind.String(),
		}).Debug("state changed")
	}
	peer.State.Current = next

	// Any transition landing in Idle from a non-Idle state re-runs the
	// Idle cleanup. fsmIdle2 is idempotent, so a double call here (e.g.
	// Stop already called it) is harmless (Open Question 5).
	if prev != bgp.BGP_FSM_IDLE && next == bgp.BGP_FSM_IDLE {
		fsmIdle2(peer)
	}
}

func (p *Peer) postFromTimer(kind EventKind) {
	p.post(Event{Kind: kind})
}

// --- Idle / Connect¹ ---

func (p *Peer) armIdleHold() {
	p.timer.idleHold = timer.New(IdleHoldTime*time.Second, timer.Once, func() {
		p.postFromTimer(EventIdleHoldTimerExpires)
	})
}

func fsmIdleHoldTimerExpires(peer *Peer) bgp.FSMState {
	if peer.State.Current != bgp.BGP_FSM_IDLE {
		return peer.State.Current
	}
	peer.timer.idleHold = nil
	return fsmStart(peer)
}

// fsmStart implements action Connect¹: cancel idle-hold, spawn the
// Connect task.
func fsmStart(peer *Peer) bgp.FSMState {
	switch peer.State.Current {
	case bgp.BGP_FSM_IDLE, bgp.BGP_FSM_CONNECT, bgp.BGP_FSM_ACTIVE:
		peer.timer.idleHold.Stop()
		peer.timer.idleHold = nil
		startConnectTask(peer)
		return bgp.BGP_FSM_CONNECT
	}
	return peer.State.Current
}

// fsmIdle2 is action Idle² (Stop cleanup): cancel reader/writer/all
// timers, drop the send channel, re-arm idle-hold so the peer
// auto-restarts unless administratively shut down. Idempotent: safe
// to call on an already-idle peer.
func fsmIdle2(peer *Peer) {
	peer.task.killAll()
	peer.timer.stopAll()
	peer.sendCh = nil
	if peer.conn != nil {
		peer.conn.Close()
		peer.conn = nil
	}
	if peer.AdminState == AdminStateUp {
		peer.armIdleHold()
	}
}

func fsmStop(peer *Peer) bgp.FSMState {
	fsmIdle2(peer)
	return bgp.BGP_FSM_IDLE
}

// --- Active³ / connect-retry backoff ---

// fsmConnFail is action Active³: drop reader/writer, (re-)arm
// connect-retry with exponential backoff (REDESIGN FLAG #4).
func fsmConnFail(peer *Peer) bgp.FSMState {
	switch peer.State.Current {
	case bgp.BGP_FSM_CONNECT, bgp.BGP_FSM_OPENSENT, bgp.BGP_FSM_OPENCONFIRM, bgp.BGP_FSM_ESTABLISHED:
		peer.task.killReaderWriter()
		peer.sendCh = nil
		if peer.conn != nil {
			peer.conn.Close()
			peer.conn = nil
		}
		peer.armConnectRetry()
		return bgp.BGP_FSM_ACTIVE
	}
	return peer.State.Current
}

func (p *Peer) armConnectRetry() {
	d := p.nextConnectRetryBackoff()
	p.timer.connectRetry.Stop()
	p.timer.connectRetry = timer.New(d, timer.Once, func() {
		p.postFromTimer(EventConnRetryTimerExpires)
	})
}

// nextConnectRetryBackoff doubles from MinConnectRetry to
// MaxConnectRetry seconds with +/-20% jitter; reset to the base on
// Established (fsmEnterEstablished resets connectRetrySecs to 0).
func (p *Peer) nextConnectRetryBackoff() time.Duration {
	if p.connectRetrySecs == 0 {
		p.connectRetrySecs = MinConnectRetry
	}
	secs := p.connectRetrySecs
	p.connectRetrySecs *= 2
	if p.connectRetrySecs > MaxConnectRetry {
		p.connectRetrySecs = MaxConnectRetry
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(float64(secs) * jitter * float64(time.Second))
}

func fsmConnRetryExpires(peer *Peer) bgp.FSMState {
	switch peer.State.Current {
	case bgp.BGP_FSM_CONNECT, bgp.BGP_FSM_ACTIVE:
		startConnectTask(peer)
		return bgp.BGP_FSM_CONNECT
	}
	return peer.State.Current
}

// --- Connected / OpenSent⁴ ---

// fsmConnected is action OpenSent⁴: take ownership of the socket, spin
// up the send channel and the Reader/Writer tasks, send Open. The
// Keepalive the distilled source sends eagerly here is deferred to the
// OpenConfirm transition instead (REDESIGN FLAG #2).
func fsmConnected(peer *Peer, conn net.Conn) bgp.FSMState {
	switch peer.State.Current {
	case bgp.BGP_FSM_CONNECT, bgp.BGP_FSM_ACTIVE:
		peer.task.connect = nil
		peer.conn = conn
		peer.sendCh = make(chan []byte, 64)
		startReaderTask(peer, conn)
		startWriterTask(peer, conn, peer.sendCh)
		peer.sendOpen()
		peer.armHoldTimer(OpenSentHoldTime * time.Second)
		return bgp.BGP_FSM_OPENSENT
	}
	return peer.State.Current
}

func (p *Peer) sendOpen() {
	open := bgp.NewOpenMessage(uint16(p.LocalAS), p.HoldTime, p.RouterID)
	p.writeMessage(&bgp.Message{Body: open})
	p.Counters.OpenSent++
}

func (p *Peer) sendKeepalive() {
	p.writeMessage(&bgp.Message{Body: bgp.NewKeepaliveMessage()})
	p.Counters.KeepaliveSent++
}

// sendNotification writes directly on the connection instead of going
// through the writer channel: every notification this daemon emits is
// immediately followed by the Idle cleanup killing the writer task, so
// an enqueued notification could be dropped before it reaches the
// wire. The write is bounded by a deadline so a stuck peer cannot
// stall the daemon loop.
func (p *Peer) sendNotification(code, subcode uint8, data []byte) {
	if p.conn == nil {
		return
	}
	msg := &bgp.Message{Body: bgp.NewNotificationMessage(code, subcode, data)}
	b, err := msg.Serialize()
	if err != nil {
		p.log().WithError(err).Warn("failed to serialize notification")
		return
	}
	p.conn.SetWriteDeadline(time.Now().Add(notificationWriteTimeout))
	if _, err := p.conn.Write(b); err != nil {
		p.log().WithError(err).Warn("failed to send notification")
		return
	}
	p.Counters.NotificationSent++
}

func (p *Peer) writeMessage(msg *bgp.Message) {
	if p.sendCh == nil {
		return
	}
	b, err := msg.Serialize()
	if err != nil {
		p.log().WithError(err).Warn("failed to serialize outgoing message")
		return
	}
	select {
	case p.sendCh <- b:
	default:
		p.log().Warn("writer channel full, dropping outgoing message")
	}
}

func (p *Peer) armHoldTimer(d time.Duration) {
	p.timer.hold.Stop()
	p.timer.hold = timer.New(d, timer.Once, func() {
		p.postFromTimer(EventHoldTimerExpires)
	})
}

// --- BGPOpen: RFC-correct path goes through OpenConfirm first ---

func fsmBGPOpen(peer *Peer, open *bgp.OpenMessage) bgp.FSMState {
	if peer.State.Current != bgp.BGP_FSM_OPENSENT {
		return peer.State.Current
	}
	peer.Counters.OpenRecv++

	if uint32(open.AS) != peer.PeerAS {
		peer.log().WithField("peer-as", open.AS).Warn("open rejected: AS mismatch")
		peer.sendNotification(bgp.BGP_ERROR_OPEN_MSG_ERROR, bgp.BGP_ERROR_SUB_BAD_PEER_AS, nil)
		return bgp.BGP_FSM_IDLE
	}
	want := peer.Address.To4()
	if want == nil || !bytes.Equal(open.BGPIdentifier[:], want) {
		peer.log().Warn("open rejected: router-id mismatch")
		peer.sendNotification(bgp.BGP_ERROR_OPEN_MSG_ERROR, bgp.BGP_ERROR_SUB_BAD_BGP_IDENTIFIER, nil)
		return bgp.BGP_FSM_IDLE
	}

	if open.HoldTime < peer.HoldTime {
		peer.HoldTime = open.HoldTime
	}
	peer.sendKeepalive()
	peer.armHoldTimer(time.Duration(peer.HoldTime) * time.Second)
	return bgp.BGP_FSM_OPENCONFIRM
}

// --- OpenConfirm -> Established⁵ ---

func fsmKeepAliveMsg(peer *Peer) bgp.FSMState {
	peer.Counters.KeepaliveRecv++
	switch peer.State.Current {
	case bgp.BGP_FSM_OPENCONFIRM:
		return fsmEnterEstablished(peer)
	case bgp.BGP_FSM_ESTABLISHED:
		return fsmRefreshHold(peer)
	}
	return peer.State.Current
}

// fsmEnterEstablished is action Established⁵: arm the periodic
// keepalive, restart the hold timer at the negotiated duration and
// reset the connect-retry backoff.
func fsmEnterEstablished(peer *Peer) bgp.FSMState {
	peer.timer.keepalive = timer.New(time.Duration(peer.Keepalive)*time.Second, timer.Periodic, func() {
		peer.postFromTimer(EventKeepaliveTimerExpires)
	})
	peer.armHoldTimer(time.Duration(peer.HoldTime) * time.Second)
	peer.connectRetrySecs = 0
	return bgp.BGP_FSM_ESTABLISHED
}

func fsmUpdateMsg(peer *Peer, _ *bgp.UpdateMessage) bgp.FSMState {
	peer.Counters.UpdateRecv++
	if peer.State.Current == bgp.BGP_FSM_ESTABLISHED {
		return fsmRefreshHold(peer)
	}
	return peer.State.Current
}

// Established⁸: any inbound packet refreshes the hold timer by
// exactly the configured duration (P4).
func fsmRefreshHold(peer *Peer) bgp.FSMState {
	if peer.timer.hold != nil {
		peer.timer.hold.Refresh()
	}
	return bgp.BGP_FSM_ESTABLISHED
}

// Established⁷: transmit a Keepalive and stay. The OpenConfirm cell is
// handled defensively here too, though under P2 the keepalive timer is
// only armed once Established, so it should not normally fire there.
func fsmKeepaliveTimerExpires(peer *Peer) bgp.FSMState {
	switch peer.State.Current {
	case bgp.BGP_FSM_ESTABLISHED:
		peer.sendKeepalive()
		return bgp.BGP_FSM_ESTABLISHED
	case bgp.BGP_FSM_OPENCONFIRM:
		peer.sendKeepalive()
		return fsmEnterEstablished(peer)
	}
	return peer.State.Current
}

// HoldTimerExpires: send Notification (Open Question 3), drop to
// Idle.
func fsmHoldTimerExpires(peer *Peer) bgp.FSMState {
	switch peer.State.Current {
	case bgp.BGP_FSM_OPENSENT, bgp.BGP_FSM_OPENCONFIRM, bgp.BGP_FSM_ESTABLISHED:
		peer.sendNotification(bgp.BGP_ERROR_HOLD_TIMER_EXPIRED, 0, nil)
		return bgp.BGP_FSM_IDLE
	}
	return peer.State.Current
}

func fsmNotifMsg(peer *Peer) bgp.FSMState {
	peer.Counters.NotificationRecv++
	switch peer.State.Current {
	case bgp.BGP_FSM_OPENSENT, bgp.BGP_FSM_OPENCONFIRM, bgp.BGP_FSM_ESTABLISHED:
		peer.log().Warn("peer sent notification")
		return bgp.BGP_FSM_IDLE
	}
	return peer.State.Current
}
