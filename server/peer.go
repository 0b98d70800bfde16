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

// Package server implements the per-neighbor BGP finite-state machine,
// its timers and its three asynchronous I/O tasks, and the BgpInstance
// mailbox that serializes every Peer's events onto one executor.
package server

import (
	"encoding/binary"
	"net"

	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"github.com/zebra-rs/bgpd/bgp"
	"github.com/zebra-rs/bgpd/timer"
)

const (
	IdleHoldTime      = 5
	OpenSentHoldTime  = 240
	DefaultHoldTime   = 180
	DefaultKeepalive  = 30
	MinConnectRetry   = 5
	MaxConnectRetry   = 120
)

// PeerTask bundles the up-to-one-each Connect/Reader/Writer goroutines
// a Peer owns, matching spec §3's invariant: at most one of each, and
// reader/writer exist together iff a socket is open.
type PeerTask struct {
	connect *tomb.Tomb
	reader  *tomb.Tomb
	writer  *tomb.Tomb
}

func (t *PeerTask) killAll() {
	if t.connect != nil {
		t.connect.Kill(nil)
		t.connect = nil
	}
	if t.reader != nil {
		t.reader.Kill(nil)
		t.reader = nil
	}
	if t.writer != nil {
		t.writer.Kill(nil)
		t.writer = nil
	}
}

func (t *PeerTask) killReaderWriter() {
	if t.reader != nil {
		t.reader.Kill(nil)
		t.reader = nil
	}
	if t.writer != nil {
		t.writer.Kill(nil)
		t.writer = nil
	}
}

// PeerTimer owns the six timer slots spec §3 lists; unused ones
// (min-as-origin, min-route-adv) are reserved for future policy work
// and are never armed by this implementation.
type PeerTimer struct {
	idleHold     *timer.Timer
	connectRetry *timer.Timer
	hold         *timer.Timer
	keepalive    *timer.Timer
	minASOrigin  *timer.Timer
	minRouteAdv  *timer.Timer
}

func (t *PeerTimer) stopAll() {
	t.idleHold.Stop()
	t.connectRetry.Stop()
	t.hold.Stop()
	t.keepalive.Stop()
	t.idleHold = nil
	t.connectRetry = nil
	t.hold = nil
	t.keepalive = nil
}

// AdminState mirrors the teacher's ADMIN_STATE_{UP,DOWN} so a single
// neighbor can be administratively shut down without being removed
// from the configuration tree.
type AdminState int

const (
	AdminStateUp AdminState = iota
	AdminStateDown
)

func (s AdminState) String() string {
	if s == AdminStateDown {
		return "ADMIN_STATE_DOWN"
	}
	return "ADMIN_STATE_UP"
}

// MessageCounters tallies messages sent/received per type, the
// supplemented observability feature grounded in the teacher's
// bgpMessageStateUpdate.
type MessageCounters struct {
	OpenSent, OpenRecv                 uint64
	UpdateSent, UpdateRecv             uint64
	NotificationSent, NotificationRecv uint64
	KeepaliveSent, KeepaliveRecv       uint64
}

// Peer is one configured BGP neighbor. All mutation happens on the
// BgpInstance's single mailbox-draining goroutine (spec §5); tasks and
// timers only ever post events back into that mailbox.
type Peer struct {
	Ident      uint32 // neighbor address as a big-endian uint32 key
	Address    net.IP
	LocalAS    uint32
	PeerAS     uint32
	RouterID   net.IP
	HoldTime   uint16
	Keepalive  uint16
	Passive    bool
	AdminState AdminState

	State FSMStateHolder

	task  PeerTask
	timer PeerTimer

	conn   net.Conn
	sendCh chan []byte // single-producer (FSM)/single-consumer (writer)

	// connectRetrySecs tracks the current connect-retry backoff base,
	// doubling on each ConnFail and reset to MinConnectRetry once the
	// session reaches Established (supplemented feature, REDESIGN FLAG #4).
	connectRetrySecs int

	Counters MessageCounters

	mailbox chan<- InstanceMsg
}

// FSMStateHolder is a thin wrapper so tests can observe state changes
// without reaching into the unexported field directly.
type FSMStateHolder struct {
	Current bgp.FSMState
}

func Ident(addr net.IP) uint32 {
	v4 := addr.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

// NewPeer creates a peer in Idle. An active (non-passive) peer gets
// its idle-hold timer armed immediately, per spec §3 Lifecycle.
func NewPeer(address net.IP, localAS, peerAS uint32, routerID net.IP, passive bool, mailbox chan<- InstanceMsg) *Peer {
	p := &Peer{
		Ident:     Ident(address),
		Address:   address,
		LocalAS:   localAS,
		PeerAS:    peerAS,
		RouterID:  routerID,
		HoldTime:  DefaultHoldTime,
		Keepalive: DefaultKeepalive,
		Passive:   passive,
		State:     FSMStateHolder{Current: bgp.BGP_FSM_IDLE},
		mailbox:   mailbox,
	}
	if !passive {
		p.armIdleHold()
	}
	return p
}

func (p *Peer) log() *log.Entry {
	return log.WithFields(log.Fields{
		"Topic": "Peer",
		"Key":   p.Address.String(),
		"State": p.State.Current.String(),
	})
}

func (p *Peer) post(ev Event) {
	ev.Ident = p.Ident
	select {
	case p.mailbox <- InstanceMsg{Type: InstanceMsgEvent, Event: ev}:
	default:
		// Bounded mailbox, explicit overflow policy (spec §9): when the
		// shared daemon mailbox is saturated the event is dropped rather
		// than stalling the caller, and the next timer or read picks
		// the session back up.
		p.log().Warn("daemon mailbox full, dropping event")
	}
}
