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
	"fmt"
	"net"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/zebra-rs/bgpd/bgp"
	"github.com/zebra-rs/bgpd/config"
)

// RIBSink is the out-of-scope downstream collaborator that would turn
// accepted Update messages into forwarding-table changes. This
// daemon's job ends at the FSM/Update-parsing boundary; a sink is
// optional so the instance runs standalone in tests.
type RIBSink interface {
	HandleUpdate(peerIdent uint32, withdrawn, attrs, nlri []byte)
}

// BgpInstance is the single-goroutine executor that owns every Peer's
// mutable state. All Peer mutation happens inside Run(), reached only
// by draining mailbox, so no lock is needed across FSM state (spec
// §5's mailbox/single-mutator model).
type BgpInstance struct {
	LocalAS  uint32
	RouterID net.IP

	peers   map[uint32]*Peer
	mailbox chan InstanceMsg
	sink    RIBSink

	quit chan struct{}
}

func NewBgpInstance(localAS uint32, routerID net.IP, sink RIBSink) *BgpInstance {
	return &BgpInstance{
		LocalAS:  localAS,
		RouterID: routerID,
		peers:    make(map[uint32]*Peer),
		mailbox:  make(chan InstanceMsg, 4096),
		sink:     sink,
		quit:     make(chan struct{}),
	}
}

func (b *BgpInstance) log() *log.Entry {
	return log.WithFields(log.Fields{"Topic": "Instance"})
}

// Mailbox exposes the send side so the Connect/Reader/Writer tasks
// spawned for peers this instance owns can post events back.
func (b *BgpInstance) Mailbox() chan<- InstanceMsg { return b.mailbox }

// Run drains the mailbox until Stop is called. It is meant to run on
// its own goroutine; every Peer mutation below happens here and only
// here.
func (b *BgpInstance) Run() {
	for {
		select {
		case msg := <-b.mailbox:
			b.dispatch(msg)
		case <-b.quit:
			return
		}
	}
}

func (b *BgpInstance) Stop() {
	close(b.quit)
}

// PushConfig hands a committed configuration snapshot to the instance
// goroutine, which reconciles its peer set against it. This is the
// ConfigManager snapshot-subscriber entry point; it blocks rather than
// drops, configuration must not be lost.
func (b *BgpInstance) PushConfig(set config.BgpConfigSet) {
	b.mailbox <- InstanceMsg{Type: InstanceMsgConfig, Config: &set}
}

// PushLine hands one commit-diff line to the instance goroutine; the
// lines narrate what changed, the snapshot carries the new state, so
// these are logged for the operator trail and nothing more.
func (b *BgpInstance) PushLine(line string) {
	b.mailbox <- InstanceMsg{Type: InstanceMsgConfigLine, Line: line}
}

func (b *BgpInstance) dispatch(msg InstanceMsg) {
	switch msg.Type {
	case InstanceMsgEvent:
		b.dispatchEvent(msg.Event)
	case InstanceMsgConfigLine:
		b.log().WithField("line", msg.Line).Debug("config line applied")
	case InstanceMsgConfig:
		b.applyConfig(*msg.Config)
	case InstanceMsgShow:
		msg.Reply <- b.show(msg.Query)
		close(msg.Reply)
	}
}

func (b *BgpInstance) dispatchEvent(ev Event) {
	peer, ok := b.peers[ev.Ident]
	if !ok {
		return
	}
	fsm(peer, ev)
	if ev.Kind == EventUpdateMsg && b.sink != nil && ev.Update != nil {
		b.sink.HandleUpdate(peer.Ident, ev.Update.WithdrawnRoutes, ev.Update.PathAttributes, ev.Update.NLRI)
	}
}

// applyConfig reconciles the live peer set against a committed
// snapshot: new neighbors are materialized, removed ones are torn
// down, and shutdown/peer-as changes are applied to survivors.
func (b *BgpInstance) applyConfig(set config.BgpConfigSet) {
	b.LocalAS = set.Bgp.Global.AS
	if rid := net.ParseIP(set.Bgp.Global.RouterID); rid != nil {
		b.RouterID = rid
	}

	desired := make(map[uint32]config.Neighbor, len(set.Bgp.Neighbors))
	for _, n := range set.Bgp.Neighbors {
		addr := net.ParseIP(n.Address)
		if addr == nil || addr.To4() == nil {
			b.log().WithField("address", n.Address).Warn("ignoring non-IPv4 neighbor")
			continue
		}
		desired[Ident(addr)] = n
	}

	for ident, peer := range b.peers {
		if _, ok := desired[ident]; !ok {
			b.removePeer(peer)
		}
	}

	for ident, n := range desired {
		peer, ok := b.peers[ident]
		if !ok {
			b.addPeer(n)
			continue
		}
		if peer.PeerAS != n.PeerAS || peer.LocalAS != b.LocalAS || !peer.RouterID.Equal(b.RouterID) {
			// Session identity changed; restart from Idle with the new
			// parameters.
			peer.PeerAS = n.PeerAS
			peer.LocalAS = b.LocalAS
			peer.RouterID = b.RouterID
			fsm(peer, Event{Kind: EventStop, Ident: ident})
		}
		b.setAdminState(peer, n.Shutdown)
	}
}

func (b *BgpInstance) addPeer(n config.Neighbor) {
	addr := net.ParseIP(n.Address)
	p := NewPeer(addr, b.LocalAS, n.PeerAS, b.RouterID, n.Passive, b.mailbox)
	if n.Shutdown {
		p.AdminState = AdminStateDown
		p.timer.idleHold.Stop()
		p.timer.idleHold = nil
	}
	b.peers[p.Ident] = p
	b.log().WithFields(log.Fields{
		"Key":     n.Address,
		"peer-as": n.PeerAS,
	}).Info("neighbor added")
}

// removePeer tears a deconfigured neighbor down: an Established
// session gets a Cease notification first, then the Stop cleanup runs
// with the admin state forced down so idle-hold is not re-armed for a
// peer that no longer exists.
func (b *BgpInstance) removePeer(peer *Peer) {
	if peer.State.Current == bgp.BGP_FSM_ESTABLISHED {
		peer.sendNotification(bgp.BGP_ERROR_CEASE, bgp.BGP_ERROR_SUB_PEER_DECONFIGURED, nil)
	}
	peer.AdminState = AdminStateDown
	fsm(peer, Event{Kind: EventStop, Ident: peer.Ident})
	delete(b.peers, peer.Ident)
	b.log().WithField("Key", peer.Address.String()).Info("neighbor removed")
}

// setAdminState applies a shutdown toggle: down cancels everything the
// way the teacher's ADMIN_STATE_DOWN handling does (Cease with the
// administrative-shutdown subcode), up re-arms idle-hold so the FSM
// restarts on its own.
func (b *BgpInstance) setAdminState(peer *Peer, shutdown bool) {
	switch {
	case shutdown && peer.AdminState == AdminStateUp:
		if peer.State.Current == bgp.BGP_FSM_ESTABLISHED {
			peer.sendNotification(bgp.BGP_ERROR_CEASE, bgp.BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN, nil)
		}
		peer.AdminState = AdminStateDown
		fsm(peer, Event{Kind: EventStop, Ident: peer.Ident})
	case !shutdown && peer.AdminState == AdminStateDown:
		peer.AdminState = AdminStateUp
		if peer.State.Current == bgp.BGP_FSM_IDLE && peer.timer.idleHold == nil && !peer.Passive {
			peer.armIdleHold()
		}
	}
}

// AddNeighbor materializes a configured neighbor as a Peer. Calling
// this from outside Run's goroutine is only safe before Run starts;
// afterward, route configuration through PushConfig.
func (b *BgpInstance) AddNeighbor(address net.IP, peerAS uint32, passive bool) *Peer {
	p := NewPeer(address, b.LocalAS, peerAS, b.RouterID, passive, b.mailbox)
	b.peers[p.Ident] = p
	return p
}

// RemoveNeighbor runs the peer's teardown and drops it from the
// instance. Same goroutine caveat as AddNeighbor.
func (b *BgpInstance) RemoveNeighbor(address net.IP) {
	if peer, ok := b.peers[Ident(address)]; ok {
		b.removePeer(peer)
	}
}

// Peer looks up a configured neighbor by address, for tests and the
// Show RPC surface.
func (b *BgpInstance) Peer(address net.IP) (*Peer, bool) {
	peer, ok := b.peers[Ident(address)]
	return peer, ok
}

// Show renders one query ("summary" or a neighbor address) on the
// instance goroutine and returns the lines, the backing for the
// registered show functions. Safe from any goroutine while Run is
// draining the mailbox.
func (b *BgpInstance) Show(query string) []string {
	reply := make(chan []string, 1)
	b.mailbox <- InstanceMsg{Type: InstanceMsgShow, Query: query, Reply: reply}
	return <-reply
}

func (b *BgpInstance) show(query string) []string {
	if query == "summary" {
		return b.summaryLines()
	}
	addr := net.ParseIP(query)
	if addr == nil {
		return []string{fmt.Sprintf("%% unknown show query %q", query)}
	}
	peer, ok := b.peers[Ident(addr)]
	if !ok {
		return []string{fmt.Sprintf("%% no such neighbor %s", query)}
	}
	return neighborDetail(peer)
}

func (b *BgpInstance) summaryLines() []string {
	lines := []string{
		fmt.Sprintf("BGP router identifier %s, local AS number %d", b.RouterID, b.LocalAS),
		fmt.Sprintf("%-16s %10s %-12s %8s %8s", "Neighbor", "AS", "State", "MsgRcvd", "MsgSent"),
	}
	peers := make([]*Peer, 0, len(b.peers))
	for _, p := range b.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Ident < peers[j].Ident })
	for _, p := range peers {
		c := p.Counters
		rcvd := c.OpenRecv + c.UpdateRecv + c.NotificationRecv + c.KeepaliveRecv
		sent := c.OpenSent + c.UpdateSent + c.NotificationSent + c.KeepaliveSent
		state := p.State.Current.String()
		if p.AdminState == AdminStateDown {
			state = "Idle (Admin)"
		}
		lines = append(lines, fmt.Sprintf("%-16s %10d %-12s %8d %8d",
			p.Address, p.PeerAS, state, rcvd, sent))
	}
	return lines
}

func neighborDetail(p *Peer) []string {
	c := p.Counters
	return []string{
		fmt.Sprintf("BGP neighbor is %s, remote AS %d, local AS %d", p.Address, p.PeerAS, p.LocalAS),
		fmt.Sprintf("  BGP state = %s, admin state = %s", p.State.Current, p.AdminState),
		fmt.Sprintf("  Hold time is %d, keepalive interval is %d seconds", p.HoldTime, p.Keepalive),
		"  Message statistics:",
		fmt.Sprintf("    Opens:         sent %d, received %d", c.OpenSent, c.OpenRecv),
		fmt.Sprintf("    Updates:       sent %d, received %d", c.UpdateSent, c.UpdateRecv),
		fmt.Sprintf("    Keepalives:    sent %d, received %d", c.KeepaliveSent, c.KeepaliveRecv),
		fmt.Sprintf("    Notifications: sent %d, received %d", c.NotificationSent, c.NotificationRecv),
	}
}
