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
	"time"

	"gopkg.in/tomb.v2"

	"github.com/zebra-rs/bgpd/bgp"
)

// connectTimeout bounds how long the Connect task waits for a TCP
// handshake before reporting ConnFail, distinct from the connect-retry
// backoff between attempts. notificationWriteTimeout bounds the
// synchronous notification write a teardown performs.
const (
	connectTimeout           = 30 * time.Second
	notificationWriteTimeout = time.Second
)

// startConnectTask dials the peer on the well-known BGP port. A
// passive peer never dials out; Passive neighbors only ever transition
// out of Connect/Active via an inbound connection handed to the
// instance by the listener (spec §3, not built here: out of scope).
func startConnectTask(peer *Peer) {
	peer.task.connect = &tomb.Tomb{}
	ident := peer.Ident
	addr := peer.Address
	passive := peer.Passive
	mailbox := peer.mailbox

	peer.task.connect.Go(func() error {
		if passive {
			return nil
		}
		d := net.Dialer{Timeout: connectTimeout}
		conn, err := d.Dial("tcp", net.JoinHostPort(addr.String(), fmt.Sprint(bgp.BGP_PORT)))
		if err != nil {
			postEvent(mailbox, ident, Event{Kind: EventConnFail, Err: err})
			return nil
		}
		postEvent(mailbox, ident, Event{Kind: EventConnected, Conn: conn})
		return nil
	})
}

// startReaderTask frames and decodes inbound messages off conn and
// posts one event per parsed message, per spec §4.1's "Framing (inside
// Reader)": read the 19-byte header, use bgp.PeekLength to learn the
// full frame size, then read the remainder; a zero-length read or any
// I/O error is ConnFail.
func startReaderTask(peer *Peer, conn net.Conn) {
	tb := &tomb.Tomb{}
	peer.task.reader = tb
	ident := peer.Ident
	mailbox := peer.mailbox

	tb.Go(func() error {
		header := make([]byte, bgp.BGP_HEADER_LENGTH)
		for {
			if _, err := readFull(conn, header); err != nil {
				postEvent(mailbox, ident, Event{Kind: EventConnFail, Err: err})
				return nil
			}
			total := bgp.PeekLength(header)
			if total < bgp.BGP_HEADER_LENGTH || total > bgp.BGP_PACKET_MAX_LEN {
				postEvent(mailbox, ident, Event{Kind: EventConnFail, Err: fmt.Errorf("bgp: invalid frame length %d", total)})
				return nil
			}
			body := make([]byte, total-bgp.BGP_HEADER_LENGTH)
			if len(body) > 0 {
				if _, err := readFull(conn, body); err != nil {
					postEvent(mailbox, ident, Event{Kind: EventConnFail, Err: err})
					return nil
				}
			}
			h := &bgp.Header{}
			if err := h.DecodeFromBytes(header); err != nil {
				postEvent(mailbox, ident, Event{Kind: EventConnFail, Err: err})
				return nil
			}
			msg, err := bgp.ParseBody(h, body)
			if err != nil {
				postEvent(mailbox, ident, Event{Kind: EventConnFail, Err: err})
				return nil
			}
			postEvent(mailbox, ident, messageToEvent(msg))

			select {
			case <-tb.Dying():
				return nil
			default:
			}
		}
	})
}

func messageToEvent(msg *bgp.Message) Event {
	switch b := msg.Body.(type) {
	case *bgp.OpenMessage:
		return Event{Kind: EventBGPOpen, Open: b}
	case *bgp.KeepaliveMessage:
		return Event{Kind: EventKeepAliveMsg}
	case *bgp.NotificationMessage:
		return Event{Kind: EventNotifMsg, Notif: b}
	case *bgp.UpdateMessage:
		return Event{Kind: EventUpdateMsg, Update: b}
	}
	return Event{Kind: EventConnFail, Err: fmt.Errorf("bgp: unhandled message body %T", msg.Body)}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, fmt.Errorf("bgp: zero-length read")
		}
	}
	return n, nil
}

// startWriterTask drains sendCh onto conn until the channel is closed
// or the tomb is killed (spec §3's Writer task).
func startWriterTask(peer *Peer, conn net.Conn, sendCh <-chan []byte) {
	tb := &tomb.Tomb{}
	peer.task.writer = tb
	ident := peer.Ident
	mailbox := peer.mailbox

	tb.Go(func() error {
		for {
			select {
			case b, ok := <-sendCh:
				if !ok {
					return nil
				}
				if _, err := conn.Write(b); err != nil {
					postEvent(mailbox, ident, Event{Kind: EventConnFail, Err: err})
					return nil
				}
			case <-tb.Dying():
				return nil
			}
		}
	})
}

func postEvent(mailbox chan<- InstanceMsg, ident uint32, ev Event) {
	ev.Ident = ident
	select {
	case mailbox <- InstanceMsg{Type: InstanceMsgEvent, Event: ev}:
	default:
	}
}
