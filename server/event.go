package server

import (
	"net"

	"github.com/zebra-rs/bgpd/bgp"
	"github.com/zebra-rs/bgpd/config"
)

// EventKind enumerates the events of spec §4.1. The numeric values
// are arbitrary (the spec only requires preserving semantics, not the
// protocol-conventional IDs).
type EventKind int

const (
	EventStart EventKind = iota
	EventStop
	EventConnRetryTimerExpires
	EventHoldTimerExpires
	EventKeepaliveTimerExpires
	EventIdleHoldTimerExpires
	EventConnected
	EventConnFail
	EventBGPOpen
	EventKeepAliveMsg
	EventNotifMsg
	EventUpdateMsg
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "Start"
	case EventStop:
		return "Stop"
	case EventConnRetryTimerExpires:
		return "ConnRetryTimerExpires"
	case EventHoldTimerExpires:
		return "HoldTimerExpires"
	case EventKeepaliveTimerExpires:
		return "KeepaliveTimerExpires"
	case EventIdleHoldTimerExpires:
		return "IdleHoldTimerExpires"
	case EventConnected:
		return "Connected"
	case EventConnFail:
		return "ConnFail"
	case EventBGPOpen:
		return "BGPOpen"
	case EventKeepAliveMsg:
		return "KeepAliveMsg"
	case EventNotifMsg:
		return "NotifMsg"
	case EventUpdateMsg:
		return "UpdateMsg"
	}
	return "Unknown"
}

// Event is the tagged union posted by tasks and timers into the
// BgpInstance mailbox, keyed by Ident (spec §3 "Event").
type Event struct {
	Kind  EventKind
	Ident uint32

	Conn   net.Conn                 // EventConnected
	Open   *bgp.OpenMessage         // EventBGPOpen
	Notif  *bgp.NotificationMessage // EventNotifMsg
	Update *bgp.UpdateMessage       // EventUpdateMsg
	Err    error                    // EventConnFail
}

// InstanceMsgType distinguishes what the BgpInstance mailbox carries:
// peer FSM events, configuration (diff lines and committed snapshots)
// forwarded from ConfigManager, and show queries from the RPC surface
// (spec §2 data flow).
type InstanceMsgType int

const (
	_ InstanceMsgType = iota
	InstanceMsgEvent
	InstanceMsgConfigLine
	InstanceMsgConfig
	InstanceMsgShow
)

type InstanceMsg struct {
	Type   InstanceMsgType
	Event  Event
	Line   string
	Config *config.BgpConfigSet
	Query  string
	Reply  chan []string
}
