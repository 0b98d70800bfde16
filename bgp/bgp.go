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

// Package bgp implements the wire encoding for the subset of BGP-4
// (RFC 4271) this daemon speaks: the common header and the Open,
// Keepalive, Notification and Update message bodies.
package bgp

import (
	"encoding/binary"
	"fmt"
)

const (
	BGP_HEADER_LENGTH = 19
	BGP_PACKET_MAX_LEN = 4096
	BGP_PORT           = 179
	AS_TRANS           = 23456
)

type MessageType uint8

const (
	_ MessageType = iota
	BGP_MSG_OPEN
	BGP_MSG_UPDATE
	BGP_MSG_NOTIFICATION
	BGP_MSG_KEEPALIVE
)

func (t MessageType) String() string {
	switch t {
	case BGP_MSG_OPEN:
		return "OPEN"
	case BGP_MSG_UPDATE:
		return "UPDATE"
	case BGP_MSG_NOTIFICATION:
		return "NOTIFICATION"
	case BGP_MSG_KEEPALIVE:
		return "KEEPALIVE"
	}
	return "UNKNOWN"
}

// FSMState mirrors the session states a Peer can be in. Values below
// BGP_FSM_IDLE are reserved the way the teacher reserves negative
// ints for "tomb dying" returns from the handler state functions.
type FSMState int

const (
	BGP_FSM_IDLE FSMState = iota
	BGP_FSM_CONNECT
	BGP_FSM_ACTIVE
	BGP_FSM_OPENSENT
	BGP_FSM_OPENCONFIRM
	BGP_FSM_ESTABLISHED
)

func (s FSMState) String() string {
	switch s {
	case BGP_FSM_IDLE:
		return "Idle"
	case BGP_FSM_CONNECT:
		return "Connect"
	case BGP_FSM_ACTIVE:
		return "Active"
	case BGP_FSM_OPENSENT:
		return "OpenSent"
	case BGP_FSM_OPENCONFIRM:
		return "OpenConfirm"
	case BGP_FSM_ESTABLISHED:
		return "Established"
	}
	return "Unknown"
}

// Notification error codes/subcodes, RFC 4271 §4.5 (the subset this
// daemon actually emits).
const (
	BGP_ERROR_MSG_HEADER_ERROR     = 1
	BGP_ERROR_OPEN_MSG_ERROR       = 2
	BGP_ERROR_UPDATE_MSG_ERROR     = 3
	BGP_ERROR_HOLD_TIMER_EXPIRED   = 4
	BGP_ERROR_FSM_ERROR            = 5
	BGP_ERROR_CEASE                = 6
)

const (
	BGP_ERROR_SUB_BAD_BGP_IDENTIFIER  = 3
	BGP_ERROR_SUB_UNACCEPTABLE_HOLD_TIME = 6
	BGP_ERROR_SUB_UNSUPPORTED_VERSION_NUMBER = 1
	BGP_ERROR_SUB_BAD_PEER_AS         = 2

	BGP_ERROR_SUB_CONNECTION_NOT_SYNCHRONIZED = 1
	BGP_ERROR_SUB_BAD_MESSAGE_LENGTH          = 2
	BGP_ERROR_SUB_BAD_MESSAGE_TYPE            = 3

	BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN = 2
	BGP_ERROR_SUB_PEER_DECONFIGURED       = 3
)

// Header is the 19-byte frame prologue common to every BGP message:
// a 16-byte all-ones marker, a 2-byte big-endian total length and a
// 1-byte type.
type Header struct {
	Marker [16]byte
	Length uint16
	Type   MessageType
}

func NewHeader(t MessageType, bodyLen int) *Header {
	h := &Header{Type: t, Length: uint16(BGP_HEADER_LENGTH + bodyLen)}
	for i := range h.Marker {
		h.Marker[i] = 0xff
	}
	return h
}

func (h *Header) Serialize() []byte {
	buf := make([]byte, BGP_HEADER_LENGTH)
	copy(buf[0:16], h.Marker[:])
	binary.BigEndian.PutUint16(buf[16:18], h.Length)
	buf[18] = byte(h.Type)
	return buf
}

func (h *Header) DecodeFromBytes(data []byte) error {
	if len(data) < BGP_HEADER_LENGTH {
		return fmt.Errorf("bgp: short header: %d bytes", len(data))
	}
	copy(h.Marker[:], data[0:16])
	h.Length = binary.BigEndian.Uint16(data[16:18])
	h.Type = MessageType(data[18])
	if int(h.Length) < BGP_HEADER_LENGTH {
		return fmt.Errorf("bgp: invalid message length %d", h.Length)
	}
	if int(h.Length) > BGP_PACKET_MAX_LEN {
		return fmt.Errorf("bgp: message length %d exceeds max %d", h.Length, BGP_PACKET_MAX_LEN)
	}
	return nil
}

// PeekLength reads the big-endian length field at offset 16 without
// fully decoding the header. Used by the Reader's framing loop.
func PeekLength(data []byte) int {
	if len(data) < BGP_HEADER_LENGTH {
		return 0
	}
	return int(binary.BigEndian.Uint16(data[16:18]))
}

// Message is the parsed form of one framed BGP packet: a Header plus
// one of the four body types below.
type Message struct {
	Header *Header
	Body   Body
}

type Body interface {
	Serialize() ([]byte, error)
	DecodeFromBytes([]byte) error
	Type() MessageType
}

func (m *Message) Serialize() ([]byte, error) {
	b, err := m.Body.Serialize()
	if err != nil {
		return nil, err
	}
	m.Header = NewHeader(m.Body.Type(), len(b))
	return append(m.Header.Serialize(), b...), nil
}

// ParseBody dispatches on the header type and returns the decoded
// Message for a single already-framed packet (header + body).
func ParseBody(h *Header, body []byte) (*Message, error) {
	var b Body
	switch h.Type {
	case BGP_MSG_OPEN:
		b = &OpenMessage{}
	case BGP_MSG_KEEPALIVE:
		b = &KeepaliveMessage{}
	case BGP_MSG_NOTIFICATION:
		b = &NotificationMessage{}
	case BGP_MSG_UPDATE:
		b = &UpdateMessage{}
	default:
		return nil, NewMessageError(BGP_ERROR_MSG_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_TYPE, nil,
			fmt.Sprintf("unknown message type %d", h.Type))
	}
	if err := b.DecodeFromBytes(body); err != nil {
		return nil, err
	}
	return &Message{Header: h, Body: b}, nil
}

// MessageError carries the (code, subcode, data) triple of a
// Notification, and doubles as the Go error returned by decoders so a
// decode failure keeps the code/subcode a Notification would report.
type MessageError struct {
	Code    uint8
	Subcode uint8
	Data    []byte
	Msg     string
}

func NewMessageError(code, subcode uint8, data []byte, msg string) error {
	return &MessageError{Code: code, Subcode: subcode, Data: data, Msg: msg}
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("bgp: code=%d subcode=%d: %s", e.Code, e.Subcode, e.Msg)
}
