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

package bgp

import (
	"encoding/binary"
	"net"
)

// OpenMessage is the BGP Open message body (RFC 4271 §4.2). Optional
// parameters are carried as opaque TLVs; this daemon does not
// negotiate capabilities (Non-goal: MP-BGP/graceful-restart), so it
// always sends an empty optional-parameter block and ignores any it
// receives.
type OpenMessage struct {
	Version       uint8
	AS            uint16
	HoldTime      uint16
	BGPIdentifier [4]byte
	OptParams     []byte
}

func NewOpenMessage(as uint16, holdTime uint16, routerID net.IP) *OpenMessage {
	m := &OpenMessage{Version: 4, AS: as, HoldTime: holdTime}
	copy(m.BGPIdentifier[:], routerID.To4())
	return m
}

func (m *OpenMessage) Type() MessageType { return BGP_MSG_OPEN }

func (m *OpenMessage) Serialize() ([]byte, error) {
	buf := make([]byte, 10+len(m.OptParams))
	buf[0] = m.Version
	binary.BigEndian.PutUint16(buf[1:3], m.AS)
	binary.BigEndian.PutUint16(buf[3:5], m.HoldTime)
	copy(buf[5:9], m.BGPIdentifier[:])
	buf[9] = uint8(len(m.OptParams))
	copy(buf[10:], m.OptParams)
	return buf, nil
}

func (m *OpenMessage) DecodeFromBytes(data []byte) error {
	if len(data) < 10 {
		return NewMessageError(BGP_ERROR_MSG_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, nil, "open message too short")
	}
	m.Version = data[0]
	m.AS = binary.BigEndian.Uint16(data[1:3])
	m.HoldTime = binary.BigEndian.Uint16(data[3:5])
	copy(m.BGPIdentifier[:], data[5:9])
	optLen := int(data[9])
	if len(data) < 10+optLen {
		return NewMessageError(BGP_ERROR_MSG_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, nil, "open opt-params truncated")
	}
	m.OptParams = append([]byte(nil), data[10:10+optLen]...)
	return nil
}

func (m *OpenMessage) RouterID() net.IP {
	return net.IPv4(m.BGPIdentifier[0], m.BGPIdentifier[1], m.BGPIdentifier[2], m.BGPIdentifier[3])
}

// KeepaliveMessage has no body.
type KeepaliveMessage struct{}

func NewKeepaliveMessage() *KeepaliveMessage { return &KeepaliveMessage{} }

func (m *KeepaliveMessage) Type() MessageType            { return BGP_MSG_KEEPALIVE }
func (m *KeepaliveMessage) Serialize() ([]byte, error)   { return []byte{}, nil }
func (m *KeepaliveMessage) DecodeFromBytes([]byte) error { return nil }

// NotificationMessage carries a terminal protocol error.
type NotificationMessage struct {
	ErrorCode    uint8
	ErrorSubcode uint8
	Data         []byte
}

func NewNotificationMessage(code, subcode uint8, data []byte) *NotificationMessage {
	return &NotificationMessage{ErrorCode: code, ErrorSubcode: subcode, Data: data}
}

func (m *NotificationMessage) Type() MessageType { return BGP_MSG_NOTIFICATION }

func (m *NotificationMessage) Serialize() ([]byte, error) {
	buf := make([]byte, 2+len(m.Data))
	buf[0] = m.ErrorCode
	buf[1] = m.ErrorSubcode
	copy(buf[2:], m.Data)
	return buf, nil
}

func (m *NotificationMessage) DecodeFromBytes(data []byte) error {
	if len(data) < 2 {
		return NewMessageError(BGP_ERROR_MSG_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, nil, "notification too short")
	}
	m.ErrorCode = data[0]
	m.ErrorSubcode = data[1]
	m.Data = append([]byte(nil), data[2:]...)
	return nil
}

// UpdateMessage is parsed only far enough to preserve withdrawn
// routes, path attributes and NLRI as opaque byte ranges; routing
// decisions over this content are the documented out-of-scope RIB
// collaborator (spec.md §1).
type UpdateMessage struct {
	WithdrawnRoutes     []byte
	PathAttributes      []byte
	NLRI                []byte
}

func (m *UpdateMessage) Type() MessageType { return BGP_MSG_UPDATE }

func (m *UpdateMessage) Serialize() ([]byte, error) {
	buf := make([]byte, 0, 4+len(m.WithdrawnRoutes)+len(m.PathAttributes)+len(m.NLRI))
	lbuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lbuf, uint16(len(m.WithdrawnRoutes)))
	buf = append(buf, lbuf...)
	buf = append(buf, m.WithdrawnRoutes...)
	binary.BigEndian.PutUint16(lbuf, uint16(len(m.PathAttributes)))
	buf = append(buf, lbuf...)
	buf = append(buf, m.PathAttributes...)
	buf = append(buf, m.NLRI...)
	return buf, nil
}

func (m *UpdateMessage) DecodeFromBytes(data []byte) error {
	if len(data) < 2 {
		return NewMessageError(BGP_ERROR_UPDATE_MSG_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, nil, "update too short")
	}
	wlen := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+wlen+2 {
		return NewMessageError(BGP_ERROR_UPDATE_MSG_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, nil, "withdrawn routes truncated")
	}
	m.WithdrawnRoutes = append([]byte(nil), data[2:2+wlen]...)
	rest := data[2+wlen:]
	palen := int(binary.BigEndian.Uint16(rest[0:2]))
	if len(rest) < 2+palen {
		return NewMessageError(BGP_ERROR_UPDATE_MSG_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, nil, "path attributes truncated")
	}
	m.PathAttributes = append([]byte(nil), rest[2:2+palen]...)
	m.NLRI = append([]byte(nil), rest[2+palen:]...)
	return nil
}
