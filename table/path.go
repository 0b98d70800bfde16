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

// Package table holds the thin record types that cross the boundary
// between the FSM and the RIB: which peer a message came from, and
// the still-unattributed NLRI/path-attribute bytes carried by an
// Update. Best-path selection and attribute decoding over this data
// are the documented out-of-scope RIB collaborator.
package table

import (
	"net"
	"time"
)

// PeerInfo identifies the session an update arrived on, the minimal
// fact a RIB needs about a peer without reaching back into
// server.Peer.
type PeerInfo struct {
	AS      uint32
	Address net.IP
	ID      net.IP
	Ident   uint32
}

// Path is one withdrawn-or-announced NLRI entry as received, still
// carrying opaque path-attribute bytes. A RIB sink decodes attributes
// and performs best-path selection on top of this; this package does
// not.
type Path struct {
	Peer      *PeerInfo
	NLRI      []byte
	Attrs     []byte
	Withdrawn bool
	Timestamp time.Time
}

func NewPath(peer *PeerInfo, nlri, attrs []byte, withdrawn bool) *Path {
	return &Path{
		Peer:      peer,
		NLRI:      nlri,
		Attrs:     attrs,
		Withdrawn: withdrawn,
		Timestamp: time.Now(),
	}
}
