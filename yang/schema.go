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

package yang

// bgpConfigTree is the content shared by both the "set" and "delete"
// arms of configure mode: "bgp global ..." and "bgp neighbor
// <address> ...".
func bgpConfigTree() *Entry {
	global := NewDir("global", "BGP global parameters",
		NewLeaf("as", "Local autonomous system number", RangeType(TypeUint32, 1, 4294967295)),
		NewLeaf("router-id", "BGP router identifier", Ipv4AddrType()),
	)
	neighbor := NewKeyedList("neighbor", "Configure a BGP neighbor", []string{"address"},
		NewLeaf("address", "Neighbor IP address", Ipv4AddrType()),
		NewLeaf("peer-as", "Neighbor's autonomous system number", RangeType(TypeUint32, 1, 4294967295)),
		NewEmptyLeaf("passive", "Never initiate the TCP connection"),
		NewEmptyLeaf("shutdown", "Administratively disable this neighbor"),
	)
	return NewDir("bgp", "BGP configuration", global, neighbor)
}

// ConfigureTree is the schema root for configuration mode. Its two
// top-level children are the reserved "set"/"delete" keywords (spec
// §4.4 item 6); both route into the same bgp{} subtree since the
// candidate-config mutation they trigger is the only difference
// between them.
func ConfigureTree() *Entry {
	return NewDir("configure", "Configuration mode",
		NewDir("set", "Set a configuration value", bgpConfigTree()),
		NewDir("delete", "Delete a configuration value", bgpConfigTree()),
	)
}

// ExecTree is the schema root for exec/show mode: "show bgp summary"
// and "show bgp neighbor <address>". Like ConfigureTree, the returned
// node is itself never matched; its one child, the reserved "show"
// keyword, is the real root a line's first token is matched against.
func ExecTree() *Entry {
	neighbor := NewKeyedList("neighbor", "Show one neighbor's session state", []string{"address"},
		NewLeaf("address", "Neighbor IP address", Ipv4AddrType()),
	)
	bgp := NewDir("bgp", "BGP protocol state",
		NewPresenceDir("summary", "One-line-per-neighbor session summary"),
		neighbor,
	)
	return NewDir("exec", "Exec mode",
		NewDir("show", "Show running state", bgp),
	)
}
