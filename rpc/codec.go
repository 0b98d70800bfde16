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

// Package rpc hosts the two control-plane services spec.md §6 names,
// Exec and Show, on top of google.golang.org/grpc. Neither message
// type is protobuf-generated: the schema/typedef registry and the
// .proto toolchain that would produce real generated stubs are
// out-of-scope collaborators (spec.md §1), so this package registers
// a plain JSON codec with the grpc runtime instead and hand-writes the
// ServiceDesc/StreamDesc grpc itself needs to dispatch. That keeps the
// transport genuinely grpc (HTTP/2 framing, streaming, deadlines,
// interceptors) without fabricating protoc output.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec satisfies encoding.Codec so grpc can (de)serialize the
// plain Go structs in types.go without a protobuf descriptor.
type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
