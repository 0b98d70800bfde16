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

package rpc

import (
	"context"
	"net"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/zebra-rs/bgpd/config"
)

// DefaultListen is the control-plane bind address.
const DefaultListen = "0.0.0.0:2650"

// ExecServer is the service interface behind /zebra.Exec.
type ExecServer interface {
	DoExec(ctx context.Context, req *ExecRequest) (*ExecResponse, error)
}

// ShowServer is the service interface behind /zebra.Show.
type ShowServer interface {
	Show(req *ShowRequest, stream Show_ShowServer) error
}

// Show_ShowServer is the server side of Show.show's streaming reply.
type Show_ShowServer interface {
	Send(*ShowReply) error
	grpc.ServerStream
}

type showShowServer struct {
	grpc.ServerStream
}

func (s *showShowServer) Send(reply *ShowReply) error {
	return s.ServerStream.SendMsg(reply)
}

func execDoExecHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExecRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExecServer).DoExec(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zebra.Exec/DoExec"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ExecServer).DoExec(ctx, req.(*ExecRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func showShowHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(ShowRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ShowServer).Show(in, &showShowServer{stream})
}

// The ServiceDescs are hand-written for the reason package rpc's doc
// comment gives: the transport is real grpc, the message schema is
// the plain structs in types.go.
var execServiceDesc = grpc.ServiceDesc{
	ServiceName: "zebra.Exec",
	HandlerType: (*ExecServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DoExec", Handler: execDoExecHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zebra.proto",
}

var showServiceDesc = grpc.ServiceDesc{
	ServiceName: "zebra.Show",
	HandlerType: (*ShowServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{StreamName: "Show", Handler: showShowHandler, ServerStreams: true},
	},
	Metadata: "zebra.proto",
}

// Server hosts both control-plane services on one grpc listener.
type Server struct {
	grpcServer *grpc.Server
}

func NewServer(mgr *config.ConfigManager) *Server {
	gs := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	gs.RegisterService(&execServiceDesc, NewCommandService(mgr))
	gs.RegisterService(&showServiceDesc, NewShowService(mgr))
	return &Server{grpcServer: gs}
}

// Serve binds addr (DefaultListen if empty) and blocks serving RPCs
// until Stop.
func (s *Server) Serve(addr string) error {
	if addr == "" {
		addr = DefaultListen
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"Topic": "Rpc", "addr": addr}).Info("control plane listening")
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
