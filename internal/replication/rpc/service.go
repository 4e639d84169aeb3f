package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "nsblast.replication.ReplicationService"

// replicationServer is the interface a handler must implement; shaped
// exactly like protoc-gen-go-grpc's generated server interface.
type replicationServer interface {
	Replicate(ReplicationService_ReplicateServer) error
}

// ReplicationService_ReplicateServer is the server-side handle for one
// follower's bidirectional stream.
type ReplicationService_ReplicateServer interface {
	Send(*ZoneUpdate) error
	Recv() (*StreamRequest, error)
	grpc.ServerStream
}

type replicationServiceReplicateServer struct {
	grpc.ServerStream
}

func (x *replicationServiceReplicateServer) Send(m *ZoneUpdate) error {
	return x.ServerStream.SendMsg(m)
}

func (x *replicationServiceReplicateServer) Recv() (*StreamRequest, error) {
	m := new(StreamRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func replicateHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(replicationServer).Replicate(&replicationServiceReplicateServer{ServerStream: stream})
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a service with a single bidi-streaming "Replicate" RPC.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*replicationServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Replicate",
			Handler:       replicateHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "nsblast/replication.proto",
}

// RegisterReplicationServiceServer registers srv's Replicate method with
// s, the hand-written equivalent of the generated RegisterXxxServer call.
func RegisterReplicationServiceServer(s grpc.ServiceRegistrar, srv replicationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ReplicationServiceClient is the hand-written equivalent of the
// generated client interface.
type ReplicationServiceClient interface {
	Replicate(ctx context.Context, opts ...grpc.CallOption) (ReplicationService_ReplicateClient, error)
}

type replicationServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewReplicationServiceClient wraps cc for calling Replicate.
func NewReplicationServiceClient(cc grpc.ClientConnInterface) ReplicationServiceClient {
	return &replicationServiceClient{cc: cc}
}

func (c *replicationServiceClient) Replicate(ctx context.Context, opts ...grpc.CallOption) (ReplicationService_ReplicateClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+serviceName+"/Replicate", opts...)
	if err != nil {
		return nil, err
	}
	return &replicationServiceReplicateClient{ClientStream: stream}, nil
}

// ReplicationService_ReplicateClient is the client-side handle for the
// bidirectional stream.
type ReplicationService_ReplicateClient interface {
	Send(*StreamRequest) error
	Recv() (*ZoneUpdate, error)
	grpc.ClientStream
}

type replicationServiceReplicateClient struct {
	grpc.ClientStream
}

func (x *replicationServiceReplicateClient) Send(m *StreamRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *replicationServiceReplicateClient) Recv() (*ZoneUpdate, error) {
	m := new(ZoneUpdate)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
