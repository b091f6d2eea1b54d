package replication

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName     = "replicator.Replication"
	replicateMethod = "/" + serviceName + "/Replicate"
)

// ReplicationServer is the server side of the replication service.
type ReplicationServer interface {
	Replicate(ctx context.Context, msg *Message) (*Ack, error)
}

// ServiceDesc describes the replication service. Payloads are plain Go
// structs encoded with the CBOR codec, so there is no generated code.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ReplicationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Replicate",
			Handler:    replicateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "replication",
}

// RegisterReplicationServer registers srv on s.
func RegisterReplicationServer(s grpc.ServiceRegistrar, srv ReplicationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func replicateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Message)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplicationServer).Replicate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: replicateMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReplicationServer).Replicate(ctx, req.(*Message))
	}
	return interceptor(ctx, in, info, handler)
}

// ReplicationClient is the client side of the replication service.
type ReplicationClient interface {
	Replicate(ctx context.Context, msg *Message, opts ...grpc.CallOption) (*Ack, error)
}

type replicationClient struct {
	cc grpc.ClientConnInterface
}

// NewReplicationClient wraps a connection.
func NewReplicationClient(cc grpc.ClientConnInterface) ReplicationClient {
	return &replicationClient{cc: cc}
}

func (c *replicationClient) Replicate(ctx context.Context, msg *Message, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, replicateMethod, msg, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
