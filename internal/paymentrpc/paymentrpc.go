// Package paymentrpc describes the splitpay.v1.PaymentService gRPC service.
// Requests and responses are google.protobuf.Struct values carrying the
// same JSON documents the HTTP API uses, so the service needs no generated
// message types.
package paymentrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "splitpay.v1.PaymentService"

// Full method names.
const (
	ProcessSplitPaymentMethod = "/" + ServiceName + "/ProcessSplitPayment"
	GetPaymentMethod          = "/" + ServiceName + "/GetPayment"
	GetOrderMethod            = "/" + ServiceName + "/GetOrder"
	ListPaymentsMethod        = "/" + ServiceName + "/ListPayments"
	ApplyProviderStatusMethod = "/" + ServiceName + "/ApplyProviderStatus"
	HealthMethod              = "/" + ServiceName + "/Health"
	WatchStatusMethod         = "/" + ServiceName + "/WatchStatus"
)

// PaymentServiceServer is implemented by the server side.
type PaymentServiceServer interface {
	ProcessSplitPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPayments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyProviderStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchStatus(*structpb.Struct, grpc.ServerStream) error
}

// RegisterPaymentServiceServer registers srv with s.
func RegisterPaymentServiceServer(s grpc.ServiceRegistrar, srv PaymentServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

type unaryCall func(PaymentServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		impl := srv.(PaymentServiceServer)
		if interceptor == nil {
			return call(impl, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(impl, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchStatusHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PaymentServiceServer).WatchStatus(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PaymentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ProcessSplitPayment",
			Handler: unaryHandler(ProcessSplitPaymentMethod, func(s PaymentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.ProcessSplitPayment(ctx, in)
			}),
		},
		{
			MethodName: "GetPayment",
			Handler: unaryHandler(GetPaymentMethod, func(s PaymentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.GetPayment(ctx, in)
			}),
		},
		{
			MethodName: "GetOrder",
			Handler: unaryHandler(GetOrderMethod, func(s PaymentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.GetOrder(ctx, in)
			}),
		},
		{
			MethodName: "ListPayments",
			Handler: unaryHandler(ListPaymentsMethod, func(s PaymentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.ListPayments(ctx, in)
			}),
		},
		{
			MethodName: "ApplyProviderStatus",
			Handler: unaryHandler(ApplyProviderStatusMethod, func(s PaymentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.ApplyProviderStatus(ctx, in)
			}),
		},
		{
			MethodName: "Health",
			Handler: unaryHandler(HealthMethod, func(s PaymentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Health(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchStatus",
			Handler:       watchStatusHandler,
			ServerStreams: true,
		},
	},
	Metadata: "splitpay/v1/payment.proto",
}

// Client is the client side of the service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ProcessSplitPayment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, ProcessSplitPaymentMethod, in, opts...)
}

func (c *Client) GetPayment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, GetPaymentMethod, in, opts...)
}

func (c *Client) GetOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, GetOrderMethod, in, opts...)
}

func (c *Client) ListPayments(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, ListPaymentsMethod, in, opts...)
}

func (c *Client) ApplyProviderStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, ApplyProviderStatusMethod, in, opts...)
}

func (c *Client) Health(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, HealthMethod, in, opts...)
}

// WatchStatusClient receives status messages.
type WatchStatusClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type watchStatusClient struct {
	grpc.ClientStream
}

func (x *watchStatusClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// WatchStatus opens the status stream.
func (c *Client) WatchStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (WatchStatusClient, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], WatchStatusMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &watchStatusClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Encode converts v to a Struct through its JSON form. v must marshal to a
// JSON object.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return EncodeJSON(data)
}

// EncodeJSON converts a JSON object to a Struct.
func EncodeJSON(data []byte) (*structpb.Struct, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return structpb.NewStruct(m)
}

// Decode fills v from s through its JSON form. Numbers pass through
// float64, so integers beyond 2^53 lose precision.
func Decode(s *structpb.Struct, v any) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
