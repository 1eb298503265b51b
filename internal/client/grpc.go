package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/splitpay/internal/events"
	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/payment"
	"github.com/alfredjeanlab/splitpay/internal/paymentrpc"
)

// GRPCClient implements PaymentClient using the gRPC transport.
type GRPCClient struct {
	conn   *grpc.ClientConn
	client *paymentrpc.Client
	token  string
}

// NewGRPCClient connects to the given gRPC address and returns a client.
// When token is non-empty it is sent as a bearer token on every call.
func NewGRPCClient(addr, token string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{
		conn:   conn,
		client: paymentrpc.NewClient(conn),
		token:  token,
	}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

type unaryRPC func(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error)

// invoke encodes req, calls rpc and decodes the response into result.
func (c *GRPCClient) invoke(ctx context.Context, rpc unaryRPC, req, result any) error {
	in, err := paymentrpc.Encode(req)
	if err != nil {
		return err
	}
	out, err := rpc(c.outgoing(ctx), in)
	if err != nil {
		return err
	}
	return paymentrpc.Decode(out, result)
}

func (c *GRPCClient) ProcessSplitPayment(ctx context.Context, req *payment.Request) (*payment.Result, error) {
	var res payment.Result
	if err := c.invoke(ctx, c.client.ProcessSplitPayment, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *GRPCClient) GetPayment(ctx context.Context, id string) (*payment.PaymentView, error) {
	var view payment.PaymentView
	if err := c.invoke(ctx, c.client.GetPayment, map[string]string{"id": id}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *GRPCClient) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	if err := c.invoke(ctx, c.client.GetOrder, map[string]string{"id": id}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *GRPCClient) ListPayments(ctx context.Context, req *ListPaymentsRequest) (*ListPaymentsResponse, error) {
	var resp ListPaymentsResponse
	if err := c.invoke(ctx, c.client.ListPayments, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) ApplyProviderStatus(ctx context.Context, paymentID, providerStatus string) (*payment.Result, error) {
	req := map[string]string{"paymentId": paymentID, "providerStatus": providerStatus}
	var res payment.Result
	if err := c.invoke(ctx, c.client.ApplyProviderStatus, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *GRPCClient) WatchStatus(ctx context.Context, paymentID string, fn func(events.Message) error) error {
	in, err := paymentrpc.Encode(map[string]string{"paymentId": paymentID})
	if err != nil {
		return err
	}
	stream, err := c.client.WatchStatus(c.outgoing(ctx), in)
	if err != nil {
		return err
	}
	for {
		out, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var msg events.Message
		if err := paymentrpc.Decode(out, &msg); err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.invoke(ctx, c.client.Health, struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}
