package server

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/splitpay/internal/broadcast"
	"github.com/alfredjeanlab/splitpay/internal/model"
	"github.com/alfredjeanlab/splitpay/internal/payment"
	"github.com/alfredjeanlab/splitpay/internal/paymentrpc"
)

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the PaymentService, reflection, and returns the server ready to serve.
func (s *Server) NewGRPCServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(s.authToken),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamLoggingInterceptor,
			StreamAuthInterceptor(s.authToken),
		),
	)

	paymentrpc.RegisterPaymentServiceServer(srv, &grpcService{s: s})
	reflection.Register(srv)

	return srv
}

// grpcService implements paymentrpc.PaymentServiceServer.
type grpcService struct {
	s *Server
}

func (g *grpcService) ProcessSplitPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req payment.Request
	if err := paymentrpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := g.s.svc.ProcessSplitPayment(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeResponse(res)
}

type idRequest struct {
	ID string `json:"id"`
}

func (g *grpcService) GetPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := paymentrpc.Decode(in, &req); err != nil || req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	view, err := g.s.svc.GetPayment(ctx, req.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeResponse(view)
}

func (g *grpcService) GetOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := paymentrpc.Decode(in, &req); err != nil || req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	order, err := g.s.svc.GetOrder(ctx, req.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeResponse(order)
}

type listRequest struct {
	Status  []model.PaymentStatus `json:"status"`
	OrderID string                `json:"orderId"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

func (g *grpcService) ListPayments(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listRequest
	if err := paymentrpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	for _, st := range req.Status {
		if !st.IsValid() {
			return nil, status.Errorf(codes.InvalidArgument, "invalid status %q", st)
		}
	}
	if req.Limit < 0 || req.Offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit and offset must not be negative")
	}
	if req.Limit == 0 {
		req.Limit = 50
	}
	payments, total, err := g.s.svc.ListPayments(ctx, model.PaymentFilter{
		Status:  req.Status,
		OrderID: req.OrderID,
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	if payments == nil {
		payments = []*model.Payment{}
	}
	return encodeResponse(listPaymentsResponse{Payments: payments, Total: total})
}

func (g *grpcService) ApplyProviderStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req webhookRequest
	if err := paymentrpc.Decode(in, &req); err != nil || req.PaymentID == "" || req.ProviderStatus == "" {
		return nil, status.Error(codes.InvalidArgument, "paymentId and providerStatus are required")
	}
	res, err := g.s.svc.ApplyProviderStatus(ctx, req.PaymentID, req.ProviderStatus)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeResponse(res)
}

func (g *grpcService) Health(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := g.s.svc.Ping(ctx); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return structpb.NewStruct(map[string]any{"status": "ok"})
}

type watchRequest struct {
	PaymentID string `json:"paymentId"`
}

// WatchStatus streams every status message (optionally for one payment)
// until the client goes away or the registry drops it.
func (g *grpcService) WatchStatus(in *structpb.Struct, stream grpc.ServerStream) error {
	var req watchRequest
	if err := paymentrpc.Decode(in, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	q := broadcast.NewQueueConn(g.s.clientBuf)
	detach := g.s.attach(wrapFilter(q, req.PaymentID))
	defer detach()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.Done():
			return status.Error(codes.Unavailable, "status stream closed")
		case msg := <-q.Messages():
			out, err := paymentrpc.EncodeJSON(msg)
			if err != nil {
				g.s.logger.Warn("skipping undecodable status message", "err", err)
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
	}
}

func encodeResponse(v any) (*structpb.Struct, error) {
	out, err := paymentrpc.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// grpcError maps a processor error kind to a gRPC status.
func grpcError(err error) error {
	var pe *payment.Error
	if !errors.As(err, &pe) {
		return status.Error(codes.Internal, err.Error())
	}
	code := codes.Internal
	switch pe.Kind {
	case payment.KindAllocationMismatch, payment.KindInvalidAllocation:
		code = codes.InvalidArgument
	case payment.KindNotFound:
		code = codes.NotFound
	case payment.KindConflict:
		code = codes.Aborted
	case payment.KindProvider:
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}
