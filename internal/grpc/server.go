package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mr1hm/campus-alert-relay/internal/alerts"
)

const defaultStreamName = "grpc-observer"

type Server struct {
	mgr        *alerts.Manager
	maxLimit   int
	grpcServer *grpc.Server
}

func NewServer(mgr *alerts.Manager, maxLimit int) *Server {
	s := &Server{
		mgr:      mgr,
		maxLimit: maxLimit,
	}
	s.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(Codec{}),
		grpc.ChainUnaryInterceptor(logUnary),
		grpc.ChainStreamInterceptor(logStream),
	)
	s.grpcServer.RegisterService(&AlertServiceDesc, s)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop waits for in-flight calls. Close the broadcaster first so open
// streams return.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) ListAlerts(ctx context.Context, req *ListAlertsRequest) (*ListAlertsResponse, error) {
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	limit := int(req.Limit)
	if s.maxLimit > 0 && limit > s.maxLimit {
		limit = s.maxLimit
	}

	page, err := s.mgr.List(ctx, alerts.Query{Status: req.Status, Limit: limit})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list alerts: %v", err)
	}

	return &ListAlertsResponse{
		Alerts:       page.Alerts,
		Total:        int32(page.Total),
		ActiveAlerts: int32(page.ActiveCount),
	}, nil
}

func (s *Server) StreamAlerts(req *StreamAlertsRequest, stream AlertService_StreamAlertsServer) error {
	name := req.Name
	if name == "" {
		name = defaultStreamName
	}

	sub, backlog, err := s.mgr.Connect(stream.Context(), name)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to register stream: %v", err)
	}
	defer s.mgr.Disconnect(sub)

	for _, a := range backlog {
		if err := stream.Send(&AlertEvent{Event: EventRecentAlert, Alert: a}); err != nil {
			return err
		}
	}

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			if req.Status != "" && e.Alert.Status != req.Status {
				continue
			}
			if err := stream.Send(&AlertEvent{Event: string(e.Kind), Alert: e.Alert}); err != nil {
				slog.Error("failed to send alert to stream", "error", err, "subscriber_id", sub.ID)
				return err
			}
		}
	}
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	slog.Debug("grpc call", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
	return resp, err
}

func logStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	slog.Info("grpc stream closed", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
	return err
}
