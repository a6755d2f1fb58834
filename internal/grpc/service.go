package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	"github.com/mr1hm/campus-alert-relay/internal/models"
)

const (
	serviceName        = "relay.v1.AlertService"
	listAlertsMethod   = "/" + serviceName + "/ListAlerts"
	streamAlertsMethod = "/" + serviceName + "/StreamAlerts"

	// EventRecentAlert marks backlog entries sent at the start of a stream.
	EventRecentAlert = "recent-alert"
)

// Codec is the wire codec for AlertService. Messages are plain JSON.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Codec) Name() string                       { return "json" }

type ListAlertsRequest struct {
	Status string `json:"status,omitempty"`
	Limit  int32  `json:"limit,omitempty"`
}

type ListAlertsResponse struct {
	Alerts       []models.Alert `json:"alerts"`
	Total        int32          `json:"total"`
	ActiveAlerts int32          `json:"activeAlerts"`
}

type StreamAlertsRequest struct {
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"` // only forward live events whose alert has this status
}

type AlertEvent struct {
	Event string       `json:"event"`
	Alert models.Alert `json:"alert"`
}

type AlertServiceServer interface {
	ListAlerts(context.Context, *ListAlertsRequest) (*ListAlertsResponse, error)
	StreamAlerts(*StreamAlertsRequest, AlertService_StreamAlertsServer) error
}

type AlertService_StreamAlertsServer interface {
	Send(*AlertEvent) error
	grpc.ServerStream
}

type streamAlertsServer struct {
	grpc.ServerStream
}

func (x *streamAlertsServer) Send(m *AlertEvent) error {
	return x.ServerStream.SendMsg(m)
}

var AlertServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AlertServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListAlerts", Handler: listAlertsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamAlerts", Handler: streamAlertsHandler, ServerStreams: true},
	},
	Metadata: "relay/v1/alerts.proto",
}

func listAlertsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListAlertsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlertServiceServer).ListAlerts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listAlertsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlertServiceServer).ListAlerts(ctx, req.(*ListAlertsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamAlertsHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamAlertsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AlertServiceServer).StreamAlerts(in, &streamAlertsServer{stream})
}

// Client is the AlertService client used by alert-watch.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ListAlerts(ctx context.Context, in *ListAlertsRequest, opts ...grpc.CallOption) (*ListAlertsResponse, error) {
	out := new(ListAlertsResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := c.cc.Invoke(ctx, listAlertsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type AlertStream interface {
	Recv() (*AlertEvent, error)
	grpc.ClientStream
}

type alertStreamClient struct {
	grpc.ClientStream
}

func (x *alertStreamClient) Recv() (*AlertEvent, error) {
	m := new(AlertEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Client) StreamAlerts(ctx context.Context, in *StreamAlertsRequest, opts ...grpc.CallOption) (AlertStream, error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	stream, err := c.cc.NewStream(ctx, &AlertServiceDesc.Streams[0], streamAlertsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &alertStreamClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
