// Package statsclient is a thin gRPC client for the auxiliary statistics
// service, grounded on tarsy's pkg/agent/llm_grpc.go (plaintext
// grpc.NewClient, one blocking unary call per request). Unlike tarsy's LLM
// client this service has no generated proto package in the pack, so the
// request/response are plain structpb.Struct values sent through
// ClientConn.Invoke directly rather than a generated stub.
package statsclient

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	perr "aginosd/internal/platform/errors"
	"aginosd/internal/services/insights/domain"
)

// DefaultDeadline bounds every call to the auxiliary service; spec.md's
// fail-soft contract requires callers never block longer than this.
const DefaultDeadline = 2 * time.Second

// nightMorningMethod is the auxiliary service's full gRPC method name
const nightMorningMethod = "/aginosd.insights.v1.StatsService/NightMorningInsights"

// Client calls the external auxiliary statistics service over gRPC
type Client struct {
	conn     *grpc.ClientConn
	Deadline time.Duration
}

// Dial opens a plaintext connection to addr (sidecar/localhost, matching
// the auxiliary service's expected deployment)
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, perr.Upstreamf("insights: dial %s: %v", addr, err)
	}
	return &Client{conn: conn, Deadline: DefaultDeadline}, nil
}

// Close releases the underlying gRPC connection
func (c *Client) Close() error { return c.conn.Close() }

// NightMorningInsights calls the auxiliary service's single RPC, returning
// an Upstream error (never a panic, never an unbounded block) on any
// failure. The response is decoded into the plain fields the insights
// service cares about rather than handed back as a raw structpb.Struct, so
// nothing above this package needs to import protobuf types.
func (c *Client) NightMorningInsights(ctx context.Context, room string, since, until time.Time) (domain.UpstreamResult, error) {
	deadline := c.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{
		"room":  room,
		"since": since.UTC().Format(time.RFC3339),
		"until": until.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return domain.UpstreamResult{}, perr.Upstreamf("insights: build request: %v", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(cctx, nightMorningMethod, req, resp); err != nil {
		return domain.UpstreamResult{}, perr.Upstreamf("insights: %s: %v", nightMorningMethod, err)
	}
	return decodeResult(resp), nil
}

func decodeResult(s *structpb.Struct) domain.UpstreamResult {
	fields := s.GetFields()
	asInt := func(key string) int {
		if v, ok := fields[key]; ok {
			return int(v.GetNumberValue())
		}
		return 0
	}
	asFloat := func(key string) float64 {
		if v, ok := fields[key]; ok {
			return v.GetNumberValue()
		}
		return 0
	}
	return domain.UpstreamResult{
		EventCount:    asInt("event_count"),
		QuietestHour:  asInt("quietest_hour"),
		BusiestHour:   asInt("busiest_hour"),
		AvgGapSeconds: asFloat("avg_gap_seconds"),
	}
}
