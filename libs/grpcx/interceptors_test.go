package grpcx

import (
	"context"
	"log/slog"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"

	"github.com/md-rashed-zaman/peerhours/libs/httpx"
)

func TestUnaryServerRequestIDInterceptor(t *testing.T) {
	interceptor := UnaryServerRequestIDInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-42"))
	var seen string
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
		seen = httpx.RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor returned error: %v", err)
	}
	if seen != "req-42" {
		t.Fatalf("expected propagated id, got %q", seen)
	}

	_, _ = interceptor(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
		seen = httpx.RequestIDFromContext(ctx)
		return nil, nil
	})
	if seen == "" || seen == "req-42" {
		t.Fatalf("expected a fresh id, got %q", seen)
	}
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		method string
		code   codes.Code
		want   slog.Level
	}{
		{"/grpc.health.v1.Health/Check", codes.OK, slog.LevelDebug},
		{"/grpc.health.v1.Health/Check", codes.Unavailable, slog.LevelWarn},
		{"/peerhours.availability.v1.Availability/ListOpenSlots", codes.InvalidArgument, slog.LevelInfo},
		{"/peerhours.availability.v1.Availability/ListOpenSlots", codes.Internal, slog.LevelWarn},
	}
	for _, tc := range cases {
		if got := levelFor(tc.method, tc.code); got != tc.want {
			t.Errorf("levelFor(%s, %s) = %v, want %v", tc.method, tc.code, got, tc.want)
		}
	}
}
