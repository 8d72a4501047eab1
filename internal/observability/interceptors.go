package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"meeting-asr-service/internal/observability/logging"
	"meeting-asr-service/internal/observability/metrics"
)

const reflectionPrefix = "/grpc.reflection."

// UnaryServerInterceptor counts every unary call (health Check) and logs it
// at debug.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeCall(logger.Debug(), info.FullMethod, "unary", err, time.Since(start))
		return resp, err
	}
}

// StreamServerInterceptor counts every stream (health Watch) when it ends.
// Reflection streams are counted but not logged.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		ev := logger.Info()
		if strings.HasPrefix(info.FullMethod, reflectionPrefix) {
			ev = nil
		}
		observeCall(ev, info.FullMethod, "stream", err, time.Since(start))
		return err
	}
}

func observeCall(ev *zerolog.Event, method, kind string, err error, d time.Duration) {
	code := status.Code(err).String()
	metrics.DefaultMetrics.RecordGRPCCall(method, kind, code)
	if ev == nil {
		return
	}
	ev.Str("method", method).
		Str("kind", kind).
		Str("code", code).
		Dur("duration", d).
		Msg("gRPC call completed")
}
