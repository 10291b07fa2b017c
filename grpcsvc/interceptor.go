package grpcsvc

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ratengine/rengine/frame"
	"github.com/ratengine/rengine/rerr"
)

// UnaryHandlerFunc is the innermost link of an interceptor chain: the call
// that actually produces a response, whether that's the registered
// UnaryHandler or the next interceptor in the chain.
type UnaryHandlerFunc func(ctx context.Context, req *frame.Request) (*frame.Response, error)

// UnaryInterceptor wraps a unary call with cross-cutting behavior —
// logging, deadlines, panic recovery, metrics — without the handler
// needing to know it's being wrapped.
type UnaryInterceptor func(ctx context.Context, method string, req *frame.Request, handler UnaryHandlerFunc) (*frame.Response, error)

// ChainUnaryInterceptors composes interceptors into one, run in the order
// given: the first interceptor sees the request first and the response
// last.
func ChainUnaryInterceptors(interceptors ...UnaryInterceptor) UnaryInterceptor {
	return func(ctx context.Context, method string, req *frame.Request, handler UnaryHandlerFunc) (*frame.Response, error) {
		next := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			wrapped := next
			next = func(ctx context.Context, req *frame.Request) (*frame.Response, error) {
				return interceptor(ctx, method, req, wrapped)
			}
		}
		return next(ctx, req)
	}
}

// LoggingInterceptor logs the outcome and duration of every unary call to
// logger once the call returns: failures at Info, successes at Debug.
func LoggingInterceptor(logger *zap.Logger) UnaryInterceptor {
	return func(ctx context.Context, method string, req *frame.Request, handler UnaryHandlerFunc) (*frame.Response, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{zap.String("method", method), zap.Duration("duration", time.Since(start))}
		if err != nil {
			logger.Info("unary call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("unary call completed", fields...)
		}
		return resp, err
	}
}

// TimeoutInterceptor bounds a unary call's execution time, independent of
// any deadline already present on ctx.
func TimeoutInterceptor(timeout time.Duration) UnaryInterceptor {
	return func(ctx context.Context, method string, req *frame.Request, handler UnaryHandlerFunc) (*frame.Response, error) {
		if timeout <= 0 {
			return handler(ctx, req)
		}
		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type result struct {
			resp *frame.Response
			err  error
		}
		done := make(chan result, 1)
		go func() {
			resp, err := handler(timeoutCtx, req)
			done <- result{resp, err}
		}()

		select {
		case res := <-done:
			return res.resp, res.err
		case <-timeoutCtx.Done():
			return nil, rerr.Newf(rerr.Timeout, "unary call %s exceeded %v", method, timeout)
		}
	}
}

// RecoveryInterceptor converts a handler panic into an error instead of
// crashing the connection's serving goroutine.
func RecoveryInterceptor() UnaryInterceptor {
	return func(ctx context.Context, method string, req *frame.Request, handler UnaryHandlerFunc) (resp *frame.Response, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = rerr.Newf(rerr.Internal, "panic in handler for %s: %v", method, p)
			}
		}()
		return handler(ctx, req)
	}
}

// Metrics accumulates unary call counts, safe for concurrent use by every
// connection's serving goroutine.
type Metrics struct {
	requestCount int64
	successCount int64
	failureCount int64
}

func (m *Metrics) RequestCount() int64 { return atomic.LoadInt64(&m.requestCount) }
func (m *Metrics) SuccessCount() int64 { return atomic.LoadInt64(&m.successCount) }
func (m *Metrics) FailureCount() int64 { return atomic.LoadInt64(&m.failureCount) }

// MetricsInterceptor records call counts into m.
func MetricsInterceptor(m *Metrics) UnaryInterceptor {
	return func(ctx context.Context, method string, req *frame.Request, handler UnaryHandlerFunc) (*frame.Response, error) {
		atomic.AddInt64(&m.requestCount, 1)
		resp, err := handler(ctx, req)
		if err != nil {
			atomic.AddInt64(&m.failureCount, 1)
		} else {
			atomic.AddInt64(&m.successCount, 1)
		}
		return resp, err
	}
}
