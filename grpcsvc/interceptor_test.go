package grpcsvc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ratengine/rengine/frame"
)

func TestChainUnaryInterceptorsRunsInOrder(t *testing.T) {
	var order []string
	record := func(name string) UnaryInterceptor {
		return func(ctx context.Context, method string, req *frame.Request, handler UnaryHandlerFunc) (*frame.Response, error) {
			order = append(order, name+":before")
			resp, err := handler(ctx, req)
			order = append(order, name+":after")
			return resp, err
		}
	}

	chain := ChainUnaryInterceptors(record("outer"), record("inner"))
	_, err := chain(context.Background(), "/svc/Method", &frame.Request{}, func(ctx context.Context, req *frame.Request) (*frame.Response, error) {
		order = append(order, "handler")
		return &frame.Response{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRecoveryInterceptorConvertsPanicToError(t *testing.T) {
	chain := ChainUnaryInterceptors(RecoveryInterceptor())
	_, err := chain(context.Background(), "/svc/Method", &frame.Request{}, func(ctx context.Context, req *frame.Request) (*frame.Response, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected an error recovered from the panic")
	}
}

func TestTimeoutInterceptorReturnsErrorWhenHandlerHangs(t *testing.T) {
	chain := ChainUnaryInterceptors(TimeoutInterceptor(10 * time.Millisecond))
	_, err := chain(context.Background(), "/svc/Method", &frame.Request{}, func(ctx context.Context, req *frame.Request) (*frame.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestMetricsInterceptorCountsSuccessAndFailure(t *testing.T) {
	m := &Metrics{}
	chain := ChainUnaryInterceptors(MetricsInterceptor(m))

	_, _ = chain(context.Background(), "/svc/Method", &frame.Request{}, func(ctx context.Context, req *frame.Request) (*frame.Response, error) {
		return &frame.Response{}, nil
	})
	_, _ = chain(context.Background(), "/svc/Method", &frame.Request{}, func(ctx context.Context, req *frame.Request) (*frame.Response, error) {
		return nil, errBoom
	})

	if m.RequestCount() != 2 || m.SuccessCount() != 1 || m.FailureCount() != 1 {
		t.Fatalf("got request=%d success=%d failure=%d", m.RequestCount(), m.SuccessCount(), m.FailureCount())
	}
}

func TestDispatcherAppliesInterceptorToUnaryCalls(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterUnary("svc", "Echo", func(ctx context.Context, req *frame.Request) (*frame.Response, error) {
		return &frame.Response{Data: req.Data}, nil
	})

	var logged []string
	logging := func(ctx context.Context, method string, req *frame.Request, handler UnaryHandlerFunc) (*frame.Response, error) {
		logged = append(logged, method)
		return handler(ctx, req)
	}

	dispatcher := NewDispatcher(registry, zap.NewNop()).WithInterceptor(ChainUnaryInterceptors(logging))

	reqFrame := frame.EncodeFrame((&frame.Request{Data: []byte("hi")}).Marshal())
	req := httptest.NewRequest(http.MethodPost, "/svc/Echo", strings.NewReader(string(reqFrame)))
	rec := httptest.NewRecorder()

	dispatcher.ServeHTTP(rec, req)

	if len(logged) != 1 || logged[0] != "/svc/Echo" {
		t.Fatalf("expected interceptor to observe one call to /svc/Echo, got %v", logged)
	}
}

var errBoom = errBoomType{}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }
