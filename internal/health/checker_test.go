package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckAllHealthy(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("a", "database", func(ctx context.Context) error { return nil })
	c.Register("b", "upstream", func(ctx context.Context) error { return nil })

	status, components := c.CheckAll(context.Background())
	if status != StatusHealthy {
		t.Fatalf("status = %s", status)
	}
	if len(components) != 2 {
		t.Fatalf("got %d components", len(components))
	}
	for _, comp := range components {
		if comp.Status != StatusHealthy || comp.Error != "" {
			t.Fatalf("component = %+v", comp)
		}
	}
}

func TestUpstreamFailureDegrades(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("db", "database", func(ctx context.Context) error { return nil })
	c.Register("provider", "upstream", func(ctx context.Context) error { return errors.New("unreachable") })

	status, components := c.CheckAll(context.Background())
	if status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", status)
	}
	for _, comp := range components {
		if comp.Name == "provider" && comp.Error == "" {
			t.Fatalf("failing probe lost its error: %+v", comp)
		}
	}
}

func TestDatabaseFailureIsUnhealthy(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("db", "database", func(ctx context.Context) error { return errors.New("locked") })
	c.Register("provider", "upstream", func(ctx context.Context) error { return nil })

	status, _ := c.CheckAll(context.Background())
	if status != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy", status)
	}
}

func TestProbeTimeoutEnforced(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Register("slow", "upstream", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	status, _ := c.CheckAll(context.Background())
	if status != StatusDegraded {
		t.Fatalf("status = %s", status)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("probe timeout not enforced")
	}
}

func TestReachable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Even an error status proves connectivity.
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	if err := Reachable(nil, upstream.URL)(context.Background()); err != nil {
		t.Fatalf("Reachable: %v", err)
	}

	upstream.Close()
	if err := Reachable(nil, upstream.URL)(context.Background()); err == nil {
		t.Fatalf("expected error for closed upstream")
	}
}
