package refinemetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewIsIdempotentPerRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()

	m1 := New(reg)
	m2 := New(reg)
	if m1 != m2 {
		t.Fatalf("expected New to return the cached Metrics for a repeat registerer")
	}
}

func TestNewUsesDistinctInstancesPerRegisterer(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	m1 := New(reg1)
	m2 := New(reg2)
	if m1 == m2 {
		t.Fatalf("expected distinct Metrics instances for distinct registerers")
	}
}
