package common

import (
	"errors"
	"testing"
)

// TestResolveEndpointBindAny checks that an empty host yields the
// unspecified address for bind-any listeners
func TestResolveEndpointBindAny(t *testing.T) {
	addr, err := ResolveEndpoint("", 5760)
	if err != nil {
		t.Fatalf("Failed to resolve empty host: %v", err)
	}
	if !addr.IP.IsUnspecified() {
		t.Errorf("IP = %s, want unspecified", addr.IP)
	}
	if addr.Port != 5760 {
		t.Errorf("Port = %d, want 5760", addr.Port)
	}
}

// TestResolveEndpointLocalhost checks that resolution applies the port to
// the first candidate address
func TestResolveEndpointLocalhost(t *testing.T) {
	addr, err := ResolveEndpoint("localhost", 14550)
	if err != nil {
		t.Fatalf("Failed to resolve localhost: %v", err)
	}
	if !addr.IP.IsLoopback() {
		t.Errorf("IP = %s, want a loopback address", addr.IP)
	}
	if addr.Port != 14550 {
		t.Errorf("Port = %d, want 14550", addr.Port)
	}
}

// TestResolveEndpointLiteral checks that IP literals pass through unchanged
func TestResolveEndpointLiteral(t *testing.T) {
	addr, err := ResolveEndpoint("127.0.0.1", 1)
	if err != nil {
		t.Fatalf("Failed to resolve literal: %v", err)
	}
	if addr.String() != "127.0.0.1:1" {
		t.Errorf("addr = %s, want 127.0.0.1:1", addr)
	}
}

// TestResolveEndpointFailure checks that lookup failures wrap the resolve
// sentinel error
func TestResolveEndpointFailure(t *testing.T) {
	_, err := ResolveEndpoint("host.invalid.", 5760)
	if err == nil {
		t.Fatal("Expected error for unresolvable host, got nil")
	}
	if !errors.Is(err, ErrResolve) {
		t.Errorf("error %v does not wrap ErrResolve", err)
	}
}
