package config

import "testing"

func TestBuilderOrderIndependence(t *testing.T) {
	a := NewBuilder().
		With(WithNetwork(NetworkTestnet)).
		With(WithPeerAddress("10.0.0.1:8333")).
		With(WithStartHeight(500)).
		Build()

	b := NewBuilder().
		With(WithStartHeight(500)).
		With(WithPeerAddress("10.0.0.1:8333")).
		With(WithNetwork(NetworkTestnet)).
		Build()

	if a != b {
		t.Fatalf("builder result depends on option order: %+v != %+v", a, b)
	}
}

func TestBuilderDefaults(t *testing.T) {
	cfg := NewBuilder().With(WithRescan(true)).Build()
	want := Defaults()
	want.Rescan = true
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}
