package tracing

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/opengoat/internal/config"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned %v", err)
	}
}

func TestInitRejectsUnknownProtocol(t *testing.T) {
	_, err := Init(context.Background(), config.TracingConfig{
		Enabled:  true,
		Endpoint: "localhost:4318",
		Protocol: "carrier-pigeon",
	})
	if err == nil {
		t.Fatal("unknown protocol accepted")
	}
}

func TestStripScheme(t *testing.T) {
	cases := map[string]string{
		"http://localhost:4318":  "localhost:4318",
		"https://collector:4318": "collector:4318",
		"collector:4318":         "collector:4318",
	}
	for in, want := range cases {
		if got := stripScheme(in); got != want {
			t.Errorf("stripScheme(%q) = %q, want %q", in, got, want)
		}
	}
}
