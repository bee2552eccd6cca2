package telemetry

import (
	"context"
	"testing"
)

func TestNewDisabledProviderNoOps(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	ctx, span := p.StartSpan(context.Background(), "ingest")
	span.End()
	p.AcceptedCounter.Add(ctx, 1)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestNewEnabledProviderStartsSpansAndShutsDown(t *testing.T) {
	p, err := New(context.Background(), &Config{ServiceName: "licl-test", ServiceVersion: "0.0.1", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	ctx, span := p.StartSpan(context.Background(), "ingest")
	p.AcceptedCounter.Add(ctx, 1)
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
