package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{ServiceVersion: "0.1.0"}, nil)
	require.NoError(t, err)
	assert.Nil(t, p.tracerProvider)
	assert.Nil(t, p.meterProvider)

	ctx, span := p.StartSpan(ctx, "evaluate")
	p.RecordEvaluation(ctx, "P1", "pass", time.Second)
	p.RecordGateIssues(ctx, "scope", 2)
	span.End()

	assert.NoError(t, p.Shutdown(ctx))
}

func TestNilProvider(t *testing.T) {
	var p *Provider
	ctx, span := p.StartSpan(context.Background(), "evaluate")
	defer span.End()
	p.RecordEvaluation(ctx, "P1", "fail", time.Millisecond)
	p.RecordGateIssues(ctx, "docs", 1)
}
