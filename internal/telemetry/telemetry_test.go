package telemetry_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tartampluch/greeter-service/internal/telemetry"
)

func TestNew_RegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)
	require.NotNil(t, m)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestBreakerStateValue(t *testing.T) {
	assert.Equal(t, float64(0), telemetry.BreakerStateValue("closed"))
	assert.Equal(t, float64(1), telemetry.BreakerStateValue("half-open"))
	assert.Equal(t, float64(2), telemetry.BreakerStateValue("open"))
	assert.Equal(t, float64(-1), telemetry.BreakerStateValue("unknown"))
}
