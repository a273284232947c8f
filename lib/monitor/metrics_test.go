package monitor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	before := testutil.ToFloat64(Requests.WithLabelValues("dev", "SET", "NONE"))
	ObserveRequest("dev", "SET", "NONE")
	ObserveRequest("dev", "SET", "NONE")
	assert.Equal(t, before+2, testutil.ToFloat64(Requests.WithLabelValues("dev", "SET", "NONE")))
}

func TestSetConnected(t *testing.T) {
	SetConnected("dev", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(Connected.WithLabelValues("dev")))
	SetConnected("dev", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(Connected.WithLabelValues("dev")))
}

func TestRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() {
		Register(reg)
		Register(reg)
	})
}
