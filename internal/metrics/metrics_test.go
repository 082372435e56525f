package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRegistered(t *testing.T) {
	before := testutil.ToFloat64(ScansTotal.WithLabelValues("dsp", "completed"))
	ScansTotal.WithLabelValues("dsp", "completed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ScansTotal.WithLabelValues("dsp", "completed")))

	DisabledScans.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(DisabledScans))
}
