package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	o.RecordPromotion(time.Millisecond, 3, nil)
	o.RecordPromotion(time.Millisecond, 2, errors.New("boom"))
	o.RecordUpload(time.Millisecond, 1024, nil)
	o.RecordRollback("delete-local", nil)
	o.RecordRollback("delete-remote", errors.New("timeout"))

	assert.Equal(t, 3.0, testutil.ToFloat64(o.items.WithLabelValues("promote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.errors.WithLabelValues("promote")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(o.uploadBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.rollbacks.WithLabelValues("delete-remote", "failed")))

	// Registering twice on the same registry reuses the existing collectors.
	_, err = NewPrometheusObserver("test", reg)
	assert.NoError(t, err)
}

func TestOrNop(t *testing.T) {
	var p *PrometheusObserver
	assert.NotPanics(t, func() {
		OrNop(nil).RecordUpload(time.Second, 1, nil)
		OrNop(p).RecordRollback("delete-local", nil)
	})
}
