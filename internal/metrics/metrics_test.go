package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCodecOperation(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordCodecOperation("decode", 3*time.Millisecond, 58, 1000)
	m.RecordCodecOperation("decode", time.Millisecond, 42, 100)
	m.RecordCodecOperation("encode", time.Millisecond, 1000, 58)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.codecOperations.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.codecOperations.WithLabelValues("encode")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.codecBytes.WithLabelValues("decode", "in")))
	assert.Equal(t, 1100.0, testutil.ToFloat64(m.codecBytes.WithLabelValues("decode", "out")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.codecDuration))
}

func TestRecordCodecError(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordCodecError("decode", "checksum_mismatch")
	m.RecordCodecError("decode", "checksum_mismatch")
	m.RecordCodecError("encode", "unknown_profile")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.codecErrors.WithLabelValues("decode", "checksum_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.codecErrors.WithLabelValues("encode", "unknown_profile")))
}

func TestRecordCompressionRatio(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordCompressionRatio(21, 1000)
	m.RecordCompressionRatio(10, 0)

	assert.Equal(t, 1, testutil.CollectAndCount(m.compressionRatio))

	reg := prometheus.NewRegistry()
	m = NewMetricsWithRegistry(reg)
	m.RecordCompressionRatio(500, 1000)
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "djbf_compression_ratio" {
			h := mf.GetMetric()[0].GetHistogram()
			assert.Equal(t, uint64(1), h.GetSampleCount())
			assert.InDelta(t, 0.5, h.GetSampleSum(), 1e-9)
		}
	}
}

func TestCacheConverterAndReloadCounters(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)
	m.RecordConverterFile("decrypt", "success")
	m.RecordConverterFile("decrypt", "failed")
	m.RecordConverterFile("decrypt", "success")
	m.RecordProfileReload(true)
	m.RecordProfileReload(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheRequests.WithLabelValues("miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.converterFiles.WithLabelValues("decrypt", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.converterFiles.WithLabelValues("decrypt", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.profileReloads.WithLabelValues("failure")))
}

func TestRecordHTTPRequest(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordHTTPRequest("POST", "/v1/decode", http.StatusOK, 5*time.Millisecond, 512)
	m.RecordHTTPRequest("POST", "/v1/decode", http.StatusUnprocessableEntity, time.Millisecond, 64)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("POST", "/v1/decode", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("POST", "/v1/decode", "Unprocessable Entity")))
	assert.Equal(t, 576.0, testutil.ToFloat64(m.httpRequestBytes.WithLabelValues("POST", "/v1/decode")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	m.RecordCodecOperation("encode", time.Millisecond, 10, 47)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `djbf_codec_operations_total{operation="encode"} 1`)
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	m.RecordConverterFile("encrypt", "success")
	m.UpdateSystemMetrics()

	path := filepath.Join(t.TempDir(), "djbf.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `djbf_converter_files_total{mode="encrypt",result="success"} 1`)
	assert.Contains(t, string(data), "goroutines_total")
}

func TestSystemMetricsCollectorStops(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	stop := make(chan struct{})
	m.StartSystemMetricsCollector(10*time.Millisecond, stop)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.goroutines) > 0
	}, time.Second, 10*time.Millisecond)
	close(stop)
}
