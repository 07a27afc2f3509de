package lut

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/logger"
	"glaiprocessor/pkg/metadata"
	"glaiprocessor/pkg/retry"
)

func fastRetry() *retry.Config {
	return &retry.Config{MaxAttempts: 3, Backoff: &retry.ConstantBackoff{Delay: time.Millisecond}}
}

// rtmServer answers every sample with reflectance derived from its first value
func rtmServer(t *testing.T, calls *int32, requests chan<- simulateRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/simulate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var in simulateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if requests != nil {
			requests <- in
		}

		out := simulateResponse{Bands: []string{"B04", "B08"}}
		for _, s := range in.Samples {
			out.Reflectance = append(out.Reflectance, []float64{s[0] / 100, s[0] / 10})
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(out))
	}))
}

func TestRTMClientBatches(t *testing.T) {
	var calls int32
	requests := make(chan simulateRequest, 10)
	srv := rtmServer(t, &calls, requests)
	defer srv.Close()

	samples, err := NewTable([]string{"lai", "tts"}, [][]float64{{1, 30}, {2, 30}, {3, 30}, {4, 30}, {5, 30}})
	require.NoError(t, err)

	client := NewRTMClient(srv.URL+"/", 2, 5*time.Second, fastRetry(), logger.NewTestLogger())
	angles := metadata.AngleSet{SolarZenith: 30, SolarAzimuth: 150, ViewingZenith: 5, ViewingAzimuth: 100}

	out, err := client.Simulate(context.Background(), SimulationRequest{Sensor: "Sentinel2A", Angles: angles, Samples: samples})
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"B04", "B08"}, out.Columns)
	assert.Equal(t, 5, out.Rows())
	b08, _ := out.Column("B08")
	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.3, 0.4, 0.5}, b08, 1e-12)

	first := <-requests
	assert.Equal(t, "Sentinel2A", first.Sensor)
	assert.Equal(t, []string{"lai", "tts"}, first.Columns)
	assert.Len(t, first.Samples, 2)
	assert.Equal(t, 30.0, first.Angles.SolarZenithTTS)
	assert.Equal(t, 5.0, first.Angles.ViewingZenithTO)
	assert.Equal(t, 50.0, first.Angles.RelativeAzimuth)
}

func TestRTMClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(simulateResponse{Bands: []string{"B04"}, Reflectance: [][]float64{{0.1}}})
	}))
	defer srv.Close()

	samples, err := NewTable([]string{"lai"}, [][]float64{{1}})
	require.NoError(t, err)

	client := NewRTMClient(srv.URL, 10, 5*time.Second, fastRetry(), nil)
	out, err := client.Simulate(context.Background(), SimulationRequest{Sensor: "Sentinel2A", Samples: samples})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Rows())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRTMClientErrors(t *testing.T) {
	samples, err := NewTable([]string{"lai"}, [][]float64{{1}, {2}})
	require.NoError(t, err)

	t.Run("rejected request", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			http.Error(w, "unknown sensor", http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		_, err := NewRTMClient(srv.URL, 10, time.Second, fastRetry(), nil).
			Simulate(context.Background(), SimulationRequest{Sensor: "Foo", Samples: samples})
		assert.True(t, glaierrors.IsConfiguration(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("wrong row count", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(simulateResponse{Bands: []string{"B04"}, Reflectance: [][]float64{{0.1}}})
		}))
		defer srv.Close()

		_, err := NewRTMClient(srv.URL, 10, time.Second, fastRetry(), nil).
			Simulate(context.Background(), SimulationRequest{Sensor: "Sentinel2A", Samples: samples})
		assert.True(t, glaierrors.IsDataQuality(err))
	})

	t.Run("service down", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewRTMClient(url, 10, time.Second, fastRetry(), nil).
			Simulate(context.Background(), SimulationRequest{Sensor: "Sentinel2A", Samples: samples})
		require.Error(t, err)
		assert.True(t, glaierrors.IsTransient(err))
	})

	t.Run("no samples", func(t *testing.T) {
		_, err := NewRTMClient("http://localhost", 10, time.Second, nil, nil).
			Simulate(context.Background(), SimulationRequest{Sensor: "Sentinel2A"})
		assert.True(t, glaierrors.IsConfiguration(err))
	})
}
