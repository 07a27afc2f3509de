package lut

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/logger"
	"glaiprocessor/pkg/metadata"
	"glaiprocessor/pkg/retry"
)

// Angle columns the forward model reads from every sample row
const (
	ColumnSolarZenith     = "tts"
	ColumnViewingZenith   = "tto"
	ColumnRelativeAzimuth = "psi"
)

// SimulationRequest asks the forward model for the spectra of a set of
// parameter samples under one illumination and viewing geometry
type SimulationRequest struct {
	Sensor  string
	Angles  metadata.AngleSet
	Samples *Table
}

// ForwardModel simulates band reflectance for parameter samples. The
// returned table holds one column per simulated band and one row per sample.
type ForwardModel interface {
	Simulate(ctx context.Context, req SimulationRequest) (*Table, error)
}

type simulateAngles struct {
	SolarZenith     float64 `json:"solar_zenith_angle"`
	SolarAzimuth    float64 `json:"solar_azimuth_angle"`
	ViewingZenith   float64 `json:"viewing_zenith_angle"`
	ViewingAzimuth  float64 `json:"viewing_azimuth_angle"`
	SolarZenithTTS  float64 `json:"tts"`
	ViewingZenithTO float64 `json:"tto"`
	RelativeAzimuth float64 `json:"psi"`
}

type simulateRequest struct {
	Sensor  string         `json:"sensor"`
	Angles  simulateAngles `json:"angles"`
	Columns []string       `json:"columns"`
	Samples [][]float64    `json:"samples"`
}

type simulateResponse struct {
	Bands       []string    `json:"bands"`
	Reflectance [][]float64 `json:"reflectance"`
}

// RTMClient calls a radiative transfer model service over HTTP
type RTMClient struct {
	httpClient *http.Client
	baseURL    string
	batchSize  int
	retry      *retry.Config
	logger     logger.Logger
}

// NewRTMClient creates a client for the service at baseURL. Samples are sent
// in batches of at most batchSize rows.
func NewRTMClient(baseURL string, batchSize int, timeout time.Duration, retryCfg *retry.Config, log logger.Logger) *RTMClient {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if batchSize < 1 {
		batchSize = 5000
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &RTMClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		batchSize:  batchSize,
		retry:      retryCfg,
		logger:     log,
	}
}

// Simulate implements ForwardModel
func (c *RTMClient) Simulate(ctx context.Context, req SimulationRequest) (*Table, error) {
	if req.Samples == nil || req.Samples.Rows() == 0 {
		return nil, glaierrors.New(glaierrors.KindConfiguration, "rtm.simulate", "no samples to simulate")
	}

	angles := simulateAngles{
		SolarZenith:     req.Angles.SolarZenith,
		SolarAzimuth:    req.Angles.SolarAzimuth,
		ViewingZenith:   req.Angles.ViewingZenith,
		ViewingAzimuth:  req.Angles.ViewingAzimuth,
		SolarZenithTTS:  req.Angles.SolarZenith,
		ViewingZenithTO: req.Angles.ViewingZenith,
		RelativeAzimuth: req.Angles.RelativeAzimuth(),
	}

	var out *Table
	rows := req.Samples.Rows()
	for start := 0; start < rows; start += c.batchSize {
		end := start + c.batchSize
		if end > rows {
			end = rows
		}

		body := simulateRequest{
			Sensor:  req.Sensor,
			Angles:  angles,
			Columns: req.Samples.Columns,
			Samples: make([][]float64, 0, end-start),
		}
		for r := start; r < end; r++ {
			body.Samples = append(body.Samples, req.Samples.Row(r))
		}

		resp, err := retry.DoWithResult(ctx, func(ctx context.Context) (*simulateResponse, error) {
			return c.post(ctx, body)
		}, c.retry)
		if err != nil {
			return nil, err
		}

		batch, err := responseTable(resp, end-start)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = batch
			continue
		}
		if strings.Join(out.Columns, ",") != strings.Join(batch.Columns, ",") {
			return nil, glaierrors.New(glaierrors.KindDataQuality, "rtm.simulate", "forward model changed its band list between batches")
		}
		out.Values = append(out.Values, batch.Values...)
	}

	c.logger.DebugWithFields("forward model simulation completed", map[string]interface{}{
		"sensor":  req.Sensor,
		"samples": rows,
		"bands":   out.Columns,
	})
	return out, nil
}

func responseTable(resp *simulateResponse, want int) (*Table, error) {
	if len(resp.Bands) == 0 {
		return nil, glaierrors.New(glaierrors.KindDataQuality, "rtm.simulate", "forward model returned no bands")
	}
	if len(resp.Reflectance) != want {
		return nil, glaierrors.Newf(glaierrors.KindDataQuality, "rtm.simulate",
			"forward model returned %d spectra for %d samples", len(resp.Reflectance), want)
	}
	t, err := NewTable(resp.Bands, resp.Reflectance)
	if err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindDataQuality, "rtm.simulate", err)
	}
	return t, nil
}

func (c *RTMClient) post(ctx context.Context, in simulateRequest) (*simulateResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal simulate request: %w", err)
	}

	url := c.baseURL + "/simulate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindConfiguration, "rtm.simulate", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, glaierrors.Wrap(glaierrors.KindTransient, "rtm.simulate", err)
	}
	defer resp.Body.Close()
	logger.LogRequest(c.logger, http.MethodPost, url, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindTransient, "rtm.simulate", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, glaierrors.HTTP("rtm.simulate", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out simulateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindDataQuality, "rtm.simulate", fmt.Errorf("decode simulate response: %w", err))
	}
	return &out, nil
}
