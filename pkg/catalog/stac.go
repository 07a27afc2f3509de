package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb/geojson"

	"glaiprocessor/pkg/config"
	glaierrors "glaiprocessor/pkg/errors"
	"glaiprocessor/pkg/logger"
	"glaiprocessor/pkg/metadata"
	"glaiprocessor/pkg/ratelimit"
	"glaiprocessor/pkg/retry"
	"glaiprocessor/pkg/scene"
	"glaiprocessor/pkg/storage"
)

const (
	defaultAssetKey = "analytic"
	defaultPageSize = 100
	defaultMaxPages = 50
	userAgent       = "glai-processor"
)

// Options configures a STACSource
type Options struct {
	URL      string
	Platform scene.Platform
	// Collection overrides the platform's default collection
	Collection    string
	AssetKey      string
	APIKey        string
	APIKeyHeader  string
	MaxCloudCover float64
	PageSize      int
	MaxPages      int
	Timeout       time.Duration
	Limiter       ratelimit.Limiter
	Retry         *retry.Config
	Logger        logger.Logger
}

// OptionsFromConfig derives source options from the run configuration
func OptionsFromConfig(cfg *config.Config, apiKey string, log logger.Logger) (Options, error) {
	platform, ok := scene.LookupPlatform(cfg.Monitor.Platform)
	if !ok {
		return Options{}, glaierrors.Newf(glaierrors.KindConfiguration, "catalog.options",
			"unknown platform %q (known: %s)", cfg.Monitor.Platform, strings.Join(scene.PlatformNames(), ", "))
	}
	return Options{
		URL:           cfg.Catalog.URL,
		Platform:      platform,
		Collection:    cfg.Catalog.Collection,
		AssetKey:      cfg.Catalog.AssetKey,
		APIKey:        apiKey,
		APIKeyHeader:  cfg.Catalog.APIKeyHeader,
		MaxCloudCover: cfg.Catalog.MaxCloudCover,
		PageSize:      cfg.Catalog.PageSize,
		Timeout:       cfg.Catalog.Timeout.Std(),
		Limiter:       ratelimit.PerMinute(cfg.Catalog.RequestsPerMinute, cfg.Catalog.BurstSize),
		Retry: retry.NewConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialDelay.Std(),
			cfg.Retry.MaxDelay.Std(), cfg.Retry.Multiplier, log),
		Logger: log,
	}, nil
}

// STACSource searches a STAC API and downloads one multi-band asset per scene
type STACSource struct {
	httpClient *http.Client
	store      *storage.Manager
	baseURL    *url.URL
	collection string
	opts       Options
	limiter    ratelimit.Limiter
	retry      *retry.Config
	logger     logger.Logger
	now        func() time.Time
}

// NewSTACSource creates a scene source writing into store
func NewSTACSource(store *storage.Manager, opts Options) (*STACSource, error) {
	const op = "catalog.new"

	if opts.Platform.Name == "" {
		return nil, glaierrors.New(glaierrors.KindConfiguration, op, "no platform configured")
	}
	collection := opts.Collection
	if collection == "" {
		collection = opts.Platform.Collection
	}
	if collection == "" {
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, op, "platform %s has no catalog collection", opts.Platform.Name)
	}

	base, err := url.Parse(strings.TrimRight(opts.URL, "/") + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, glaierrors.Newf(glaierrors.KindConfiguration, op, "invalid catalog url %q", opts.URL)
	}

	if opts.AssetKey == "" {
		opts.AssetKey = defaultAssetKey
	}
	if opts.PageSize < 1 {
		opts.PageSize = defaultPageSize
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}

	return &STACSource{
		httpClient: &http.Client{Timeout: opts.Timeout},
		store:      store,
		baseURL:    base,
		collection: collection,
		opts:       opts,
		limiter:    opts.Limiter,
		retry:      opts.Retry,
		logger:     opts.Logger.WithField("component", "catalog"),
		now:        time.Now,
	}, nil
}

// Collection returns the collection the source searches
func (s *STACSource) Collection() string {
	return s.collection
}

type searchResponse struct {
	Type     string `json:"type"`
	Features []item `json:"features"`
	Links    []link `json:"links"`
}

type item struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	Geometry   *geojson.Geometry      `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
	Assets     map[string]asset       `json:"assets"`
}

type asset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type"`
	Title string   `json:"title"`
	Roles []string `json:"roles"`
}

type link struct {
	Rel    string          `json:"rel"`
	Href   string          `json:"href"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body"`
	Merge  bool            `json:"merge"`
}

// pageRequest is one request of a paginated search
type pageRequest struct {
	method string
	url    string
	body   map[string]interface{}
}

// Fetch implements SceneSource. Search failures are returned as is; failures
// of individual scenes are logged and returned together after every other
// scene of the window has been attempted.
func (s *STACSource) Fetch(ctx context.Context, q Query) (*FetchReport, error) {
	report := &FetchReport{Window: q.Window}

	items, err := s.search(ctx, s.searchBody(q))
	if err != nil {
		return report, err
	}
	report.Matched = len(items)

	var errs []error
	seen := make(map[string]bool)
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if q.AOI != nil && !it.overlaps(q.AOI) {
			s.logger.DebugWithFields("Item footprint misses the AOI", map[string]interface{}{"item": it.ID})
			report.Skipped++
			continue
		}

		id, err := s.sceneID(it)
		if err != nil {
			s.logger.WithError(err).WarnWithFields("Skipping catalog item", map[string]interface{}{"item": it.ID})
			report.Skipped++
			continue
		}
		if seen[id.Key()] {
			s.logger.DebugWithFields("Scene already fetched from another item", map[string]interface{}{
				"item":  it.ID,
				"scene": id.Key(),
			})
			report.Skipped++
			continue
		}
		seen[id.Key()] = true
		report.Scenes = append(report.Scenes, id)

		if err := s.materialise(ctx, it, id, report); err != nil {
			if glaierrors.IsConfiguration(err) || ctx.Err() != nil {
				return report, err
			}
			logger.LogSceneOutcome(s.logger, id.Key(), "fetch", err)
			errs = append(errs, fmt.Errorf("%s: %w", id.Key(), err))
		}
	}

	if len(report.Scenes) > 0 {
		name, err := s.writeProvenance(q, report.Scenes)
		if err != nil {
			errs = append(errs, err)
		} else {
			report.Provenance = name
		}
	}

	logger.LogMetrics(s.logger, "catalog fetch", map[string]interface{}{
		"window":     q.Window.String(),
		"matched":    report.Matched,
		"downloaded": report.Downloaded,
		"existing":   report.Existing,
		"skipped":    report.Skipped,
		"size":       humanize.Bytes(uint64(report.Bytes)),
	})

	if len(errs) > 0 {
		return report, glaierrors.Wrap(glaierrors.KindTransient, "catalog.fetch", errors.Join(errs...))
	}
	return report, nil
}

func (s *STACSource) searchBody(q Query) map[string]interface{} {
	end := q.Window.End.Add(24*time.Hour - time.Second)
	body := map[string]interface{}{
		"collections": []string{s.collection},
		"datetime":    q.Window.Start.UTC().Format(time.RFC3339) + "/" + end.UTC().Format(time.RFC3339),
		"limit":       s.opts.PageSize,
	}
	if q.AOI != nil {
		body["bbox"] = q.AOI.BBox()
	}
	if filters := s.opts.Platform.Filters(s.opts.MaxCloudCover); len(filters) > 0 {
		query := make(map[string]interface{}, len(filters))
		for _, f := range filters {
			query[f.Property] = map[string]float64{f.Operator: f.Value}
		}
		body["query"] = query
	}
	return body
}

// search runs an item search and follows "next" links
func (s *STACSource) search(ctx context.Context, body map[string]interface{}) ([]item, error) {
	req := pageRequest{method: http.MethodPost, url: s.resolve("search"), body: body}

	var items []item
	for page := 1; ; page++ {
		if page > s.opts.MaxPages {
			s.logger.WarnWithFields("Search result truncated", map[string]interface{}{
				"max_pages": s.opts.MaxPages,
				"items":     len(items),
			})
			break
		}

		resp, err := retry.DoWithResult(ctx, func(ctx context.Context) (*searchResponse, error) {
			return s.searchPage(ctx, req)
		}, s.retry)
		if err != nil {
			return nil, err
		}
		items = append(items, resp.Features...)

		next, ok := resp.next()
		if !ok || len(resp.Features) == 0 {
			break
		}
		if req, err = s.followLink(next, req); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (r *searchResponse) next() (link, bool) {
	for _, l := range r.Links {
		if l.Rel == "next" && l.Href != "" {
			return l, true
		}
	}
	return link{}, false
}

func (s *STACSource) followLink(l link, prev pageRequest) (pageRequest, error) {
	next := pageRequest{method: strings.ToUpper(l.Method), url: s.resolve(l.Href)}
	if next.method == "" {
		next.method = http.MethodGet
	}
	if next.method != http.MethodPost {
		return next, nil
	}

	next.body = prev.body
	if len(l.Body) == 0 {
		return next, nil
	}
	var body map[string]interface{}
	if err := json.Unmarshal(l.Body, &body); err != nil {
		return pageRequest{}, glaierrors.Wrap(glaierrors.KindDataQuality, "catalog.search", fmt.Errorf("decode next link body: %w", err))
	}
	if !l.Merge {
		next.body = body
		return next, nil
	}
	merged := make(map[string]interface{}, len(prev.body)+len(body))
	for k, v := range prev.body {
		merged[k] = v
	}
	for k, v := range body {
		merged[k] = v
	}
	next.body = merged
	return next, nil
}

func (s *STACSource) searchPage(ctx context.Context, req pageRequest) (*searchResponse, error) {
	var payload []byte
	if req.body != nil {
		var err error
		if payload, err = json.Marshal(req.body); err != nil {
			return nil, fmt.Errorf("marshal search request: %w", err)
		}
	}

	resp, err := s.do(ctx, "catalog.search", req.method, req.url, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindTransient, "catalog.search", fmt.Errorf("decode search response: %w", err))
	}
	return &out, nil
}

// do sends one rate-limited request. Non-2xx responses are closed and
// returned as classified errors.
func (s *STACSource) do(ctx context.Context, op, method, target string, body []byte) (*http.Response, error) {
	wait, err := s.limiter.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if wait > 0 {
		logger.LogRateLimit(s.logger, target, wait)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindConfiguration, op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/geo+json, application/json")
	}
	if s.opts.APIKey != "" && s.opts.APIKeyHeader != "" {
		req.Header.Set(s.opts.APIKeyHeader, s.opts.APIKey)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, glaierrors.Wrap(glaierrors.KindTransient, op, err)
	}
	logger.LogRequest(s.logger, method, target, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, glaierrors.HTTP(op, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// resolve turns a possibly relative reference into an absolute URL
func (s *STACSource) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return s.baseURL.ResolveReference(u).String()
}

func (s *STACSource) sceneID(it item) (scene.ID, error) {
	platform, _ := it.Properties["platform"].(string)
	if platform == "" {
		return scene.ID{}, glaierrors.New(glaierrors.KindDataQuality, "catalog.item", "item has no platform property")
	}
	code := scene.PlatformCode(platform)
	if _, ok := scene.SensorFor(code); !ok {
		return scene.ID{}, glaierrors.Newf(glaierrors.KindDataQuality, "catalog.item", "platform %q has no forward model sensor", platform)
	}

	acquired, err := it.acquired()
	if err != nil {
		return scene.ID{}, err
	}
	return scene.NewID(code, acquired, s.opts.Platform.RasterBands), nil
}

// overlaps reports whether the item footprint touches the AOI bound. Items
// without a footprint are kept.
func (it item) overlaps(aoi *AOI) bool {
	if it.Geometry == nil || it.Geometry.Geometry() == nil {
		return true
	}
	return aoi.Bound.Intersects(it.Geometry.Geometry().Bound())
}

func (it item) acquired() (time.Time, error) {
	for _, key := range []string{"datetime", "start_datetime"} {
		v, ok := it.Properties[key].(string)
		if !ok || v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, glaierrors.Wrap(glaierrors.KindDataQuality, "catalog.item", fmt.Errorf("invalid %s %q: %w", key, v, err))
		}
		return t.UTC(), nil
	}
	return time.Time{}, glaierrors.New(glaierrors.KindDataQuality, "catalog.item", "item has no acquisition datetime")
}

// angleSources lists, per angle file key, the item properties it can be
// derived from in order of preference
var angleSources = []struct {
	key       string
	property  string
	transform func(float64) float64
}{
	{metadata.KeySunZenith, metadata.KeySunZenith, nil},
	{metadata.KeySunZenith, "s2:mean_solar_zenith", nil},
	{metadata.KeySunZenith, "view:sun_elevation", func(v float64) float64 { return 90 - v }},
	{metadata.KeySunAzimuth, metadata.KeySunAzimuth, nil},
	{metadata.KeySunAzimuth, "s2:mean_solar_azimuth", nil},
	{metadata.KeySunAzimuth, "view:sun_azimuth", nil},
	{metadata.KeySensorZenith, metadata.KeySensorZenith, nil},
	{metadata.KeySensorZenith, "view:incidence_angle", nil},
	{metadata.KeySensorZenith, "view:off_nadir", nil},
	{metadata.KeySensorAzimuth, metadata.KeySensorAzimuth, nil},
	{metadata.KeySensorAzimuth, "view:azimuth", nil},
}

// angles extracts the scene geometry from item properties. Angles the item
// does not carry are left out so that readers apply their defaults.
func (it item) angles() map[string]float64 {
	out := make(map[string]float64, 4)
	for _, src := range angleSources {
		if _, done := out[src.key]; done {
			continue
		}
		v, ok := number(it.Properties[src.property])
		if !ok {
			continue
		}
		if src.transform != nil {
			v = src.transform(v)
		}
		out[src.key] = v
	}
	return out
}

func number(v interface{}) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// materialise downloads the reflectance raster and writes the angle file of
// one scene, skipping whatever already exists
func (s *STACSource) materialise(ctx context.Context, it item, id scene.ID, report *FetchReport) error {
	a := s.store.Artifacts(id)

	if a.HasReflectance() {
		report.Existing++
	} else {
		src, ok := it.Assets[s.opts.AssetKey]
		if !ok || src.Href == "" {
			return glaierrors.Newf(glaierrors.KindDataQuality, "catalog.download", "item %s has no %q asset", it.ID, s.opts.AssetKey)
		}
		n, err := s.download(ctx, s.resolve(src.Href), filepath.Base(a.Reflectance))
		if err != nil {
			return err
		}
		report.Downloaded++
		report.Bytes += n
		s.logger.InfoWithFields("Scene downloaded", map[string]interface{}{
			"scene": id.Key(),
			"item":  it.ID,
			"size":  humanize.Bytes(uint64(n)),
		})
	}

	if a.HasAngles() {
		return nil
	}
	values := it.angles()
	if len(values) < 4 {
		s.logger.WarnWithFields("Item lacks viewing geometry, defaults will apply", map[string]interface{}{
			"scene": id.Key(),
			"found": len(values),
		})
	}
	data, err := metadata.EncodeAngles(values)
	if err != nil {
		return err
	}
	return s.store.WriteFile(filepath.Base(a.Angles), data)
}

func (s *STACSource) download(ctx context.Context, href, name string) (int64, error) {
	return retry.DoWithResult(ctx, func(ctx context.Context) (int64, error) {
		resp, err := s.do(ctx, "catalog.download", http.MethodGet, href, nil)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		n, err := s.store.Save(name, resp.Body)
		if err != nil {
			return 0, glaierrors.Wrap(glaierrors.KindTransient, "catalog.download", err)
		}
		return n, nil
	}, s.retry)
}

func (s *STACSource) writeProvenance(q Query, ids []scene.ID) (string, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.Key()
	}

	p := &metadata.Provenance{
		Collection:      s.collection,
		CatalogURL:      s.baseURL.String(),
		Feature:         q.Feature,
		TimeStart:       q.Window.Start.Format(scene.DateLayout),
		TimeEnd:         q.Window.End.Format(scene.DateLayout),
		MetadataFilters: s.opts.Platform.Filters(s.opts.MaxCloudCover),
		BandSelection:   s.opts.Platform.RasterBands,
		AssetKey:        s.opts.AssetKey,
		Scenes:          keys,
		CreatedAt:       s.now().UTC(),
	}
	if q.AOI != nil {
		p.BBox = q.AOI.BBox()
	}

	data, err := p.Encode()
	if err != nil {
		return "", err
	}
	name := scene.ProvenanceName(s.collection, q.Window.Start, q.Window.End)
	if err := s.store.WriteFile(name, data); err != nil {
		return "", fmt.Errorf("failed to write provenance: %w", err)
	}
	return name, nil
}
