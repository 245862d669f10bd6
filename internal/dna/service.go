// Package dna implements the CityDNA feature calls: every operation is a thin
// caller that builds an intelligence request, hands it to the resilient call
// wrapper with a typed fallback, and post-processes the response.
//
// Fallback resolution prefers a last-known-good snapshot of the same feature
// and city over the static baseline: stale real data beats a canned answer.
// Results carry a degraded marker so callers can label them without the
// payload shape changing.
package dna

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lokalos/citydna/internal/lastgood"
	"github.com/lokalos/citydna/internal/observe"
	"github.com/lokalos/citydna/internal/resilience"
	"github.com/lokalos/citydna/pkg/intel"
	"github.com/lokalos/citydna/pkg/types"
)

// Feature-call names used for snapshots, metrics, and logs.
const (
	FeatureCityLookup = "city-lookup"
	FeaturePulse      = "pulse"
	FeatureCompare    = "compare"
	FeatureExplore    = "explore"
	FeaturePlace      = "place"
	FeatureLens       = "lens"
	FeatureTranscribe = "transcribe"
	FeatureGeocode    = "geocode"
	FeatureSkyline    = "skyline"
)

// defaultSkylineTimeout bounds the decorative skyline generation. The request
// is cancelled when the deadline passes, not abandoned in flight.
const defaultSkylineTimeout = 5 * time.Second

// Option is a functional option for configuring a Service.
type Option func(*Service)

// WithRetryOptions overrides the retry policy applied to feature calls.
func WithRetryOptions(opts resilience.Options) Option {
	return func(s *Service) { s.retry = opts }
}

// WithStore sets the last-known-good snapshot store.
func WithStore(store lastgood.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithVisionModel overrides the model used for image-understanding requests.
func WithVisionModel(model string) Option {
	return func(s *Service) { s.visionModel = model }
}

// WithSkylineTimeout overrides the skyline generation deadline.
func WithSkylineTimeout(d time.Duration) Option {
	return func(s *Service) { s.skylineTimeout = d }
}

// Service executes feature calls against an ordered provider chain.
type Service struct {
	chain          *resilience.Chain[intel.Provider]
	retry          resilience.Options
	store          lastgood.Store
	metrics        *observe.Metrics
	log            *slog.Logger
	visionModel    string
	skylineTimeout time.Duration
}

// New creates a feature-call service over the given provider chain.
func New(chain *resilience.Chain[intel.Provider], opts ...Option) *Service {
	s := &Service{
		chain:          chain,
		store:          lastgood.NewMemoryStore(),
		metrics:        observe.DefaultMetrics(),
		log:            slog.Default(),
		skylineTimeout: defaultSkylineTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// generate runs one request down the provider chain.
func (s *Service) generate(ctx context.Context, req intel.Request) (*intel.Response, error) {
	return resilience.Run(s.chain, func(p intel.Provider) (*intel.Response, error) {
		return p.Generate(ctx, req)
	})
}

// stripFences removes markdown code fences that models wrap JSON payloads in.
func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// decodeJSON strictly decodes a fenced-or-plain JSON payload into v. A decode
// failure is a permanent failure for the call: partial payloads are never
// rendered.
func decodeJSON(text string, v any) error {
	if err := json.Unmarshal([]byte(stripFences(text)), v); err != nil {
		return fmt.Errorf("dna: decode payload: %w", err)
	}
	return nil
}

// groundingChunks converts provider grounding refs into the transport shape.
func groundingChunks(refs []intel.GroundingRef) []types.GroundingChunk {
	if len(refs) == 0 {
		return nil
	}
	chunks := make([]types.GroundingChunk, 0, len(refs))
	for _, r := range refs {
		src := &types.GroundingSource{URI: r.URI, Title: r.Title}
		if r.Maps {
			chunks = append(chunks, types.GroundingChunk{Maps: src})
		} else {
			chunks = append(chunks, types.GroundingChunk{Web: src})
		}
	}
	return chunks
}

// callJSON runs a JSON-producing feature call with retry, snapshot-preferring
// fallback, and metrics. cityKey selects the snapshot slot; empty disables
// snapshotting (for query-specific calls with no stable key). post, when
// non-nil, amends the decoded value with response metadata such as grounding.
func callJSON[T any](ctx context.Context, s *Service, feature, cityKey string, req intel.Request, baseline T, post func(*T, *intel.Response)) (T, bool, error) {
	start := time.Now()

	res, err := resilience.Do(ctx, feature, s.retry,
		func(ctx context.Context) (T, error) {
			var v T
			resp, err := s.generate(ctx, req)
			if err != nil {
				return v, err
			}
			if err := decodeJSON(resp.Text, &v); err != nil {
				return v, err
			}
			if post != nil {
				post(&v, resp)
			}
			return v, nil
		},
		func(ctx context.Context) (T, error) {
			if cityKey != "" {
				if snap, err := s.store.Get(ctx, feature, cityKey); err == nil {
					var v T
					if err := json.Unmarshal(snap.Payload, &v); err == nil {
						s.metrics.RecordFallback(ctx, feature, "snapshot")
						return v, nil
					}
				}
			}
			s.metrics.RecordFallback(ctx, feature, "baseline")
			return baseline, nil
		})

	s.finishCall(ctx, feature, start, res.Attempts, res.Degraded, err)
	if err != nil {
		return res.Value, false, err
	}

	if !res.Degraded && cityKey != "" {
		if payload, merr := json.Marshal(res.Value); merr == nil {
			if perr := s.store.Put(ctx, feature, cityKey, payload); perr != nil {
				s.log.Warn("snapshot write failed", "feature", feature, "error", perr)
			}
		}
	}
	return res.Value, res.Degraded, nil
}

// callText runs a free-text feature call with retry and a static fallback.
func (s *Service) callText(ctx context.Context, feature string, req intel.Request, baseline string) (string, bool, error) {
	start := time.Now()

	res, err := resilience.Do(ctx, feature, s.retry,
		func(ctx context.Context) (string, error) {
			resp, err := s.generate(ctx, req)
			if err != nil {
				return "", err
			}
			return resp.Text, nil
		},
		func(ctx context.Context) (string, error) {
			s.metrics.RecordFallback(ctx, feature, "baseline")
			return baseline, nil
		})

	s.finishCall(ctx, feature, start, res.Attempts, res.Degraded, err)
	return res.Value, res.Degraded, err
}

// finishCall records the call metrics shared by every feature.
func (s *Service) finishCall(ctx context.Context, feature string, start time.Time, attempts int, degraded bool, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case degraded:
		outcome = "degraded"
	}
	s.metrics.RecordCall(ctx, feature, outcome, time.Since(start).Seconds())
	for range attempts - 1 {
		s.metrics.RecordRetry(ctx, feature)
	}
}

// CityLookup resolves the city identity record for a coordinate fix.
func (s *Service) CityLookup(ctx context.Context, lat, lng float64) (types.CityData, bool, error) {
	req := intel.Request{
		Parts: []intel.Part{intel.TextPart(fmt.Sprintf(
			"Identify city at %v, %v. Return JSON: {city, accent_color, local_greeting, active_language}.",
			lat, lng))},
		JSONOutput: true,
	}
	// Snapshots are keyed on the coarse coordinate cell since the city name
	// is not known until the call succeeds.
	cell := fmt.Sprintf("%.2f,%.2f", lat, lng)

	return callJSON(ctx, s, FeatureCityLookup, cell, req, defaultCity(lat, lng),
		func(v *types.CityData, _ *intel.Response) {
			v.Lat = lat
			v.Lng = lng
		})
}

// Pulse fetches the live city mood snapshot.
func (s *Service) Pulse(ctx context.Context, city string, lat, lng float64) (types.PulseData, bool, error) {
	req := intel.Request{
		SystemInstruction: masterInstruction,
		Parts: []intel.Part{intel.TextPart(fmt.Sprintf(
			`Generate Pulse for %s at lat: %v, lng: %v.
MUST include:
1. "festivals" (Breakouts/current rituals)
2. "hotspots" (Current traffic bottlenecks)
3. "nuances" (Urban nuances like specific regulations, etiquette, or local events)
Use search for real-time accuracy.`, city, lat, lng))},
		JSONOutput: true,
		WebSearch:  true,
	}

	return callJSON(ctx, s, FeaturePulse, city, req, calmPulse(),
		func(v *types.PulseData, resp *intel.Response) {
			v.Grounding = groundingChunks(resp.Grounding)
		})
}

// PriceComparison compares mandi and retail prices for an item query.
func (s *Service) PriceComparison(ctx context.Context, query, city string) ([]types.ComparisonItem, bool, error) {
	req := intel.Request{
		SystemInstruction: masterInstruction,
		Parts: []intel.Part{intel.TextPart(fmt.Sprintf(
			"Compare Mandi vs Retail prices for %q in %s. Return JSON array of comparison items.",
			query, city))},
		JSONOutput: true,
		WebSearch:  true,
	}
	items, degraded, err := callJSON(ctx, s, FeatureCompare, "", req, []types.ComparisonItem{}, nil)
	if items == nil {
		items = []types.ComparisonItem{}
	}
	return items, degraded, err
}

// Explore fetches the newcomer onboarding payload for a city.
func (s *Service) Explore(ctx context.Context, city string, lat, lng float64) (types.ExploreData, bool, error) {
	req := intel.Request{
		SystemInstruction: masterInstruction,
		Parts: []intel.Part{intel.TextPart(fmt.Sprintf(
			`Provide Explore Data for %s (Lat: %v, Lng: %v). Include Top Tourist Spots, PG/Hostel areas, and newcomer tips. Use search for current "Breakouts" (festivals).`,
			city, lat, lng))},
		JSONOutput: true,
		WebSearch:  true,
	}
	return callJSON(ctx, s, FeatureExplore, city, req, baselineExplore(), nil)
}

// PlaceIntel fetches grounded spatial detail about a named place.
func (s *Service) PlaceIntel(ctx context.Context, query string, lat, lng float64) (types.PlaceIntel, bool, error) {
	req := intel.Request{
		SystemInstruction: masterInstruction,
		Parts: []intel.Part{intel.TextPart(fmt.Sprintf(
			"Detailed spatial intel for %q near %v, %v. Accessibility, reviews, and quality based on maps data.",
			query, lat, lng))},
		WebSearch: true,
	}

	start := time.Now()
	res, err := resilience.Do(ctx, FeaturePlace, s.retry,
		func(ctx context.Context) (types.PlaceIntel, error) {
			resp, err := s.generate(ctx, req)
			if err != nil {
				return types.PlaceIntel{}, err
			}
			text := resp.Text
			if text == "" {
				text = "Spatial scan complete."
			}
			return types.PlaceIntel{Text: text, Grounding: groundingChunks(resp.Grounding)}, nil
		},
		func(ctx context.Context) (types.PlaceIntel, error) {
			s.metrics.RecordFallback(ctx, FeaturePlace, "baseline")
			return types.PlaceIntel{Text: offlinePlaceText}, nil
		})

	s.finishCall(ctx, FeaturePlace, start, res.Attempts, res.Degraded, err)
	return res.Value, res.Degraded, err
}

// AnalyzeImage describes an image in the context of the given prompt.
func (s *Service) AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) (string, bool, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	req := intel.Request{
		SystemInstruction: masterInstruction,
		Parts: []intel.Part{
			intel.DataPart(mimeType, image),
			intel.TextPart(prompt),
		},
		Model: s.visionModel,
	}
	text, degraded, err := s.callText(ctx, FeatureLens, req, offlineLensText)
	if err == nil && !degraded && text == "" {
		text = emptyLensText
	}
	return text, degraded, err
}

// Transcribe converts an audio clip to text.
func (s *Service) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, bool, error) {
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	req := intel.Request{
		SystemInstruction: transcriberInstruction,
		Parts: []intel.Part{
			intel.DataPart(mimeType, audio),
			intel.TextPart("Transcribe this audio precisely."),
		},
	}
	return s.callText(ctx, FeatureTranscribe, req, "")
}

// ResolveLocation geocodes a free-text query within a city.
func (s *Service) ResolveLocation(ctx context.Context, query, city string) (types.GeoPoint, bool, error) {
	req := intel.Request{
		Parts: []intel.Part{intel.TextPart(fmt.Sprintf(
			"Find lat/lng for %q in %s. Return JSON: {lat, lng, label}.", query, city))},
		JSONOutput: true,
	}
	return callJSON(ctx, s, FeatureGeocode, "", req, defaultGeoPoint(city), nil)
}

// Skyline generates a decorative skyline image for a city. It is best-effort:
// the call runs once under a hard deadline and any failure yields empty bytes
// rather than an error.
func (s *Service) Skyline(ctx context.Context, city string) ([]byte, string) {
	ctx, cancel := context.WithTimeout(ctx, s.skylineTimeout)
	defer cancel()

	start := time.Now()
	req := intel.Request{
		Parts: []intel.Part{intel.TextPart(fmt.Sprintf(
			"Skyline of %s, India. Cinematic urban photo.", city))},
		ImageOutput: true,
	}

	resp, err := s.generate(ctx, req)
	if err != nil {
		s.metrics.RecordCall(ctx, FeatureSkyline, "error", time.Since(start).Seconds())
		s.log.Debug("skyline generation skipped", "city", city, "error", err)
		return nil, ""
	}
	s.metrics.RecordCall(ctx, FeatureSkyline, "ok", time.Since(start).Seconds())
	return resp.ImageData, resp.ImageMIMEType
}
