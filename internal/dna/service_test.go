package dna

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/lokalos/citydna/internal/resilience"
	"github.com/lokalos/citydna/pkg/intel"
)

// scriptedProvider returns canned responses or errors in order, repeating the
// last entry once the script runs out.
type scriptedProvider struct {
	mu       sync.Mutex
	script   []func(ctx context.Context, req intel.Request) (*intel.Response, error)
	requests []intel.Request
	calls    int
}

func (p *scriptedProvider) Generate(ctx context.Context, req intel.Request) (*intel.Response, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	i := p.calls
	p.calls++
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	fn := p.script[i]
	p.mu.Unlock()
	return fn(ctx, req)
}

func (p *scriptedProvider) Capabilities() intel.Capabilities {
	return intel.Capabilities{SupportsVision: true, SupportsAudio: true, SupportsImageGen: true, SupportsSearch: true}
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func respondText(text string) func(context.Context, intel.Request) (*intel.Response, error) {
	return func(context.Context, intel.Request) (*intel.Response, error) {
		return &intel.Response{Text: text}, nil
	}
}

func respondError(err error) func(context.Context, intel.Request) (*intel.Response, error) {
	return func(context.Context, intel.Request) (*intel.Response, error) {
		return nil, err
	}
}

var errOverloaded = &intel.Error{StatusCode: 503, Status: "UNAVAILABLE", Message: "the model is overloaded"}

// fastRetry removes real waits so exhaustion tests run instantly.
var fastRetry = resilience.Options{
	Sleep:  func(context.Context, time.Duration) error { return nil },
	Jitter: func(time.Duration) time.Duration { return 0 },
}

func newTestService(t *testing.T, providers ...intel.Provider) *Service {
	t.Helper()
	chain := resilience.NewChain[intel.Provider](resilience.ChainConfig{})
	for i, p := range providers {
		chain.Add(string(rune('a'+i)), p)
	}
	return New(chain, WithRetryOptions(fastRetry))
}

func TestCityLookupDecodesAndAnchorsCoordinates(t *testing.T) {
	p := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		respondText(`{"city":"Mumbai","accent_color":"#e11d48","local_greeting":"Namaskar","active_language":"Marathi"}`),
	}}
	svc := newTestService(t, p)

	city, degraded, err := svc.CityLookup(context.Background(), 19.076, 72.8777)
	if err != nil {
		t.Fatalf("CityLookup: %v", err)
	}
	if degraded {
		t.Error("unexpected degraded result")
	}
	if city.City != "Mumbai" || city.ActiveLanguage != "Marathi" {
		t.Errorf("city = %+v", city)
	}
	if city.Lat != 19.076 || city.Lng != 72.8777 {
		t.Errorf("coordinates not anchored: %v, %v", city.Lat, city.Lng)
	}
}

func TestCityLookupStripsMarkdownFences(t *testing.T) {
	p := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		respondText("```json\n{\"city\":\"Pune\",\"accent_color\":\"#111\",\"local_greeting\":\"Namaskar\",\"active_language\":\"Marathi\"}\n```"),
	}}
	svc := newTestService(t, p)

	city, _, err := svc.CityLookup(context.Background(), 18.52, 73.85)
	if err != nil {
		t.Fatalf("CityLookup: %v", err)
	}
	if city.City != "Pune" {
		t.Errorf("city = %q, want Pune", city.City)
	}
}

func TestPulseAttachesGrounding(t *testing.T) {
	p := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		func(context.Context, intel.Request) (*intel.Response, error) {
			return &intel.Response{
				Text: `{"frustration_index":62,"emotion_state":"ANXIOUS","primary_cause":"RAIN","reasoning":"x","context_advice":{"local":"a","tourist":"b"},"transit_alerts":[],"traffic_score":55,"festivals":[],"hotspots":[],"routes":[],"nuances":[]}`,
				Grounding: []intel.GroundingRef{
					{URI: "https://example.com/traffic", Title: "Traffic report"},
					{URI: "https://maps.example.com/x", Title: "Junction", Maps: true},
				},
			}, nil
		},
	}}
	svc := newTestService(t, p)

	pulse, _, err := svc.Pulse(context.Background(), "Mumbai", 19.0, 72.8)
	if err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	if pulse.FrustrationIndex != 62 {
		t.Errorf("frustration_index = %d", pulse.FrustrationIndex)
	}
	if len(pulse.Grounding) != 2 {
		t.Fatalf("grounding = %d chunks, want 2", len(pulse.Grounding))
	}
	if pulse.Grounding[0].Web == nil || pulse.Grounding[0].Web.URI != "https://example.com/traffic" {
		t.Errorf("web grounding = %+v", pulse.Grounding[0])
	}
	if pulse.Grounding[1].Maps == nil {
		t.Errorf("maps grounding = %+v", pulse.Grounding[1])
	}
}

func TestPulseFallsBackToCalmBaseline(t *testing.T) {
	p := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		respondError(errOverloaded),
	}}
	svc := newTestService(t, p)

	pulse, degraded, err := svc.Pulse(context.Background(), "Delhi", 28.6, 77.2)
	if err != nil {
		t.Fatalf("Pulse should degrade, not fail: %v", err)
	}
	if !degraded {
		t.Error("result should be marked degraded")
	}
	if pulse.FrustrationIndex != 40 || pulse.EmotionState != "CALM" {
		t.Errorf("baseline pulse = %+v", pulse)
	}
	if got := p.callCount(); got != 4 {
		t.Errorf("provider called %d times, want 4 (1 initial + 3 retries)", got)
	}
}

func TestPulsePrefersSnapshotOverBaseline(t *testing.T) {
	live := `{"frustration_index":75,"emotion_state":"ANGRY","primary_cause":"PROTEST","reasoning":"y","context_advice":{"local":"a","tourist":"b"},"transit_alerts":[],"traffic_score":30,"festivals":[],"hotspots":[],"routes":[],"nuances":[]}`
	p := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		respondText(live),
		respondError(errOverloaded),
	}}
	svc := newTestService(t, p)

	if _, degraded, err := svc.Pulse(context.Background(), "Chennai", 13.08, 80.27); err != nil || degraded {
		t.Fatalf("priming call: degraded=%v err=%v", degraded, err)
	}

	pulse, degraded, err := svc.Pulse(context.Background(), "Chennai", 13.08, 80.27)
	if err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	if !degraded {
		t.Error("snapshot result should still be marked degraded")
	}
	if pulse.FrustrationIndex != 75 {
		t.Errorf("frustration_index = %d, want the snapshot value 75", pulse.FrustrationIndex)
	}
}

func TestMalformedPayloadFailsWithoutRetry(t *testing.T) {
	p := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		respondText("sorry, I cannot do that"),
	}}
	svc := newTestService(t, p)

	_, degraded, err := svc.Pulse(context.Background(), "Delhi", 28.6, 77.2)
	if err == nil {
		t.Fatal("malformed payload should propagate an error")
	}
	if degraded {
		t.Error("hard failure must not be marked degraded")
	}
	if got := p.callCount(); got != 1 {
		t.Errorf("provider called %d times, want 1 (no retry on decode failure)", got)
	}
}

func TestPriceComparisonFallsBackToEmptyList(t *testing.T) {
	p := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		respondError(errOverloaded),
	}}
	svc := newTestService(t, p)

	items, degraded, err := svc.PriceComparison(context.Background(), "tomatoes", "Delhi")
	if err != nil {
		t.Fatalf("PriceComparison: %v", err)
	}
	if !degraded {
		t.Error("result should be marked degraded")
	}
	if items == nil || len(items) != 0 {
		t.Errorf("items = %#v, want an empty non-nil list", items)
	}
}

func TestAnalyzeImageFallsThroughUnsupportedTier(t *testing.T) {
	textOnly := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		respondError(intel.ErrUnsupported),
	}}
	vision := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		respondText("A crowded vegetable market."),
	}}
	svc := newTestService(t, textOnly, vision)

	text, degraded, err := svc.AnalyzeImage(context.Background(), []byte{0xFF, 0xD8}, "image/jpeg", "What is this?")
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if degraded {
		t.Error("served by a fallback tier is not degraded")
	}
	if text != "A crowded vegetable market." {
		t.Errorf("text = %q", text)
	}
}

func TestTranscribeDegradesToEmptyString(t *testing.T) {
	p := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		respondError(errOverloaded),
	}}
	svc := newTestService(t, p)

	text, degraded, err := svc.Transcribe(context.Background(), []byte{1, 2, 3}, "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !degraded || text != "" {
		t.Errorf("got (%q, %v), want empty degraded transcript", text, degraded)
	}
}

func TestPlaceIntelDefaultsEmptyText(t *testing.T) {
	p := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		respondText(""),
	}}
	svc := newTestService(t, p)

	place, _, err := svc.PlaceIntel(context.Background(), "Lalbagh", 12.95, 77.58)
	if err != nil {
		t.Fatalf("PlaceIntel: %v", err)
	}
	if place.Text != "Spatial scan complete." {
		t.Errorf("text = %q", place.Text)
	}
}

func TestSkylineReturnsImage(t *testing.T) {
	p := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		func(context.Context, intel.Request) (*intel.Response, error) {
			return &intel.Response{ImageData: []byte{0x89, 0x50}, ImageMIMEType: "image/png"}, nil
		},
	}}
	svc := newTestService(t, p)

	data, mime := svc.Skyline(context.Background(), "Hyderabad")
	if len(data) == 0 || mime != "image/png" {
		t.Errorf("skyline = %d bytes, %q", len(data), mime)
	}
}

func TestSkylineDeadlineCancelsRequest(t *testing.T) {
	p := &scriptedProvider{script: []func(context.Context, intel.Request) (*intel.Response, error){
		func(ctx context.Context, _ intel.Request) (*intel.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	chain := resilience.NewChain[intel.Provider](resilience.ChainConfig{})
	chain.Add("slow", p)
	svc := New(chain, WithRetryOptions(fastRetry), WithSkylineTimeout(20*time.Millisecond))

	start := time.Now()
	data, mime := svc.Skyline(context.Background(), "Kolkata")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("skyline blocked for %v, deadline did not cancel it", elapsed)
	}
	if data != nil || mime != "" {
		t.Errorf("expected empty skyline on timeout, got %d bytes", len(data))
	}
}

// Fallback payloads must have the same structure as live ones: no missing
// required fields, no null arrays.
func TestFallbackShapes(t *testing.T) {
	t.Run("city", func(t *testing.T) {
		c := defaultCity(12.9716, 77.5946)
		if c.City == "" || c.AccentColor == "" || c.LocalGreeting == "" || c.ActiveLanguage == "" {
			t.Errorf("default city has empty fields: %+v", c)
		}
	})

	t.Run("pulse", func(t *testing.T) {
		assertNoNullArrays(t, calmPulse(),
			"transit_alerts", "festivals", "hotspots", "routes", "nuances")
	})

	t.Run("explore", func(t *testing.T) {
		assertNoNullArrays(t, baselineExplore(),
			"tourist_spots", "stays", "newcomer_tips", "nearby_festivals")
	})

	t.Run("geocode", func(t *testing.T) {
		g := defaultGeoPoint("Bengaluru")
		if g.Lat == 0 || g.Lng == 0 || g.Label == "" {
			t.Errorf("default geo point incomplete: %+v", g)
		}
	})
}

func assertNoNullArrays(t *testing.T, v any, keys ...string) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range keys {
		val, ok := m[key]
		if !ok {
			t.Errorf("key %q missing from fallback payload", key)
			continue
		}
		if _, isArray := val.([]any); !isArray {
			t.Errorf("key %q = %v, want a JSON array", key, val)
		}
	}
}
