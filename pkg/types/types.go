// Package types defines the shared types used across all CityDNA packages.
//
// These types form the lingua franca between the intelligence providers, the
// feature-call layer, the last-known-good cache, and the HTTP API. They are
// intentionally minimal: each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

// GeoPoint is a WGS84 coordinate pair with an optional display label.
type GeoPoint struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label,omitempty"`
}

// CityData is the city identity record resolved from a coordinate fix.
// It drives theming (accent colour), the local greeting, and the default
// counterpart language of the live voice bridge.
type CityData struct {
	City           string  `json:"city"`
	AccentColor    string  `json:"accent_color"`
	LocalGreeting  string  `json:"local_greeting"`
	ActiveLanguage string  `json:"active_language"`
	Lat            float64 `json:"lat,omitempty"`
	Lng            float64 `json:"lng,omitempty"`
}

// EmotionState is the coarse mood classification of a city's pulse.
type EmotionState string

const (
	EmotionCalm    EmotionState = "CALM"
	EmotionAnxious EmotionState = "ANXIOUS"
	EmotionAngry   EmotionState = "ANGRY"
	EmotionFestive EmotionState = "FESTIVE"
	EmotionChaotic EmotionState = "CHAOTIC"
)

// NuanceCategory classifies an urban nuance entry.
type NuanceCategory string

const (
	NuanceRegulation NuanceCategory = "REGULATION"
	NuanceCulture    NuanceCategory = "CULTURE"
	NuanceReligion   NuanceCategory = "RELIGION"
	NuanceFood       NuanceCategory = "FOOD"
	NuanceEtiquette  NuanceCategory = "ETIQUETTE"
)

// UrbanNuance is a specific local rule, cultural expectation, or news impact
// surfaced on the pulse dashboard.
type UrbanNuance struct {
	Category   NuanceCategory `json:"category"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	ActionLink string         `json:"action_link,omitempty"`
}

// FestivalAlert describes a current or upcoming festival ("breakout") and its
// impact on city logistics.
type FestivalAlert struct {
	Name        string `json:"name"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Impact      string `json:"impact"`
	Etiquette   string `json:"etiquette"`
}

// TrafficHotspot marks a current traffic bottleneck.
type TrafficHotspot struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Severity    string  `json:"severity"` // HIGH, MEDIUM, LOW
	Description string  `json:"description"`
}

// AlternativeRoute is a suggested detour around a hotspot.
type AlternativeRoute struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Points      [][2]float64 `json:"points"`
	Duration    string       `json:"duration"`
	Description string       `json:"description"`
}

// RickshawRate is the official RTO auto-rickshaw fare baseline for a city.
type RickshawRate struct {
	BaseFare       float64 `json:"base_fare"`
	PerKm          float64 `json:"per_km"`
	EstimatedTotal float64 `json:"estimated_total"`
	OfficialSource string  `json:"official_source"`
}

// MetroLine carries live status for one metro line.
type MetroLine struct {
	Name      string   `json:"name"`
	Status    string   `json:"status"` // ON_TIME, DELAYED, CROWDED
	NextTrain string   `json:"next_train"`
	Stations  []string `json:"stations"`
}

// ContextAdvice gives separate advice for locals and visitors.
type ContextAdvice struct {
	Local   string `json:"local"`
	Tourist string `json:"tourist"`
}

// GroundingSource is a single cited source.
type GroundingSource struct {
	URI   string `json:"uri,omitempty"`
	Title string `json:"title,omitempty"`
}

// GroundingChunk is a web or maps source reference attached to a grounded
// response. The payload is opaque to CityDNA; it is transported verbatim.
type GroundingChunk struct {
	Web  *GroundingSource `json:"web,omitempty"`
	Maps *GroundingSource `json:"maps,omitempty"`
}

// PulseData is the live city mood snapshot rendered on the dashboard.
type PulseData struct {
	FrustrationIndex int                `json:"frustration_index"`
	EmotionState     EmotionState       `json:"emotion_state"`
	PrimaryCause     string             `json:"primary_cause"`
	Reasoning        string             `json:"reasoning"`
	ContextAdvice    ContextAdvice      `json:"context_advice"`
	TransitAlerts    []string           `json:"transit_alerts"`
	TrafficScore     int                `json:"traffic_score"`
	Festivals        []FestivalAlert    `json:"festivals"`
	Hotspots         []TrafficHotspot   `json:"hotspots"`
	Routes           []AlternativeRoute `json:"routes"`
	Nuances          []UrbanNuance      `json:"nuances"`
	MetroLines       []MetroLine        `json:"metro_lines,omitempty"`
	RickshawMeter    *RickshawRate      `json:"rickshaw_meter,omitempty"`
	Grounding        []GroundingChunk   `json:"grounding,omitempty"`
}

// ComparisonItem is one row of a mandi-vs-retail price comparison.
type ComparisonItem struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	MandiPrice        float64 `json:"mandi_price"`
	EcommercePrice    float64 `json:"ecommerce_price"`
	DeliverySpeed     string  `json:"delivery_speed"`
	LocalTrust        float64 `json:"local_trust"`
	SocialValueScore  float64 `json:"social_value_score"`
	FairnessReasoning string  `json:"fairness_reasoning"`
}

// TransportStep is one leg of the directions to a tourist spot.
type TransportStep struct {
	Mode       string `json:"mode"` // METRO, AUTO, BUS, WALK
	Details    string `json:"details"`
	StepByStep string `json:"step_by_step"`
}

// TouristSpot is one explore-screen destination.
type TouristSpot struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Transport   []TransportStep `json:"transport"`
	EntryFee    string          `json:"entry_fee"`
	BestTime    string          `json:"best_time"`
	Coordinates GeoPoint        `json:"coordinates"`
}

// Accommodation is a PG/hostel/co-living listing for newcomers.
type Accommodation struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"` // PG, HOSTEL, CO-LIVING
	Area          string   `json:"area"`
	PriceRange    string   `json:"price_range"`
	Amenities     []string `json:"amenities"`
	TrustScore    float64  `json:"trust_score"`
	ContactStatus string   `json:"contact_status"` // AVAILABLE, WAITLIST, FILLING_FAST
}

// ExploreData is the newcomer onboarding payload.
type ExploreData struct {
	TouristSpots    []TouristSpot   `json:"tourist_spots"`
	Stays           []Accommodation `json:"stays"`
	NewcomerTips    []string        `json:"newcomer_tips"`
	NearbyFestivals []FestivalAlert `json:"nearby_festivals"`
}

// PlaceIntel is grounded free-text spatial detail about a named place.
type PlaceIntel struct {
	Text      string           `json:"text"`
	Grounding []GroundingChunk `json:"grounding,omitempty"`
}
