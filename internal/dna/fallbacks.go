package dna

import "github.com/lokalos/citydna/pkg/types"

// masterInstruction frames every city-intelligence request. It mirrors the
// product's focus areas: price transparency, cultural logistics, and
// regulation awareness for Indian cities.
const masterInstruction = `You are the Lead Architect and Agentic Engine for CityDNA (powered by LokalOS).
Your mission is to solve Indian consumer problems: Price transparency, Cultural logistics, and Regulation awareness.
Expertise required:
1. RTO Rickshaw Rates: Official city-specific fare rules.
2. ONDC Fairness: Mandi/Retail verification.
3. Food Ethics: Deep Indian dietary nuances (Jain, Sattvic).
4. Spatial Intelligence: Identifying real-world traffic bottlenecks and finding alternative routes in Indian cities.
5. Ritual Radar: Identify current or upcoming Indian festivals and their impact on city life (referred to as "Breakouts").
6. Newcomer Onboarding: Guide for people new to the city, focusing on PGs, Hostels, and detailed Transport logistics.
7. Urban Nuances: Specific local rules, cultural expectations, or news impact (REGULATION, CULTURE, RELIGION, FOOD, ETIQUETTE).`

// transcriberInstruction frames transcription requests.
const transcriberInstruction = "You are an expert transcriber."

// Offline fallback texts. A fallback must be safe to render as-is.
const (
	offlineLensText  = "Image analysis offline."
	emptyLensText    = "Visual analysis inconclusive."
	offlinePlaceText = "Location intel currently operating on local cache."
)

// Default coordinates used when geocoding degrades (Bengaluru city centre).
const (
	defaultLat = 12.9716
	defaultLng = 77.5946
)

// defaultCity is the static city record used when the lookup degrades. The
// caller's coordinates are preserved so the map stays anchored.
func defaultCity(lat, lng float64) types.CityData {
	return types.CityData{
		City:           "Bengaluru",
		AccentColor:    "#2563eb",
		LocalGreeting:  "Namaskara",
		ActiveLanguage: "Kannada",
		Lat:            lat,
		Lng:            lng,
	}
}

// calmPulse is the historical-baseline pulse shown when live data cannot be
// fetched. Every slice field is non-nil so the payload renders (and marshals)
// with the same structure as a live one.
func calmPulse() types.PulseData {
	return types.PulseData{
		FrustrationIndex: 40,
		EmotionState:     types.EmotionCalm,
		PrimaryCause:     "OFFICE_RUSH",
		Reasoning:        "Syncing city pulse via historical baseline.",
		ContextAdvice: types.ContextAdvice{
			Local:   "Standard routes clear.",
			Tourist: "Use metro.",
		},
		TransitAlerts: []string{},
		TrafficScore:  70,
		Festivals:     []types.FestivalAlert{},
		Hotspots:      []types.TrafficHotspot{},
		Routes:        []types.AlternativeRoute{},
		Nuances:       []types.UrbanNuance{},
		RickshawMeter: &types.RickshawRate{
			BaseFare:       30,
			PerKm:          15,
			EstimatedTotal: 60,
			OfficialSource: "RTO Baseline",
		},
	}
}

// baselineExplore is the minimal newcomer guidance shown when explore data
// cannot be fetched.
func baselineExplore() types.ExploreData {
	return types.ExploreData{
		TouristSpots:    []types.TouristSpot{},
		Stays:           []types.Accommodation{},
		NewcomerTips:    []string{"Ask locals for help.", "Use metered transit."},
		NearbyFestivals: []types.FestivalAlert{},
	}
}

// defaultGeoPoint anchors a failed geocode on the default city centre,
// labelled with whatever the caller asked about.
func defaultGeoPoint(label string) types.GeoPoint {
	return types.GeoPoint{Lat: defaultLat, Lng: defaultLng, Label: label}
}
