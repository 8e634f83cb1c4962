package resolvers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/vistacrm/geodedup-engine/internal/cache"
)

const (
	geocodeBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"
	placesBaseURL  = "https://maps.googleapis.com/maps/api/place/findplacefromtext/json"
)

// GeocodeResult is the subset of a geocoder answer the pipeline consumes.
type GeocodeResult struct {
	Street           string `json:"street,omitempty"`
	Neighborhood     string `json:"neighborhood,omitempty"`
	City             string `json:"city,omitempty"`
	StateCode        string `json:"state,omitempty"`
	FormattedAddress string `json:"formattedAddress,omitempty"`
}

// PlaceResult is one Places find-by-text candidate.
type PlaceResult struct {
	Name             string `json:"name"`
	FormattedAddress string `json:"formatted_address"`
}

// Google wraps the Geocoding and Places APIs. Requests are
// country-restricted to Brazil and answered in Portuguese. An absent API
// key disables the adapter; the absence is logged once.
type Google struct {
	http       *http.Client
	cache      *cache.Cache
	ttl        time.Duration
	apiKey     string
	absentOnce sync.Once
}

func NewGoogle(apiKey string, c *cache.Cache, ttl, timeout time.Duration) *Google {
	return &Google{http: newHTTPClient(timeout), cache: c, ttl: ttl, apiKey: apiKey}
}

func (g *Google) enabled() bool {
	if g.apiKey == "" {
		g.absentOnce.Do(func() {
			log.Println("[Geocoder] GOOGLE_MAPS_API_KEY not set; geocoder and places lookups disabled")
		})
		return false
	}
	return true
}

// Geocode resolves a free-text address. Returns nil on any miss.
func (g *Google) Geocode(ctx context.Context, address string) (*GeocodeResult, error) {
	if !g.enabled() || address == "" {
		return nil, nil
	}

	key := "geocode:" + queryKey(address)
	var cached GeocodeResult
	if g.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}
	if g.cache.IsNegative(ctx, key) {
		return nil, nil
	}

	params := url.Values{}
	params.Set("address", address)
	params.Set("components", "country:BR")
	params.Set("language", "pt-BR")
	params.Set("key", g.apiKey)

	body, ok := g.fetch(ctx, geocodeBaseURL+"?"+params.Encode(), key)
	if !ok {
		return nil, nil
	}

	var payload struct {
		Status  string `json:"status"`
		Results []struct {
			FormattedAddress  string `json:"formatted_address"`
			AddressComponents []struct {
				LongName  string   `json:"long_name"`
				ShortName string   `json:"short_name"`
				Types     []string `json:"types"`
			} `json:"address_components"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Status != "OK" || len(payload.Results) == 0 {
		g.cache.SetNegative(ctx, key, g.ttl)
		return nil, nil
	}

	first := payload.Results[0]
	result := GeocodeResult{FormattedAddress: first.FormattedAddress}
	for _, comp := range first.AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "route":
				result.Street = comp.LongName
			case "sublocality", "sublocality_level_1", "neighborhood":
				result.Neighborhood = comp.LongName
			case "administrative_area_level_2", "locality":
				result.City = comp.LongName
			case "administrative_area_level_1":
				result.StateCode = comp.ShortName
			}
		}
	}

	g.cache.SetJSON(ctx, key, result, g.ttl)
	return &result, nil
}

// FindPlace runs a Places find-by-text query and returns the first
// candidate, or nil on miss. Negative answers are cached with the
// sentinel so repeated misses stay off the network.
func (g *Google) FindPlace(ctx context.Context, query string) (*PlaceResult, error) {
	if !g.enabled() || query == "" {
		return nil, nil
	}

	key := "places:" + queryKey(query)
	var cached PlaceResult
	if g.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}
	if g.cache.IsNegative(ctx, key) {
		return nil, nil
	}

	params := url.Values{}
	params.Set("input", query)
	params.Set("inputtype", "textquery")
	params.Set("fields", "name,formatted_address")
	params.Set("language", "pt-BR")
	params.Set("key", g.apiKey)

	body, ok := g.fetch(ctx, placesBaseURL+"?"+params.Encode(), key)
	if !ok {
		return nil, nil
	}

	var payload struct {
		Status     string        `json:"status"`
		Candidates []PlaceResult `json:"candidates"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Status != "OK" || len(payload.Candidates) == 0 {
		g.cache.SetNegative(ctx, key, g.ttl)
		return nil, nil
	}

	g.cache.SetJSON(ctx, key, payload.Candidates[0], g.ttl)
	return &payload.Candidates[0], nil
}

// fetch performs the GET and applies the shared error policy: transport
// errors are a plain miss, HTTP error responses become cached negatives.
func (g *Google) fetch(ctx context.Context, fullURL, cacheKey string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, false
	}

	resp, err := g.http.Do(req)
	if err != nil {
		log.Printf("[Geocoder] Request failed: %v", err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Geocoder] HTTP %d from upstream", resp.StatusCode)
		g.cache.SetNegative(ctx, cacheKey, g.ttl)
		return nil, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}
	return body, true
}
