package resolvers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/vistacrm/geodedup-engine/internal/cache"
)

const registryBaseURL = "https://servicodados.ibge.gov.br/api/v1/localidades/estados"

// Municipality is one authoritative registry entry. The id is the IBGE
// municipality code.
type Municipality struct {
	ID   int64  `json:"id"`
	Name string `json:"nome"`
}

// Registry lists the official municipalities of a state. Responses are
// large and essentially static, so they are cached with a long TTL.
type Registry struct {
	http  *http.Client
	cache *cache.Cache
	ttl   time.Duration
}

func NewRegistry(c *cache.Cache, ttl, timeout time.Duration) *Registry {
	return &Registry{http: newHTTPClient(timeout), cache: c, ttl: ttl}
}

// Municipalities returns the official municipality list for a state code.
// A miss (unknown state, upstream failure) returns an empty slice.
func (r *Registry) Municipalities(ctx context.Context, stateCode string) ([]Municipality, error) {
	stateCode = strings.ToUpper(strings.TrimSpace(stateCode))
	if len(stateCode) != 2 {
		return nil, nil
	}

	key := "registry:uf:" + stateCode
	var cached []Municipality
	if r.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}
	if r.cache.IsNegative(ctx, key) {
		return nil, nil
	}

	url := fmt.Sprintf("%s/%s/municipios", registryBaseURL, stateCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.http.Do(req)
	if err != nil {
		// Transport errors are transient: miss, not cached.
		log.Printf("[Registry] Lookup for %s failed: %v", stateCode, err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Registry] Lookup for %s returned HTTP %d", stateCode, resp.StatusCode)
		r.cache.SetNegative(ctx, key, r.ttl)
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}

	var municipalities []Municipality
	if err := json.Unmarshal(body, &municipalities); err != nil {
		log.Printf("[Registry] Unparseable response for %s: %v", stateCode, err)
		return nil, nil
	}

	r.cache.SetJSON(ctx, key, municipalities, r.ttl)
	return municipalities, nil
}
