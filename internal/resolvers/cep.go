package resolvers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/vistacrm/geodedup-engine/internal/cache"
)

const cepBaseURL = "https://viacep.com.br/ws"

// CEPAddress is the address on file for one postal code.
type CEPAddress struct {
	Street       string `json:"logradouro"`
	Neighborhood string `json:"bairro"`
	City         string `json:"localidade"`
	StateCode    string `json:"uf"`
}

// CEPResolver looks up Brazilian postal codes against ViaCEP. Codes are
// digit-stripped before use; anything that is not 8 digits is a miss
// without a network call.
type CEPResolver struct {
	http  *http.Client
	cache *cache.Cache
	ttl   time.Duration
}

func NewCEPResolver(c *cache.Cache, ttl, timeout time.Duration) *CEPResolver {
	return &CEPResolver{http: newHTTPClient(timeout), cache: c, ttl: ttl}
}

// NormalizeCEP strips non-digits. The result is only usable when it has
// exactly 8 digits.
func NormalizeCEP(cep string) string {
	out := make([]byte, 0, len(cep))
	for i := 0; i < len(cep); i++ {
		if cep[i] >= '0' && cep[i] <= '9' {
			out = append(out, cep[i])
		}
	}
	return string(out)
}

// Lookup resolves one postal code. Returns nil on any miss.
func (r *CEPResolver) Lookup(ctx context.Context, cep string) (*CEPAddress, error) {
	code := NormalizeCEP(cep)
	if len(code) != 8 {
		return nil, nil
	}

	key := "cep:" + code
	var cached CEPAddress
	if r.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}
	if r.cache.IsNegative(ctx, key) {
		return nil, nil
	}

	url := fmt.Sprintf("%s/%s/json/", cepBaseURL, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.http.Do(req)
	if err != nil {
		log.Printf("[PostalCEP] Lookup for %s failed: %v", code, err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[PostalCEP] Lookup for %s returned HTTP %d", code, resp.StatusCode)
		r.cache.SetNegative(ctx, key, r.ttl)
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}

	// ViaCEP signals an unknown code with {"erro": true} and HTTP 200.
	var payload struct {
		CEPAddress
		Erro bool `json:"erro"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("[PostalCEP] Unparseable response for %s: %v", code, err)
		return nil, nil
	}
	if payload.Erro {
		r.cache.SetNegative(ctx, key, r.ttl)
		return nil, nil
	}

	r.cache.SetJSON(ctx, key, payload.CEPAddress, r.ttl)
	return &payload.CEPAddress, nil
}
