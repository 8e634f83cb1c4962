// Package resolvers contains the thin HTTP adapters for the external
// reference sources: the IBGE municipality registry, the ViaCEP postal
// directory and the Google geocoder/places services.
//
// Every adapter degrades to a miss instead of an error: transport
// failures are logged and NOT cached, HTTP error responses are cached as
// negatives, and an absent credential disables the adapter with a single
// log line at startup.
package resolvers

import (
	"net/http"
	"strings"
	"time"

	"github.com/vistacrm/geodedup-engine/internal/normalizer"
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// queryKey folds a free-text query into a stable cache key segment:
// lowercased, accent-stripped, whitespace collapsed to hyphens.
func queryKey(q string) string {
	return strings.ReplaceAll(normalizer.Fold(q), " ", "-")
}
