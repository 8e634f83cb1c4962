// Package enricher resolves authoritative canonical names for duplicate
// groups from external sources and proposes which member should absorb
// the others. Every lookup failure degrades to "no canonical": the group
// stays reviewable by an operator either way.
package enricher

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/vistacrm/geodedup-engine/internal/db"
	"github.com/vistacrm/geodedup-engine/internal/normalizer"
	"github.com/vistacrm/geodedup-engine/internal/resolvers"
	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// Confidence assigned per source. Registry and CEP scores are computed
// from agreement; the fixed values below are the fallback tiers.
const (
	registryMinScore   = 0.5
	geocoderScore      = 0.8
	placesScore        = 0.9
	condoGeocoderScore = 0.7
)

type Enricher struct {
	store    *db.PostgresStore
	registry *resolvers.Registry
	cep      *resolvers.CEPResolver
	google   *resolvers.Google
	maxCEPs  int
	enabled  bool
}

func New(store *db.PostgresStore, registry *resolvers.Registry, cep *resolvers.CEPResolver,
	google *resolvers.Google, maxCEPs int, enabled bool) *Enricher {

	if maxCEPs <= 0 {
		maxCEPs = 10
	}
	return &Enricher{
		store:    store,
		registry: registry,
		cep:      cep,
		google:   google,
		maxCEPs:  maxCEPs,
		enabled:  enabled,
	}
}

// Enabled reports whether enrichment was switched on by configuration.
func (e *Enricher) Enabled() bool { return e.enabled }

// EnrichGroup resolves member contexts, persists them, resolves the
// canonical reference for the group's kind and stores the suggested
// canonical member. Lookup misses are not errors.
func (e *Enricher) EnrichGroup(ctx context.Context, g *models.DuplicateGroup) error {
	if !e.enabled {
		return nil
	}

	contexts := make([]models.MemberContext, 0, len(g.MemberIDs))
	for i, id := range g.MemberIDs {
		mc, err := e.store.MemberContext(ctx, g.EntityKind, id, e.maxCEPs)
		if err != nil {
			return fmt.Errorf("failed to resolve context for member %s: %v", id, err)
		}
		if mc == nil {
			// Row vanished between detection and enrichment.
			continue
		}
		if mc.MemberName == "" {
			mc.MemberName = g.MemberNames[i]
		}
		contexts = append(contexts, *mc)
	}
	if len(contexts) > 0 {
		if err := e.store.SaveMemberContexts(ctx, g.ID, contexts); err != nil {
			return err
		}
	}

	ref := e.resolveCanonical(ctx, g, contexts)
	suggested := SuggestCanonical(g.MemberIDs, g.MemberNames, ref)
	return e.store.SetGroupEnrichment(ctx, g.ID, ref, suggested)
}

// enrichBatchSize is how many groups one backfill batch processes.
const enrichBatchSize = 10

// EnrichPending enriches every Pending group that still lacks a
// canonical name, in batches of enrichBatchSize. Returns how many were
// processed; per-group failures are logged and skipped.
func (e *Enricher) EnrichPending(ctx context.Context) (int, error) {
	if !e.enabled {
		return 0, nil
	}

	groups, err := e.store.GroupsMissingCanonical(ctx, 0)
	if err != nil {
		return 0, err
	}
	for start := 0; start < len(groups); start += enrichBatchSize {
		end := start + enrichBatchSize
		if end > len(groups) {
			end = len(groups)
		}
		for i := start; i < end; i++ {
			if err := e.EnrichGroup(ctx, &groups[i]); err != nil {
				log.Printf("[Enricher] Group %s failed: %v", groups[i].ID, err)
			}
		}
		log.Printf("[Enricher] Backfill batch done: %d/%d groups", end, len(groups))
	}
	return len(groups), nil
}

func (e *Enricher) resolveCanonical(ctx context.Context, g *models.DuplicateGroup, contexts []models.MemberContext) *models.CanonicalRef {
	switch g.EntityKind {
	case models.KindCity:
		return e.resolveCity(ctx, g, contexts)
	case models.KindNeighborhood:
		return e.resolveNeighborhood(ctx, g, contexts)
	case models.KindStreet:
		return e.resolveStreet(ctx, g, contexts)
	case models.KindCondo:
		return e.resolveCondo(ctx, g, contexts)
	}
	return nil
}

// resolveCity matches the group against the official municipality
// registry of its state; the geocoder is the fallback.
func (e *Enricher) resolveCity(ctx context.Context, g *models.DuplicateGroup, contexts []models.MemberContext) *models.CanonicalRef {
	state := firstState(contexts)
	if state != "" {
		municipalities, err := e.registry.Municipalities(ctx, state)
		if err == nil && len(municipalities) > 0 {
			// The raw first member name is the match target; the group's
			// normalized name has numerals rewritten and may have been
			// replaced by the validator, both of which skew the score.
			if name, score := BestRegistryMatch(municipalities, normalizer.Fold(g.MemberNames[0])); score >= registryMinScore {
				return &models.CanonicalRef{
					Name:   name,
					Source: models.CanonicalSourceRegistry,
					Score:  normalizer.RoundScore(score),
				}
			}
		}
	}

	query := g.MemberNames[0]
	if state != "" {
		query += ", " + state
	}
	res, _ := e.google.Geocode(ctx, query+", Brasil")
	if res != nil && res.City != "" {
		return &models.CanonicalRef{
			Name:    res.City,
			Source:  models.CanonicalSourceGeocoder,
			Score:   geocoderScore,
			Address: res.FormattedAddress,
		}
	}
	return nil
}

// resolveNeighborhood fans out over the postal codes seen across all
// members and takes the majority neighborhood name on file. The score is
// the winner's share of the resolved codes.
func (e *Enricher) resolveNeighborhood(ctx context.Context, g *models.DuplicateGroup, contexts []models.MemberContext) *models.CanonicalRef {
	codes := collectPostalCodes(contexts, e.maxCEPs)
	if len(codes) > 0 {
		names := e.lookupNeighborhoods(ctx, codes)
		if winner, wins, total := MajorityVote(names); winner != "" {
			return &models.CanonicalRef{
				Name:   winner,
				Source: models.CanonicalSourceCEP,
				Score:  normalizer.RoundScore(float64(wins) / float64(total)),
			}
		}
	}

	res, _ := e.google.Geocode(ctx, geocodeQuery(g.MemberNames[0], contexts))
	if res != nil && res.Neighborhood != "" {
		return &models.CanonicalRef{
			Name:    res.Neighborhood,
			Source:  models.CanonicalSourceGeocoder,
			Score:   geocoderScore,
			Address: res.FormattedAddress,
		}
	}
	return nil
}

// resolveStreet trusts the street's own postal code when it resolves to
// a named thoroughfare.
func (e *Enricher) resolveStreet(ctx context.Context, g *models.DuplicateGroup, contexts []models.MemberContext) *models.CanonicalRef {
	for _, mc := range contexts {
		for _, code := range mc.PostalCodes {
			addr, _ := e.cep.Lookup(ctx, code)
			if addr != nil && addr.Street != "" {
				return &models.CanonicalRef{
					Name:   addr.Street,
					Source: models.CanonicalSourceCEP,
					Score:  1.0,
				}
			}
		}
	}

	res, _ := e.google.Geocode(ctx, geocodeQuery(g.MemberNames[0], contexts))
	if res != nil && res.Street != "" {
		return &models.CanonicalRef{
			Name:    res.Street,
			Source:  models.CanonicalSourceGeocoder,
			Score:   geocoderScore,
			Address: res.FormattedAddress,
		}
	}
	return nil
}

// resolveCondo asks Places for the building, trying every member name
// in turn; a geocoder hit on the full address keeps the first member's
// name with lower confidence.
func (e *Enricher) resolveCondo(ctx context.Context, g *models.DuplicateGroup, contexts []models.MemberContext) *models.CanonicalRef {
	for _, name := range g.MemberNames {
		place, _ := e.google.FindPlace(ctx, placesQuery(name, contexts))
		if place != nil && place.Name != "" {
			return &models.CanonicalRef{
				Name:    place.Name,
				Source:  models.CanonicalSourcePlaces,
				Score:   placesScore,
				Address: place.FormattedAddress,
			}
		}
	}

	res, _ := e.google.Geocode(ctx, geocodeQuery(g.MemberNames[0], contexts))
	if res != nil {
		return &models.CanonicalRef{
			Name:    g.MemberNames[0],
			Source:  models.CanonicalSourceGeocoder,
			Score:   condoGeocoderScore,
			Address: res.FormattedAddress,
		}
	}
	return nil
}

// lookupNeighborhoods resolves the postal codes concurrently and returns
// the neighborhood names on file, one per resolved code.
func (e *Enricher) lookupNeighborhoods(ctx context.Context, codes []string) []string {
	results := make([]string, len(codes))
	var wg sync.WaitGroup
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			addr, _ := e.cep.Lookup(ctx, code)
			if addr != nil {
				results[i] = addr.Neighborhood
			}
		}(i, code)
	}
	wg.Wait()

	names := make([]string, 0, len(results))
	for _, name := range results {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// MajorityVote returns the most frequent returned name, its vote count
// and the total of resolved codes. Spellings vote as distinct entries,
// so an accent variant dilutes the winner's share instead of inflating
// it. Ties keep the first-seen name. Empty input yields an empty winner.
func MajorityVote(names []string) (winner string, wins, total int) {
	votes := make(map[string]int)
	order := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, seen := votes[name]; !seen {
			order = append(order, name)
		}
		votes[name]++
		total++
	}

	for _, name := range order {
		if winner == "" || votes[name] > votes[winner] {
			winner = name
		}
	}
	return winner, votes[winner], total
}

// BestRegistryMatch returns the registry entry closest to the folded
// target by bigram similarity, with its score. Ties keep the first entry.
func BestRegistryMatch(municipalities []resolvers.Municipality, target string) (string, float64) {
	bestName := ""
	bestScore := 0.0
	for _, m := range municipalities {
		score := normalizer.DiceBigram(target, normalizer.Fold(m.Name))
		if score > bestScore {
			bestScore = score
			bestName = m.Name
		}
	}
	return bestName, bestScore
}

// SuggestCanonical proposes the member whose name is closest to the
// canonical reference, first seen winning ties. Without a reference the
// pipeline makes no suggestion; the operator picks manually.
func SuggestCanonical(memberIDs, memberNames []string, ref *models.CanonicalRef) *string {
	if ref == nil || ref.Name == "" || len(memberIDs) == 0 {
		return nil
	}

	target := normalizer.Fold(ref.Name)
	bestIdx := -1
	bestScore := -1.0
	for i, name := range memberNames {
		score := normalizer.DiceBigram(normalizer.Fold(name), target)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil
	}
	return &memberIDs[bestIdx]
}

func firstState(contexts []models.MemberContext) string {
	for _, mc := range contexts {
		if mc.StateCode != "" {
			return mc.StateCode
		}
	}
	return ""
}

// collectPostalCodes unions the distinct codes across members, capped.
func collectPostalCodes(contexts []models.MemberContext, max int) []string {
	seen := make(map[string]bool)
	codes := make([]string, 0)
	for _, mc := range contexts {
		for _, code := range mc.PostalCodes {
			normalized := resolvers.NormalizeCEP(code)
			if len(normalized) != 8 || seen[normalized] {
				continue
			}
			seen[normalized] = true
			codes = append(codes, normalized)
			if len(codes) >= max {
				return codes
			}
		}
	}
	return codes
}

// placesQuery is the find-by-text form: "name, city, state".
func placesQuery(name string, contexts []models.MemberContext) string {
	parts := []string{name}
	for _, mc := range contexts {
		if mc.CityName != "" {
			parts = append(parts, mc.CityName)
			break
		}
	}
	if state := firstState(contexts); state != "" {
		parts = append(parts, state)
	}
	return strings.Join(parts, ", ")
}

// geocodeQuery assembles "name, neighborhood, city, state, Brasil" from
// the first context that carries each level.
func geocodeQuery(name string, contexts []models.MemberContext) string {
	parts := []string{name}
	for _, mc := range contexts {
		if mc.NeighborhoodName != "" {
			parts = append(parts, mc.NeighborhoodName)
			break
		}
	}
	for _, mc := range contexts {
		if mc.CityName != "" {
			parts = append(parts, mc.CityName)
			break
		}
	}
	if state := firstState(contexts); state != "" {
		parts = append(parts, state)
	}
	parts = append(parts, "Brasil")
	return strings.Join(parts, ", ")
}
