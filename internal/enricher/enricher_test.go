package enricher

import (
	"testing"

	"github.com/vistacrm/geodedup-engine/internal/resolvers"
	"github.com/vistacrm/geodedup-engine/pkg/models"
)

func TestMajorityVote(t *testing.T) {
	tests := []struct {
		name       string
		input      []string
		wantWinner string
		wantWins   int
		wantTotal  int
	}{
		{
			// 10 codes: 7 accented, 2 unaccented, 1 miss. The variant
			// spelling votes against the winner, so the score base is
			// 7 out of 9 resolved codes.
			name: "Accent Variant Dilutes",
			input: []string{
				"Jardim América", "Jardim América", "Jardim América",
				"Jardim América", "Jardim América", "Jardim América",
				"Jardim América", "Jardim America", "Jardim America",
			},
			wantWinner: "Jardim América",
			wantWins:   7,
			wantTotal:  9,
		},
		{
			name:       "Unanimous",
			input:      []string{"Setor Bueno", "Setor Bueno"},
			wantWinner: "Setor Bueno",
			wantWins:   2,
			wantTotal:  2,
		},
		{
			name:       "Tie Keeps First Seen",
			input:      []string{"Centro", "Setor Central"},
			wantWinner: "Centro",
			wantWins:   1,
			wantTotal:  2,
		},
		{
			name:       "Empty",
			input:      nil,
			wantWinner: "",
			wantWins:   0,
			wantTotal:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner, wins, total := MajorityVote(tt.input)
			if winner != tt.wantWinner || wins != tt.wantWins || total != tt.wantTotal {
				t.Errorf("MajorityVote(%v) = (%q, %d, %d), want (%q, %d, %d)",
					tt.input, winner, wins, total, tt.wantWinner, tt.wantWins, tt.wantTotal)
			}
		})
	}
}

func TestBestRegistryMatch(t *testing.T) {
	municipalities := []resolvers.Municipality{
		{ID: 5208707, Name: "Goiânia"},
		{ID: 3122900, Name: "São Geraldo"},
		{ID: 3162922, Name: "São Geraldo do Baixio"},
	}

	name, score := BestRegistryMatch(municipalities, "goiania")
	if name != "Goiânia" {
		t.Errorf("Expected Goiânia, got %q", name)
	}
	if score != 1.0 {
		t.Errorf("Folded-equal names must score 1.0, got %f", score)
	}

	name, score = BestRegistryMatch(municipalities, "sao geraldo")
	if name != "São Geraldo" {
		t.Errorf("Exact entry must beat the longer complemented one, got %q (score %f)", name, score)
	}
}

func TestBestRegistryMatch_NoHit(t *testing.T) {
	municipalities := []resolvers.Municipality{{ID: 1, Name: "Goiânia"}}
	if _, score := BestRegistryMatch(municipalities, "xyzw"); score >= registryMinScore {
		t.Errorf("Unrelated name must fall under the registry threshold, got %f", score)
	}
}

func TestSuggestCanonical(t *testing.T) {
	ids := []string{"id-1", "id-2", "id-3"}
	names := []string{"Jd America", "Jardim América", "J. America"}
	ref := &models.CanonicalRef{Name: "Jardim América", Source: models.CanonicalSourceCEP, Score: 1.0}

	got := SuggestCanonical(ids, names, ref)
	if got == nil || *got != "id-2" {
		t.Errorf("Expected id-2 as the closest member, got %v", got)
	}
}

func TestSuggestCanonical_NoReference(t *testing.T) {
	if got := SuggestCanonical([]string{"a"}, []string{"X"}, nil); got != nil {
		t.Errorf("No canonical reference must yield no suggestion, got %v", got)
	}
}

func TestSuggestCanonical_TieKeepsFirst(t *testing.T) {
	ids := []string{"a", "b"}
	names := []string{"Centro", "CENTRO"}
	ref := &models.CanonicalRef{Name: "Centro"}

	got := SuggestCanonical(ids, names, ref)
	if got == nil || *got != "a" {
		t.Errorf("Tied scores must keep the first-seen member, got %v", got)
	}
}

func TestCollectPostalCodes(t *testing.T) {
	contexts := []models.MemberContext{
		{PostalCodes: []string{"74663-580", "74663580", "123"}},
		{PostalCodes: []string{"74000-000"}},
	}

	codes := collectPostalCodes(contexts, 10)
	if len(codes) != 2 {
		t.Fatalf("Expected 2 distinct valid codes, got %v", codes)
	}
	if codes[0] != "74663580" || codes[1] != "74000000" {
		t.Errorf("Unexpected codes: %v", codes)
	}

	capped := collectPostalCodes(contexts, 1)
	if len(capped) != 1 {
		t.Errorf("Cap must limit the union, got %v", capped)
	}
}

func TestMajorityVote_ScoreBase(t *testing.T) {
	winner, wins, total := MajorityVote([]string{
		"Jardim América", "Jardim América", "Jardim América",
		"Jardim América", "Jardim América", "Jardim América",
		"Jardim América", "Jardim America", "Jardim America",
	})
	if winner != "Jardim América" {
		t.Fatalf("Winner = %q, want the most frequent spelling", winner)
	}
	score := float64(wins) / float64(total)
	if score < 0.777 || score > 0.778 {
		t.Errorf("Vote score = %f, want 7/9", score)
	}
}

func TestPlacesQuery(t *testing.T) {
	contexts := []models.MemberContext{
		{CityName: "Goiânia", StateCode: "GO", NeighborhoodName: "Setor Bueno"},
	}
	got := placesQuery("Residencial Aurora", contexts)
	want := "Residencial Aurora, Goiânia, GO"
	if got != want {
		t.Errorf("placesQuery = %q, want %q", got, want)
	}
}

func TestGeocodeQuery(t *testing.T) {
	contexts := []models.MemberContext{
		{CityName: "Goiânia", StateCode: "GO", NeighborhoodName: "Setor Bueno"},
	}
	got := geocodeQuery("Residencial Aurora", contexts)
	want := "Residencial Aurora, Setor Bueno, Goiânia, GO, Brasil"
	if got != want {
		t.Errorf("geocodeQuery = %q, want %q", got, want)
	}

	if got := geocodeQuery("X", nil); got != "X, Brasil" {
		t.Errorf("Bare query = %q, want %q", got, "X, Brasil")
	}
}
