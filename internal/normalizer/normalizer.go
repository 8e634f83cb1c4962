// Package normalizer provides the pure text-folding primitives every other
// component keys on: accent/case folding, per-kind prefix stripping,
// numeral rewriting and bigram-Dice similarity.
//
// Fold is idempotent: Fold(Fold(s)) == Fold(s). Detection, caching and
// canonical scoring all assume this.
package normalizer

import (
	"math"
	"strings"

	"github.com/mozillazg/go-unidecode"

	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// kindPrefixes maps an entity kind to the leading tokens that carry no
// identity (e.g. "Jardim Aurora" and "Aurora" name the same neighborhood).
// Only the first matching prefix is removed, and only at the start.
var kindPrefixes = map[models.EntityKind][]string{
	models.KindNeighborhood: {"setor", "jardim", "parque", "vila", "residencial", "conjunto", "nucleo", "bairro"},
	models.KindCondo:        {"edificio", "condominio", "residencial", "torre", "bloco", "ed", "cond"},
	models.KindStreet:       {},
	models.KindCity:         {},
}

// numeralTable rewrites whole-word Roman and Portuguese word numerals to
// Arabic form so that "Belvedere II" and "Belvedere 2" fold identically
// while "Belvedere 1" and "Belvedere 2" stay distinct.
var numeralTable = map[string]string{
	"i": "1", "ii": "2", "iii": "3", "iv": "4", "v": "5",
	"vi": "6", "vii": "7", "viii": "8", "ix": "9", "x": "10",
	"um": "1", "dois": "2", "tres": "3", "quatro": "4", "cinco": "5",
}

// Fold lowercases, strips accents and collapses whitespace runs.
func Fold(s string) string {
	s = strings.ToLower(s)
	s = unidecode.Unidecode(s)
	return strings.Join(strings.Fields(s), " ")
}

// FoldWithPrefixes folds s, removes a single registered leading prefix for
// the given kind, then rewrites whole-word numerals to Arabic form.
func FoldWithPrefixes(s string, kind models.EntityKind) string {
	s = Fold(s)

	for _, prefix := range kindPrefixes[kind] {
		if strings.HasPrefix(s, prefix+" ") {
			s = strings.TrimSpace(s[len(prefix)+1:])
			break
		}
	}

	words := strings.Fields(s)
	for i, w := range words {
		if arabic, ok := numeralTable[w]; ok {
			words[i] = arabic
		}
	}
	return strings.Join(words, " ")
}

// DiceBigram computes the Sørensen–Dice coefficient over multisets of
// consecutive 2-character substrings of the folded inputs. Result is in
// [0,1]; 1.0 iff the folded strings are equal.
func DiceBigram(a, b string) float64 {
	a = Fold(a)
	b = Fold(b)
	if a == b {
		return 1.0
	}
	if len(a) < 2 || len(b) < 2 {
		return 0.0
	}

	bigrams := func(s string) map[string]int {
		m := make(map[string]int, len(s))
		for i := 0; i+2 <= len(s); i++ {
			m[s[i:i+2]]++
		}
		return m
	}

	ba := bigrams(a)
	bb := bigrams(b)

	intersection := 0
	for g, ca := range ba {
		if cb, ok := bb[g]; ok {
			if ca < cb {
				intersection += ca
			} else {
				intersection += cb
			}
		}
	}

	totalA := len(a) - 1
	totalB := len(b) - 1
	return 2.0 * float64(intersection) / float64(totalA+totalB)
}

// RoundScore rounds a similarity score to 2 decimals, the precision stored
// on groups.
func RoundScore(v float64) float64 {
	return math.Round(v*100) / 100
}
