// Package llm adjudicates candidate duplicate groups with a language
// model. Trigram similarity surfaces near-names that are legitimately
// different places (numeric suffixes, cardinal directions, geographic
// complements); the validator applies a rigid rubric to suppress them.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vistacrm/geodedup-engine/internal/cache"
	"github.com/vistacrm/geodedup-engine/internal/normalizer"
	"github.com/vistacrm/geodedup-engine/pkg/models"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

// GeoContext is the resolved hierarchy shown to the model for one group.
type GeoContext struct {
	State        string `json:"uf,omitempty"`
	City         string `json:"cidade,omitempty"`
	Neighborhood string `json:"bairro,omitempty"`
	Street       string `json:"rua,omitempty"`
}

// Candidate is one group submitted for adjudication.
type Candidate struct {
	Kind        models.EntityKind
	MemberIDs   []string
	MemberNames []string
	Context     GeoContext
}

// Validator batches candidate groups into prompts and parses the per-group
// structured decisions. A missing API key disables it entirely; detection
// then persists groups with source "trigram" only.
type Validator struct {
	client    anthropic.Client
	model     anthropic.Model
	cache     *cache.Cache
	ttl       time.Duration
	batchSize int
	enabled   bool
}

func NewValidator(apiKey, model string, batchSize int, c *cache.Cache, ttl time.Duration) *Validator {
	if batchSize <= 0 {
		batchSize = 10
	}
	if apiKey == "" {
		log.Println("[LLM] ANTHROPIC_API_KEY not set; semantic validation disabled")
		return &Validator{cache: c, ttl: ttl, batchSize: batchSize}
	}
	return &Validator{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		cache:     c,
		ttl:       ttl,
		batchSize: batchSize,
		enabled:   true,
	}
}

// Enabled reports whether a credential was configured.
func (v *Validator) Enabled() bool { return v.enabled }

// DecisionKey is the cache key of a group's adjudication: the folded join
// of its member names, versioned by rubric.
func DecisionKey(memberNames []string) string {
	return "llm:" + RubricVersion + ":" + normalizer.Fold(strings.Join(memberNames, "|"))
}

// ValidateGroups adjudicates candidates in fixed-size sequential batches
// and returns a slice parallel to the input. A nil entry means no decision
// was reached (batch failure): the caller persists that group without
// validation. Cached decisions are honored before any prompt is built.
func (v *Validator) ValidateGroups(ctx context.Context, candidates []Candidate) []*models.ValidationResult {
	results := make([]*models.ValidationResult, len(candidates))

	pending := make([]int, 0, len(candidates))
	for i, c := range candidates {
		var cached models.ValidationResult
		if v.cache.GetJSON(ctx, DecisionKey(c.MemberNames), &cached) {
			results[i] = &cached
			continue
		}
		pending = append(pending, i)
	}

	if !v.enabled || len(pending) == 0 {
		return results
	}

	for start := 0; start < len(pending); start += v.batchSize {
		end := start + v.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		decisions, err := v.adjudicateBatch(ctx, candidates, batch)
		if err != nil {
			// Batch-level failure is non-fatal: these groups go
			// through without validation.
			log.Printf("[LLM] Batch of %d groups failed, persisting unvalidated: %v", len(batch), err)
			continue
		}
		for _, idx := range batch {
			if res := decisions[idx]; res != nil {
				results[idx] = res
				v.cache.SetJSON(ctx, DecisionKey(candidates[idx].MemberNames), res, v.ttl)
			}
		}
	}
	return results
}

// promptGroup is the per-group JSON shown to the model.
type promptGroup struct {
	Index   int        `json:"grupo"`
	Kind    string     `json:"tipo"`
	Members []string   `json:"membros"`
	IDs     []string   `json:"membroIds"`
	Context GeoContext `json:"contexto"`
}

// BuildPrompt assembles the batch prompt. Exported so tests can assert
// the rubric is embedded in every variant.
func BuildPrompt(candidates []Candidate, indices []int) (string, error) {
	groups := make([]promptGroup, 0, len(indices))
	for _, idx := range indices {
		c := candidates[idx]
		groups = append(groups, promptGroup{
			Index:   idx,
			Kind:    string(c.Kind),
			Members: c.MemberNames,
			IDs:     c.MemberIDs,
			Context: c.Context,
		})
	}
	payload, err := json.MarshalIndent(groups, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Você é um adjudicador de resolução de entidades para dados geográficos ")
	b.WriteString("de referência brasileiros (cidades, bairros, ruas, condomínios). ")
	b.WriteString("Para cada grupo candidato abaixo, decida se os membros são registros ")
	b.WriteString("duplicados do MESMO lugar real.\n\n")
	b.WriteString(Rubric)
	b.WriteString("\n\nGRUPOS CANDIDATOS:\n")
	b.Write(payload)
	b.WriteString("\n\nResponda APENAS com um array JSON, um objeto por grupo, no formato:\n")
	b.WriteString(`[{"grupo": <indice>, "confirmed": <bool>, "confidence": <0..1>, ` +
		`"canonical_name": "<nome canonico ou vazio>", "rationale": "<justificativa curta>", ` +
		`"valid_member_ids": ["<ids dos membros que SAO duplicatas>"]}]`)
	return b.String(), nil
}

func (v *Validator) adjudicateBatch(ctx context.Context, candidates []Candidate, indices []int) (map[int]*models.ValidationResult, error) {
	prompt, err := BuildPrompt(candidates, indices)
	if err != nil {
		return nil, err
	}

	text, err := v.callWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return ParseDecisions(text, candidates, indices)
}

// ParseDecisions extracts the JSON decision array from the model's answer
// and maps it back to candidate indices. Unknown indices are dropped.
func ParseDecisions(text string, candidates []Candidate, indices []int) (map[int]*models.ValidationResult, error) {
	raw := extractJSONArray(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON array in model response")
	}

	var rows []struct {
		Index int `json:"grupo"`
		models.ValidationResult
	}
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, fmt.Errorf("unparseable decision array: %v", err)
	}

	valid := make(map[int]bool, len(indices))
	for _, idx := range indices {
		valid[idx] = true
	}

	out := make(map[int]*models.ValidationResult, len(rows))
	for _, row := range rows {
		if !valid[row.Index] {
			continue
		}
		res := row.ValidationResult
		out[row.Index] = &res
	}
	return out, nil
}

// extractJSONArray returns the outermost [...] span, tolerating fenced
// code blocks and prose around the payload.
func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func (v *Validator) callWithRetry(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     v.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := v.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) > 0 && message.Content[0].Type == "text" {
				return message.Content[0].Text, nil
			}
			return "", fmt.Errorf("unexpected response format: not a text block")
		}
		lastErr = err
	}
	return "", fmt.Errorf("model call failed after %d retries: %v", maxRetries, lastErr)
}

// Apply folds a decision into a candidate group. Returns false when the
// group must be discarded (not confirmed, or fewer than 2 members
// survived the trim). On trim, member order is preserved.
func Apply(group *models.CandidateGroup, res *models.ValidationResult) bool {
	if res == nil {
		return true // no decision: the group passes through unvalidated
	}
	if !res.Confirmed {
		return false
	}

	if len(res.ValidMemberIDs) > 0 && len(res.ValidMemberIDs) < len(group.MemberIDs) {
		valid := make(map[string]bool, len(res.ValidMemberIDs))
		for _, id := range res.ValidMemberIDs {
			valid[id] = true
		}

		ids := make([]string, 0, len(res.ValidMemberIDs))
		names := make([]string, 0, len(res.ValidMemberIDs))
		for i, id := range group.MemberIDs {
			if valid[id] {
				ids = append(ids, id)
				names = append(names, group.MemberNames[i])
			}
		}
		if len(ids) < 2 {
			return false
		}
		group.MemberIDs = ids
		group.MemberNames = names
	}

	if res.CanonicalName != "" {
		group.NormalizedName = normalizer.FoldWithPrefixes(res.CanonicalName, group.EntityKind)
	}
	return true
}
