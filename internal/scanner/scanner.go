// Package scanner orchestrates one detection pass over the host schema:
// trigram pair discovery, clustering, LLM adjudication, persistence and
// enrichment, kind by kind in hierarchy order.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vistacrm/geodedup-engine/internal/db"
	"github.com/vistacrm/geodedup-engine/internal/detector"
	"github.com/vistacrm/geodedup-engine/internal/enricher"
	"github.com/vistacrm/geodedup-engine/internal/llm"
	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// AlertFunc receives every newly persisted group, typically to push a
// websocket notification.
type AlertFunc func(g *models.DuplicateGroup)

type Scanner struct {
	store     *db.PostgresStore
	detector  *detector.Detector
	validator *llm.Validator
	enricher  *enricher.Enricher
	alert     AlertFunc

	running int32

	// Progress counters, read by the status endpoint while a scan runs.
	pairsAnalyzed  int64
	groupsCreated  int64
	groupsRejected int64
}

func New(store *db.PostgresStore, det *detector.Detector, val *llm.Validator,
	enr *enricher.Enricher, alert AlertFunc) *Scanner {

	if alert == nil {
		alert = func(*models.DuplicateGroup) {}
	}
	return &Scanner{
		store:     store,
		detector:  det,
		validator: val,
		enricher:  enr,
		alert:     alert,
	}
}

// RunSummary is the outcome of one detection pass.
type RunSummary struct {
	RunID          int64                     `json:"execucaoId"`
	TotalPairs     int                       `json:"totalParesAnalisados"`
	TotalGroups    int                       `json:"totalGrupos"`
	TotalRejected  int                       `json:"totalRejeitadosLLM"`
	GroupsByKind   map[models.EntityKind]int `json:"gruposPorTipo"`
	DurationMillis int64                     `json:"duracaoMs"`
}

// IsRunning reports whether a scan is in flight.
func (s *Scanner) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// Progress returns the live counters of the current (or last) scan.
func (s *Scanner) Progress() (pairs, created, rejected int64) {
	return atomic.LoadInt64(&s.pairsAnalyzed),
		atomic.LoadInt64(&s.groupsCreated),
		atomic.LoadInt64(&s.groupsRejected)
}

// RunScan executes one detection pass over the given kinds, or every
// kind in hierarchy order when none is given. Only one scan runs at a
// time; a second call while in flight returns an error immediately. The
// run is recorded in the execution log whatever its outcome. A failing
// kind aborts its own pass only: the remaining kinds still run, and the
// run is marked failed at the end with every kind error collected.
func (s *Scanner) RunScan(ctx context.Context, kinds ...models.EntityKind) (*RunSummary, error) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return nil, fmt.Errorf("a scan is already running")
	}
	defer atomic.StoreInt32(&s.running, 0)

	atomic.StoreInt64(&s.pairsAnalyzed, 0)
	atomic.StoreInt64(&s.groupsCreated, 0)
	atomic.StoreInt64(&s.groupsRejected, 0)

	if len(kinds) == 0 {
		kinds = models.AllKinds()
	}

	runID, err := s.store.StartRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %v", err)
	}

	start := time.Now()
	summary := &RunSummary{RunID: runID, GroupsByKind: make(map[models.EntityKind]int)}

	var kindErrs []string
	for _, kind := range kinds {
		created, rejected, pairs, err := s.scanKind(ctx, kind)
		summary.TotalPairs += pairs
		summary.TotalGroups += created
		summary.TotalRejected += rejected
		summary.GroupsByKind[kind] = created
		if err != nil {
			log.Printf("[Scanner] Pass for kind %s failed: %v", kind, err)
			kindErrs = append(kindErrs, fmt.Sprintf("%s: %v", kind, err))
		}
	}
	summary.DurationMillis = time.Since(start).Milliseconds()

	if len(kindErrs) > 0 {
		detail := strings.Join(kindErrs, "; ")
		s.store.FailRun(ctx, runID, detail, summary.TotalPairs, summary.TotalGroups)
		return summary, fmt.Errorf("scan finished with failed kinds: %s", detail)
	}

	if err := s.store.CompleteRun(ctx, runID, summary.TotalPairs, summary.TotalGroups); err != nil {
		return nil, err
	}

	log.Printf("[Scanner] Run %d complete: %d pairs, %d groups created, %d rejected by validation (%dms)",
		runID, summary.TotalPairs, summary.TotalGroups, summary.TotalRejected, summary.DurationMillis)
	return summary, nil
}

// RunAsync fires a scan in the background, for the non-blocking trigger
// endpoint and the interval scheduler.
func (s *Scanner) RunAsync(kinds ...models.EntityKind) {
	go func() {
		if _, err := s.RunScan(context.Background(), kinds...); err != nil {
			log.Printf("[Scanner] Background scan failed: %v", err)
		}
	}()
}

// Preview runs detection for one kind and returns the candidate groups
// without persisting anything and without LLM adjudication. parentID,
// when set, keeps only candidates under that geographic parent.
func (s *Scanner) Preview(ctx context.Context, kind models.EntityKind, parentID string) ([]models.CandidateGroup, error) {
	pairs, err := s.detector.FindPairs(ctx, kind)
	if err != nil {
		return nil, err
	}
	if parentID != "" {
		filtered := pairs[:0]
		for _, p := range pairs {
			if p.ParentID == parentID {
				filtered = append(filtered, p)
			}
		}
		pairs = filtered
	}

	known, err := s.detector.KnownMemberIDs(ctx, kind)
	if err != nil {
		return nil, err
	}
	pairs = detector.FilterKnown(pairs, known)

	candidates := detector.BuildGroups(kind, pairs)
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].MeanScore > candidates[b].MeanScore
	})
	return candidates, nil
}

// StartScheduler kicks off periodic scans until the context is done.
// A zero interval disables scheduling.
func (s *Scanner) StartScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	log.Printf("[Scanner] Scheduling scans every %s", interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunScan(ctx); err != nil {
					log.Printf("[Scanner] Scheduled scan failed: %v", err)
				}
			}
		}
	}()
}

// scanKind runs detection for one entity kind and persists the surviving
// groups in score order.
func (s *Scanner) scanKind(ctx context.Context, kind models.EntityKind) (created, rejected, pairCount int, err error) {
	pairs, err := s.detector.FindPairs(ctx, kind)
	if err != nil {
		return 0, 0, 0, err
	}
	pairCount = len(pairs)
	atomic.AddInt64(&s.pairsAnalyzed, int64(pairCount))

	known, err := s.detector.KnownMemberIDs(ctx, kind)
	if err != nil {
		return 0, 0, pairCount, err
	}
	pairs = detector.FilterKnown(pairs, known)

	candidates := detector.BuildGroups(kind, pairs)
	if len(candidates) == 0 {
		return 0, 0, pairCount, nil
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].MeanScore > candidates[b].MeanScore
	})

	decisions := s.validator.ValidateGroups(ctx, s.llmCandidates(ctx, kind, candidates))

	for i := range candidates {
		group, keep := s.buildGroup(&candidates[i], decisions[i])
		if !keep {
			rejected++
			atomic.AddInt64(&s.groupsRejected, 1)
			continue
		}

		if err := s.store.CreateGroup(ctx, group); err != nil {
			return created, rejected, pairCount, err
		}
		created++
		atomic.AddInt64(&s.groupsCreated, 1)

		if s.enricher.Enabled() {
			if err := s.enricher.EnrichGroup(ctx, group); err != nil {
				log.Printf("[Scanner] Enrichment of group %s failed: %v", group.ID, err)
			}
		}
		s.alert(group)
	}
	return created, rejected, pairCount, nil
}

// llmCandidates decorates the candidate groups with their geographic
// scope for the adjudication prompt. Label resolution failures degrade
// to an empty context.
func (s *Scanner) llmCandidates(ctx context.Context, kind models.EntityKind, candidates []models.CandidateGroup) []llm.Candidate {
	labels := make(map[string]string)
	out := make([]llm.Candidate, len(candidates))
	for i, c := range candidates {
		label, ok := labels[c.ParentID]
		if !ok {
			resolved, err := s.store.ParentLabel(ctx, kind, c.ParentID)
			if err != nil {
				log.Printf("[Scanner] Parent label for %s failed: %v", c.ParentID, err)
			}
			label = resolved
			labels[c.ParentID] = label
		}

		var geo llm.GeoContext
		switch kind {
		case models.KindCity:
			geo.State = label
		case models.KindNeighborhood, models.KindCondo:
			geo.City = label
		case models.KindStreet:
			geo.Neighborhood = label
		}

		out[i] = llm.Candidate{
			Kind:        kind,
			MemberIDs:   c.MemberIDs,
			MemberNames: c.MemberNames,
			Context:     geo,
		}
	}
	return out
}

// buildGroup folds an adjudication into a persistable group. keep=false
// means the validator rejected the group or trimmed it below 2 members.
func (s *Scanner) buildGroup(c *models.CandidateGroup, res *models.ValidationResult) (*models.DuplicateGroup, bool) {
	if !llm.Apply(c, res) {
		return nil, false
	}

	group := &models.DuplicateGroup{
		EntityKind:     c.EntityKind,
		NormalizedName: c.NormalizedName,
		MemberIDs:      c.MemberIDs,
		MemberNames:    c.MemberNames,
		MeanScore:      c.MeanScore,
		Source:         models.SourceTrigram,
		Status:         models.StatusPending,
	}
	if c.ParentID != "" {
		parent := c.ParentID
		group.ParentID = &parent
	}
	if res != nil {
		group.Source = models.SourceTrigramLLM
		if details, err := json.Marshal(res); err == nil {
			group.LLMDetails = details
		}
	}
	return group, true
}

// RevalidatePending pushes Pending groups that never got an LLM decision
// through the validator again. Rejected groups are discarded. Returns
// (validated, discarded).
func (s *Scanner) RevalidatePending(ctx context.Context) (int, int, error) {
	if !s.validator.Enabled() {
		return 0, 0, fmt.Errorf("semantic validation is not configured")
	}

	groups, err := s.store.GroupsMissingValidation(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(groups) == 0 {
		return 0, 0, nil
	}

	candidates := make([]llm.Candidate, len(groups))
	for i, g := range groups {
		var geo llm.GeoContext
		parent := ""
		if g.ParentID != nil {
			parent = *g.ParentID
		}
		label, err := s.store.ParentLabel(ctx, g.EntityKind, parent)
		if err == nil {
			switch g.EntityKind {
			case models.KindCity:
				geo.State = label
			case models.KindNeighborhood, models.KindCondo:
				geo.City = label
			case models.KindStreet:
				geo.Neighborhood = label
			}
		}
		candidates[i] = llm.Candidate{
			Kind:        g.EntityKind,
			MemberIDs:   g.MemberIDs,
			MemberNames: g.MemberNames,
			Context:     geo,
		}
	}

	decisions := s.validator.ValidateGroups(ctx, candidates)

	validated, discarded := 0, 0
	for i := range groups {
		res := decisions[i]
		if res == nil {
			continue
		}

		g := &groups[i]
		candidate := models.CandidateGroup{
			EntityKind:     g.EntityKind,
			NormalizedName: g.NormalizedName,
			MemberIDs:      g.MemberIDs,
			MemberNames:    g.MemberNames,
		}
		if !llm.Apply(&candidate, res) {
			if err := s.store.DiscardGroup(ctx, g.ID); err != nil {
				log.Printf("[Scanner] Failed to discard group %s: %v", g.ID, err)
				continue
			}
			discarded++
			continue
		}

		details, _ := json.Marshal(res)
		if err := s.store.SetGroupValidation(ctx, g.ID, details, models.SourceTrigramLLM,
			candidate.NormalizedName, candidate.MemberIDs, candidate.MemberNames); err != nil {
			log.Printf("[Scanner] Failed to store validation for group %s: %v", g.ID, err)
			continue
		}
		validated++
	}
	return validated, discarded, nil
}
