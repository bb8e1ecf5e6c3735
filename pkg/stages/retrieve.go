package stages

import (
	"sort"

	"github.com/cascadelabs/cascade/pkg/memory"
	"github.com/cascadelabs/cascade/pkg/stage"
)

// Retrieve searches the memory store for notes similar to the query (and,
// when present, its expand.variants), writing a ranked retrieval.notes[]
// list. Cacheable per (query, tenant, domain) — the Scheduler's cache
// key folds in the declared inputs plus query.tenant and domain.label.
type Retrieve struct {
	Store  memory.Store
	TopK   int
	Tenant func(rc stage.RunContext) string
}

// NewRetrieve constructs a Retrieve stage. tenantFn resolves the tenant ID
// from a RunContext; nil defaults to the empty (shared) tenant.
func NewRetrieve(store memory.Store, topK int, tenantFn func(stage.RunContext) string) *Retrieve {
	if topK <= 0 {
		topK = 5
	}
	if tenantFn == nil {
		tenantFn = func(stage.RunContext) string { return "" }
	}
	return &Retrieve{Store: store, TopK: topK, Tenant: tenantFn}
}

func (s *Retrieve) Name() string          { return "retrieve" }
func (s *Retrieve) InputKeys() []string    { return []string{"query.text"} }
func (s *Retrieve) OutputKeys() []string   { return []string{"retrieval.notes", "retrieval.used_variants"} }
func (s *Retrieve) Cacheable() bool        { return true }
func (s *Retrieve) Idempotent() bool       { return true }
func (s *Retrieve) Capabilities() []stage.Capability {
	return []stage.Capability{stage.CapabilityNeedsMemory}
}

func (s *Retrieve) Run(rc stage.RunContext, view *stage.Scratchpad) (stage.Output, error) {
	query, _ := view.Get("query.text")
	domainLabel := "general"
	if v, ok := view.Get("domain.label"); ok {
		domainLabel = toString(v)
	}

	usedVariants := false
	terms := []string{toString(query)}
	if raw, ok := view.Get("expand.variants"); ok {
		if variants, ok := raw.([]string); ok && len(variants) > 0 {
			terms = variants
			usedVariants = true
		}
	}

	seen := map[string]memory.Scored{}
	for _, term := range terms {
		embedding := embedText(term)
		results, err := s.Store.SearchSimilar(rc.Context, embedding, s.Tenant(rc), domainLabel, s.TopK)
		if err != nil {
			// spec.md §4.2: an unavailable memory store degrades to "no
			// notes found", never a stage-fatal error.
			continue
		}
		for _, r := range results {
			if existing, ok := seen[r.Note.ID]; !ok || r.Score > existing.Score {
				seen[r.Note.ID] = r
			}
		}
	}

	notes := make([]memory.Scored, 0, len(seen))
	for _, r := range seen {
		notes = append(notes, r)
	}
	sortScoredDesc(notes)
	if len(notes) > s.TopK {
		notes = notes[:s.TopK]
	}

	return stage.Output{
		Writes: map[string]any{
			"retrieval.notes":         notes,
			"retrieval.used_variants": usedVariants,
		},
	}, nil
}

func sortScoredDesc(notes []memory.Scored) {
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].Score != notes[j].Score {
			return notes[i].Score > notes[j].Score
		}
		return notes[i].Note.ID < notes[j].Note.ID
	})
}
