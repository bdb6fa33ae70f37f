// Package retrieval implements the hybrid read path: FTS, vector, and
// file-scoped sub-searches fanned out in parallel and fused with source
// weights. Ranking boosts are deliberately not applied here; this layer is
// the deterministic merge.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/cortex/internal/embed"
	"github.com/kalambet/cortex/internal/storage"
)

// Source weights for fusion.
const (
	weightFTS    = 0.35
	weightVector = 0.50
	weightFile   = 0.15
)

// MaxResults caps how many fused results a query may request.
const MaxResults = 50

// embedQueryTimeout bounds the query-embedding call; on timeout the vector
// leg is skipped and FTS results stand alone.
const embedQueryTimeout = 30 * time.Second

// Match is one fused retrieval result.
type Match struct {
	Unit    storage.Unit
	Score   float64
	Methods []string // which sub-searches produced it: fts, vector, file
}

// Filters restricts the fused result set.
type Filters struct {
	Kinds         []storage.Kind
	Since         int64 // epoch ms; 0 = no limit
	MinImportance float64
	Files         []string // intersect with related_files when non-empty
}

// Options steers one retrieval call.
type Options struct {
	CurrentFile string
	MaxResults  int
	Filters     Filters
}

// Retriever fans out and fuses the three sub-searches.
type Retriever struct {
	store    *storage.Store
	embedder embed.Embedder
	logger   *slog.Logger
}

// New creates a Retriever. The embedder may be nil, disabling the vector leg.
func New(store *storage.Store, embedder embed.Embedder) *Retriever {
	return &Retriever{store: store, embedder: embedder, logger: slog.Default()}
}

// Retrieve runs the hybrid pipeline for query and returns fused matches,
// unranked beyond source weighting.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]Match, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > MaxResults {
		maxResults = MaxResults
	}
	subLimit := 2 * maxResults

	var (
		ftsHits    []storage.ScoredUnit
		vectorHits []storage.ScoredUnit
		fileHits   []storage.Unit
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, err := r.searchFTS(query, subLimit)
		if err != nil {
			// A malformed MATCH expression must not sink the whole recall.
			r.logger.Warn("fts search failed", "query", query, "error", err)
			return nil
		}
		ftsHits = hits
		return nil
	})

	if r.embedder != nil && r.embedder.Ready() {
		g.Go(func() error {
			embedCtx, cancel := context.WithTimeout(gCtx, embedQueryTimeout)
			defer cancel()
			vec, err := r.embedder.Embed(embedCtx, query)
			if err != nil {
				r.logger.Debug("query embedding unavailable", "error", err)
				return nil
			}
			hits, err := r.store.SearchVector(vec, subLimit)
			if err != nil {
				r.logger.Warn("vector search failed", "error", err)
				return nil
			}
			vectorHits = hits
			return nil
		})
	}

	if opts.CurrentFile != "" {
		g.Go(func() error {
			hits, err := r.store.GetByFile(opts.CurrentFile, subLimit)
			if err != nil {
				r.logger.Warn("file search failed", "file", opts.CurrentFile, "error", err)
				return nil
			}
			fileHits = hits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuse(ftsHits, vectorHits, fileHits)
	fused = applyFilters(fused, opts.Filters)

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if fused[i].Unit.Timestamp != fused[j].Unit.Timestamp {
			return fused[i].Unit.Timestamp > fused[j].Unit.Timestamp
		}
		return fused[i].Unit.ID < fused[j].Unit.ID
	})

	if len(fused) > maxResults {
		fused = fused[:maxResults]
	}
	return fused, nil
}

// searchFTS tries the expanded query first, falling back to the raw tokens
// when expansion finds nothing.
func (r *Retriever) searchFTS(query string, limit int) ([]storage.ScoredUnit, error) {
	expanded := ExpandQuery(query)
	if expanded == "" {
		return nil, nil
	}
	hits, err := r.store.SearchFTS(expanded, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		return hits, nil
	}
	base := BaseQuery(query)
	if base == "" || base == expanded {
		return hits, nil
	}
	return r.store.SearchFTS(base, limit)
}

// fuse merges the three sub-search result lists with weighted
// reciprocal-rank aggregation. Duplicate ids add their weighted
// contributions and union their method labels.
func fuse(fts, vector []storage.ScoredUnit, file []storage.Unit) []Match {
	byID := make(map[string]*Match)
	order := make([]string, 0, len(fts)+len(vector)+len(file))

	add := func(u storage.Unit, rank int, weight float64, method string) {
		m, ok := byID[u.ID]
		if !ok {
			m = &Match{Unit: u}
			byID[u.ID] = m
			order = append(order, u.ID)
		}
		m.Score += weight / float64(rank+1)
		m.Methods = appendUnique(m.Methods, method)
	}

	for i, h := range fts {
		add(h.Unit, i, weightFTS, "fts")
	}
	for i, h := range vector {
		add(h.Unit, i, weightVector, "vector")
	}
	for i, u := range file {
		add(u, i, weightFile, "file")
	}

	out := make([]Match, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

func applyFilters(matches []Match, f Filters) []Match {
	if len(f.Kinds) == 0 && f.Since == 0 && f.MinImportance == 0 && len(f.Files) == 0 {
		return matches
	}
	out := matches[:0]
	for _, m := range matches {
		if len(f.Kinds) > 0 && !kindIn(m.Unit.Kind, f.Kinds) {
			continue
		}
		if f.Since > 0 && m.Unit.Timestamp < f.Since {
			continue
		}
		if f.MinImportance > 0 && m.Unit.Importance < f.MinImportance {
			continue
		}
		if len(f.Files) > 0 && !filesIntersect(m.Unit.RelatedFiles, f.Files) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// EnrichNeighbors appends 1-hop graph neighbours of the top-K matches at a
// discounted score. Already-present units are skipped.
func (r *Retriever) EnrichNeighbors(matches []Match, topK int, factor float64) []Match {
	if topK > len(matches) {
		topK = len(matches)
	}
	present := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		present[m.Unit.ID] = struct{}{}
	}

	enriched := matches
	for i := 0; i < topK; i++ {
		related, err := r.store.Related(matches[i].Unit.ID, 1, 5)
		if err != nil {
			r.logger.Warn("graph enrichment failed", "id", matches[i].Unit.ID, "error", err)
			continue
		}
		for _, rel := range related {
			if _, ok := present[rel.Unit.ID]; ok {
				continue
			}
			present[rel.Unit.ID] = struct{}{}
			enriched = append(enriched, Match{
				Unit:    rel.Unit,
				Score:   matches[i].Score * factor,
				Methods: []string{"graph"},
			})
		}
	}
	return enriched
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func kindIn(k storage.Kind, kinds []storage.Kind) bool {
	for _, candidate := range kinds {
		if k == candidate {
			return true
		}
	}
	return false
}

func filesIntersect(a, b []string) bool {
	for _, f := range a {
		for _, g := range b {
			if f == g {
				return true
			}
		}
	}
	return false
}
