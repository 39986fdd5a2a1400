package retrieval

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"concierge/internal/vectorstore"
	"concierge/pkg/logging"
)

// CuratedCollection is the always-on, hand-authored Q&A collection. Its
// results take priority over generic vector hits and are never displaced.
const CuratedCollection = "CuratedQnA"

// curatedCap bounds how much of a query's capacity the curated lane may
// consume.
const curatedCap = 3

// Result provenance values.
const (
	DerivedCurated = "curated-qa"
	DerivedVector  = "vector"
)

// Result is a retrieval hit with ranking fields. Score is 1 − Distance,
// higher is better.
type Result struct {
	Text        string
	Metadata    map[string]any
	Collection  string
	Score       float64
	Distance    float64
	DerivedFrom string
}

// Searcher is the vector search surface the router consumes.
type Searcher interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)
	SimilaritySearch(ctx context.Context, collection, query string, k int) ([]vectorstore.Document, error)
}

// Router merges curated and vector knowledge lanes and aggregates
// results across tenant collections.
type Router struct {
	store  Searcher
	logger logging.Logger
}

func NewRouter(store Searcher, logger logging.Logger) *Router {
	return &Router{store: store, logger: logger}
}

// Search queries the curated lane first, capped at min(k, 3), then fills
// the residual capacity from the fallback collection. Curated hits always
// come first and are never displaced by fallback hits.
func (r *Router) Search(ctx context.Context, fallbackCollection, query string, k int) []Result {
	if k <= 0 {
		k = 5
	}
	start := time.Now()

	curatedLimit := curatedCap
	if k < curatedLimit {
		curatedLimit = k
	}

	var results []Result
	curated, err := r.store.SimilaritySearch(ctx, CuratedCollection, query, curatedLimit)
	if err != nil {
		r.logger.WithError(err).WithField("collection", CuratedCollection).Warn("Curated lane search failed")
	}
	for _, doc := range curated {
		results = append(results, toResult(doc, DerivedCurated))
	}

	residual := k - len(results)
	if residual > 0 && fallbackCollection != "" {
		for _, doc := range r.searchFallback(ctx, fallbackCollection, query, residual) {
			results = append(results, toResult(doc, DerivedVector))
		}
	}

	retrievalDuration.WithLabelValues("single").Observe(time.Since(start).Seconds())
	retrievalResults.WithLabelValues("single").Observe(float64(len(results)))
	return results
}

// searchFallback tries successive strategies until one yields results:
// direct search, 2x over-fetch, then case/whitespace variants of the query
// merged with exact-text dedup.
func (r *Router) searchFallback(ctx context.Context, collection, query string, capacity int) []vectorstore.Document {
	docs, err := r.store.SimilaritySearch(ctx, collection, query, capacity)
	if err != nil {
		r.logger.WithError(err).WithField("collection", collection).Warn("Fallback lane search failed")
	}
	if len(docs) > 0 {
		return docs
	}

	docs, err = r.store.SimilaritySearch(ctx, collection, query, capacity*2)
	if err != nil {
		r.logger.WithError(err).WithField("collection", collection).Warn("Fallback over-fetch failed")
	}
	if len(docs) > 0 {
		if len(docs) > capacity {
			docs = docs[:capacity]
		}
		return docs
	}

	seen := make(map[string]struct{})
	var merged []vectorstore.Document
	for _, variant := range queryVariants(query) {
		variantDocs, err := r.store.SimilaritySearch(ctx, collection, variant, capacity)
		if err != nil {
			r.logger.WithError(err).WithField("collection", collection).Warn("Fallback variant search failed")
			continue
		}
		for _, doc := range variantDocs {
			if _, dup := seen[doc.Text]; dup {
				continue
			}
			seen[doc.Text] = struct{}{}
			merged = append(merged, doc)
		}
	}
	if len(merged) > capacity {
		merged = merged[:capacity]
	}
	return merged
}

func queryVariants(query string) []string {
	variants := []string{
		strings.TrimSpace(query),
		strings.ToLower(strings.TrimSpace(query)),
		strings.ToUpper(strings.TrimSpace(query)),
	}
	seen := make(map[string]struct{}, len(variants))
	out := variants[:0]
	for _, v := range variants {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// labelPattern matches a leading bracketed label like "[Reservation] ...".
var labelPattern = regexp.MustCompile(`^\[([^\]]+)\]`)

// canonicalKey extracts the dedup key for cross-tenant aggregation: the
// leading bracketed label when present, otherwise the full text.
func canonicalKey(text string) string {
	if m := labelPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// SearchAllTenantCollections runs a similarity-with-score search over every
// tenant collection concurrently, maps distance to score via score = 1 −
// distance, deduplicates by canonical key keeping the highest-scored
// occurrence, sorts by score descending and truncates to limit. A failing
// collection is skipped and logged; it never aborts the aggregation.
func (r *Router) SearchAllTenantCollections(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	start := time.Now()

	collections, err := r.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	tenantCollections := collections[:0]
	for _, name := range collections {
		if name == CuratedCollection || isTopicCollection(name) {
			continue
		}
		tenantCollections = append(tenantCollections, name)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []Result
	)
	for _, collection := range tenantCollections {
		wg.Add(1)
		go func(collection string) {
			defer wg.Done()
			docs, err := r.store.SimilaritySearch(ctx, collection, query, limit)
			if err != nil {
				r.logger.WithError(err).WithField("collection", collection).Warn("Skipping failed collection in aggregation")
				skippedCollections.Inc()
				return
			}
			mu.Lock()
			for _, doc := range docs {
				results = append(results, toResult(doc, DerivedVector))
			}
			mu.Unlock()
		}(collection)
	}
	wg.Wait()

	best := make(map[string]Result, len(results))
	for _, result := range results {
		key := canonicalKey(result.Text)
		if current, ok := best[key]; !ok || result.Score > current.Score {
			best[key] = result
		}
	}

	deduped := make([]Result, 0, len(best))
	for _, result := range best {
		deduped = append(deduped, result)
	}
	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].Score != deduped[j].Score {
			return deduped[i].Score > deduped[j].Score
		}
		// Stable order for equal scores.
		if deduped[i].Collection != deduped[j].Collection {
			return deduped[i].Collection < deduped[j].Collection
		}
		return deduped[i].Text < deduped[j].Text
	})
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}

	retrievalDuration.WithLabelValues("aggregate").Observe(time.Since(start).Seconds())
	retrievalResults.WithLabelValues("aggregate").Observe(float64(len(deduped)))
	return deduped, nil
}

func toResult(doc vectorstore.Document, derivedFrom string) Result {
	return Result{
		Text:        doc.Text,
		Metadata:    doc.Metadata,
		Collection:  doc.Collection,
		Score:       1 - doc.Distance,
		Distance:    doc.Distance,
		DerivedFrom: derivedFrom,
	}
}
