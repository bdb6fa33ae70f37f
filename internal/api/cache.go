package api

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// recallCacheTTL is how long a recall result stays valid.
const recallCacheTTL = 60 * time.Second

// recallCache memoizes formatted recall responses keyed by
// (query, maxResults). Sized for ~50 entries; admission is frequency-based
// so hot queries survive churn.
type recallCache struct {
	cache *ristretto.Cache
}

func newRecallCache() (*recallCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 500, // ~10x expected live entries
		MaxCost:     50,
		BufferItems: 64,
		// Each entry costs exactly 1, so MaxCost counts entries.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating recall cache: %w", err)
	}
	return &recallCache{cache: c}, nil
}

func recallKey(query string, maxResults int) string {
	return fmt.Sprintf("%s|%d", query, maxResults)
}

func (r *recallCache) get(query string, maxResults int) (string, bool) {
	v, ok := r.cache.Get(recallKey(query, maxResults))
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (r *recallCache) put(query string, maxResults int, text string) {
	r.cache.SetWithTTL(recallKey(query, maxResults), text, 1, recallCacheTTL)
	// Wait for the admission buffer so a read-after-write in the same
	// request stream sees the entry.
	r.cache.Wait()
}

func (r *recallCache) close() {
	r.cache.Close()
}
