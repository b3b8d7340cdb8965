package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// cacheKey returns a namespaced SHA-256 hex of the normalized query.
func cacheKey(query string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return fmt.Sprintf("geocode:%x", h)
}

// checkCache looks up a cached result. Cached misses (Matched=false) are
// returned so the caller skips Nominatim for them too.
func (g *geocoder) checkCache(ctx context.Context, key string) (*Result, bool) {
	raw, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("geocode: cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		zap.L().Warn("geocode: discarding unreadable cache entry", zap.Error(err))
		return nil, false
	}
	r.Cached = true
	zap.L().Debug("geocode cache hit", zap.String("key", key[:20]), zap.Bool("matched", r.Matched))
	return &r, true
}

// storeCache records a result, match or not.
func (g *geocoder) storeCache(ctx context.Context, key string, result *Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		zap.L().Warn("geocode: encode cache entry", zap.Error(err))
		return
	}
	if err := g.cache.Set(ctx, key, raw, g.cacheTTL); err != nil {
		zap.L().Warn("geocode: cache write failed", zap.Error(err))
	}
}
