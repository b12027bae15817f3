package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/gateway/core/kvstore"
	"github.com/relabs-tech/gateway/core/logger"
)

// CacheKeyPrefix is the prefix of all response cache keys in the store
const CacheKeyPrefix = "api_cache_"

// DefaultCacheTTL is the freshness window of cached responses
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	Payload     json.RawMessage `json:"payload"`
	Status      int             `json:"status"`
	ContentType string          `json:"contentType,omitempty"`
	Text        bool            `json:"text,omitempty"`
	StoredAt    time.Time       `json:"storedAt"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

// fresh is true strictly before the expiry
func (e *cacheEntry) fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

type responseCache struct {
	store kvstore.Store
	ttl   time.Duration
	now   func() time.Time
}

func cacheKey(endpoint string) string {
	return CacheKeyPrefix + endpoint
}

// put stores payload under endpoint, replacing any previous entry. A quota error triggers a
// sweep of the expired entries; the failed write is not retried.
func (c *responseCache) put(ctx context.Context, endpoint string, res *Response) {
	rlog := logger.FromContext(ctx)
	now := c.now()
	payload, text := encodablePayload(res.Body)
	entry := cacheEntry{
		Payload:     payload,
		Text:        text,
		Status:      res.Status,
		ContentType: res.Header.Get("Content-Type"),
		StoredAt:    now,
		ExpiresAt:   now.Add(c.ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		rlog.WithError(err).Errorln("cannot encode cache entry for", endpoint)
		return
	}
	err = c.store.Set(ctx, cacheKey(endpoint), data)
	if errors.Is(err, kvstore.ErrQuotaExceeded) {
		removed, sweepErr := c.sweep(ctx)
		rlog.WithError(err).Warnf("cache quota exceeded storing %s, swept %d expired entries", endpoint, removed)
		if sweepErr != nil {
			rlog.WithError(sweepErr).Warnln("cache sweep failed")
		}
		return
	}
	if err != nil {
		rlog.WithError(err).Warnln("cannot store cache entry for", endpoint)
	}
}

// get returns the entry for endpoint if there is a fresh one
func (c *responseCache) get(ctx context.Context, endpoint string) (*cacheEntry, bool) {
	data, err := c.store.Get(ctx, cacheKey(endpoint))
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			logger.FromContext(ctx).WithError(err).Warnln("cannot read cache entry for", endpoint)
		}
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if !entry.fresh(c.now()) {
		return nil, false
	}
	return &entry, true
}

func (e *cacheEntry) response() *Response {
	header := http.Header{}
	if e.ContentType != "" {
		header.Set("Content-Type", e.ContentType)
	}
	body := []byte(e.Payload)
	if e.Text {
		var s string
		json.Unmarshal(e.Payload, &s)
		body = []byte(s)
	} else if string(body) == "null" {
		body = nil
	}
	return &Response{
		Status:    e.Status,
		Header:    header,
		Body:      body,
		FromCache: true,
		StoredAt:  e.StoredAt,
	}
}

// sweep deletes all expired or unreadable entries and returns how many were removed
func (c *responseCache) sweep(ctx context.Context) (int, error) {
	return c.remove(ctx, func(entry *cacheEntry) bool {
		return entry == nil || !entry.fresh(c.now())
	})
}

// clear deletes all entries
func (c *responseCache) clear(ctx context.Context) (int, error) {
	return c.remove(ctx, func(*cacheEntry) bool { return true })
}

func (c *responseCache) remove(ctx context.Context, match func(entry *cacheEntry) bool) (int, error) {
	keys, err := c.store.Keys(ctx, CacheKeyPrefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, key := range keys {
		var entry *cacheEntry
		if data, err := c.store.Get(ctx, key); err == nil {
			var e cacheEntry
			if json.Unmarshal(data, &e) == nil {
				entry = &e
			}
		} else if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if !match(entry) {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// encodablePayload returns body as raw JSON. Bodies which are not JSON are stored as a JSON
// string and flagged as text.
func encodablePayload(body []byte) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return json.RawMessage("null"), false
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), false
	}
	quoted, _ := json.Marshal(string(body))
	return quoted, true
}
