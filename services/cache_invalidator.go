package services

import (
	"context"
	"sort"
	"strings"
	"sync"

	"cpls_refresh/errors"
	"cpls_refresh/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// KeyStore is the part of the key-value store the invalidator needs
type KeyStore interface {
	Keys(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, key string) (int64, error)
}

// InvalidationResult summarizes one ClearByPrefix call. Deleted counts keys the
// store actually removed; a key that expired between KEYS and DEL is matched
// but not deleted. FailedKeys lists keys whose delete failed.
type InvalidationResult struct {
	Prefix     string   `json:"prefix"`
	Matched    int      `json:"matched"`
	Deleted    int      `json:"deletedCount"`
	FailedKeys []string `json:"failedKeys"`
}

// CacheInvalidator deletes every cache entry under a key prefix
type CacheInvalidator struct {
	store       KeyStore
	concurrency int
	log         *zap.SugaredLogger
}

// NewCacheInvalidator creates an invalidator. A nil store is allowed and makes
// every call fail with ErrConfigurationMissing.
func NewCacheInvalidator(store KeyStore, concurrency int) *CacheInvalidator {
	if concurrency <= 0 {
		concurrency = 16
	}
	return &CacheInvalidator{
		store:       store,
		concurrency: concurrency,
		log:         logger.Named("cache"),
	}
}

// Configured reports whether a store is attached
func (ci *CacheInvalidator) Configured() bool {
	return ci != nil && ci.store != nil
}

// ClearByPrefix deletes every key starting with prefix and reports how many
// were removed. Deletes run concurrently and are not rolled back: when some
// fail, the result still counts the ones that succeeded and the error is
// marked ErrPartialInvalidation.
func (ci *CacheInvalidator) ClearByPrefix(ctx context.Context, prefix string) (*InvalidationResult, error) {
	if !ci.Configured() {
		return nil, errors.Mark(errors.New("cache store is not configured"), errors.ErrConfigurationMissing)
	}
	if prefix == "" {
		return nil, errors.New("cache prefix is required")
	}

	keys, err := ci.store.Keys(ctx, globEscape(prefix)+"*")
	if err != nil {
		return nil, errors.Wrapf(err, "list keys under %q", prefix)
	}

	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}

	result := &InvalidationResult{
		Prefix:     prefix,
		Matched:    len(matched),
		FailedKeys: []string{},
	}
	if len(matched) == 0 {
		ci.log.Infow("No cache keys matched", logger.FieldPrefix, prefix)
		return result, nil
	}

	var (
		mu       sync.Mutex
		failures []error
		g        errgroup.Group
	)
	g.SetLimit(ci.concurrency)

	for _, key := range matched {
		key := key
		g.Go(func() error {
			removed, err := ci.store.Del(ctx, key)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailedKeys = append(result.FailedKeys, key)
				failures = append(failures, errors.Wrapf(err, "delete %s", key))
				return nil
			}
			if removed > 0 {
				result.Deleted++
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(result.FailedKeys) > 0 {
		sort.Strings(result.FailedKeys)
		ci.log.Errorw("Cache invalidation partially failed",
			logger.FieldPrefix, prefix,
			logger.FieldCount, result.Deleted,
			"failed", len(result.FailedKeys),
			"failed_keys", result.FailedKeys,
		)
		return result, errors.Mark(
			errors.Wrapf(errors.Join(failures...), "failed to delete %d of %d keys under %q",
				len(result.FailedKeys), result.Matched, prefix),
			errors.ErrPartialInvalidation,
		)
	}

	ci.log.Infow("Cache invalidated", logger.FieldPrefix, prefix, logger.FieldCount, result.Deleted)
	return result, nil
}

// globEscape escapes Redis glob metacharacters so prefix matches literally.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
