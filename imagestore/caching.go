package imagestore

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
)

// CachingStore wraps a remote Store with a local one: reads are served
// from the local copy when present, fetched and filled through otherwise.
// Writes and deletes go to both sides. Images are immutable once written,
// so a cached copy never goes stale except through Put or Delete, which
// update both sides.
type CachingStore struct {
	remote Store
	local  Store

	// PrefetchConcurrency caps the parallel fetches of Prefetch.
	PrefetchConcurrency int
}

// NewCachingStore wraps remote with the given local cache store.
func NewCachingStore(remote, local Store) *CachingStore {
	return &CachingStore{
		remote:              remote,
		local:               local,
		PrefetchConcurrency: 4,
	}
}

// Open serves from the local cache, filling it from remote on a miss.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if blob, err := s.local.Open(ctx, name); err == nil {
		return blob, nil
	}
	if err := s.fill(ctx, name); err != nil {
		return nil, err
	}
	return s.local.Open(ctx, name)
}

// Put writes through to both stores.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.remote.Put(ctx, name, data); err != nil {
		return err
	}
	return s.local.Put(ctx, name, data)
}

// Delete removes the image from both stores.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	if err := s.remote.Delete(ctx, name); err != nil {
		return err
	}
	return s.local.Delete(ctx, name)
}

// List lists the remote store; the cache may hold a subset.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.remote.List(ctx, prefix)
}

// Prefetch warms the local cache with the named images, fetching
// concurrently.
func (s *CachingStore) Prefetch(ctx context.Context, names ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.PrefetchConcurrency)

	for _, name := range names {
		g.Go(func() error {
			if _, err := s.local.Open(ctx, name); err == nil {
				return nil // already cached
			}
			return s.fill(ctx, name)
		})
	}
	return g.Wait()
}

// fill copies one image from remote into the local cache.
func (s *CachingStore) fill(ctx context.Context, name string) error {
	blob, err := s.remote.Open(ctx, name)
	if err != nil {
		return err
	}
	defer func() { _ = blob.Close() }()

	data := make([]byte, blob.Size())
	if _, err := blob.ReadAt(ctx, data, 0); err != nil && err != io.EOF {
		return err
	}
	return s.local.Put(ctx, name, data)
}

var _ Store = (*CachingStore)(nil)
