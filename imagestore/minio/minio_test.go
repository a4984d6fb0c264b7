package minio

import (
	"testing"

	"github.com/hupe1980/blockfs/imagestore"
)

// The store talks to a live MinIO endpoint; behavior is covered by the
// shared contract in the imagestore package against the other backends.
// Here we pin the interface.
func TestStoreSatisfiesInterface(t *testing.T) {
	var _ imagestore.Store = (*Store)(nil)
	var _ imagestore.Blob = (*minioBlob)(nil)
}
