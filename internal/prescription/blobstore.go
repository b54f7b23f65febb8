package prescription

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/carebook/clinic-ledger/pkg/types"
)

// BlobStore holds prescription attachments outside the ledger tree. The
// ledger record keeps only the opaque reference returned by Upload.
type BlobStore interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
	Resolve(ctx context.Context, ref string) (string, error)
}

// FileBlobStore stores attachment blobs on the local filesystem
type FileBlobStore struct {
	root string
}

// NewFileBlobStore creates a blob store rooted at dir
func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, types.NewUpstreamError("failed to create blob directory "+dir, err)
	}
	return &FileBlobStore{root: dir}, nil
}

// Upload writes the blob under a reference derived from the caller's path
// and returns it. Callers pass slash-joined logical paths; the reference
// flattens them so one directory holds all blobs.
func (f *FileBlobStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	select {
	case <-ctx.Done():
		return "", types.NewUpstreamError("blob upload aborted", ctx.Err())
	default:
	}

	ref := refFromName(name)
	if err := os.WriteFile(filepath.Join(f.root, ref), data, 0o640); err != nil {
		return "", types.NewUpstreamError("failed to store attachment blob", err)
	}
	return ref, nil
}

// Resolve maps a stored reference back to a local path
func (f *FileBlobStore) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" || strings.Contains(ref, "/") || strings.Contains(ref, "..") {
		return "", types.NewValidationError(types.ErrCodeInvalidInput, fmt.Sprintf("malformed attachment reference %q", ref), nil)
	}
	path := filepath.Join(f.root, ref)
	if _, err := os.Stat(path); err != nil {
		return "", types.NewNotFoundError("no attachment stored under " + ref)
	}
	return path, nil
}

// refFromName flattens a slash-joined logical path into a single opaque
// reference; an empty or unusable name falls back to a random one
func refFromName(name string) string {
	ref := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(strings.Trim(name, "/"))
	if ref == "" || ref == "." {
		return uuid.New().String()
	}
	return ref
}

// MemoryBlobStore keeps blobs in memory, for tests and ephemeral deployments
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty in-memory blob store
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Upload stores the blob and returns its reference
func (m *MemoryBlobStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	ref := refFromName(name)

	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[ref] = buf
	return ref, nil
}

// Resolve reports whether the reference exists
func (m *MemoryBlobStore) Resolve(ctx context.Context, ref string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.blobs[ref]; !ok {
		return "", types.NewNotFoundError("no attachment stored under " + ref)
	}
	return ref, nil
}
