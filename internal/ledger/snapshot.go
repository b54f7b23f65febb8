package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/carebook/clinic-ledger/pkg/types"
)

// SaveSnapshot serializes the whole tree to a JSON file. The write goes
// through a temp file and rename so a crash mid-save never truncates the
// previous snapshot.
func (s *Store) SaveSnapshot(path string) error {
	s.mu.RLock()
	raw, err := json.MarshalIndent(s.root, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return types.NewInternalError("failed to serialize ledger snapshot", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return types.NewInternalError("failed to create snapshot directory", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return types.NewInternalError("failed to write ledger snapshot", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return types.NewInternalError("failed to commit ledger snapshot", err)
	}

	s.logger.WithField("path", path).Info("Ledger snapshot saved")
	return nil
}

// LoadSnapshot replaces the tree with the contents of a snapshot file.
// A missing file is not an error; the store simply starts empty.
func (s *Store) LoadSnapshot(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return types.NewInternalError("failed to read ledger snapshot", err)
	}

	var root map[string]interface{}
	if err := json.Unmarshal(raw, &root); err != nil {
		return types.NewSchemaError("ledger snapshot is not valid JSON", err)
	}
	if root == nil {
		root = make(map[string]interface{})
	}

	s.mu.Lock()
	s.root = root
	s.mu.Unlock()

	s.logger.WithField("path", path).Info("Ledger snapshot loaded")
	return nil
}
