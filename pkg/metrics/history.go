package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/forgeloop/forgeloop/pkg/types"
)

// FileHistory persists the most recent metrics record per build kind as a
// JSON file under the project's state directory. It backs the historical
// lookup used for build-over-build deltas.
type FileHistory struct {
	path string
	mu   sync.Mutex
}

// NewFileHistory creates a history store rooted at projectRoot.
func NewFileHistory(projectRoot string) *FileHistory {
	return &FileHistory{
		path: filepath.Join(projectRoot, ".forgeloop", "metrics.json"),
	}
}

// Lookup returns the stored record for a build kind. It satisfies
// interfaces.HistoricalLookup.
func (h *FileHistory) Lookup(buildKind string) (*types.MetricsRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	records, err := h.read()
	if err != nil {
		return nil, false
	}
	record, ok := records[buildKind]
	return record, ok
}

// Save stores a record, replacing any previous record of the same kind.
// Records without a build kind are not persisted.
func (h *FileHistory) Save(record *types.MetricsRecord) error {
	if record == nil || record.BuildKind == "" {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	records, err := h.read()
	if err != nil {
		records = make(map[string]*types.MetricsRecord)
	}
	records[record.BuildKind] = record

	if err := os.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metrics history: %w", err)
	}
	return os.WriteFile(h.path, data, 0644)
}

// All returns every stored record keyed by build kind.
func (h *FileHistory) All() (map[string]*types.MetricsRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.read()
}

func (h *FileHistory) read() (map[string]*types.MetricsRecord, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*types.MetricsRecord), nil
		}
		return nil, err
	}
	records := make(map[string]*types.MetricsRecord)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse metrics history: %w", err)
	}
	return records, nil
}
