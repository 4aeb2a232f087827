// internal/state/catalog.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/kasuwabot/internal/types"
)

// CatalogStore is a JSON-file-backed catalog and onboarding store. The
// files are owned by management tooling (catalog import); the bot only
// reads them, so writes happen rarely and use temp-file-plus-rename.
type CatalogStore struct {
	root string
	mu   sync.RWMutex
}

// NewCatalogStore creates a CatalogStore rooted at the given directory.
func NewCatalogStore(root string) *CatalogStore {
	return &CatalogStore{root: root}
}

func (s *CatalogStore) catalogPath() string {
	return filepath.Join(s.root, "catalog.json")
}

func (s *CatalogStore) onboardingPath() string {
	return filepath.Join(s.root, "onboarding.json")
}

// ListCatalog returns all catalog entries. A missing file is an empty
// catalog, not an error.
func (s *CatalogStore) ListCatalog(ctx context.Context) ([]*types.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*types.CatalogEntry
	if err := readJSONFile(s.catalogPath(), &entries); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return entries, nil
}

// OnboardingSequence returns the ordered welcome steps. A missing file is
// an empty sequence, not an error.
func (s *CatalogStore) OnboardingSequence(ctx context.Context) ([]*types.OnboardingStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var steps []*types.OnboardingStep
	if err := readJSONFile(s.onboardingPath(), &steps); err != nil {
		return nil, fmt.Errorf("read onboarding sequence: %w", err)
	}
	return steps, nil
}

// SaveCatalog replaces the catalog file atomically.
func (s *CatalogStore) SaveCatalog(ctx context.Context, entries []*types.CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONFile(s.catalogPath(), entries)
}

// SaveOnboardingSequence replaces the onboarding file atomically.
func (s *CatalogStore) SaveOnboardingSequence(ctx context.Context, steps []*types.OnboardingStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONFile(s.onboardingPath(), steps)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSONFile marshals with indentation and writes atomically via a temp
// file and rename.
func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
