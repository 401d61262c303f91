package publish

import (
	"context"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/storage"
)

// BackupStore keeps page snapshots taken before an update. *storage.DB
// implements it.
type BackupStore interface {
	SaveBackup(ctx context.Context, b storage.PageBackup) (int64, error)
	LatestBackup(ctx context.Context, pageID string) (storage.PageBackup, bool, error)
}

// MemoryBackupStore is an in-process BackupStore.
type MemoryBackupStore struct {
	mu      sync.Mutex
	backups []storage.PageBackup
}

// NewMemoryBackupStore creates an empty store.
func NewMemoryBackupStore() *MemoryBackupStore {
	return &MemoryBackupStore{}
}

func (m *MemoryBackupStore) SaveBackup(_ context.Context, b storage.PageBackup) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = int64(len(m.backups) + 1)
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.backups = append(m.backups, b)
	return b.ID, nil
}

func (m *MemoryBackupStore) LatestBackup(_ context.Context, pageID string) (storage.PageBackup, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		latest storage.PageBackup
		found  bool
	)
	for _, b := range m.backups {
		if b.PageID != pageID {
			continue
		}
		if !found || b.Version > latest.Version || (b.Version == latest.Version && b.ID > latest.ID) {
			latest, found = b, true
		}
	}
	return latest, found, nil
}

// Len returns the number of stored backups.
func (m *MemoryBackupStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backups)
}

// summarize diffs the backed-up body against the new one.
func summarize(before, after string, fromVersion, toVersion int) *ChangeSummary {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	s := &ChangeSummary{FromVersion: fromVersion, ToVersion: toVersion}
	for _, d := range diffs {
		n := len([]rune(d.Text))
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			s.InsertedChars += n
			s.ChangedSegments++
		case diffmatchpatch.DiffDelete:
			s.DeletedChars += n
			s.ChangedSegments++
		case diffmatchpatch.DiffEqual:
			s.UnchangedChars += n
		}
	}
	return s
}
