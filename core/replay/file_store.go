package replay

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"github.com/unicitynetwork/sol-bridge-go/core/util"
)

// FileStore keeps the snapshot in one JSON file, replaced atomically.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store at path. The file is created on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot file, or returns an empty snapshot when it does
// not exist yet.
func (s *FileStore) Load(context.Context) (*types.ProcessedSnapshot, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &types.ProcessedSnapshot{}, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var snap types.ProcessedSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, errors.Wrapf(err, "decode %s", s.path)
	}
	return &snap, nil
}

// Save merges snapshot with what is on disk so a stale writer cannot shrink
// the set, then replaces the file through a temporary file and rename.
//
// Parameters:
//   - ctx: Context passed to the Load of the current file
//   - snapshot: Processed signatures and checked height to persist
//
// Returns:
//   - Error if the current file is unreadable or the write fails
//
// Example:
//
//	store := replay.NewFileStore("state/processed.json")
//	err := store.Save(ctx, guard.Snapshot())
func (s *FileStore) Save(ctx context.Context, snapshot *types.ProcessedSnapshot) error {
	current, err := s.Load(ctx)
	if err != nil {
		return err
	}
	merged := merge(current, snapshot)
	raw, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	return util.WriteFileAtomic(s.path, raw, 0o600)
}

func (s *FileStore) Close() error {
	return nil
}

func merge(a, b *types.ProcessedSnapshot) *types.ProcessedSnapshot {
	seen := make(map[string]struct{}, len(a.ProcessedTransactions)+len(b.ProcessedTransactions))
	out := &types.ProcessedSnapshot{
		LastCheckedHeight: max(a.LastCheckedHeight, b.LastCheckedHeight),
		SavedAt:           b.SavedAt,
	}
	for _, list := range [][]string{a.ProcessedTransactions, b.ProcessedTransactions} {
		for _, sig := range list {
			if _, ok := seen[sig]; ok {
				continue
			}
			seen[sig] = struct{}{}
			out.ProcessedTransactions = append(out.ProcessedTransactions, sig)
		}
	}
	return out
}
