package replay

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
)

var (
	txPrefix     = []byte("tx/")
	txUpperBound = []byte("tx0") // '0' follows '/'
	heightKey    = []byte("meta/height")
	savedAtKey   = []byte("meta/saved_at")
)

// PebbleStore keeps one key per processed signature.
type PebbleStore struct {
	db *pebble.DB
}

var _ Store = (*PebbleStore)(nil)

// OpenPebbleStore opens the database at dir, creating it if needed.
//
// Parameters:
//   - dir: Database directory
//   - opts: Pebble options; nil uses the defaults
//
// Returns:
//   - Open PebbleStore; the caller must Close it
//   - Error if the database cannot be opened, e.g. it is locked by another process
//
// Example:
//
//	store, err := replay.OpenPebbleStore("state/replay", nil)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func OpenPebbleStore(dir string, opts *pebble.Options) (*PebbleStore, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", dir)
	}
	return &PebbleStore{db: db}, nil
}

// Load scans the signature keys and reads the stored height and save time.
func (s *PebbleStore) Load(context.Context) (*types.ProcessedSnapshot, error) {
	snap := &types.ProcessedSnapshot{}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: txPrefix, UpperBound: txUpperBound})
	if err != nil {
		return nil, errors.Wrap(err, "load")
	}
	for iter.First(); iter.Valid(); iter.Next() {
		snap.ProcessedTransactions = append(snap.ProcessedTransactions, string(iter.Key()[len(txPrefix):]))
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "load")
	}

	if snap.LastCheckedHeight, err = s.getUint64(heightKey); err != nil {
		return nil, err
	}
	savedAt, err := s.getUint64(savedAtKey)
	if err != nil {
		return nil, err
	}
	if savedAt != 0 {
		snap.SavedAt = time.UnixMilli(int64(savedAt)).UTC()
	}
	return snap, nil
}

func (s *PebbleStore) getUint64(key []byte) (uint64, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "get %s", key)
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, errors.Errorf("corrupt value at %s", key)
	}
	return binary.BigEndian.Uint64(v), nil
}

// Save writes every signature key and the save time in one synced batch.
// The height key is only written when snapshot's height is above it.
//
// Returns:
//   - Error if the stored height is unreadable or the batch fails to commit
func (s *PebbleStore) Save(_ context.Context, snapshot *types.ProcessedSnapshot) error {
	stored, err := s.getUint64(heightKey)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	for _, sig := range snapshot.ProcessedTransactions {
		if err := b.Set(append(append([]byte{}, txPrefix...), sig...), nil, nil); err != nil {
			return errors.Wrap(err, "save")
		}
	}
	if snapshot.LastCheckedHeight > stored {
		if err := b.Set(heightKey, binary.BigEndian.AppendUint64(nil, snapshot.LastCheckedHeight), nil); err != nil {
			return errors.Wrap(err, "save")
		}
	}
	if err := b.Set(savedAtKey, binary.BigEndian.AppendUint64(nil, uint64(snapshot.SavedAt.UnixMilli())), nil); err != nil {
		return errors.Wrap(err, "save")
	}
	return errors.Wrap(b.Commit(pebble.Sync), "save")
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
