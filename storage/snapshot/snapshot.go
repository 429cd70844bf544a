// Package snapshot persists pool views in pebble as a base snapshot followed by
// a chain of diffs. Loading replays the diffs on top of the base.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/defistate/defistate-clamm-go/protocols/clamm"
)

var (
	ErrDBClosed   = errors.New("snapshot store is closed")
	ErrNoSnapshot = errors.New("no snapshot stored")
)

var (
	baseKey    = []byte("base")
	diffPrefix = []byte("diff/")
	diffEnd    = []byte("diff0") // '0' sorts right after '/'
)

// DefaultCompactEvery is how many diffs Record writes before folding them into a new base.
const DefaultCompactEvery = 64

type base struct {
	Sequence uint64           `json:"sequence"`
	Pools    []clamm.PoolView `json:"pools"`
}

func diffKey(seq uint64) []byte {
	k := make([]byte, len(diffPrefix)+8)
	copy(k, diffPrefix)
	binary.BigEndian.PutUint64(k[len(diffPrefix):], seq)
	return k
}

// Store keeps snapshots of the pool set. Sequences here number snapshots, not pool mutations.
type Store struct {
	db           *pebble.DB
	compactEvery int

	mu        sync.Mutex
	last      []clamm.PoolView
	lastSeq   uint64
	sinceBase int
	loaded    bool
}

// Open opens or creates a store at dir. opts may be nil; tests pass an in-memory FS.
func Open(dir string, opts *pebble.Options, compactEvery int) (*Store, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	if compactEvery <= 0 {
		compactEvery = DefaultCompactEvery
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &Store{db: db, compactEvery: compactEvery}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SaveBase writes a full snapshot at seq and drops every diff up to it.
func (s *Store) SaveBase(seq uint64, pools []clamm.PoolView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveBase(seq, pools)
}

func (s *Store) saveBase(seq uint64, pools []clamm.PoolView) error {
	if s.db == nil {
		return ErrDBClosed
	}
	raw, err := json.Marshal(base{Sequence: seq, Pools: pools})
	if err != nil {
		return fmt.Errorf("marshal base: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(baseKey, raw, nil); err != nil {
		return err
	}
	if err := batch.DeleteRange(diffPrefix, diffKey(seq+1), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit base %d: %w", seq, err)
	}
	s.sinceBase = 0
	return nil
}

// SaveDiff writes the diff that produces snapshot seq from snapshot seq-1.
func (s *Store) SaveDiff(seq uint64, diff clamm.SystemDiff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveDiff(seq, diff)
}

func (s *Store) saveDiff(seq uint64, diff clamm.SystemDiff) error {
	if s.db == nil {
		return ErrDBClosed
	}
	raw, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("marshal diff: %w", err)
	}
	if err := s.db.Set(diffKey(seq), raw, pebble.Sync); err != nil {
		return fmt.Errorf("write diff %d: %w", seq, err)
	}
	s.sinceBase++
	return nil
}

// Load returns the latest snapshot and its sequence. Diffs must be contiguous after the base.
func (s *Store) Load() (uint64, []clamm.PoolView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (uint64, []clamm.PoolView, error) {
	if s.db == nil {
		return 0, nil, ErrDBClosed
	}
	val, closer, err := s.db.Get(baseKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil, ErrNoSnapshot
		}
		return 0, nil, err
	}
	var b base
	err = json.Unmarshal(val, &b)
	closer.Close()
	if err != nil {
		return 0, nil, fmt.Errorf("decode base: %w", err)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: diffKey(b.Sequence + 1), UpperBound: diffEnd})
	if err != nil {
		return 0, nil, err
	}
	defer iter.Close()

	seq, state := b.Sequence, b.Pools
	for iter.First(); iter.Valid(); iter.Next() {
		got := binary.BigEndian.Uint64(iter.Key()[len(diffPrefix):])
		if got != seq+1 {
			return 0, nil, fmt.Errorf("diff chain broken: want %d, found %d", seq+1, got)
		}
		var diff clamm.SystemDiff
		if err := json.Unmarshal(iter.Value(), &diff); err != nil {
			return 0, nil, fmt.Errorf("decode diff %d: %w", got, err)
		}
		if state, err = clamm.Patcher(state, diff); err != nil {
			return 0, nil, fmt.Errorf("apply diff %d: %w", got, err)
		}
		seq = got
	}
	if err := iter.Error(); err != nil {
		return 0, nil, err
	}
	return seq, state, nil
}

// Record stores the current pool views as the next snapshot. The first call on an
// empty store writes a base; later calls write only the diff, and an unchanged
// pool set writes nothing. Every compactEvery diffs the chain is folded into a new base.
func (s *Store) Record(pools []clamm.PoolView) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		seq, state, err := s.load()
		switch {
		case errors.Is(err, ErrNoSnapshot):
			if err := s.saveBase(0, pools); err != nil {
				return 0, err
			}
			s.last, s.lastSeq, s.loaded = copyViews(pools), 0, true
			return 0, nil
		case err != nil:
			return 0, err
		}
		s.last, s.lastSeq, s.loaded = state, seq, true
	}

	diff := clamm.Differ(s.last, pools)
	if diff.IsEmpty() {
		return s.lastSeq, nil
	}
	seq := s.lastSeq + 1
	if s.sinceBase+1 >= s.compactEvery {
		if err := s.saveBase(seq, pools); err != nil {
			return 0, err
		}
	} else if err := s.saveDiff(seq, diff); err != nil {
		return 0, err
	}
	s.last, s.lastSeq = copyViews(pools), seq
	return seq, nil
}

func copyViews(pools []clamm.PoolView) []clamm.PoolView {
	out := make([]clamm.PoolView, len(pools))
	for i, p := range pools {
		out[i] = clamm.CopyPoolView(p)
	}
	return out
}
