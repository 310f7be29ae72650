// Package store persists book snapshot records in pebble so a restart can
// resume from the newest image instead of replaying the whole journal.
package store

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"lobcore/infra/codec"
	"lobcore/snapshot"
)

var ErrNotFound = snapshot.ErrNotFound

// -------------------- Store --------------------

type SnapshotStore struct {
	db  *pebble.DB
	log *zap.SugaredLogger
}

var _ snapshot.Store = (*SnapshotStore)(nil)

func Open(dir string, logger *zap.Logger) (*SnapshotStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open snapshot store %s", dir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{db: db, log: logger.Named("store").Sugar()}, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// -------------------- API --------------------

// Put writes rec durably under its symbol and log position.
func (s *SnapshotStore) Put(rec *snapshot.Record) error {
	if rec == nil || rec.Symbol == "" {
		return errors.New("store: record without symbol")
	}
	if err := s.db.Set(keyFor(rec), codec.EncodeRecord(rec), pebble.Sync); err != nil {
		return errors.Wrapf(err, "put %s@%d", rec.Symbol, rec.LogSeq)
	}
	s.log.Debugw("snapshot stored", "symbol", rec.Symbol, "seq", rec.Sequence, "log_seq", rec.LogSeq)
	return nil
}

// Latest returns the record of symbol written at the highest log position.
// Records of one log position are ordered by feed sequence.
func (s *SnapshotStore) Latest(symbol string) (*snapshot.Record, error) {
	iter, err := s.db.NewIter(bounds(symbol))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for valid := iter.Last(); valid; valid = iter.Prev() {
		if owns(symbol, iter.Key()) {
			return codec.DecodeRecord(iter.Value())
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return nil, errors.Wrap(ErrNotFound, symbol)
}

// Symbols lists every symbol with a stored record, sorted.
func (s *SnapshotStore) Symbols() ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyLimit),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	seen := make(map[string]struct{})
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		sym, ok := splitKey(iter.Key())
		if !ok {
			continue
		}
		if _, dup := seen[sym]; !dup {
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Prune keeps the newest keep records for symbol and deletes the rest.
func (s *SnapshotStore) Prune(symbol string, keep int) (int, error) {
	keys, err := s.keys(symbol)
	if err != nil {
		return 0, err
	}
	if len(keys) <= keep {
		return 0, nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	drop := keys[:len(keys)-keep]
	for _, k := range drop {
		if err := batch.Delete(k, nil); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, errors.Wrapf(err, "prune %s", symbol)
	}
	return len(drop), nil
}

// keys lists the record keys of symbol, oldest first.
func (s *SnapshotStore) keys(symbol string) ([][]byte, error) {
	iter, err := s.db.NewIter(bounds(symbol))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		if owns(symbol, iter.Key()) {
			out = append(out, append([]byte(nil), iter.Key()...))
		}
	}
	return out, iter.Error()
}

// -------------------- Keys --------------------

// snap/<symbol>/<log seq:20>/<feed seq:20>
const (
	keyPrefix = "snap/"
	keyLimit  = "snap0"
	suffixLen = 20 + 1 + 20
)

func prefix(symbol string) string {
	return keyPrefix + symbol + "/"
}

func keyFor(rec *snapshot.Record) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d", prefix(rec.Symbol), rec.LogSeq, rec.Sequence))
}

func bounds(symbol string) *pebble.IterOptions {
	p := prefix(symbol)
	return &pebble.IterOptions{
		LowerBound: []byte(p),
		UpperBound: []byte(p + "~"),
	}
}

// splitKey returns the symbol of a record key. A symbol may itself contain
// '/', so the fixed-width suffix is split off from the right.
func splitKey(k []byte) (string, bool) {
	if len(k) < len(keyPrefix)+2+suffixLen || !bytes.HasPrefix(k, []byte(keyPrefix)) {
		return "", false
	}
	sep := len(k) - suffixLen - 1
	if k[sep] != '/' || k[sep+21] != '/' {
		return "", false
	}
	return string(k[len(keyPrefix):sep]), true
}

func owns(symbol string, k []byte) bool {
	sym, ok := splitKey(k)
	return ok && sym == symbol
}
