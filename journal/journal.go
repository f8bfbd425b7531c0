// Package journal persists auction events in a Badger key-value store.
// Events are keyed by auction id and a per-auction sequence number, so a
// replay reads back in exactly the order the engine committed. Records
// hold handle tokens and principals only; no plaintext amount ever reaches
// disk.
package journal

import (
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/blindauction/auction"
)

// Store is a durable auction.Recorder.
type Store struct {
	db *badger.DB
}

var _ auction.Recorder = (*Store)(nil)

// Open opens or creates the journal at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a journal with no backing files, for tests and
// ephemeral runs.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory journal: %w", err)
	}
	return &Store{db: db}, nil
}

// Record assigns the event the next sequence number for its auction and
// persists it. The sequence counter lives in the same transaction as the
// event, so numbering survives restarts without gaps.
func (s *Store) Record(ev *auction.Event) error {
	if ev.AuctionID == "" {
		return fmt.Errorf("journal: event without auction id")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		next, err := nextSeq(txn, ev.AuctionID)
		if err != nil {
			return err
		}
		ev.Seq = next

		encoded, err := cbor.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		if err := txn.Set(eventKey(ev.AuctionID, next), encoded); err != nil {
			return fmt.Errorf("store event: %w", err)
		}

		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], next+1)
		if err := txn.Set(seqKey(ev.AuctionID), buf[:]); err != nil {
			return fmt.Errorf("store sequence counter: %w", err)
		}
		return nil
	})
}

// Events returns every event recorded for the auction, in sequence order.
// An unknown auction returns an empty slice.
func (s *Store) Events(auctionID string) ([]auction.Event, error) {
	var events []auction.Event

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := eventPrefix(auctionID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read event value: %w", err)
			}
			var ev auction.Event
			if err := cbor.Unmarshal(value, &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Close shuts the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nextSeq(txn *badger.Txn, auctionID string) (uint64, error) {
	item, err := txn.Get(seqKey(auctionID))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence counter: %w", err)
	}

	var next uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt sequence counter (%d bytes)", len(val))
		}
		next = binary.BigEndian.Uint64(val)
		return nil
	})
	return next, err
}

// eventKey is "ev/<auction>/<seq>" with a big-endian sequence, so Badger's
// lexicographic iteration walks events in commit order.
func eventKey(auctionID string, seq uint64) []byte {
	key := eventPrefix(auctionID)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

func eventPrefix(auctionID string) []byte {
	key := make([]byte, 0, 3+len(auctionID)+1+8)
	key = append(key, "ev/"...)
	key = append(key, auctionID...)
	return append(key, '/')
}

func seqKey(auctionID string) []byte {
	key := make([]byte, 0, 4+len(auctionID))
	key = append(key, "seq/"...)
	return append(key, auctionID...)
}
