// Package metastore keeps the small mutable state that sits beside the
// immutable segment files: which snippet ids and content keys are live, the
// dedup fingerprints, tombstones, and the documents of the active segment that
// have been committed but not yet sealed. Every ingest is one bbolt
// transaction, so a snippet is either fully recorded or not at all.
package metastore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/dedup"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

const FileName = "meta.db"

const (
	bucketIDs          = "ids"
	bucketContent      = "content"
	bucketKeys         = "keys"
	bucketFingerprints = "fingerprints"
	bucketTombstones   = "tombstones"
	bucketPending      = "pending"
	bucketMeta         = "meta"
)

var keyNextDocID = []byte("next_doc_id")

// docKeys remembers the registry keys of a live document so a tombstone can
// remove them without the document body.
type docKeys struct {
	SnippetID  string `json:"id"`
	ContentKey string `json:"content"`
}

type Store struct {
	path string
	db   *bbolt.DB
}

// Open opens (or creates) dir/meta.db. noSync trades durability for speed
// and is only meant for tests and bulk loads.
func Open(dir string, noSync bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Fault("create metastore directory", dir, err)
	}
	path := filepath.Join(dir, FileName)
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second, NoSync: noSync})
	if err != nil {
		return nil, apperrors.Fault("open metastore", path, err)
	}
	s := &Store{path: path, db: db}
	if err := s.ensureBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBuckets() error {
	return s.update("init metastore", func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketIDs, bucketContent, bucketKeys, bucketFingerprints, bucketTombstones, bucketPending, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) update(op string, fn func(tx *bbolt.Tx) error) error {
	if err := s.db.Update(fn); err != nil {
		if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
			return apperrors.ErrClosed
		}
		return apperrors.Fault(op, s.path, err)
	}
	return nil
}

func (s *Store) view(fn func(tx *bbolt.Tx) error) error {
	if err := s.db.View(fn); err != nil {
		if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
			return apperrors.ErrClosed
		}
		return fmt.Errorf("reading metastore: %w", err)
	}
	return nil
}

// Commit is everything one accepted snippet changes.
type Commit struct {
	Doc         *index.Document
	Segment     uint64
	ContentKey  string
	Fingerprint *dedup.Entry
	// Supersede, when non-zero, is tombstoned in the same transaction.
	Supersede uint64
}

// Lookup returns the live document registered under the snippet id or the
// content key.
func (s *Store) Lookup(snippetID, contentKey string) (uint64, bool, error) {
	var (
		docID uint64
		found bool
	)
	err := s.view(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(bucketIDs)).Get([]byte(snippetID)); v != nil {
			docID, found = decodeKey(v), true
			return nil
		}
		if contentKey == "" {
			return nil
		}
		if v := tx.Bucket([]byte(bucketContent)).Get([]byte(contentKey)); v != nil {
			docID, found = decodeKey(v), true
		}
		return nil
	})
	return docID, found, err
}

// DocID resolves a snippet id to its live document.
func (s *Store) DocID(snippetID string) (uint64, error) {
	docID, ok, err := s.Lookup(snippetID, "")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("snippet %q: %w", snippetID, apperrors.ErrNotFound)
	}
	return docID, nil
}

// Commit records an accepted snippet and bumps the next doc id past it.
func (s *Store) Commit(c Commit) error {
	if c.Doc == nil || c.Doc.DocID == 0 {
		return fmt.Errorf("commit: %w: missing document", apperrors.ErrInvalidInput)
	}
	return s.update("commit snippet", func(tx *bbolt.Tx) error {
		key := encodeKey(c.Doc.DocID)
		if c.Supersede != 0 {
			if err := tombstone(tx, c.Supersede); err != nil {
				return err
			}
		}
		if err := tx.Bucket([]byte(bucketIDs)).Put([]byte(c.Doc.ID), key); err != nil {
			return err
		}
		if c.ContentKey != "" {
			if err := tx.Bucket([]byte(bucketContent)).Put([]byte(c.ContentKey), key); err != nil {
				return err
			}
		}
		if err := putJSON(tx.Bucket([]byte(bucketKeys)), key, docKeys{SnippetID: c.Doc.ID, ContentKey: c.ContentKey}); err != nil {
			return err
		}
		if c.Fingerprint != nil && len(c.Fingerprint.Sig) > 0 {
			if err := putJSON(tx.Bucket([]byte(bucketFingerprints)), key, c.Fingerprint); err != nil {
				return err
			}
		}
		pending, err := tx.Bucket([]byte(bucketPending)).CreateBucketIfNotExists(encodeKey(c.Segment))
		if err != nil {
			return err
		}
		if err := putJSON(pending, key, c.Doc); err != nil {
			return err
		}
		return bumpNextDocID(tx, c.Doc.DocID+1)
	})
}

// Tombstone marks docID deleted and forgets its registry keys.
func (s *Store) Tombstone(docID uint64) error {
	return s.update("tombstone document", func(tx *bbolt.Tx) error {
		return tombstone(tx, docID)
	})
}

func tombstone(tx *bbolt.Tx, docID uint64) error {
	key := encodeKey(docID)
	keys := tx.Bucket([]byte(bucketKeys))
	if raw := keys.Get(key); raw != nil {
		var dk docKeys
		if err := json.Unmarshal(raw, &dk); err != nil {
			return fmt.Errorf("decoding keys of doc %d: %w", docID, err)
		}
		ids := tx.Bucket([]byte(bucketIDs))
		if v := ids.Get([]byte(dk.SnippetID)); v != nil && decodeKey(v) == docID {
			if err := ids.Delete([]byte(dk.SnippetID)); err != nil {
				return err
			}
		}
		if dk.ContentKey != "" {
			content := tx.Bucket([]byte(bucketContent))
			if v := content.Get([]byte(dk.ContentKey)); v != nil && decodeKey(v) == docID {
				if err := content.Delete([]byte(dk.ContentKey)); err != nil {
					return err
				}
			}
		}
		if err := keys.Delete(key); err != nil {
			return err
		}
	}
	if err := tx.Bucket([]byte(bucketFingerprints)).Delete(key); err != nil {
		return err
	}
	return tx.Bucket([]byte(bucketTombstones)).Put(key, []byte{})
}

// Tombstones lists every tombstoned doc id in ascending order.
func (s *Store) Tombstones() ([]uint64, error) {
	var out []uint64
	err := s.view(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketTombstones)).ForEach(func(k, _ []byte) error {
			out = append(out, decodeKey(k))
			return nil
		})
	})
	return out, err
}

// PurgeTombstones forgets tombstones of documents that compaction has
// physically removed.
func (s *Store) PurgeTombstones(docIDs []uint64) error {
	if len(docIDs) == 0 {
		return nil
	}
	return s.update("purge tombstones", func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTombstones))
		for _, id := range docIDs {
			if err := b.Delete(encodeKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Fingerprints calls fn for every stored dedup entry in doc id order.
func (s *Store) Fingerprints(fn func(dedup.Entry) error) error {
	return s.view(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketFingerprints)).ForEach(func(k, v []byte) error {
			var e dedup.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding fingerprint of doc %d: %w", decodeKey(k), err)
			}
			return fn(e)
		})
	})
}

// PendingSegments lists segment ids that still have unsealed documents.
func (s *Store) PendingSegments() ([]uint64, error) {
	var out []uint64
	err := s.view(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPending)).ForEach(func(k, v []byte) error {
			if v == nil {
				out = append(out, decodeKey(k))
			}
			return nil
		})
	})
	return out, err
}

// Pending returns the unsealed documents of a segment in doc id order.
func (s *Store) Pending(segID uint64) ([]*index.Document, error) {
	var docs []*index.Document
	err := s.view(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPending)).Bucket(encodeKey(segID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var d index.Document
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("decoding pending doc %d: %w", decodeKey(k), err)
			}
			docs = append(docs, &d)
			return nil
		})
	})
	return docs, err
}

// DropPending removes the pending buckets of segments that are now sealed.
func (s *Store) DropPending(segIDs ...uint64) error {
	if len(segIDs) == 0 {
		return nil
	}
	return s.update("drop pending documents", func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPending))
		for _, id := range segIDs {
			err := b.DeleteBucket(encodeKey(id))
			if err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
		}
		return nil
	})
}

// NextDocID returns the smallest doc id never handed out.
func (s *Store) NextDocID() (uint64, error) {
	next := uint64(1)
	err := s.view(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(bucketMeta)).Get(keyNextDocID); v != nil {
			next = decodeKey(v)
		}
		return nil
	})
	return next, err
}

// ReserveDocIDs raises the next doc id to at least next. Recovery uses it
// when sealed segments are ahead of the store.
func (s *Store) ReserveDocIDs(next uint64) error {
	return s.update("reserve doc ids", func(tx *bbolt.Tx) error {
		return bumpNextDocID(tx, next)
	})
}

func bumpNextDocID(tx *bbolt.Tx, next uint64) error {
	b := tx.Bucket([]byte(bucketMeta))
	if v := b.Get(keyNextDocID); v != nil && decodeKey(v) >= next {
		return nil
	}
	return b.Put(keyNextDocID, encodeKey(next))
}

// Counts reports bucket sizes for stats output.
type Counts struct {
	Live         int `json:"live"`
	Tombstones   int `json:"tombstones"`
	Fingerprints int `json:"fingerprints"`
	Pending      int `json:"pending"`
}

func (s *Store) Counts() (Counts, error) {
	var c Counts
	err := s.view(func(tx *bbolt.Tx) error {
		c.Live = tx.Bucket([]byte(bucketKeys)).Stats().KeyN
		c.Tombstones = tx.Bucket([]byte(bucketTombstones)).Stats().KeyN
		c.Fingerprints = tx.Bucket([]byte(bucketFingerprints)).Stats().KeyN
		return tx.Bucket([]byte(bucketPending)).ForEach(func(k, v []byte) error {
			if v == nil {
				if b := tx.Bucket([]byte(bucketPending)).Bucket(k); b != nil {
					c.Pending += b.Stats().KeyN
				}
			}
			return nil
		})
	})
	return c, err
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// Keys are big-endian so bbolt's byte order is numeric order.
func encodeKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func decodeKey(b []byte) uint64 {
	if len(b) != 8 {
		panic("metastore: malformed key of length " + strconv.Itoa(len(b)))
	}
	return binary.BigEndian.Uint64(b)
}
