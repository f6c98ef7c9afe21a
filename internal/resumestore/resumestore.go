// Package resumestore persists enough per-torrent state to skip
// re-verifying every piece on the next run: the have-bitfield and the
// last announce time, keyed by info hash in a bbolt bucket. Grounded
// on the teacher's own go.mod pull of go.etcd.io/bbolt, which none of
// the retrieved teacher files actually wire up — SPEC_FULL's embedder
// persistence section closes that gap the way internal/portmap closes
// the unwired go-upnp gap.
package resumestore

import (
	"encoding/binary"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Elegant996/bitsyd/bitfield"
	"github.com/Elegant996/bitsyd/engineerr"
)

var resumeBucket = []byte("resume")

// Store is a bbolt-backed table of per-torrent resume records.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and
// ensures the resume bucket exists.
func Open(path string) (*Store, error) {
	const op engineerr.Op = "resumestore.Open"

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, engineerr.Wrap(err, op, engineerr.IO)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(resumeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, engineerr.Wrap(err, op, engineerr.IO)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record is the per-torrent state the store persists.
type Record struct {
	Have         bitfield.Bitfield
	LastAnnounce time.Time
}

// Save writes rec for infoHash, overwriting any existing record.
func (s *Store) Save(infoHash [20]byte, rec Record) error {
	const op engineerr.Op = "resumestore.Save"

	return engineerr.Wrap(s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(resumeBucket)
		return b.Put(infoHash[:], encode(rec))
	}), op, engineerr.IO)
}

// Load returns the record for infoHash, if one was saved.
func (s *Store) Load(infoHash [20]byte) (Record, bool, error) {
	const op engineerr.Op = "resumestore.Load"

	var rec Record
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(resumeBucket)
		raw := b.Get(infoHash[:])
		if raw == nil {
			return nil
		}
		found = true
		rec = decode(raw)
		return nil
	})
	if err != nil {
		return Record{}, false, engineerr.Wrap(err, op, engineerr.IO)
	}
	return rec, found, nil
}

// Delete removes infoHash's record, if any.
func (s *Store) Delete(infoHash [20]byte) error {
	const op engineerr.Op = "resumestore.Delete"

	return engineerr.Wrap(s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(resumeBucket)
		return b.Delete(infoHash[:])
	}), op, engineerr.IO)
}

// encode lays out a Record as: 8-byte unix-nano LastAnnounce,
// 4-byte bitfield length, then the raw bitfield bytes.
func encode(rec Record) []byte {
	have := rec.Have.Bytes()
	buf := make([]byte, 8+4+len(have))
	binary.BigEndian.PutUint64(buf[0:8], uint64(rec.LastAnnounce.UnixNano()))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(have)))
	copy(buf[12:], have)
	return buf
}

func decode(raw []byte) Record {
	if len(raw) < 12 {
		return Record{}
	}
	nanos := int64(binary.BigEndian.Uint64(raw[0:8]))
	n := binary.BigEndian.Uint32(raw[8:12])
	have := make([]byte, n)
	copy(have, raw[12:12+int(n)])
	return Record{
		Have:         bitfield.Bitfield(have),
		LastAnnounce: time.Unix(0, nanos),
	}
}
