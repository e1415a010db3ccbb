package perst

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/andyglick/perst/classes"
	"github.com/andyglick/perst/indexes"
	"github.com/andyglick/perst/keys"
	"github.com/andyglick/perst/perst_errors"
	"github.com/andyglick/perst/utils"
)

type Options struct {
	Logger            utils.Logger
	SyncWrites        bool
	PreparedCacheSize int
}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.PreparedCacheSize == 0 {
		o.PreparedCacheSize = 128
	}
}

// Storage is the object store: a Pebble instance holding object rows,
// class extents, index entries and the allocation counters. Every
// persisted object gets a stable ref; a batch is the commit boundary.
//
// Key space, first byte is the kind:
//
//	'O' ∥ ref(8)          -> class id (object header)
//	'O' ∥ ref(8) ∥ fld(4) -> field value, keys codec
//	'R' ∥ cid(4) ∥ ref(8) -> empty (class extent, the live record set)
//	'I' ∥ idx(4) ∥ ...    -> index entries (package indexes)
//	'C' ∥ class name      -> cid
//	'X' ∥ cid(4) ∥ fld(4) -> idx (managed index ids)
//	'D' ∥ idx(4)          -> index descriptor (key type, unique)
//	'S' ∥ counter name    -> allocation counters
type Storage struct {
	db      *pebble.DB
	dir     string
	wo      *pebble.WriteOptions
	logger  utils.Logger
	session string
	opts    Options

	seqlock sync.Mutex
	nextRef uint64
	nextIdx uint32
	nextCid uint32
}

func OKey(ref keys.Ref) []byte {
	return append([]byte{'O'}, ref.Bytes()...)
}

func FKey(ref keys.Ref, fld uint32) []byte {
	return binary.BigEndian.AppendUint32(OKey(ref), fld)
}

func RKey(cid uint32, ref keys.Ref) []byte {
	key := binary.BigEndian.AppendUint32([]byte{'R'}, cid)
	return append(key, ref.Bytes()...)
}

func RKeyRef(key []byte) keys.Ref {
	return keys.RefFromBytes(key[5:13])
}

func xKey(cid, fld uint32) []byte {
	key := binary.BigEndian.AppendUint32([]byte{'X'}, cid)
	return binary.BigEndian.AppendUint32(key, fld)
}

func dKey(idx uint32) []byte {
	return binary.BigEndian.AppendUint32([]byte{'D'}, idx)
}

var (
	keyNextRef = []byte("Sref")
	keyNextIdx = []byte("Sidx")
	keyNextCid = []byte("Scid")
)

// Open opens or creates a storage directory.
func Open(dir string, opts Options) (*Storage, error) {
	opts.SetDefaults()
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening storage at %s", dir)
	}
	s := &Storage{
		db:      db,
		dir:     dir,
		wo:      &pebble.WriteOptions{Sync: opts.SyncWrites},
		logger:  opts.Logger,
		session: uuid.NewString(),
		opts:    opts,
	}
	s.nextRef = s.loadCounter(keyNextRef)
	s.nextIdx = uint32(s.loadCounter(keyNextIdx))
	s.nextCid = uint32(s.loadCounter(keyNextCid))
	s.logger.Info("storage open", "dir", dir, "session", s.session)
	return s, nil
}

func (s *Storage) loadCounter(key []byte) uint64 {
	val, closer, err := s.db.Get(key)
	if err != nil {
		return 0
	}
	n := binary.BigEndian.Uint64(val)
	_ = closer.Close()
	return n
}

func (s *Storage) saveCounter(key []byte, n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	_ = s.db.Set(key, b[:], s.wo)
}

// Allocate assigns the next object ref. Refs are monotonically
// increasing and never reused, so they are a valid total order for
// index keys and sort tiebreaks.
func (s *Storage) Allocate() keys.Ref {
	s.seqlock.Lock()
	s.nextRef++
	ref := keys.Ref(s.nextRef)
	s.saveCounter(keyNextRef, s.nextRef)
	s.seqlock.Unlock()
	return ref
}

func (s *Storage) allocIndexID() uint32 {
	s.seqlock.Lock()
	s.nextIdx++
	id := s.nextIdx
	s.saveCounter(keyNextIdx, uint64(s.nextIdx))
	s.seqlock.Unlock()
	return id
}

func (s *Storage) allocClassID() uint32 {
	s.seqlock.Lock()
	s.nextCid++
	id := s.nextCid
	s.saveCounter(keyNextCid, uint64(s.nextCid))
	s.seqlock.Unlock()
	return id
}

// CreateIndex creates a manual ordered index with the given key type.
// The index id and descriptor are persisted, so the caller can hold on
// to the returned handle across reopens by id.
func (s *Storage) CreateIndex(keyType keys.Type, unique bool) (*indexes.Index, error) {
	if s.db == nil {
		return nil, perst_errors.ErrClosed
	}
	if !keyType.Valid() {
		return nil, perst_errors.ErrKeyTypeMismatch
	}
	id := s.allocIndexID()
	desc := []byte{byte(keyType), 0}
	if unique {
		desc[1] = 1
	}
	if err := s.db.Set(dKey(id), desc, s.wo); err != nil {
		return nil, err
	}
	return indexes.New(s.db, s.wo, id, keyType, unique), nil
}

// OpenIndex reopens a previously created index by id.
func (s *Storage) OpenIndex(id uint32) (*indexes.Index, error) {
	if s.db == nil {
		return nil, perst_errors.ErrClosed
	}
	desc, closer, err := s.db.Get(dKey(id))
	if err == pebble.ErrNotFound {
		return nil, perst_errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	keyType, unique := keys.Type(desc[0]), desc[1] != 0
	_ = closer.Close()
	return indexes.New(s.db, s.wo, id, keyType, unique), nil
}

// CreateFieldIndex creates a manual index over one field of a class.
// The caller owns the insert/remove discipline; see the catalog's
// managed indices for the automatic variant.
func (s *Storage) CreateFieldIndex(class *classes.Class, fieldName string, unique bool) (*indexes.FieldIndex, error) {
	ndx := class.FindName(fieldName)
	if ndx < 0 {
		return nil, errors.Wrapf(perst_errors.ErrUnresolvablePath, "%s.%s", class.Name, fieldName)
	}
	ix, err := s.CreateIndex(class.Fields[ndx].Type, unique)
	if err != nil {
		return nil, err
	}
	return indexes.NewFieldIndex(ix, class, ndx), nil
}

// Commit flushes all applied batches to durable storage.
func (s *Storage) Commit() error {
	if s.db == nil {
		return perst_errors.ErrClosed
	}
	return s.db.Flush()
}

func (s *Storage) Close() error {
	if s.db == nil {
		return perst_errors.ErrClosed
	}
	s.logger.Info("storage close", "dir", s.dir, "session", s.session)
	err := s.db.Close()
	s.db = nil
	return err
}

// storeObject writes the object header plus one row per field into
// the batch. Absent values (nil references) get their row deleted so
// updates converge.
func (s *Storage) storeObject(b *pebble.Batch, cid uint32, class *classes.Class, obj classes.Record) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], cid)
	if err := b.Set(OKey(obj.Ref()), hdr[:], s.wo); err != nil {
		return err
	}
	for i := range class.Fields {
		val, ok, err := class.Fields[i].Key(obj)
		if err != nil {
			return err
		}
		row := FKey(obj.Ref(), uint32(i))
		if !ok {
			if err := b.Delete(row, s.wo); err != nil {
				return err
			}
			continue
		}
		if err := b.Set(row, keys.Encode(nil, val), s.wo); err != nil {
			return err
		}
	}
	return nil
}

// loadStoredValues reads the persisted key values of an object's
// fields, indexed by field position; absent rows stay nil.
func (s *Storage) loadStoredValues(reader pebble.Reader, class *classes.Class, ref keys.Ref) ([]*keys.Value, error) {
	vals := make([]*keys.Value, len(class.Fields))
	for i := range class.Fields {
		raw, closer, err := reader.Get(FKey(ref, uint32(i)))
		if err == pebble.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		val, _, err := keys.Decode(class.Fields[i].Type, raw)
		_ = closer.Close()
		if err != nil {
			return nil, err
		}
		vals[i] = &val
	}
	return vals, nil
}

func (s *Storage) deleteObject(b *pebble.Batch, ref keys.Ref) error {
	return b.DeleteRange(OKey(ref), keys.Successor(OKey(ref)), s.wo)
}
