package indexes

import (
	"fmt"
	"iter"

	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/andyglick/perst/keys"
	"github.com/andyglick/perst/perst_errors"
)

var PutCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "perst",
	Subsystem: "index",
	Name:      "puts",
}, []string{"index"})

var RemoveCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "perst",
	Subsystem: "index",
	Name:      "removes",
}, []string{"index"})

type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Index is an ordered index stored in a dedicated Pebble key range.
// See the package documentation for the entry layout.
type Index struct {
	db      *pebble.DB
	wo      *pebble.WriteOptions
	id      uint32
	keyType keys.Type
	unique  bool
}

func New(db *pebble.DB, wo *pebble.WriteOptions, id uint32, keyType keys.Type, unique bool) *Index {
	return &Index{db: db, wo: wo, id: id, keyType: keyType, unique: unique}
}

func (ix *Index) ID() uint32         { return ix.id }
func (ix *Index) KeyType() keys.Type { return ix.keyType }
func (ix *Index) IsUnique() bool     { return ix.unique }

func (ix *Index) label() string { return fmt.Sprintf("%d", ix.id) }

func (ix *Index) prefix() []byte {
	key := []byte{'I'}
	key = append(key, byte(ix.id>>24), byte(ix.id>>16), byte(ix.id>>8), byte(ix.id))
	return key
}

// keyCeil is a suffix sorting above every entry that shares an encoded
// key: longer than any ref suffix, all 0xFF.
var keyCeil = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func (ix *Index) entryKey(v keys.Value, ref keys.Ref) []byte {
	k := keys.Encode(ix.prefix(), v)
	if !ix.unique {
		k = append(k, ref.Bytes()...)
	}
	return k
}

func (ix *Index) checkType(v keys.Value) error {
	if v.Type != ix.keyType {
		return perst_errors.ErrKeyTypeMismatch
	}
	return nil
}

// Put adds the (key, ref) pair in its own atomic batch.
func (ix *Index) Put(key keys.Value, ref keys.Ref) error {
	b := ix.db.NewIndexedBatch()
	defer b.Close()
	if err := ix.PutBatch(b, key, ref); err != nil {
		return err
	}
	return b.Commit(ix.wo)
}

// PutBatch adds the pair to an indexed batch, so object and index
// mutations commit together. A unique collision fails the call and the
// first entry wins.
func (ix *Index) PutBatch(b *pebble.Batch, key keys.Value, ref keys.Ref) error {
	if err := ix.checkType(key); err != nil {
		return err
	}
	ek := ix.entryKey(key, ref)
	if ix.unique {
		_, closer, err := b.Get(ek)
		if closer != nil {
			_ = closer.Close()
		}
		if err == nil {
			return perst_errors.ErrDuplicateKey
		}
		if err != pebble.ErrNotFound {
			return err
		}
		if err := b.Set(ek, ref.Bytes(), ix.wo); err != nil {
			return err
		}
	} else {
		if err := b.Set(ek, nil, ix.wo); err != nil {
			return err
		}
	}
	PutCount.WithLabelValues(ix.label()).Inc()
	return nil
}

// Remove deletes the (key, ref) pair in its own atomic batch.
func (ix *Index) Remove(key keys.Value, ref keys.Ref) error {
	b := ix.db.NewIndexedBatch()
	defer b.Close()
	if err := ix.RemoveBatch(b, key, ref); err != nil {
		return err
	}
	return b.Commit(ix.wo)
}

func (ix *Index) RemoveBatch(b *pebble.Batch, key keys.Value, ref keys.Ref) error {
	if err := ix.checkType(key); err != nil {
		return err
	}
	ek := ix.entryKey(key, ref)
	val, closer, err := b.Get(ek)
	if err == pebble.ErrNotFound {
		return perst_errors.ErrNotFound
	}
	if err != nil {
		return err
	}
	if ix.unique && keys.RefFromBytes(val) != ref {
		_ = closer.Close()
		return perst_errors.ErrNotFound
	}
	_ = closer.Close()
	if err := b.Delete(ek, ix.wo); err != nil {
		return err
	}
	RemoveCount.WithLabelValues(ix.label()).Inc()
	return nil
}

// Get returns the refs whose key equals key exactly.
func (ix *Index) Get(key keys.Value) ([]keys.Ref, error) {
	if err := ix.checkType(key); err != nil {
		return nil, err
	}
	if ix.unique {
		val, closer, err := ix.db.Get(ix.entryKey(key, 0))
		if err == pebble.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		ref := keys.RefFromBytes(val)
		_ = closer.Close()
		return []keys.Ref{ref}, nil
	}
	return ix.GetList(key, key)
}

// GetList returns the refs for every key in [low, high], both ends
// inclusive, in ascending key order.
func (ix *Index) GetList(low, high keys.Value) (refs []keys.Ref, err error) {
	seq, err := ix.Iterator(&low, true, &high, true, Ascending)
	if err != nil {
		return nil, err
	}
	for _, ref := range seq {
		refs = append(refs, ref)
	}
	return
}

func (ix *Index) bounds(low *keys.Value, lowIncl bool, high *keys.Value, highIncl bool) (lower, upper []byte, err error) {
	lower = ix.prefix()
	if low != nil {
		if err = ix.checkType(*low); err != nil {
			return
		}
		lower = keys.Encode(lower, *low)
		if !lowIncl {
			lower = append(lower, keyCeil...)
		}
	}
	if high != nil {
		if err = ix.checkType(*high); err != nil {
			return
		}
		upper = keys.Encode(ix.prefix(), *high)
		if highIncl {
			upper = append(upper, keyCeil...)
		}
	} else {
		upper = keys.Successor(ix.prefix())
	}
	return
}

// Iterator returns a lazy sequence of (key, ref) pairs inside the
// bound, in the given direction. Nil bounds are unbounded. Each time
// the sequence is ranged over it reads from a fresh Pebble snapshot
// taken at that moment (snapshot-at-open); concurrent mutations are
// consistently ignored. An empty range is an empty sequence, never an
// error.
func (ix *Index) Iterator(low *keys.Value, lowIncl bool, high *keys.Value, highIncl bool, dir Direction) (iter.Seq2[keys.Value, keys.Ref], error) {
	lower, upper, err := ix.bounds(low, lowIncl, high, highIncl)
	if err != nil {
		return nil, err
	}
	return ix.scan(lower, upper, dir), nil
}

func (ix *Index) scan(lower, upper []byte, dir Direction) iter.Seq2[keys.Value, keys.Ref] {
	return func(yield func(keys.Value, keys.Ref) bool) {
		snap := ix.db.NewSnapshot()
		defer snap.Close()
		it, err := snap.NewIter(&pebble.IterOptions{
			LowerBound: lower,
			UpperBound: upper,
		})
		if err != nil {
			return
		}
		defer it.Close()
		var valid bool
		var advance func() bool
		if dir == Descending {
			valid = it.Last()
			advance = it.Prev
		} else {
			valid = it.First()
			advance = it.Next
		}
		for ; valid; valid = advance() {
			val, ref, err := ix.parseEntry(it.Key(), it.Value())
			if err != nil {
				continue
			}
			if !yield(val, ref) {
				return
			}
		}
	}
}

func (ix *Index) parseEntry(key, value []byte) (keys.Value, keys.Ref, error) {
	body := key[len(ix.prefix()):]
	val, n, err := keys.Decode(ix.keyType, body)
	if err != nil {
		return keys.Value{}, 0, err
	}
	if ix.unique {
		return val, keys.RefFromBytes(value), nil
	}
	return val, keys.RefFromBytes(body[n:]), nil
}

// PrefixIterator iterates, in ascending order, every entry of a
// string-keyed index whose key starts with prefix. The bound is a
// range scan ending at the successor of the escaped prefix bytes.
func (ix *Index) PrefixIterator(prefix string) (iter.Seq2[keys.Value, keys.Ref], error) {
	return ix.PrefixRange(prefix, Ascending)
}

// PrefixRange is PrefixIterator with a choice of direction.
func (ix *Index) PrefixRange(prefix string, dir Direction) (iter.Seq2[keys.Value, keys.Ref], error) {
	if ix.keyType != keys.String {
		return nil, perst_errors.ErrKeyTypeMismatch
	}
	lower := append(ix.prefix(), keys.EscapePrefix(prefix)...)
	upper := keys.Successor(lower)
	return ix.scan(lower, upper, dir), nil
}

// PrefixSearchList returns the refs of every entry whose key is a
// prefix of s (the inverse direction of PrefixIterator), shortest key
// first: one point lookup per prefix of s.
func (ix *Index) PrefixSearchList(s string) (refs []keys.Ref, err error) {
	if ix.keyType != keys.String {
		return nil, perst_errors.ErrKeyTypeMismatch
	}
	for i := 0; i <= len(s); i++ {
		got, err := ix.Get(keys.S(s[:i]))
		if err != nil {
			return nil, err
		}
		refs = append(refs, got...)
	}
	return
}

// Drop removes every entry of the index.
func (ix *Index) Drop(b *pebble.Batch) error {
	return b.DeleteRange(ix.prefix(), keys.Successor(ix.prefix()), ix.wo)
}
