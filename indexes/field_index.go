package indexes

import (
	"github.com/cockroachdb/pebble"

	"github.com/andyglick/perst/classes"
	"github.com/andyglick/perst/keys"
)

// FieldIndex binds an ordered index to one field of one class; the key
// is derived from the record through the class descriptor. Used bare,
// it is a manual index: the caller must remove the record before
// mutating the field and re-insert it after, and the index contents
// are only as correct as that discipline. The catalog wraps the same
// type into a managed index that is kept in sync automatically.
type FieldIndex struct {
	Index
	class    *classes.Class
	fieldNdx int
}

func NewFieldIndex(ix *Index, class *classes.Class, fieldNdx int) *FieldIndex {
	return &FieldIndex{Index: *ix, class: class, fieldNdx: fieldNdx}
}

func (fx *FieldIndex) Class() *classes.Class { return fx.class }

func (fx *FieldIndex) Field() *classes.Field { return &fx.class.Fields[fx.fieldNdx] }

// Key derives the record's current key for this index. Nil references
// have no key and are not indexed.
func (fx *FieldIndex) Key(obj classes.Record) (keys.Value, bool, error) {
	return fx.Field().Key(obj)
}

// PutRecord inserts the record under its current field value.
func (fx *FieldIndex) PutRecord(obj classes.Record) error {
	b := fx.db.NewIndexedBatch()
	defer b.Close()
	if err := fx.PutRecordBatch(b, obj); err != nil {
		return err
	}
	return b.Commit(fx.wo)
}

func (fx *FieldIndex) PutRecordBatch(b *pebble.Batch, obj classes.Record) error {
	key, ok, err := fx.Key(obj)
	if err != nil || !ok {
		return err
	}
	return fx.PutBatch(b, key, obj.Ref())
}

// RemoveRecord removes the record's entry, inferring the key from the
// record's current field value. Callers of a manual index therefore
// remove first, then mutate the field.
func (fx *FieldIndex) RemoveRecord(obj classes.Record) error {
	b := fx.db.NewIndexedBatch()
	defer b.Close()
	if err := fx.RemoveRecordBatch(b, obj); err != nil {
		return err
	}
	return b.Commit(fx.wo)
}

func (fx *FieldIndex) RemoveRecordBatch(b *pebble.Batch, obj classes.Record) error {
	key, ok, err := fx.Key(obj)
	if err != nil || !ok {
		return err
	}
	return fx.RemoveBatch(b, key, obj.Ref())
}

// RemoveKeyBatch removes a stale entry whose key value is already
// known (the catalog's update path diffs stored values).
func (fx *FieldIndex) RemoveKeyBatch(b *pebble.Batch, key keys.Value, ref keys.Ref) error {
	return fx.RemoveBatch(b, key, ref)
}
