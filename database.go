package perst

import (
	"encoding/binary"
	"iter"
	"reflect"
	"sync"

	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/andyglick/perst/classes"
	"github.com/andyglick/perst/indexes"
	"github.com/andyglick/perst/keys"
	"github.com/andyglick/perst/perst_errors"
	"github.com/andyglick/perst/query"
	"github.com/andyglick/perst/utils"
)

// Database is the catalog: it owns one managed field index per
// indexable field of every registered class and keeps those indices
// consistent with live field values on every add, update and drop.
// This is the auto-sync counterpart of the manual FieldIndex.
type Database struct {
	store  *Storage
	logger utils.Logger

	tables  *xsync.MapOf[string, *table]
	byType  *xsync.MapOf[reflect.Type, *table]
	records *xsync.MapOf[keys.Ref, liveRecord]

	prepared *lru.Cache[string, *query.Compiled]

	// serializes structural mutations; readers go through snapshots
	wlock sync.Mutex

	llock    sync.Mutex
	listener query.Listener

	pending []fixup
}

type table struct {
	class *classes.Class
	cid   uint32
	// parallel to class.Fields; nil where not indexable
	indices []*indexes.FieldIndex
}

type liveRecord struct {
	obj classes.Record
	t   *table
}

// fixup is a stored reference waiting for its target class to be
// registered and materialized.
type fixup struct {
	obj classes.Record
	fld *classes.Field
	ref keys.Ref
}

func NewDatabase(store *Storage) *Database {
	cache, _ := lru.New[string, *query.Compiled](store.opts.PreparedCacheSize)
	return &Database{
		store:    store,
		logger:   store.logger,
		tables:   xsync.NewMapOf[string, *table](),
		byType:   xsync.NewMapOf[reflect.Type, *table](),
		records:  xsync.NewMapOf[keys.Ref, liveRecord](),
		prepared: cache,
	}
}

// SetListener installs the plan-event listener notified when a query
// falls back to a sequential scan or an explicit sort.
func (d *Database) SetListener(l query.Listener) {
	d.llock.Lock()
	d.listener = l
	d.llock.Unlock()
}

// Listener is part of the query.Catalog interface.
func (d *Database) Listener() query.Listener {
	d.llock.Lock()
	defer d.llock.Unlock()
	return d.listener
}

// RegisterClass declares a class to the catalog, creating one managed
// index per indexable field, and materializes any records of the class
// already in the store. Reference fields of previously stored records
// resolve as soon as their target class is registered too.
func (d *Database) RegisterClass(c *classes.Class) error {
	if err := c.Validate(); err != nil {
		return err
	}
	d.wlock.Lock()
	defer d.wlock.Unlock()
	if _, ok := d.tables.Load(c.Name); ok {
		return errors.Wrapf(perst_errors.ErrBadClass, "class %q already registered", c.Name)
	}
	cid, err := d.classID(c.Name)
	if err != nil {
		return err
	}
	t := &table{class: c, cid: cid, indices: make([]*indexes.FieldIndex, len(c.Fields))}
	for i := range c.Fields {
		f := &c.Fields[i]
		if !f.Indexable {
			continue
		}
		ix, err := d.managedIndex(cid, uint32(i), f.Type, f.Unique)
		if err != nil {
			return err
		}
		t.indices[i] = indexes.NewFieldIndex(ix, c, i)
	}
	if err := d.loadTable(t); err != nil {
		return err
	}
	d.tables.Store(c.Name, t)
	d.byType.Store(reflect.TypeOf(c.New()), t)
	d.logger.Debug("class registered", "class", c.Name, "cid", cid)
	return nil
}

// classID returns the persistent class id, allocating on first sight.
func (d *Database) classID(name string) (uint32, error) {
	key := append([]byte{'C'}, name...)
	val, closer, err := d.store.db.Get(key)
	if err == nil {
		cid := binary.BigEndian.Uint32(val)
		_ = closer.Close()
		return cid, nil
	}
	if err != pebble.ErrNotFound {
		return 0, err
	}
	cid := d.store.allocClassID()
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], cid)
	if err := d.store.db.Set(key, b[:], d.store.wo); err != nil {
		return 0, err
	}
	return cid, nil
}

// managedIndex returns the persistent index for (cid, fld), allocating
// it on first registration so index ids survive reopens.
func (d *Database) managedIndex(cid, fld uint32, keyType keys.Type, unique bool) (*indexes.Index, error) {
	key := xKey(cid, fld)
	val, closer, err := d.store.db.Get(key)
	if err == nil {
		id := binary.BigEndian.Uint32(val)
		_ = closer.Close()
		return d.store.OpenIndex(id)
	}
	if err != pebble.ErrNotFound {
		return nil, err
	}
	ix, err := d.store.CreateIndex(keyType, unique)
	if err != nil {
		return nil, err
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ix.ID())
	if err := d.store.db.Set(key, b[:], d.store.wo); err != nil {
		return nil, err
	}
	return ix, nil
}

// loadTable materializes every stored record of the class into the
// live set, in extent order.
func (d *Database) loadTable(t *table) error {
	it, err := d.store.db.NewIter(&pebble.IterOptions{
		LowerBound: RKey(t.cid, 0),
		UpperBound: keys.Successor(RKey(t.cid, 0)[:5]),
	})
	if err != nil {
		return err
	}
	defer it.Close()
	n := 0
	for valid := it.First(); valid; valid = it.Next() {
		if err := d.materialize(t, RKeyRef(it.Key())); err != nil {
			return err
		}
		n++
	}
	if n > 0 {
		d.logger.Info("class records loaded", "class", t.class.Name, "records", n)
	}
	d.resolveFixups()
	return nil
}

func (d *Database) materialize(t *table, ref keys.Ref) error {
	vals, err := d.store.loadStoredValues(d.store.db, t.class, ref)
	if err != nil {
		return err
	}
	obj := t.class.New()
	obj.SetRef(ref)
	for i := range t.class.Fields {
		if vals[i] == nil {
			continue
		}
		f := &t.class.Fields[i]
		v := *vals[i]
		switch f.Type {
		case keys.Integer:
			f.Set(obj, v.Int)
		case keys.Float:
			f.Set(obj, v.Flo)
		case keys.String:
			f.Set(obj, v.Str)
		case keys.Boolean:
			f.Set(obj, v.Bool())
		case keys.Time:
			f.Set(obj, v.Time())
		case keys.Reference:
			if target, ok := d.records.Load(v.Ref()); ok {
				f.Set(obj, target.obj)
			} else {
				d.pending = append(d.pending, fixup{obj: obj, fld: f, ref: v.Ref()})
			}
		}
	}
	d.records.Store(ref, liveRecord{obj: obj, t: t})
	return nil
}

func (d *Database) resolveFixups() {
	rest := d.pending[:0]
	for _, fx := range d.pending {
		if target, ok := d.records.Load(fx.ref); ok {
			fx.fld.Set(fx.obj, target.obj)
		} else {
			rest = append(rest, fx)
		}
	}
	d.pending = rest
}

func (d *Database) tableOf(obj classes.Record) (*table, error) {
	t, ok := d.byType.Load(reflect.TypeOf(obj))
	if !ok {
		return nil, perst_errors.ErrClassNotRegistered
	}
	return t, nil
}

// AddRecord stores the object, registers it in the class extent and
// inserts it into every managed index, all in one atomic batch. A
// unique index collision aborts the whole batch.
func (d *Database) AddRecord(obj classes.Record) error {
	t, err := d.tableOf(obj)
	if err != nil {
		return err
	}
	d.wlock.Lock()
	defer d.wlock.Unlock()
	ref := d.store.Allocate()
	obj.SetRef(ref)
	b := d.store.db.NewIndexedBatch()
	defer b.Close()
	if err := d.store.storeObject(b, t.cid, t.class, obj); err != nil {
		obj.SetRef(keys.NilRef)
		return err
	}
	if err := b.Set(RKey(t.cid, ref), nil, d.store.wo); err != nil {
		obj.SetRef(keys.NilRef)
		return err
	}
	for _, ix := range t.indices {
		if ix == nil {
			continue
		}
		if err := ix.PutRecordBatch(b, obj); err != nil {
			obj.SetRef(keys.NilRef)
			return err
		}
	}
	if err := b.Commit(d.store.wo); err != nil {
		obj.SetRef(keys.NilRef)
		return err
	}
	d.records.Store(ref, liveRecord{obj: obj, t: t})
	return nil
}

// UpdateRecord re-syncs the stored rows and managed indices with the
// object's current field values: for every changed indexable field the
// stale (oldValue, ref) entry is removed and the new one inserted.
func (d *Database) UpdateRecord(obj classes.Record) error {
	t, err := d.tableOf(obj)
	if err != nil {
		return err
	}
	if _, ok := d.records.Load(obj.Ref()); !ok {
		return perst_errors.ErrRecordNotLive
	}
	d.wlock.Lock()
	defer d.wlock.Unlock()
	old, err := d.store.loadStoredValues(d.store.db, t.class, obj.Ref())
	if err != nil {
		return err
	}
	b := d.store.db.NewIndexedBatch()
	defer b.Close()
	for i := range t.class.Fields {
		f := &t.class.Fields[i]
		cur, ok, err := f.Key(obj)
		if err != nil {
			return err
		}
		if !changed(old[i], cur, ok) {
			continue
		}
		if ix := t.indices[i]; ix != nil {
			if old[i] != nil {
				if err := ix.RemoveKeyBatch(b, *old[i], obj.Ref()); err != nil {
					return err
				}
			}
			if ok {
				if err := ix.PutBatch(b, cur, obj.Ref()); err != nil {
					return err
				}
			}
		}
		row := FKey(obj.Ref(), uint32(i))
		if !ok {
			if err := b.Delete(row, d.store.wo); err != nil {
				return err
			}
		} else if err := b.Set(row, keys.Encode(nil, cur), d.store.wo); err != nil {
			return err
		}
	}
	return b.Commit(d.store.wo)
}

func changed(old *keys.Value, cur keys.Value, curPresent bool) bool {
	if old == nil {
		return curPresent
	}
	if !curPresent {
		return true
	}
	return keys.Compare(*old, cur) != 0
}

// DropRecord removes the object from every managed index of its
// class, from the extent and from the store. Index entries are removed
// by the *stored* key values, which the managed indices mirror.
func (d *Database) DropRecord(obj classes.Record) error {
	t, err := d.tableOf(obj)
	if err != nil {
		return err
	}
	if _, ok := d.records.Load(obj.Ref()); !ok {
		return perst_errors.ErrRecordNotLive
	}
	d.wlock.Lock()
	defer d.wlock.Unlock()
	old, err := d.store.loadStoredValues(d.store.db, t.class, obj.Ref())
	if err != nil {
		return err
	}
	b := d.store.db.NewIndexedBatch()
	defer b.Close()
	for i, ix := range t.indices {
		if ix == nil || old[i] == nil {
			continue
		}
		if err := ix.RemoveKeyBatch(b, *old[i], obj.Ref()); err != nil {
			return err
		}
	}
	if err := b.Delete(RKey(t.cid, obj.Ref()), d.store.wo); err != nil {
		return err
	}
	if err := d.store.deleteObject(b, obj.Ref()); err != nil {
		return err
	}
	if err := b.Commit(d.store.wo); err != nil {
		return err
	}
	d.records.Delete(obj.Ref())
	obj.SetRef(keys.NilRef)
	return nil
}

// DropTable discards the class's managed indices, extent and records.
// AddRecord for the class fails with ClassNotRegistered until the
// class is registered again.
func (d *Database) DropTable(c *classes.Class) error {
	t, ok := d.tables.Load(c.Name)
	if !ok {
		return perst_errors.ErrClassNotRegistered
	}
	d.wlock.Lock()
	defer d.wlock.Unlock()
	b := d.store.db.NewIndexedBatch()
	defer b.Close()
	for _, ix := range t.indices {
		if ix == nil {
			continue
		}
		if err := ix.Drop(b); err != nil {
			return err
		}
	}
	var dropped []keys.Ref
	d.records.Range(func(ref keys.Ref, rec liveRecord) bool {
		if rec.t == t {
			dropped = append(dropped, ref)
		}
		return true
	})
	for _, ref := range dropped {
		if err := d.store.deleteObject(b, ref); err != nil {
			return err
		}
	}
	ext := RKey(t.cid, 0)[:5]
	if err := b.DeleteRange(ext, keys.Successor(ext), d.store.wo); err != nil {
		return err
	}
	if err := b.Commit(d.store.wo); err != nil {
		return err
	}
	for _, ref := range dropped {
		d.records.Delete(ref)
	}
	d.tables.Delete(c.Name)
	d.byType.Delete(reflect.TypeOf(c.New()))
	d.logger.Info("table dropped", "class", c.Name, "records", len(dropped))
	return nil
}

// IndexOf is part of the query.Catalog interface: the managed index on
// the given field, or nil.
func (d *Database) IndexOf(c *classes.Class, fieldNdx int) *indexes.FieldIndex {
	t, ok := d.tables.Load(c.Name)
	if !ok {
		return nil
	}
	return t.indices[fieldNdx]
}

// ScanClass iterates the class's live records in extent (ref) order;
// the sequential-scan path of the query executor.
func (d *Database) ScanClass(c *classes.Class) iter.Seq[classes.Record] {
	return func(yield func(classes.Record) bool) {
		t, ok := d.tables.Load(c.Name)
		if !ok {
			return
		}
		snap := d.store.db.NewSnapshot()
		defer snap.Close()
		it, err := snap.NewIter(&pebble.IterOptions{
			LowerBound: RKey(t.cid, 0),
			UpperBound: keys.Successor(RKey(t.cid, 0)[:5]),
		})
		if err != nil {
			return
		}
		defer it.Close()
		for valid := it.First(); valid; valid = it.Next() {
			rec, ok := d.records.Load(RKeyRef(it.Key()))
			if !ok {
				continue
			}
			if !yield(rec.obj) {
				return
			}
		}
	}
}

// Resolve is part of the query.Catalog interface.
func (d *Database) Resolve(ref keys.Ref) (classes.Record, bool) {
	rec, ok := d.records.Load(ref)
	if !ok {
		return nil, false
	}
	return rec.obj, true
}

// Prepare compiles a predicate against a class. Compilation results
// are cached per (class, predicate); each returned Query carries its
// own parameter bindings and replans against the current index state
// on every Execute.
func (d *Database) Prepare(c *classes.Class, predicate string) (*query.Query, error) {
	if _, ok := d.tables.Load(c.Name); !ok {
		return nil, perst_errors.ErrClassNotRegistered
	}
	cacheKey := c.Name + "\x00" + predicate
	compiled, ok := d.prepared.Get(cacheKey)
	if !ok {
		var err error
		compiled, err = query.Prepare(c, predicate)
		if err != nil {
			return nil, err
		}
		d.prepared.Add(cacheKey, compiled)
	}
	return compiled.NewQuery(d), nil
}

// Select prepares and executes a parameterless predicate.
func (d *Database) Select(c *classes.Class, predicate string) (iter.Seq[classes.Record], error) {
	q, err := d.Prepare(c, predicate)
	if err != nil {
		return nil, err
	}
	return q.Execute()
}
