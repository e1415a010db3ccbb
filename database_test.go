package perst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyglick/perst/classes"
	"github.com/andyglick/perst/keys"
	"github.com/andyglick/perst/perst_errors"
)

func TestAddRecordAssignsRefAndIndexes(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)

	label := &RecordLabel{Name: "Harvest", Email: "contact@harvest.com"}
	require.NoError(t, d.AddRecord(label))
	assert.NotEqual(t, keys.NilRef, label.Ref())

	got := collect(t, d, s.label, "name = 'Harvest'")
	require.Len(t, got, 1)
	assert.Same(t, label, got[0])

	assert.Empty(t, collect(t, d, s.label, "name = 'Nonesuch'"))
}

func TestAddRecordUnregisteredClass(t *testing.T) {
	_, d := openTestDB(t)
	err := d.AddRecord(&RecordLabel{Name: "x"})
	assert.ErrorIs(t, err, perst_errors.ErrClassNotRegistered)
}

func TestUpdateRecordMovesIndexEntries(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)

	track := &Track{No: 1, Name: "Old Name", Duration: 3.5}
	require.NoError(t, d.AddRecord(track))

	track.Name = "New Name"
	track.Hit = true
	require.NoError(t, d.UpdateRecord(track))

	assert.Empty(t, collect(t, d, s.track, "name = 'Old Name'"))
	require.Len(t, collect(t, d, s.track, "name = 'New Name'"), 1)
	require.Len(t, collect(t, d, s.track, "hit"), 1)
}

func TestUpdateRecordNotLive(t *testing.T) {
	_, d := openTestDB(t)
	registerMusic(t, d)
	stray := &Track{Name: "stray"}
	assert.ErrorIs(t, d.UpdateRecord(stray), perst_errors.ErrRecordNotLive)
}

func TestDropRecord(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)

	label := &RecordLabel{Name: "Gone"}
	require.NoError(t, d.AddRecord(label))
	require.NoError(t, d.DropRecord(label))
	assert.Equal(t, keys.NilRef, label.Ref())

	assert.Empty(t, collect(t, d, s.label, "name = 'Gone'"))
	assert.Empty(t, collect(t, d, s.label, ""))
	assert.ErrorIs(t, d.DropRecord(label), perst_errors.ErrRecordNotLive)
}

func TestDropTable(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)

	require.NoError(t, d.AddRecord(&RecordLabel{Name: "A"}))
	require.NoError(t, d.AddRecord(&RecordLabel{Name: "B"}))
	require.NoError(t, d.DropTable(s.label))

	_, err := d.Select(s.label, "")
	assert.ErrorIs(t, err, perst_errors.ErrClassNotRegistered)
	assert.ErrorIs(t, d.AddRecord(&RecordLabel{Name: "C"}), perst_errors.ErrClassNotRegistered)
	assert.ErrorIs(t, d.DropTable(s.label), perst_errors.ErrClassNotRegistered)
}

func TestScanClassExtentOrder(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)

	names := []string{"C", "A", "B"}
	for _, n := range names {
		require.NoError(t, d.AddRecord(&RecordLabel{Name: n}))
	}
	// the extent iterates in insertion (ref) order, not key order
	var got []string
	for rec := range d.ScanClass(s.label) {
		got = append(got, rec.(*RecordLabel).Name)
	}
	assert.Equal(t, names, got)
}

type account struct {
	classes.Base
	email string
	plan  string
}

func accountClass() *classes.Class {
	return &classes.Class{
		Name: "Account",
		New:  func() classes.Record { return &account{} },
		Fields: classes.Fields{
			{Name: "email", Type: keys.String, Indexable: true, Unique: true,
				Get: func(r classes.Record) any { return r.(*account).email },
				Set: func(r classes.Record, v any) { r.(*account).email = v.(string) }},
			{Name: "plan", Type: keys.String,
				Get: func(r classes.Record) any { return r.(*account).plan },
				Set: func(r classes.Record, v any) { r.(*account).plan = v.(string) }},
		},
	}
}

func TestUniqueIndexRollsBackAdd(t *testing.T) {
	_, d := openTestDB(t)
	cls := accountClass()
	require.NoError(t, d.RegisterClass(cls))

	first := &account{email: "a@b.c", plan: "free"}
	require.NoError(t, d.AddRecord(first))

	dup := &account{email: "a@b.c", plan: "paid"}
	err := d.AddRecord(dup)
	assert.ErrorIs(t, err, perst_errors.ErrDuplicateKey)
	assert.Equal(t, keys.NilRef, dup.Ref())

	// the first entry won and the failed add left nothing behind
	got := collect(t, d, cls, "email = 'a@b.c'")
	require.Len(t, got, 1)
	assert.Equal(t, "free", got[0].(*account).plan)
	assert.Len(t, collect(t, d, cls, ""), 1)
}

func TestUniqueIndexFreesKeyOnDrop(t *testing.T) {
	_, d := openTestDB(t)
	cls := accountClass()
	require.NoError(t, d.RegisterClass(cls))

	first := &account{email: "a@b.c"}
	require.NoError(t, d.AddRecord(first))
	require.NoError(t, d.DropRecord(first))
	require.NoError(t, d.AddRecord(&account{email: "a@b.c"}))
}

func TestReopenMaterializesRecordsAndReferences(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, testOptions())
	require.NoError(t, err)
	d := NewDatabase(store)
	registerMusic(t, d)

	label := &RecordLabel{Name: "Harvest"}
	require.NoError(t, d.AddRecord(label))
	album := &Album{Name: "Harvest Moon", Label: label, Genre: "Folk"}
	require.NoError(t, d.AddRecord(album))
	track := &Track{No: 3, Album: album, Name: "War of Man", Duration: 5.7}
	require.NoError(t, d.AddRecord(track))
	albumRef := album.Ref()
	require.NoError(t, store.Close())

	store, err = Open(dir, testOptions())
	require.NoError(t, err)
	defer store.Close()
	d = NewDatabase(store)
	s := newMusicSchema()
	// register referencing classes first so the stored references have
	// to wait for their target class
	require.NoError(t, d.RegisterClass(s.track))
	require.NoError(t, d.RegisterClass(s.album))
	require.NoError(t, d.RegisterClass(s.label))

	got := collect(t, d, s.album, "name = 'Harvest Moon'")
	require.Len(t, got, 1)
	reopened := got[0].(*Album)
	assert.Equal(t, albumRef, reopened.Ref())
	require.NotNil(t, reopened.Label)
	assert.Equal(t, "Harvest", reopened.Label.Name)

	// chained predicates run off the persisted indexes
	tracks := collect(t, d, s.track, "album.label.name = 'Harvest'")
	require.Len(t, tracks, 1)
	tr := tracks[0].(*Track)
	assert.Equal(t, int64(3), tr.No)
	assert.Equal(t, 5.7, tr.Duration)
	require.NotNil(t, tr.Album)
	assert.Same(t, reopened, tr.Album)
}

func TestReopenKeepsAllocatingFreshRefs(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, testOptions())
	require.NoError(t, err)
	d := NewDatabase(store)
	registerMusic(t, d)
	a := &RecordLabel{Name: "A"}
	require.NoError(t, d.AddRecord(a))
	require.NoError(t, store.Close())

	store, err = Open(dir, testOptions())
	require.NoError(t, err)
	defer store.Close()
	d = NewDatabase(store)
	registerMusic(t, d)
	b := &RecordLabel{Name: "B"}
	require.NoError(t, d.AddRecord(b))
	assert.Greater(t, b.Ref(), a.Ref())
}

func TestManualIndexSurvivesReopenByID(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, testOptions())
	require.NoError(t, err)
	ix, err := store.CreateIndex(keys.Integer, true)
	require.NoError(t, err)
	require.NoError(t, ix.Put(keys.I(42), 7))
	id := ix.ID()
	require.NoError(t, store.Close())

	store, err = Open(dir, testOptions())
	require.NoError(t, err)
	defer store.Close()
	ix, err = store.OpenIndex(id)
	require.NoError(t, err)
	assert.Equal(t, keys.Integer, ix.KeyType())
	assert.True(t, ix.IsUnique())
	refs, err := ix.Get(keys.I(42))
	require.NoError(t, err)
	assert.Equal(t, []keys.Ref{7}, refs)

	_, err = store.OpenIndex(9999)
	assert.ErrorIs(t, err, perst_errors.ErrNotFound)
}

func TestPreparedQueriesAreCached(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)

	q1, err := d.Prepare(s.label, "name = ?")
	require.NoError(t, err)
	q2, err := d.Prepare(s.label, "name = ?")
	require.NoError(t, err)
	assert.Equal(t, 1, d.prepared.Len())

	// bindings stay per-query even though the compilation is shared
	require.NoError(t, q1.SetParameter(1, "A"))
	require.NoError(t, d.AddRecord(&RecordLabel{Name: "A"}))
	seq, err := q1.Execute()
	require.NoError(t, err)
	n := 0
	for range seq {
		n++
	}
	assert.Equal(t, 1, n)
	_, err = q2.Execute()
	assert.ErrorIs(t, err, perst_errors.ErrParameterUnbound)
}
