package perst

// A small music catalog: three classes chained by references, with a
// mix of indexed and plain fields. Shared by the database and query
// tests.

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andyglick/perst/classes"
	"github.com/andyglick/perst/keys"
	"github.com/andyglick/perst/utils"
)

type RecordLabel struct {
	classes.Base
	Name   string
	Email  string
	Phone  string
	Closed bool
}

type Album struct {
	classes.Base
	Name  string
	Label *RecordLabel
	Genre string
}

type Track struct {
	classes.Base
	No       int64
	Album    *Album
	Name     string
	Duration float64
	Hit      bool
}

type musicSchema struct {
	label, album, track *classes.Class
}

func newMusicSchema() musicSchema {
	label := &classes.Class{
		Name: "RecordLabel",
		New:  func() classes.Record { return &RecordLabel{} },
		Fields: classes.Fields{
			{Name: "name", Type: keys.String, Indexable: true,
				Get: func(r classes.Record) any { return r.(*RecordLabel).Name },
				Set: func(r classes.Record, v any) { r.(*RecordLabel).Name = v.(string) }},
			{Name: "email", Type: keys.String,
				Get: func(r classes.Record) any { return r.(*RecordLabel).Email },
				Set: func(r classes.Record, v any) { r.(*RecordLabel).Email = v.(string) }},
			{Name: "phone", Type: keys.String,
				Get: func(r classes.Record) any { return r.(*RecordLabel).Phone },
				Set: func(r classes.Record, v any) { r.(*RecordLabel).Phone = v.(string) }},
			{Name: "closed", Type: keys.Boolean,
				Get: func(r classes.Record) any { return r.(*RecordLabel).Closed },
				Set: func(r classes.Record, v any) { r.(*RecordLabel).Closed = v.(bool) }},
		},
	}
	album := &classes.Class{
		Name: "Album",
		New:  func() classes.Record { return &Album{} },
		Fields: classes.Fields{
			{Name: "name", Type: keys.String, Indexable: true,
				Get: func(r classes.Record) any { return r.(*Album).Name },
				Set: func(r classes.Record, v any) { r.(*Album).Name = v.(string) }},
			{Name: "label", Type: keys.Reference, Of: label, Indexable: true,
				Get: func(r classes.Record) any { return r.(*Album).Label },
				Set: func(r classes.Record, v any) { r.(*Album).Label = v.(*RecordLabel) }},
			{Name: "genre", Type: keys.String,
				Get: func(r classes.Record) any { return r.(*Album).Genre },
				Set: func(r classes.Record, v any) { r.(*Album).Genre = v.(string) }},
		},
	}
	track := &classes.Class{
		Name: "Track",
		New:  func() classes.Record { return &Track{} },
		Fields: classes.Fields{
			{Name: "no", Type: keys.Integer,
				Get: func(r classes.Record) any { return r.(*Track).No },
				Set: func(r classes.Record, v any) { r.(*Track).No = v.(int64) }},
			{Name: "album", Type: keys.Reference, Of: album, Indexable: true,
				Get: func(r classes.Record) any { return r.(*Track).Album },
				Set: func(r classes.Record, v any) { r.(*Track).Album = v.(*Album) }},
			{Name: "name", Type: keys.String, Indexable: true,
				Get: func(r classes.Record) any { return r.(*Track).Name },
				Set: func(r classes.Record, v any) { r.(*Track).Name = v.(string) }},
			{Name: "duration", Type: keys.Float,
				Get: func(r classes.Record) any { return r.(*Track).Duration },
				Set: func(r classes.Record, v any) { r.(*Track).Duration = v.(float64) }},
			{Name: "hit", Type: keys.Boolean, Indexable: true,
				Get: func(r classes.Record) any { return r.(*Track).Hit },
				Set: func(r classes.Record, v any) { r.(*Track).Hit = v.(bool) }},
		},
	}
	return musicSchema{label: label, album: album, track: track}
}

func testOptions() Options {
	return Options{Logger: utils.NewDefaultLogger(slog.LevelError)}
}

func openTestDB(t *testing.T) (*Storage, *Database) {
	t.Helper()
	store, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	t.Cleanup(func() {
		if store.db != nil {
			_ = store.Close()
		}
	})
	return store, NewDatabase(store)
}

func registerMusic(t *testing.T, d *Database) musicSchema {
	t.Helper()
	s := newMusicSchema()
	require.NoError(t, d.RegisterClass(s.label))
	require.NoError(t, d.RegisterClass(s.album))
	require.NoError(t, d.RegisterClass(s.track))
	return s
}

func collect(t *testing.T, d *Database, c *classes.Class, predicate string) []classes.Record {
	t.Helper()
	seq, err := d.Select(c, predicate)
	require.NoError(t, err)
	var out []classes.Record
	for rec := range seq {
		out = append(out, rec)
	}
	return out
}
