package perst

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type planEvents struct {
	seqScans []string
	sorts    []string
}

func (l *planEvents) OnSequentialScan(predicate string) { l.seqScans = append(l.seqScans, predicate) }
func (l *planEvents) OnSort(predicate string)           { l.sorts = append(l.sorts, predicate) }

const (
	nLabels         = 5
	nAlbums         = 50
	nTracksPerAlbum = 4
	nTracks         = nAlbums * nTracksPerAlbum
	hitEvery        = 20
)

// fillCatalog loads the music schema with nLabels labels, nAlbums
// albums spread round-robin across them and nTracksPerAlbum tracks
// each; every hitEvery-th track is a hit.
func fillCatalog(t *testing.T, d *Database, s musicSchema) {
	t.Helper()
	labels := make([]*RecordLabel, nLabels)
	for i := range labels {
		labels[i] = &RecordLabel{
			Name:   fmt.Sprintf("Label%d", i),
			Email:  fmt.Sprintf("contact@label%d.com", i),
			Phone:  "+1 123-456-7890",
			Closed: i == 0,
		}
		require.NoError(t, d.AddRecord(labels[i]))
	}
	for i := 0; i < nAlbums; i++ {
		album := &Album{
			Name:  fmt.Sprintf("Album%d", i),
			Label: labels[i%nLabels],
			Genre: "Rock",
		}
		require.NoError(t, d.AddRecord(album))
		for j := 0; j < nTracksPerAlbum; j++ {
			require.NoError(t, d.AddRecord(&Track{
				No:       int64(j + 1),
				Album:    album,
				Name:     fmt.Sprintf("Track%d", j),
				Duration: 3.5,
				Hit:      (i*nTracksPerAlbum+j)%hitEvery == 0,
			}))
		}
	}
}

// The whole suite below must run off indexes alone: any sequential
// scan or sort the planner falls back to fails the final assertion.
func TestQueriesRunOffIndexes(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)
	fillCatalog(t, d, s)
	listener := &planEvents{}
	d.SetListener(listener)

	// an unindexed conjunct rides along as a residual filter while the
	// chained reference path does the index work
	q, err := d.Prepare(s.track, "no > 0 and album.label.name = ?")
	require.NoError(t, err)
	total := 0
	for i := 0; i < nLabels; i++ {
		require.NoError(t, q.SetParameter(1, fmt.Sprintf("Label%d", i)))
		seq, err := q.Execute()
		require.NoError(t, err)
		for range seq {
			total++
		}
	}
	assert.Equal(t, nTracks, total)

	// a bare order-by walks the index in key order
	prev := ""
	n := 0
	for _, rec := range collect(t, d, s.label, "order by name") {
		name := rec.(*RecordLabel).Name
		assert.Less(t, prev, name)
		prev = name
		n++
	}
	assert.Equal(t, nLabels, n)

	// a like prefix bounds the scan; desc flips the direction
	prev = "zzz"
	n = 0
	for _, rec := range collect(t, d, s.label, "name like 'Label%' order by name desc") {
		name := rec.(*RecordLabel).Name
		assert.Greater(t, prev, name)
		prev = name
		n++
	}
	assert.Equal(t, nLabels, n)

	assert.Len(t, collect(t, d, s.label, "name in ('Label1', 'Label2', 'Label3')"), 3)

	assert.Len(t, collect(t, d, s.label,
		"(name = 'Label1' or name = 'Label2' or name = 'Label3') and email like 'contact@%'"), 3)

	// an in-list parameter feeds point lookups, emitted in value order
	q, err = d.Prepare(s.label, "phone like '+1%' and name in ?")
	require.NoError(t, err)
	names := make([]string, nLabels)
	for i := range names {
		names[i] = fmt.Sprintf("Label%d", i)
	}
	require.NoError(t, q.SetParameter(1, names))
	seq, err := q.Execute()
	require.NoError(t, err)
	n = 0
	for rec := range seq {
		assert.Equal(t, names[n], rec.(*RecordLabel).Name)
		n++
	}
	assert.Equal(t, nLabels, n)

	// a union of chained paths
	got := collect(t, d, s.track, "album.label.name = 'Label1' or album.label.name = 'Label2'")
	assert.Len(t, got, nTracks*2/nLabels)
	for _, rec := range got {
		name := rec.(*Track).Album.Label.Name
		assert.True(t, name == "Label1" || name == "Label2")
	}

	hits := collect(t, d, s.track, "hit = true")
	assert.Len(t, hits, nTracks/hitEvery)
	for _, rec := range hits {
		assert.True(t, rec.(*Track).Hit)
	}

	// "not hit" turns into an indexed lookup of hit = false
	misses := collect(t, d, s.track, "not hit")
	assert.Len(t, misses, nTracks-nTracks/hitEvery)

	assert.Len(t, collect(t, d, s.label, "name like 'Label%' and closed = false"), nLabels-1)

	// an indexed order-by with an unrelated indexable predicate scans
	// the order index and filters, rather than sorting
	ordered := collect(t, d, s.track, "hit = true order by name")
	assert.Len(t, ordered, nTracks/hitEvery)

	assert.Empty(t, listener.seqScans)
	assert.Empty(t, listener.sorts)
}

func TestSequentialScanIsReported(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)
	fillCatalog(t, d, s)
	listener := &planEvents{}
	d.SetListener(listener)

	got := collect(t, d, s.track, "duration > 3")
	assert.Len(t, got, nTracks)
	assert.Equal(t, []string{"duration > 3"}, listener.seqScans)
	assert.Empty(t, listener.sorts)
}

func TestSortIsReported(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)
	fillCatalog(t, d, s)
	listener := &planEvents{}
	d.SetListener(listener)

	// genre is not indexed, so the extent is scanned (no predicate, no
	// seq-scan event) and the rows are sorted
	got := collect(t, d, s.album, "order by genre")
	assert.Len(t, got, nAlbums)
	assert.Empty(t, listener.seqScans)
	assert.Equal(t, []string{"order by genre"}, listener.sorts)
}

func TestSeqScanAndSortBothReported(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)
	fillCatalog(t, d, s)
	listener := &planEvents{}
	d.SetListener(listener)

	got := collect(t, d, s.track, "duration > 3 order by duration")
	assert.Len(t, got, nTracks)
	assert.Len(t, listener.seqScans, 1)
	assert.Len(t, listener.sorts, 1)
}

func TestOrderByChainedPathSorts(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)
	fillCatalog(t, d, s)
	listener := &planEvents{}
	d.SetListener(listener)

	got := collect(t, d, s.track, "order by album.label.name")
	require.Len(t, got, nTracks)
	prev := ""
	for _, rec := range got {
		name := rec.(*Track).Album.Label.Name
		assert.LessOrEqual(t, prev, name)
		prev = name
	}
	// a multi-hop order-by cannot ride an index scan
	assert.Len(t, listener.sorts, 1)
	assert.Empty(t, listener.seqScans)
}

func TestReferenceParameterQuery(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)
	fillCatalog(t, d, s)

	labels := collect(t, d, s.label, "name = 'Label3'")
	require.Len(t, labels, 1)

	q, err := d.Prepare(s.album, "label = ?")
	require.NoError(t, err)
	require.NoError(t, q.SetParameter(1, labels[0]))
	seq, err := q.Execute()
	require.NoError(t, err)
	n := 0
	for rec := range seq {
		assert.Same(t, labels[0], rec.(*Album).Label)
		n++
	}
	assert.Equal(t, nAlbums/nLabels, n)
}

func TestRangePredicates(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)
	require.NoError(t, d.AddRecord(&Track{No: 1, Name: "A"}))
	require.NoError(t, d.AddRecord(&Track{No: 2, Name: "B"}))
	require.NoError(t, d.AddRecord(&Track{No: 3, Name: "C"}))

	assert.Len(t, collect(t, d, s.track, "name >= 'B'"), 2)
	assert.Len(t, collect(t, d, s.track, "name > 'B'"), 1)
	assert.Len(t, collect(t, d, s.track, "name < 'B'"), 1)
	assert.Len(t, collect(t, d, s.track, "name <= 'B'"), 2)
	assert.Len(t, collect(t, d, s.track, "name != 'B'"), 2)
	assert.Len(t, collect(t, d, s.track, "name >= 'A' and name <= 'C' and name != 'B'"), 2)
}

func TestNullReferencesNeverMatch(t *testing.T) {
	_, d := openTestDB(t)
	s := registerMusic(t, d)
	fillCatalog(t, d, s)
	require.NoError(t, d.AddRecord(&Track{No: 99, Name: "orphan"}))

	// the orphan has no album, so chained predicates skip it both on
	// the index path and on the residual-evaluation path
	assert.Len(t, collect(t, d, s.track, "album.label.name like 'Label%'"), nTracks)
	assert.Empty(t, collect(t, d, s.track, "name = 'orphan' and album.label.name = 'Label0'"))
}
