package rtree

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/spatialdb/internal/errs"
)

func randomEntries(n int, seed uint64) []Entry {
	r := rand.New(rand.NewPCG(seed, seed+1))
	entries := make([]Entry, n)
	for i := range entries {
		x, y := r.Float64()*1000, r.Float64()*1000
		w, h := r.Float64()*20, r.Float64()*20
		entries[i] = Entry{
			ID:   fmt.Sprintf("e%04d", i),
			BBox: BBox{MinX: x, MinY: y, MaxX: x + w, MaxY: y + h},
		}
	}
	return entries
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	sort.Strings(out)
	return out
}

func bruteForce(entries []Entry, q BBox) []string {
	out := []string{}
	for _, e := range entries {
		if q.Intersects(e.BBox) {
			out = append(out, e.ID)
		}
	}
	sort.Strings(out)
	return out
}

func TestInsert_SearchIncludesBoundaryTouch(t *testing.T) {
	tr := New(0)
	require.NoError(t, tr.Insert(Entry{ID: "a", BBox: BBox{0, 0, 10, 10}}))
	require.NoError(t, tr.Insert(Entry{ID: "b", BBox: BBox{20, 20, 30, 30}}))

	got := tr.Search(BBox{10, 10, 15, 15})
	assert.Equal(t, []string{"a"}, ids(got))

	assert.Empty(t, tr.Search(BBox{11, 11, 19, 19}))
}

func TestInsert_RejectsMalformed(t *testing.T) {
	tr := New(0)
	cases := []Entry{
		{ID: "nan", BBox: BBox{math.NaN(), 0, 1, 1}},
		{ID: "inf", BBox: BBox{0, 0, math.Inf(1), 1}},
		{ID: "inverted", BBox: BBox{5, 0, 1, 1}},
		{ID: "", BBox: BBox{0, 0, 1, 1}},
	}
	for _, c := range cases {
		t.Run(c.ID, func(t *testing.T) {
			err := tr.Insert(c)
			require.Error(t, err)
			assert.True(t, errs.IsKind[*errs.IndexError](err))
		})
	}
	assert.Equal(t, 0, tr.Len())
}

func TestInsert_DuplicateID(t *testing.T) {
	tr := New(0)
	require.NoError(t, tr.Insert(Entry{ID: "a", BBox: BBox{0, 0, 1, 1}}))
	err := tr.Insert(Entry{ID: "a", BBox: BBox{5, 5, 6, 6}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
	assert.Equal(t, 1, tr.Len())
}

func TestInsert_ManyMatchesBruteForce(t *testing.T) {
	tr := New(4)
	entries := randomEntries(500, 7)
	for _, e := range entries {
		require.NoError(t, tr.Insert(e))
	}
	assert.Equal(t, 500, tr.Len())
	assert.Greater(t, tr.Height(), 2)

	for _, q := range []BBox{{0, 0, 100, 100}, {400, 400, 600, 650}, {999, 999, 1000, 1000}} {
		assert.Equal(t, bruteForce(entries, q), ids(tr.Search(q)))
	}
}

func TestSearch_WorldReturnsEverything(t *testing.T) {
	tr := New(0)
	entries := randomEntries(120, 3)
	require.NoError(t, tr.Load(entries))

	assert.Equal(t, ids(entries), ids(tr.Search(World)))
	assert.Equal(t, ids(entries), ids(tr.All()))
}

func TestSearch_MalformedProbe(t *testing.T) {
	tr := New(0)
	require.NoError(t, tr.Insert(Entry{ID: "a", BBox: BBox{0, 0, 1, 1}}))
	assert.Nil(t, tr.Search(BBox{math.NaN(), 0, 1, 1}))
	assert.Nil(t, tr.Search(BBox{2, 0, 1, 1}))
}

func TestRemove_MatchesByIDNotBBox(t *testing.T) {
	tr := New(0)
	require.NoError(t, tr.Load(randomEntries(60, 11)))
	require.NoError(t, tr.Insert(Entry{ID: "target", BBox: BBox{1.1, 2.2, 3.3, 4.4}}))

	// Re-derived bbox off by floating-point error.
	drifted := BBox{1.1 + 1e-9, 2.2, 3.3, 4.4 + 1e-9}
	ok, err := tr.Remove("target", drifted)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, tr.Has("target"))
	assert.Equal(t, 60, tr.Len())
}

func TestRemove_SameBBoxDifferentIDs(t *testing.T) {
	tr := New(0)
	box := BBox{0, 0, 1, 1}
	require.NoError(t, tr.Insert(Entry{ID: "a", BBox: box}))
	require.NoError(t, tr.Insert(Entry{ID: "b", BBox: box}))

	ok, err := tr.Remove("b", box)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, ids(tr.Search(box)))
}

func TestRemove_Missing(t *testing.T) {
	tr := New(0)
	ok, err := tr.Remove("nope", BBox{0, 0, 1, 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemove_MalformedBBox(t *testing.T) {
	tr := New(0)
	require.NoError(t, tr.Insert(Entry{ID: "a", BBox: BBox{0, 0, 1, 1}}))
	_, err := tr.Remove("a", BBox{math.NaN(), 0, 1, 1})
	require.Error(t, err)
	assert.True(t, errs.IsKind[*errs.IndexError](err))
	assert.True(t, tr.Has("a"))
}

func TestRemove_AllCondensesToEmptyLeaf(t *testing.T) {
	tr := New(4)
	entries := randomEntries(200, 5)
	require.NoError(t, tr.Load(entries))

	for _, e := range entries {
		ok, err := tr.Remove(e.ID, e.BBox)
		require.NoError(t, err)
		require.True(t, ok, e.ID)
	}
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 1, tr.Height())
	assert.Empty(t, tr.Search(World))
}

func TestLoad_MatchesBruteForce(t *testing.T) {
	tr := New(0)
	entries := randomEntries(2000, 42)
	require.NoError(t, tr.Load(entries))
	assert.Equal(t, 2000, tr.Len())

	for _, q := range []BBox{{0, 0, 50, 50}, {250, 100, 300, 900}, {-10, -10, 2000, 2000}} {
		assert.Equal(t, bruteForce(entries, q), ids(tr.Search(q)))
	}
}

func TestLoad_IntoExistingTreeOfDifferentHeights(t *testing.T) {
	tr := New(0)
	small := randomEntries(30, 1)
	for _, e := range small {
		require.NoError(t, tr.Insert(e))
	}

	big := randomEntries(800, 2)
	for i := range big {
		big[i].ID = "big-" + big[i].ID
	}
	require.NoError(t, tr.Load(big))

	more := randomEntries(40, 3)
	for i := range more {
		more[i].ID = "more-" + more[i].ID
	}
	require.NoError(t, tr.Load(more))

	all := append(append(append([]Entry{}, small...), big...), more...)
	assert.Equal(t, len(all), tr.Len())
	assert.Equal(t, ids(all), ids(tr.Search(World)))
	q := BBox{100, 100, 400, 400}
	assert.Equal(t, bruteForce(all, q), ids(tr.Search(q)))
}

func TestLoad_SmallBatchFallsBackToInsert(t *testing.T) {
	tr := New(0)
	require.NoError(t, tr.Load([]Entry{{ID: "only", BBox: BBox{1, 1, 2, 2}}}))
	assert.True(t, tr.Has("only"))
}

func TestLoad_InvalidEntryLeavesTreeUnchanged(t *testing.T) {
	tr := New(0)
	require.NoError(t, tr.Insert(Entry{ID: "keep", BBox: BBox{0, 0, 1, 1}}))

	batch := randomEntries(50, 9)
	batch[25].BBox.MaxX = math.Inf(1)

	err := tr.Load(batch)
	require.Error(t, err)
	assert.True(t, errs.IsKind[*errs.IndexError](err))
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, []string{"keep"}, ids(tr.All()))
}

func TestLoad_DuplicateInBatch(t *testing.T) {
	tr := New(0)
	batch := randomEntries(20, 4)
	batch[10].ID = batch[3].ID

	err := tr.Load(batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id in batch")
	assert.Equal(t, 0, tr.Len())
}

func TestClear(t *testing.T) {
	tr := New(0)
	require.NoError(t, tr.Load(randomEntries(100, 8)))
	tr.Clear()
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.All())
}

func TestConcurrentSearchDuringInsert(t *testing.T) {
	tr := New(0)
	require.NoError(t, tr.Load(randomEntries(300, 12)))

	extra := randomEntries(300, 13)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range extra {
			extra[i].ID = "x-" + extra[i].ID
			_ = tr.Insert(extra[i])
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = tr.Search(BBox{0, 0, 500, 500})
		}
	}()
	wg.Wait()

	assert.Equal(t, 600, tr.Len())
}
