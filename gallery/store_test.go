package gallery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmc/geosnap/models"
)

type releaseCounter struct {
	calls map[string]int
}

func newReleaseCounter() *releaseCounter {
	return &releaseCounter{calls: map[string]int{}}
}

func (rc *releaseCounter) release(previewPath string) {
	rc.calls[previewPath]++
}

func record(id, name string, uploadedAt int64) *models.ImageRecord {
	return &models.ImageRecord{
		ID:          id,
		Name:        name,
		PreviewPath: "previews/" + id + ".jpg",
		UploadedAt:  uploadedAt,
	}
}

func pair(pairID, id1, id2 string) models.DuplicatePair {
	return models.DuplicatePair{PairID: pairID, ImageID1: id1, ImageID2: id2, Distance: 0.4}
}

func TestStore_RemoveDropsRecordAndReferencingPairs(t *testing.T) {
	rc := newReleaseCounter()
	s := NewStore(rc.release)
	s.Append(record("a", "a.jpg", 1), record("b", "b.jpg", 2), record("c", "c.jpg", 3))
	s.ReplacePairs([]models.DuplicatePair{pair("p1", "a", "b"), pair("p2", "b", "c")})

	require.True(t, s.Remove("b"))

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("b")
	assert.False(t, ok)
	assert.Empty(t, s.VisiblePairs(), "both pairs referenced b")
	assert.Equal(t, 1, rc.calls["previews/b.jpg"])
	assert.Len(t, rc.calls, 1)
}

func TestStore_RemoveUnknownIsNoOp(t *testing.T) {
	rc := newReleaseCounter()
	s := NewStore(rc.release)
	s.Append(record("a", "a.jpg", 1))

	assert.False(t, s.Remove("nope"))
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, rc.calls)
}

func TestStore_IdentifierComparisonIsNormalized(t *testing.T) {
	s := NewStore(nil)
	s.Append(record("ABC-123", "a.jpg", 1))

	_, ok := s.Get("  abc-123 ")
	assert.True(t, ok)
	assert.True(t, s.Remove("abc-123"))
	assert.Equal(t, 0, s.Len())
}

func TestStore_ClearReleasesEveryPreviewExactlyOnce(t *testing.T) {
	rc := newReleaseCounter()
	s := NewStore(rc.release)
	s.Append(record("a", "a.jpg", 1), record("b", "b.jpg", 2))
	s.ReplacePairs([]models.DuplicatePair{pair("p1", "a", "b")})

	assert.Equal(t, 2, s.Clear())
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.VisiblePairs())

	for path, n := range rc.calls {
		assert.Equalf(t, 1, n, "preview %s released %d times", path, n)
	}
	assert.Len(t, rc.calls, 2)

	// clearing again releases nothing
	assert.Equal(t, 0, s.Clear())
	assert.Len(t, rc.calls, 2)
	for _, n := range rc.calls {
		assert.Equal(t, 1, n)
	}
}

func TestStore_ListIsDerivedView(t *testing.T) {
	s := NewStore(nil)
	s.Append(record("a", "IMG_10.jpg", 10), record("b", "IMG_2.jpg", 30), record("c", "IMG_1.jpg", 20))

	ids := func(records []*models.ImageRecord) []string {
		out := make([]string, len(records))
		for i, r := range records {
			out[i] = r.ID
		}
		return out
	}

	assert.Equal(t, []string{"b", "c", "a"}, ids(s.List(DefaultSortOrder)), "most-recent-first")
	assert.Equal(t, []string{"a", "c", "b"}, ids(s.List(SortDateAsc)))
	assert.Equal(t, []string{"c", "a", "b"}, ids(s.List(SortNameAsc)), "lexicographic: IMG_1, IMG_10, IMG_2")
	assert.Equal(t, []string{"c", "b", "a"}, ids(s.List(SortNameNat)), "natural: IMG_1, IMG_2, IMG_10")

	// the view never reorders storage
	assert.Equal(t, "a", s.List(SortDateAsc)[0].ID)
	require.True(t, s.Remove("a"))
	assert.Equal(t, []string{"b", "c"}, ids(s.List(DefaultSortOrder)))
}

func TestStore_VisiblePairsSkipsDanglingReferences(t *testing.T) {
	s := NewStore(nil)
	s.Append(record("a", "a.jpg", 1), record("b", "b.jpg", 2))
	s.ReplacePairs([]models.DuplicatePair{
		pair("p1", "a", "b"),
		pair("p2", "a", "ghost"), // backend reported an id the gallery no longer has
	})

	visible := s.VisiblePairs()
	require.Len(t, visible, 1)
	assert.Equal(t, "p1", visible[0].PairID)
}

func TestStore_ApplyResolution(t *testing.T) {
	t.Run("keep_first_remove_second", func(t *testing.T) {
		rc := newReleaseCounter()
		s := NewStore(rc.release)
		s.Append(record("a", "a.jpg", 1), record("b", "b.jpg", 2), record("x", "x.jpg", 3), record("y", "y.jpg", 4))
		s.ReplacePairs([]models.DuplicatePair{pair("p1", "a", "b"), pair("p2", "x", "y")})

		p, ok := s.PairByID("p1")
		require.True(t, ok)
		s.ApplyResolution(p, models.ActionKeepFirstRemoveSecond)

		_, aOK := s.Get("a")
		_, bOK := s.Get("b")
		assert.True(t, aOK, "first record kept")
		assert.False(t, bOK, "second record removed")
		assert.Equal(t, 1, rc.calls["previews/b.jpg"])

		visible := s.VisiblePairs()
		require.Len(t, visible, 1, "unrelated pair untouched")
		assert.Equal(t, "p2", visible[0].PairID)
	})

	t.Run("remove_first_keep_second", func(t *testing.T) {
		s := NewStore(nil)
		s.Append(record("a", "a.jpg", 1), record("b", "b.jpg", 2))
		s.ReplacePairs([]models.DuplicatePair{pair("p1", "a", "b")})

		p, _ := s.PairByID("p1")
		s.ApplyResolution(p, models.ActionRemoveFirstKeepSecond)

		_, aOK := s.Get("a")
		_, bOK := s.Get("b")
		assert.False(t, aOK)
		assert.True(t, bOK)
		assert.Empty(t, s.VisiblePairs())
	})

	t.Run("save_both", func(t *testing.T) {
		s := NewStore(nil)
		s.Append(record("a", "a.jpg", 1), record("b", "b.jpg", 2))
		s.ReplacePairs([]models.DuplicatePair{pair("p1", "a", "b")})

		p, _ := s.PairByID("p1")
		s.ApplyResolution(p, models.ActionSaveBoth)

		assert.Equal(t, 2, s.Len())
		assert.Empty(t, s.VisiblePairs())
	})
}

func TestStore_ReplacePairsCopiesInput(t *testing.T) {
	s := NewStore(nil)
	s.Append(record("a", "a.jpg", 1), record("b", "b.jpg", 2))

	in := []models.DuplicatePair{pair("p1", "a", "b")}
	s.ReplacePairs(in)
	in[0].PairID = "mutated"

	p, ok := s.PairByID("p1")
	require.True(t, ok)
	assert.Equal(t, "p1", p.PairID)
}
