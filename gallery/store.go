package gallery

import (
	"log"
	"sort"
	"sync"

	"github.com/facette/natsort"

	"github.com/calebmc/geosnap/models"
)

// ReleaseFunc frees a record's preview resource. The store guarantees it is
// invoked exactly once per record, at removal or bulk clear.
type ReleaseFunc func(previewPath string)

// Store is the in-memory gallery: an ordered collection of image records plus
// the current candidate duplicate pair list. Storage order is insertion order,
// which keeps identifiers stable; display ordering is a derived view.
//
// Store's methods are concurrency safe.
type Store struct {
	mu      sync.RWMutex
	records []*models.ImageRecord
	pairs   []models.DuplicatePair
	release ReleaseFunc
}

// NewStore creates an empty store. release may be nil when there is no
// preview resource to free (tests).
func NewStore(release ReleaseFunc) *Store {
	if release == nil {
		release = func(string) {}
	}
	return &Store{release: release}
}

// Append adds records in insertion order. No de-duplication by content; only
// the caller-chosen identifier distinguishes records.
func (s *Store) Append(records ...*models.ImageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// Get returns the record with the given identifier.
func (s *Store) Get(id string) (*models.ImageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	norm := models.NormalizeID(id)
	for _, rec := range s.records {
		if models.NormalizeID(rec.ID) == norm {
			return rec, true
		}
	}
	return nil, false
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Remove deletes the record with the given identifier, releases its preview
// resource and drops any pair referencing it. Removing an unknown identifier
// is a no-op, not an error; it returns false.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Store) removeLocked(id string) bool {
	norm := models.NormalizeID(id)
	idx := -1
	for i, rec := range s.records {
		if models.NormalizeID(rec.ID) == norm {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	removed := s.records[idx]
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	s.release(removed.PreviewPath)

	kept := s.pairs[:0]
	for _, pair := range s.pairs {
		if models.NormalizeID(pair.ImageID1) == norm || models.NormalizeID(pair.ImageID2) == norm {
			continue
		}
		kept = append(kept, pair)
	}
	s.pairs = kept
	return true
}

// Clear removes every record and pair, releasing each preview resource
// exactly once. It returns the number of records removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records)
	for _, rec := range s.records {
		s.release(rec.PreviewPath)
	}
	s.records = nil
	s.pairs = nil
	return n
}

// List returns a derived, sorted view of the records. The default ordering is
// most-recent-first by timestamp; name orderings are offered for display.
func (s *Store) List(sortOrder string) []*models.ImageRecord {
	s.mu.RLock()
	out := make([]*models.ImageRecord, len(s.records))
	copy(out, s.records)
	s.mu.RUnlock()

	switch sortOrder {
	case SortDateAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].UploadedAt < out[j].UploadedAt })
	case SortNameAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	case SortNameNat:
		sort.SliceStable(out, func(i, j int) bool { return natsort.Compare(out[i].Name, out[j].Name) })
	default:
		// most-recent-first
		sort.SliceStable(out, func(i, j int) bool { return out[i].UploadedAt > out[j].UploadedAt })
	}
	return out
}

// ReplacePairs swaps the current pair list for the backend's candidate list.
// Called only on a successful proximity check; a failed check leaves the
// prior pairs untouched.
func (s *Store) ReplacePairs(pairs []models.DuplicatePair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = append([]models.DuplicatePair(nil), pairs...)
}

// VisiblePairs returns the pairs whose two referenced records both exist. A
// pair with a dangling reference is stale and silently skipped.
func (s *Store) VisiblePairs() []models.DuplicatePair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing := make(map[string]bool, len(s.records))
	for _, rec := range s.records {
		existing[models.NormalizeID(rec.ID)] = true
	}

	out := make([]models.DuplicatePair, 0, len(s.pairs))
	for _, pair := range s.pairs {
		if existing[models.NormalizeID(pair.ImageID1)] && existing[models.NormalizeID(pair.ImageID2)] {
			out = append(out, pair)
		}
	}
	return out
}

// PairByID returns the stored pair with the given identifier.
func (s *Store) PairByID(pairID string) (models.DuplicatePair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	norm := models.NormalizeID(pairID)
	for _, pair := range s.pairs {
		if models.NormalizeID(pair.PairID) == norm {
			return pair, true
		}
	}
	return models.DuplicatePair{}, false
}

// ApplyResolution mutates the store for an already-confirmed resolution: the
// pair is dropped and, for the remove actions, the losing record goes with
// it. Callers must have recorded the decision remotely first; this method
// performs only the local state change.
func (s *Store) ApplyResolution(pair models.DuplicatePair, action string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	norm := models.NormalizeID(pair.PairID)
	kept := s.pairs[:0]
	for _, p := range s.pairs {
		if models.NormalizeID(p.PairID) == norm {
			continue
		}
		kept = append(kept, p)
	}
	s.pairs = kept

	switch action {
	case models.ActionKeepFirstRemoveSecond:
		s.removeLocked(pair.ImageID2)
	case models.ActionRemoveFirstKeepSecond:
		s.removeLocked(pair.ImageID1)
	case models.ActionSaveBoth:
		// both records stay
	default:
		log.Printf("gallery: ignoring unknown resolution action %q for pair %s", action, pair.PairID)
	}
}
