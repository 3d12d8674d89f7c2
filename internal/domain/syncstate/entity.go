package syncstate

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// MaxSyncedIDs bounds the synced id set; oldest ids are evicted first
	MaxSyncedIDs = 3000
	// MaxFinalizedIDs bounds the finalized id set; oldest ids are evicted first
	MaxFinalizedIDs = 2000
)

// CacheEntry is the last known view of one remote row
type CacheEntry struct {
	RecordID   string          `json:"record_id"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Leverage   int             `json:"leverage"`
	MarginSize decimal.Decimal `json:"margin_size"`
	OpenTime   int64           `json:"open_time,omitempty"`
}

// State is everything the sync loop persists between cycles.
// It is owned by a single goroutine and is not safe for concurrent use.
type State struct {
	synced    *idSet
	finalized *idSet
	cache     map[string]CacheEntry

	LastSyncTime string
}

// New returns an empty state
func New() *State {
	return &State{
		synced:    newIDSet(MaxSyncedIDs),
		finalized: newIDSet(MaxFinalizedIDs),
		cache:     make(map[string]CacheEntry),
	}
}

// IsFinalized reports whether a terminal write was already made for id
func (s *State) IsFinalized(id string) bool {
	return s.finalized.Has(id)
}

// MarkFinalized records a terminal write for id
func (s *State) MarkFinalized(id string) {
	s.finalized.Add(id)
}

// MarkSynced records that a row was created or adopted for id
func (s *State) MarkSynced(id string) {
	s.synced.Add(id)
}

// IsSynced reports whether id was ever written
func (s *State) IsSynced(id string) bool {
	return s.synced.Has(id)
}

// Entry returns the cache entry for id
func (s *State) Entry(id string) (CacheEntry, bool) {
	e, ok := s.cache[id]
	return e, ok
}

// PutEntry stores the cache entry for id
func (s *State) PutEntry(id string, e CacheEntry) {
	s.cache[id] = e
}

// DeleteEntry drops the cache entry for id
func (s *State) DeleteEntry(id string) {
	delete(s.cache, id)
}

// CacheLen returns the number of cached rows
func (s *State) CacheLen() int {
	return len(s.cache)
}

// MergeCache adds entries that are not cached yet. Existing entries win.
func (s *State) MergeCache(entries map[string]CacheEntry) int {
	added := 0
	for id, e := range entries {
		if _, ok := s.cache[id]; ok {
			continue
		}
		s.cache[id] = e
		added++
	}
	return added
}

// KeysWithPrefix returns cached ids starting with prefix, sorted
func (s *State) KeysWithPrefix(prefix string) []string {
	keys := make([]string, 0)
	for id := range s.cache {
		if strings.HasPrefix(id, prefix) {
			keys = append(keys, id)
		}
	}
	sort.Strings(keys)
	return keys
}

// SyncedIDs returns synced ids, oldest first
func (s *State) SyncedIDs() []string {
	return s.synced.List()
}

// FinalizedIDs returns finalized ids, oldest first
func (s *State) FinalizedIDs() []string {
	return s.finalized.List()
}

// idSet is an insertion-ordered set that evicts its oldest member past limit
type idSet struct {
	limit int
	order []string
	index map[string]struct{}
}

func newIDSet(limit int) *idSet {
	return &idSet{limit: limit, index: make(map[string]struct{})}
}

func (s *idSet) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *idSet) Add(id string) {
	if s.Has(id) {
		return
	}
	s.order = append(s.order, id)
	s.index[id] = struct{}{}
	for len(s.order) > s.limit {
		delete(s.index, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *idSet) List() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
