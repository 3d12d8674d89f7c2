package syncstate

import (
	"encoding/json"
)

// snapshot is the persisted JSON layout
type snapshot struct {
	SyncedIDs    []string              `json:"synced_ids"`
	FinalizedIDs []string              `json:"finalized_ids"`
	Cache        map[string]CacheEntry `json:"feishu_cache"`
	LastSyncTime string                `json:"last_sync_time"`
}

// MarshalJSON implements json.Marshaler
func (s *State) MarshalJSON() ([]byte, error) {
	cache := s.cache
	if cache == nil {
		cache = map[string]CacheEntry{}
	}
	return json.Marshal(snapshot{
		SyncedIDs:    s.synced.List(),
		FinalizedIDs: s.finalized.List(),
		Cache:        cache,
		LastSyncTime: s.LastSyncTime,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Oversized id lists keep their newest members.
func (s *State) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	fresh := New()
	for _, id := range snap.SyncedIDs {
		fresh.synced.Add(id)
	}
	for _, id := range snap.FinalizedIDs {
		fresh.finalized.Add(id)
	}
	for id, e := range snap.Cache {
		fresh.cache[id] = e
	}
	fresh.LastSyncTime = snap.LastSyncTime

	*s = *fresh
	return nil
}
