package conflict

import "encoding/json"

// ClientItem is a client-submitted change projected to the fields needed for
// conflict detection
type ClientItem struct {
	EntityID   string          `json:"entity_id"`
	EntityType string          `json:"entity_type"`
	Version    int64           `json:"version"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Conflict is a detected version collision: the client's change was computed
// from data older than what the server now holds
type Conflict struct {
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	ServerVersion int64           `json:"server_version"`
	ServerData    json.RawMessage `json:"server_data,omitempty"`
	ClientVersion int64           `json:"client_version"`
	ClientData    json.RawMessage `json:"client_data,omitempty"`
}

// DetectConflicts compares client items against authoritative server
// versions. A conflict exists iff a server version is known for the item's
// entity id and it is strictly greater than the client's base version.
// The result preserves the input order. Pure: no state, no side effects.
//
// This is standard optimistic concurrency: version numbers act as a logical
// clock per entity, and only writes that would silently clobber newer server
// state are flagged.
func DetectConflicts(items []ClientItem, serverVersions map[string]int64) []Conflict {
	var conflicts []Conflict

	for _, item := range items {
		serverVersion, known := serverVersions[item.EntityID]
		if !known {
			// Entity unknown to the server: nothing to clobber
			continue
		}
		if serverVersion <= item.Version {
			continue
		}

		conflicts = append(conflicts, Conflict{
			EntityType:    item.EntityType,
			EntityID:      item.EntityID,
			ServerVersion: serverVersion,
			ClientVersion: item.Version,
			ClientData:    item.Data,
		})
	}

	return conflicts
}
