// Package note defines the note data model shared by the sync engine,
// the durable store and the wire protocol.
package note

import (
	"sort"
	"strings"
	"time"
)

// Note is the unit of synchronization. Identity is ID; Updated is the
// sole ordering and merge key and is stamped by the writer at write
// time, never by a store.
type Note struct {
	ID      string    `json:"id"`
	Content string    `json:"content"`
	Updated time.Time `json:"updated"`
}

// Valid reports whether the note carries a usable identity.
func (n Note) Valid() bool {
	return strings.TrimSpace(n.ID) != ""
}

// Sort orders notes by descending Updated, newest first. Ties keep a
// stable order by ID so repeated sorts are deterministic.
func Sort(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Updated.Equal(notes[j].Updated) {
			return notes[i].ID < notes[j].ID
		}
		return notes[i].Updated.After(notes[j].Updated)
	})
}

// Clone returns an independent copy of the slice so callers can hold a
// snapshot without aliasing engine-owned state.
func Clone(notes []Note) []Note {
	return append([]Note(nil), notes...)
}
