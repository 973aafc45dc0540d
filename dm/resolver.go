// Package dm canonicalizes two-party conversations into a single chatroom.
package dm

import (
	"sort"
	"strings"

	"netchat/models"
)

// Prefix marks direct-message room names.
const Prefix = "DM_"

// RoomStore is the part of the chatroom store the resolver needs.
type RoomStore interface {
	RoomsForUser(user string) ([]models.RoomSummary, error)
	Create(name, creator string, members ...string) (string, error)
}

type Resolver struct {
	rooms RoomStore
}

func NewResolver(rooms RoomStore) *Resolver {
	return &Resolver{rooms: rooms}
}

// ResolveOrCreate returns the direct-message room for the unordered pair
// {a, b}, creating it when none exists. The scan and the create are not
// atomic: two callers resolving the same new pair at once can both create a
// room.
func (r *Resolver) ResolveOrCreate(a, b string) (string, bool, error) {
	lo, hi := Pair(a, b)

	rooms, err := r.rooms.RoomsForUser(lo)
	if err != nil {
		return "", false, err
	}
	for _, room := range rooms {
		if IsDirect(room, lo, hi) {
			return room.ID, false, nil
		}
	}

	id, err := r.rooms.Create(Name(lo, hi), lo, lo, hi)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Pair orders two user ids lexicographically.
func Pair(a, b string) (string, string) {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0], pair[1]
}

// Name is the canonical room name for a pair.
func Name(a, b string) string {
	lo, hi := Pair(a, b)
	return Prefix + lo + "_" + hi
}

// IsDirect reports whether room is the direct-message room of exactly {a, b}.
func IsDirect(room models.RoomSummary, a, b string) bool {
	if !strings.HasPrefix(room.Name, Prefix) {
		return false
	}
	want := map[string]bool{a: true, b: true}
	got := make(map[string]bool, len(room.Members))
	for _, m := range room.Members {
		got[m] = true
	}
	if len(got) != len(want) {
		return false
	}
	for m := range want {
		if !got[m] {
			return false
		}
	}
	return true
}
