// station.go
package radiobot

import "strings"

// Station is a named internet radio stream.
type Station struct {
	ID   string
	Name string
	URL  string
}

// Stations is the fixed station table. Lookups are case-insensitive.
type Stations struct {
	order []Station
	byID  map[string]Station
}

// NewStations builds a table keeping the given order for listings.
func NewStations(stations ...Station) *Stations {
	s := &Stations{byID: make(map[string]Station, len(stations))}
	for _, st := range stations {
		id := strings.ToLower(st.ID)
		if _, dup := s.byID[id]; dup {
			continue
		}
		st.ID = id
		s.order = append(s.order, st)
		s.byID[id] = st
	}
	return s
}

// DefaultStations returns the two stations the bot ships with.
func DefaultStations() *Stations {
	return NewStations(
		Station{ID: "hitradio", Name: "Hit Radio", URL: "https://hitradio-maroc.ice.infomaniak.ch/hitradio-maroc-128.mp3"},
		Station{ID: "francemaghreb", Name: "France Maghreb", URL: "https://francemaghreb2.ice.infomaniak.ch/francemaghreb2-high.mp3"},
	)
}

// Resolve looks a station up by identifier.
func (s *Stations) Resolve(id string) (Station, bool) {
	st, ok := s.byID[strings.ToLower(id)]
	return st, ok
}

// All returns the stations in listing order.
func (s *Stations) All() []Station {
	return append([]Station(nil), s.order...)
}

// AllowList is the fixed set of users allowed to command and be followed.
type AllowList map[string]struct{}

// NewAllowList ignores blank identifiers so an unset entry never matches.
func NewAllowList(ids ...string) AllowList {
	a := make(AllowList, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			a[id] = struct{}{}
		}
	}
	return a
}

func (a AllowList) Allows(userID string) bool {
	if userID == "" {
		return false
	}
	_, ok := a[userID]
	return ok
}
