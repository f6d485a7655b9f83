package engine

import (
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/flemzord/taleturn/internal/game"
)

// sessionRoster is the latest known roster of one session.
type sessionRoster struct {
	entities []game.Entity
	// round is the last round whose panels were folded in. Panels of an
	// older round never overwrite newer state.
	round   int
	touched time.Time
}

// rosterStore keeps the latest roster of each session so the parser can
// account for every entity on rounds that carry no world data. World data
// seeds it; every completed parse folds its panels in.
type rosterStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionRoster
}

func newRosterStore() *rosterStore {
	return &rosterStore{sessions: make(map[string]*sessionRoster)}
}

// seed replaces the session's roster with world data given for round.
func (s *rosterStore) seed(sessionID string, round int, roster []game.Entity, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = &sessionRoster{
		entities: cloneEntities(roster),
		round:    round - 1,
		touched:  now,
	}
}

// known reports whether the session has a roster.
func (s *rosterStore) known(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok
}

// get returns a copy of the session's roster, nil when none is known.
func (s *rosterStore) get(sessionID string, now time.Time) []game.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	r.touched = now
	return cloneEntities(r.entities)
}

// apply folds the panels of round into the session's roster. Entities
// are matched by id; unknown ids are appended in panel order. Backstory
// is kept, passive amounts only change when the panel carries one. It
// reports whether the roster changed.
func (s *rosterStore) apply(sessionID string, round int, panels []game.EntityPanel, now time.Time) bool {
	if len(panels) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[sessionID]
	if !ok {
		r = &sessionRoster{}
		s.sessions[sessionID] = r
	}
	if round < r.round {
		return false
	}
	r.round = round
	r.touched = now

	index := make(map[string]int, len(r.entities))
	for i, ent := range r.entities {
		index[ent.ID] = i
	}
	for _, p := range panels {
		if p.ID == "" {
			continue
		}
		i, known := index[p.ID]
		if !known {
			index[p.ID] = len(r.entities)
			r.entities = append(r.entities, game.Entity{ID: p.ID})
			i = len(r.entities) - 1
		}
		ent := &r.entities[i]
		if p.Name != "" {
			ent.Name = p.Name
		}
		ent.Cash = p.Cash
		if len(p.Attributes) > 0 {
			if ent.Attributes == nil {
				ent.Attributes = make(map[string]float64, len(p.Attributes))
			}
			maps.Copy(ent.Attributes, p.Attributes)
		}
		if p.PassiveIncome != 0 {
			ent.PassiveIncome = p.PassiveIncome
		}
		if p.PassiveExpense != 0 {
			ent.PassiveExpense = p.PassiveExpense
		}
	}
	return true
}

// clear drops the session's roster.
func (s *rosterStore) clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// sweep drops rosters untouched since cutoff and returns their sessions.
func (s *rosterStore) sweep(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cleared []string
	for id, r := range s.sessions {
		if r.touched.Before(cutoff) {
			delete(s.sessions, id)
			cleared = append(cleared, id)
		}
	}
	sort.Strings(cleared)
	return cleared
}

func cloneEntities(in []game.Entity) []game.Entity {
	if in == nil {
		return nil
	}
	out := slices.Clone(in)
	for i := range out {
		out[i].Attributes = maps.Clone(out[i].Attributes)
	}
	return out
}
