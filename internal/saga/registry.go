// Package saga coordinates OTC trade settlement as a staged state machine
// with compensating rollback. Every stage transition is written to the
// durable saga log before the trading subsystem is acknowledged, so a crash
// mid-trade can be recovered on restart.
package saga

import (
	"sync"

	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
)

// entry pairs the in-flight trade state with its own mutex. Transitions on
// one uid are fully serialized; distinct uids never contend.
type entry struct {
	mu    sync.Mutex
	trade models.TradeSettlement
}

type registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

// put registers a new trade. Returns false when the uid is already active.
func (r *registry) put(t models.TradeSettlement) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[t.UID]; ok {
		return false
	}
	r.entries[t.UID] = &entry{trade: t}
	return true
}

func (r *registry) get(uid string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[uid]
	return e, ok
}

// remove must only be called while holding the entry's own mutex, after the
// trade reached a terminal outcome.
func (r *registry) remove(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, uid)
}
