package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// rerollTTL is how long a reroll button stays live after the reply is sent.
const rerollTTL = 5 * time.Minute

// RerollState links a sent reply to the trigger that produced it, so the
// regenerate button can re-run the same input and edit in place.
type RerollState struct {
	AgentName string
	ChannelID string
	MessageID string // the sent reply to edit
	Trigger   Inbound
	expires   time.Time
}

// RerollStore holds live reroll states keyed by an opaque id embedded in
// the button's custom id. Entries expire after five minutes.
type RerollStore struct {
	mu      sync.Mutex
	entries map[string]RerollState
}

func NewRerollStore() *RerollStore {
	return &RerollStore{entries: make(map[string]RerollState)}
}

// NewID mints a key for a reroll button.
func (r *RerollStore) NewID() string { return uuid.NewString() }

// Put registers the state behind a minted id and sweeps expired entries.
func (r *RerollStore) Put(id string, state RerollState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for k, v := range r.entries {
		if now.After(v.expires) {
			delete(r.entries, k)
		}
	}

	state.expires = now.Add(rerollTTL)
	r.entries[id] = state
}

// Get returns the live state for id, if it has not expired.
func (r *RerollStore) Get(id string) (RerollState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.entries[id]
	if !ok {
		return RerollState{}, false
	}
	if time.Now().After(state.expires) {
		delete(r.entries, id)
		return RerollState{}, false
	}
	return state, true
}
