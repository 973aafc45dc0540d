package ledger

import (
	"sort"
	"sync"
	"time"

	"netchat/models"
)

// DefaultLimit is how many results are kept per address.
const DefaultLimit = 100

// Ledger is a bounded, in-memory history of node results keyed by address.
// The map and every per-address slice are guarded by one mutex.
type Ledger struct {
	mu      sync.Mutex
	limit   int
	entries map[string][]models.LedgerEntry
}

func New() *Ledger {
	return NewWithLimit(DefaultLimit)
}

func NewWithLimit(limit int) *Ledger {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Ledger{
		limit:   limit,
		entries: make(map[string][]models.LedgerEntry),
	}
}

// Record appends a result and drops the oldest entries beyond the limit.
func (l *Ledger) Record(address, content string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := append(l.entries[address], models.LedgerEntry{
		Content:    content,
		ObservedAt: at,
	})
	if over := len(history) - l.limit; over > 0 {
		// copy so the dropped prefix can be collected
		trimmed := make([]models.LedgerEntry, l.limit)
		copy(trimmed, history[over:])
		history = trimmed
	}
	l.entries[address] = history
}

// History returns a copy of the entries for address, oldest first.
func (l *Ledger) History(address string) []models.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[address]
	out := make([]models.LedgerEntry, len(history))
	copy(out, history)
	return out
}

func (l *Ledger) Clear(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, address)
}

// Addresses lists every address with at least one entry.
func (l *Ledger) Addresses() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	addrs := make([]string, 0, len(l.entries))
	for addr, history := range l.entries {
		if len(history) > 0 {
			addrs = append(addrs, addr)
		}
	}
	sort.Strings(addrs)
	return addrs
}

// Len returns the number of entries held for address.
func (l *Ledger) Len(address string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[address])
}
