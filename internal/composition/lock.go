package composition

import (
	"sync"

	"gorm.io/gorm"
)

// advisoryKey identifies the composition graph in pg_advisory_xact_lock.
const advisoryKey int64 = 0x636f6d70 // "comp"

// Lock serializes graph writers within a process and lets readers share.
// Every service touching the graph must hold the same *Lock.
type Lock struct {
	mu sync.RWMutex
}

// NewLock returns an unlocked graph lock.
func NewLock() *Lock { return &Lock{} }

func (l *Lock) Lock()    { l.mu.Lock() }
func (l *Lock) Unlock()  { l.mu.Unlock() }
func (l *Lock) RLock()   { l.mu.RLock() }
func (l *Lock) RUnlock() { l.mu.RUnlock() }

// LockTx extends the write lock across processes for the lifetime of tx.
// It is a no-op on dialects without transaction-scoped advisory locks.
func LockTx(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", advisoryKey).Error
}
