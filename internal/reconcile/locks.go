package reconcile

import "sync"

// accountLocks serializes scans per account within this process. When redis
// is configured, a distributed lock guards cross-process scans as well; this
// covers the redis-less deployment.
type accountLocks struct {
	mu   sync.Mutex
	held map[int64]bool
}

func newAccountLocks() *accountLocks {
	return &accountLocks{held: make(map[int64]bool)}
}

// tryAcquire claims the account. Returns false when a scan is already running.
func (l *accountLocks) tryAcquire(accountID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[accountID] {
		return false
	}
	l.held[accountID] = true
	return true
}

func (l *accountLocks) release(accountID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, accountID)
}
