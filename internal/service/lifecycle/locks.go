package lifecycle

import (
	"sync"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
)

// EnvLocks serializes lifecycle-changing operations per environment. At most
// one operation may hold an environment at any time; a second try-acquire is
// rejected, never queued.
type EnvLocks struct {
	mu   sync.Mutex
	held map[string]string
}

// NewEnvLocks returns an empty lock table.
func NewEnvLocks() *EnvLocks {
	return &EnvLocks{held: make(map[string]string)}
}

// TryAcquire claims the environment for the given operation or returns an
// operation_in_progress error naming the holder.
func (l *EnvLocks) TryAcquire(environmentID, operationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, busy := l.held[environmentID]; busy {
		return domain.NewOperationError(domain.ReasonOperationInProgress,
			"environment %s is locked by operation %s", environmentID, holder)
	}
	l.held[environmentID] = operationID
	return nil
}

// Release frees the environment. Releasing an unheld environment is a no-op.
func (l *EnvLocks) Release(environmentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, environmentID)
}

// Holder returns the operation currently holding the environment, if any.
func (l *EnvLocks) Holder(environmentID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	holder, busy := l.held[environmentID]
	return holder, busy
}
