package send

import "sync"

var accountLocks sync.Map

// acquireAccountLock serializes pre-load, estimation and submission per account.
func acquireAccountLock(pkh string) func() {
	v, _ := accountLocks.LoadOrStore(pkh, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
