package flow

import "sync"

// phoneLocks serializes turns per phone number within one process. Cross
// process safety comes from the store's version check; this lock just keeps
// the common single-node case free of save conflicts.
type phoneLocks struct {
	mu    sync.Mutex
	locks map[string]*phoneLock
}

type phoneLock struct {
	mu   sync.Mutex
	refs int
}

func newPhoneLocks() *phoneLocks {
	return &phoneLocks{locks: make(map[string]*phoneLock)}
}

// Lock acquires the lock for a phone number and returns its unlock func.
func (p *phoneLocks) Lock(phoneNumber string) func() {
	p.mu.Lock()
	l, ok := p.locks[phoneNumber]
	if !ok {
		l = &phoneLock{}
		p.locks[phoneNumber] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, phoneNumber)
		}
		p.mu.Unlock()
	}
}
