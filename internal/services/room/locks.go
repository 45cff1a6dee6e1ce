package room

import (
	"sync"

	"github.com/mcoot/storyguess/internal/model"
)

// roomLocks hands out one RWMutex per room. Phase-changing writes hold the
// write lock; guess submissions share the read lock so they never wait on
// each other, only on transitions.
type roomLocks struct {
	mu    sync.Mutex
	locks map[model.RoomID]*sync.RWMutex
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[model.RoomID]*sync.RWMutex)}
}

func (l *roomLocks) get(id model.RoomID) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.RWMutex{}
		l.locks[id] = lock
	}
	return lock
}

// forget drops the lock for a deleted room. Holders keep their reference.
func (l *roomLocks) forget(id model.RoomID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, id)
}

func (l *roomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
