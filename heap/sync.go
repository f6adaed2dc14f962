package heap

import "sync"

// optionalMutex guards a Heap created with CreateSynchronized and does nothing otherwise
type optionalMutex struct {
	mutex    sync.Mutex
	useMutex bool
}

func (m *optionalMutex) Lock() {
	if m.useMutex {
		m.mutex.Lock()
	}
}

func (m *optionalMutex) Unlock() {
	if m.useMutex {
		m.mutex.Unlock()
	}
}
