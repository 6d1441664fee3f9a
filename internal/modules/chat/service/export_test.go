package service

// WaiterCount reports how many Await calls are parked on entryID.
func WaiterCount(m *Manager, entryID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters[entryID])
}
