// Package lock provides per-device locking for connection lifecycle
// operations. A device reconnecting while its previous connection is
// still tearing down must not interleave registry updates.
package lock

import "sync"

// deviceMutex wraps a mutex so instances can be pooled.
type deviceMutex struct {
	mu sync.Mutex
}

// DeviceLock provides per-device-id locking.
type DeviceLock struct {
	locks sync.Map // map[string]*deviceMutex
	pool  sync.Pool
}

// NewDeviceLock creates a new DeviceLock instance.
func NewDeviceLock() *DeviceLock {
	return &DeviceLock{
		pool: sync.Pool{
			New: func() any {
				return &deviceMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given device id.
func (dl *DeviceLock) getLock(deviceID string) *deviceMutex {
	if v, ok := dl.locks.Load(deviceID); ok {
		return v.(*deviceMutex)
	}

	newLock := dl.pool.Get().(*deviceMutex)
	actual, loaded := dl.locks.LoadOrStore(deviceID, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool.
		dl.pool.Put(newLock)
	}
	return actual.(*deviceMutex)
}

// Lock acquires the lock for a device.
func (dl *DeviceLock) Lock(deviceID string) {
	dl.getLock(deviceID).mu.Lock()
}

// Unlock releases the lock for a device.
func (dl *DeviceLock) Unlock(deviceID string) {
	if v, ok := dl.locks.Load(deviceID); ok {
		v.(*deviceMutex).mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (dl *DeviceLock) TryLock(deviceID string) bool {
	return dl.getLock(deviceID).mu.TryLock()
}

// WithLock executes fn while holding the device's lock.
func (dl *DeviceLock) WithLock(deviceID string, fn func() error) error {
	dl.Lock(deviceID)
	defer dl.Unlock(deviceID)
	return fn()
}
