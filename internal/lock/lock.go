// Package lock serializes operations on the same parking plate, either within
// one process or across instances sharing a Redis server.
package lock

import "context"

// Locker grants exclusive access to a key until the returned unlock function
// is called.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
