package download_manager

import "sync/atomic"

type counter struct {
	count int32
}

func (c *counter) Increment() {
	atomic.AddInt32(&c.count, 1)
}

func (c *counter) Get() int {
	return int(atomic.LoadInt32(&c.count))
}

// DownloadStats holds lifetime counters for the manager. Cancelled tasks
// are tracked separately from failures: a user-initiated cancellation is
// not an error for statistics purposes.
type DownloadStats struct {
	Completed int // Number of tasks that reached completed
	Failed    int // Number of tasks that reached failed
	Cancelled int // Number of tasks cancelled by the user
}
