package worker

import "sync"

// Report lists the batch items that must be redelivered because they failed.
// An empty report means the whole batch was accepted; ids absent from a
// non-empty report must not be redelivered.
type Report struct {
	FailedIDs []string
}

func (r Report) Empty() bool { return len(r.FailedIDs) == 0 }

// failures is a goroutine-safe append-only id collection. Append order is
// irrelevant, so a mutex-guarded slice is all the coordination the batch
// needs; contention is bounded by batch size.
type failures struct {
	mu  sync.Mutex
	ids []string
}

func (f *failures) add(id string) {
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
}

func (f *failures) report() Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return Report{}
	}
	ids := make([]string, len(f.ids))
	copy(ids, f.ids)
	return Report{FailedIDs: ids}
}
