package main

import "sync"

// dispatcher runs jobs in submission order per key. Jobs for different keys
// run in parallel, at most limit of them at a time.
type dispatcher struct {
	mu     sync.Mutex
	queues map[string][]func()
	sem    chan struct{}
	wg     sync.WaitGroup
}

func newDispatcher(limit int) *dispatcher {
	if limit < 1 {
		limit = 1
	}
	return &dispatcher{
		queues: map[string][]func(){},
		sem:    make(chan struct{}, limit),
	}
}

// Submit queues fn behind any pending jobs for key.
func (d *dispatcher) Submit(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wg.Add(1)
	q, active := d.queues[key]
	d.queues[key] = append(q, fn)
	if !active {
		go d.drain(key)
	}
}

func (d *dispatcher) drain(key string) {
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		fn := q[0]
		d.queues[key] = q[1:]
		d.mu.Unlock()

		d.sem <- struct{}{}
		fn()
		<-d.sem
		d.wg.Done()
	}
}

// Wait blocks until every submitted job has finished.
func (d *dispatcher) Wait() {
	d.wg.Wait()
}
