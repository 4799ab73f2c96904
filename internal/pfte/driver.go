/*
 * Copyright 2026 The FileRipper Team
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package pfte

import (
	"sync"
	"time"
)

const (
	initialThrottle   = time.Millisecond
	queueMaxThrottle   = 2 * time.Second
	unthrottledBurstCap = 10
)

// strandPusher is the slice of ProcessingStrand this driver needs: submit
// a task, and ask whether it is still accepting them. Scoped down to an
// interface so the driver doesn't import the async package's concrete
// type just to call PushTask.
type strandPusher interface {
	PushTask(func()) bool
}

// Driver runs an OperationQueue on a strand via the throttled re-entry
// loop described in spec §4.13: a burst of quanta that keep reporting
// progress run back-to-back (up to a cap), and idle periods back off
// exponentially up to queueMaxThrottle.
type Driver struct {
	strand strandPusher
	queue  *OperationQueue

	mu        sync.Mutex
	throttle  time.Duration
	stopped   bool
	scheduled bool
}

// NewDriver builds a driver for queue, running on strand.
func NewDriver(strand strandPusher, queue *OperationQueue) *Driver {
	return &Driver{strand: strand, queue: queue, throttle: initialThrottle}
}

// Kick resets the throttle and ensures a cycle is scheduled; called on
// every new enqueue and on pause/resume toggles.
func (d *Driver) Kick() {
	d.mu.Lock()
	d.throttle = initialThrottle
	already := d.scheduled
	d.scheduled = true
	d.mu.Unlock()

	if !already {
		d.strand.PushTask(d.runCycle)
	}
}

// Stop prevents any further cycles from being scheduled.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

func (d *Driver) runCycle() {
	unthrottled := 0
	for {
		if d.isStopped() {
			return
		}
		changed := d.queue.Work()
		if changed {
			unthrottled++
			if unthrottled < unthrottledBurstCap {
				continue
			}
		}
		break
	}
	d.scheduleNext()
}

func (d *Driver) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *Driver) scheduleNext() {
	d.mu.Lock()
	if d.stopped {
		d.scheduled = false
		d.mu.Unlock()
		return
	}
	d.throttle *= 2
	if d.throttle > queueMaxThrottle {
		d.throttle = queueMaxThrottle
	}
	delay := d.throttle
	d.mu.Unlock()

	time.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.stopped {
			d.scheduled = false
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
		d.strand.PushTask(d.runCycle)
	})
}
