package transport

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

type event struct {
	name string
	fn   func()
	last bool
}

// dispatcher runs application callbacks one at a time, in post order, on
// its own goroutine. Posting never blocks, so engine goroutines can post
// from inside their own callbacks.
type dispatcher struct {
	mu      sync.Mutex
	pending []event
	ended   bool
	kick    chan struct{}
	done    chan struct{}
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post queues fn. It reports false once the last event was posted.
func (d *dispatcher) post(name string, fn func()) bool {
	return d.push(event{name: name, fn: fn})
}

// postLast queues fn as the final event. Later posts are dropped.
func (d *dispatcher) postLast(name string, fn func()) bool {
	return d.push(event{name: name, fn: fn, last: true})
}

func (d *dispatcher) push(ev event) bool {
	d.mu.Lock()
	if d.ended {
		d.mu.Unlock()
		log.Debugf("dropping %s event after close", ev.name)
		return false
	}
	d.pending = append(d.pending, ev)
	d.ended = ev.last
	d.mu.Unlock()

	select {
	case d.kick <- struct{}{}:
	default:
	}
	return true
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.mu.Unlock()
			<-d.kick
			continue
		}
		ev := d.pending[0]
		d.pending[0] = event{}
		d.pending = d.pending[1:]
		d.mu.Unlock()

		d.call(ev)
		if ev.last {
			return
		}
	}
}

func (d *dispatcher) call(ev event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("event", ev.name).Errorf("handler panicked: %v", r)
		}
	}()
	if ev.fn != nil {
		ev.fn()
	}
}
