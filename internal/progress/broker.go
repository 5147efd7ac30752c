package progress

import "sync"

// Broker fans job events out to subscriptions. Publish never blocks: each
// subscription buffers its own backlog and drains it from a goroutine.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{} // job id, "" = all jobs
	closed bool
}

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe streams events for one job, starting with initial. The stream
// closes after the first terminal snapshot is delivered.
func (b *Broker) Subscribe(jobID string, initial Event) *Subscription {
	return b.subscribe(jobID, []Event{initial})
}

// SubscribeAll streams events for every job, starting with initial, until
// the subscription or the broker is closed.
func (b *Broker) SubscribeAll(initial []Event) *Subscription {
	return b.subscribe("", initial)
}

func (b *Broker) subscribe(jobID string, initial []Event) *Subscription {
	s := newSubscription(b, jobID)
	for _, ev := range initial {
		s.push(ev)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.Close()
		go s.pump()
		return s
	}
	set := b.subs[jobID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		b.subs[jobID] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()
	return s
}

// Publish delivers ev to the job's subscribers and to all-job subscribers.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[ev.Job.ID] {
		s.push(ev)
	}
	if ev.Job.ID != "" {
		for s := range b.subs[""] {
			s.push(ev)
		}
	}
}

// Close ends every subscription. Later subscriptions are closed at once.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	var all []*Subscription
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set := b.subs[s.jobID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.jobID)
		}
	}
}

// Subscription is a stream of events. Read from C until it is closed.
type Subscription struct {
	C <-chan Event

	out    chan Event
	broker *Broker
	jobID  string

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newSubscription(b *Broker, jobID string) *Subscription {
	out := make(chan Event)
	return &Subscription{
		C:      out,
		out:    out,
		broker: b,
		jobID:  jobID,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Close stops the stream and releases its resources. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.broker.remove(s)
	})
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	// The newest queued event for this job is the only candidate; replacing
	// it keeps per-job order intact.
	replaced := false
	for i := len(s.queue) - 1; i >= 0; i-- {
		if s.queue[i].Job.ID != ev.Job.ID {
			continue
		}
		if coalesces(s.queue[i], ev) {
			s.queue[i] = ev
			replaced = true
		}
		break
	}
	if !replaced {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
		if s.jobID != "" && ev.Job.State.IsTerminal() {
			s.Close()
			return
		}
	}
}
