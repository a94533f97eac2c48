package notifier

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds one delivery to one notifier.
const DefaultTimeout = 10 * time.Second

// Registry fans trade events out to every registered notifier.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	timeout   time.Duration
}

func NewRegistry() *Registry {
	return &Registry{
		notifiers: make(map[string]Notifier),
		timeout:   DefaultTimeout,
	}
}

// SetTimeout changes the per-notifier delivery bound. Zero disables it.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

// Register adds n under n.Name(). Names are unique.
func (r *Registry) Register(n Notifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := n.Name()
	if _, dup := r.notifiers[name]; dup {
		return fmt.Errorf("notifier %s already registered", name)
	}
	r.notifiers[name] = n
	return nil
}

// Names returns registered notifier names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.notifiers))
	for name := range r.notifiers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notifiers)
}

// NotifyAll delivers events to every notifier concurrently: a single event
// through Send, several through one SendBatch. It waits for all deliveries
// and returns the failures keyed by notifier name.
func (r *Registry) NotifyAll(ctx context.Context, events ...Event) map[string]error {
	if len(events) == 0 {
		return nil
	}

	r.mu.RLock()
	targets := make(map[string]Notifier, len(r.notifiers))
	for name, n := range r.notifiers {
		targets[name] = n
	}
	timeout := r.timeout
	r.mu.RUnlock()

	var (
		mu   sync.Mutex
		errs = make(map[string]error)
		g    errgroup.Group
	)
	for name, n := range targets {
		g.Go(func() error {
			dctx, cancel := ctx, context.CancelFunc(func() {})
			if timeout > 0 {
				dctx, cancel = context.WithTimeout(ctx, timeout)
			}
			defer cancel()

			var err error
			if len(events) == 1 {
				err = n.Send(dctx, events[0])
			} else {
				err = n.SendBatch(dctx, events)
			}
			if err != nil {
				mu.Lock()
				errs[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
