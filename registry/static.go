package registry

import (
	"context"
	"slices"
	"sync"
)

// Static is an in-memory Registry. It backs tests and deployments where the
// authority address is configured instead of discovered.
type Static struct {
	mu       sync.Mutex
	realms   map[string][]Instance
	watchers map[string][]chan []Instance
}

func NewStatic(realm string, instances ...Instance) *Static {
	s := &Static{
		realms:   make(map[string][]Instance),
		watchers: make(map[string][]chan []Instance),
	}
	if len(instances) > 0 {
		s.realms[realm] = slices.Clone(instances)
	}
	return s
}

func (s *Static) Register(_ context.Context, realm string, inst Instance, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := slices.DeleteFunc(s.realms[realm], func(i Instance) bool { return i.Addr == inst.Addr })
	s.realms[realm] = append(list, inst)
	s.notifyLocked(realm)
	return nil
}

func (s *Static) Deregister(_ context.Context, realm, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realms[realm] = slices.DeleteFunc(s.realms[realm], func(i Instance) bool { return i.Addr == addr })
	s.notifyLocked(realm)
	return nil
}

func (s *Static) Discover(_ context.Context, realm string) ([]Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.realms[realm]), nil
}

// Watch emits the realm's instance list after every change until ctx ends.
// A watcher that falls behind only sees the latest list.
func (s *Static) Watch(ctx context.Context, realm string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	s.mu.Lock()
	s.watchers[realm] = append(s.watchers[realm], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.watchers[realm] = slices.DeleteFunc(s.watchers[realm], func(c chan []Instance) bool { return c == ch })
		close(ch)
	}()
	return ch
}

func (s *Static) notifyLocked(realm string) {
	for _, ch := range s.watchers[realm] {
		select {
		case <-ch:
		default:
		}
		ch <- slices.Clone(s.realms[realm])
	}
}
