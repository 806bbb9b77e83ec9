package middleware

import (
	"sync"

	"github.com/insthync/reqres/message"
	"golang.org/x/time/rate"
)

type limiterSet struct {
	r     rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[message.PeerID]*rate.Limiter
}

func newLimiterSet(r float64, burst int) *limiterSet {
	return &limiterSet{r: rate.Limit(r), burst: burst, limiters: make(map[message.PeerID]*rate.Limiter)}
}

func (s *limiterSet) get(peer message.PeerID) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[peer]
	if !ok {
		l = rate.NewLimiter(s.r, s.burst)
		s.limiters[peer] = l
	}
	return l
}
