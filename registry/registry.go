// Package registry lets peers find authority endpoints.
//
// An authority advertises the address it accepts peer connections on under a
// realm; peers of that realm discover the live addresses and pick one with a
// load balancer.
package registry

import (
	"context"
	"errors"
)

var ErrNoInstances = errors.New("registry: no authority instances")

// Instance is one advertised authority endpoint.
type Instance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"`  // Relative share for weighted balancing
	Version string `json:"version"` // Protocol version the authority speaks
}

type Registry interface {
	Register(ctx context.Context, realm string, inst Instance, ttlSeconds int64) error
	Deregister(ctx context.Context, realm, addr string) error
	Discover(ctx context.Context, realm string) ([]Instance, error)
	Watch(ctx context.Context, realm string) <-chan []Instance
}
