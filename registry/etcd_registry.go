package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// KeyPrefix roots every key this registry writes:
//
//	Key:   /reqres/{realm}/{addr}
//	Value: JSON-encoded Instance
//
// Entries are attached to a TTL lease, so a crashed authority disappears once
// its lease expires.
const KeyPrefix = "/reqres/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
	log    *zap.Logger

	mu         sync.Mutex
	keepalives map[string]context.CancelFunc // Keyed by etcd key
}

func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, log *zap.Logger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EtcdRegistry{client: c, log: log, keepalives: make(map[string]context.CancelFunc)}, nil
}

func realmPrefix(realm string) string {
	return KeyPrefix + realm + "/"
}

func instanceKey(realm, addr string) string {
	return realmPrefix(realm) + addr
}

// Register advertises inst under realm with a lease of ttlSeconds, renewed in
// the background until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, realm string, inst Instance, ttlSeconds int64) error {
	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}
	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	key := instanceKey(realm, inst.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", key, err)
	}

	// The keepalive outlives ctx, which only bounds the registration itself.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("registry: keepalive: %w", err)
	}

	r.mu.Lock()
	if prev, ok := r.keepalives[key]; ok {
		prev()
	}
	r.keepalives[key] = cancel
	r.mu.Unlock()

	go func() {
		for range ch {
		}
		r.log.Debug("lease keepalive stopped", zap.String("key", key))
	}()
	return nil
}

// Deregister removes the entry and stops renewing its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, realm, addr string) error {
	key := instanceKey(realm, addr)
	r.mu.Lock()
	if cancel, ok := r.keepalives[key]; ok {
		cancel()
		delete(r.keepalives, key)
	}
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("registry: delete %s: %w", key, err)
	}
	return nil
}

// Discover returns every live instance of realm. Malformed entries are skipped.
func (r *EtcdRegistry) Discover(ctx context.Context, realm string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, realmPrefix(realm), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: discover %s: %w", realm, err)
	}
	values := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		values = append(values, kv.Value)
	}
	return r.decodeInstances(values), nil
}

func (r *EtcdRegistry) decodeInstances(values [][]byte) []Instance {
	instances := make([]Instance, 0, len(values))
	for _, v := range values {
		var inst Instance
		if err := json.Unmarshal(v, &inst); err != nil {
			r.log.Warn("skipping malformed registry entry", zap.ByteString("value", v), zap.Error(err))
			continue
		}
		instances = append(instances, inst)
	}
	return instances
}

// Watch re-reads the realm after every change under its prefix and emits the
// full list. The channel closes when ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context, realm string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, realmPrefix(realm), clientv3.WithPrefix()) {
			instances, err := r.Discover(ctx, realm)
			if err != nil {
				r.log.Warn("registry watch refresh failed", zap.String("realm", realm), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close stops every keepalive and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for key, cancel := range r.keepalives {
		cancel()
		delete(r.keepalives, key)
	}
	r.mu.Unlock()
	return r.client.Close()
}

var _ Registry = (*EtcdRegistry)(nil)
