package target

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrUnknownProfile is returned when acquiring from a bucket that was never registered.
var ErrUnknownProfile = errors.New("target pool: unknown profile")

type PoolConfig struct {
	DefaultCapacity int
}

// Pool hands out exclusive target leases per profile. A target is never shared by two
// sessions; a released target is parked for the next session of the same profile.
type Pool struct {
	defaultCapacity int

	mu      sync.Mutex
	buckets map[string]*targetBucket
	leases  map[Target]lease
}

type lease struct {
	bucket *targetBucket
	slot   int
}

func NewPool(cfg PoolConfig) *Pool {
	capacity := cfg.DefaultCapacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	return &Pool{
		defaultCapacity: capacity,
		buckets:         make(map[string]*targetBucket),
		leases:          make(map[Target]lease),
	}
}

// Register declares a profile. capacity <= 0 uses the pool default.
func (p *Pool) Register(key string, capacity int, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("register %s: nil factory", key)
	}
	if capacity <= 0 {
		capacity = p.defaultCapacity
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.buckets[key]; ok {
		return fmt.Errorf("register %s: already registered", key)
	}
	p.buckets[key] = newTargetBucket(key, capacity, factory)
	return nil
}

// Profiles lists registered bucket keys.
func (p *Pool) Profiles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.buckets))
	for k := range p.buckets {
		out = append(out, k)
	}
	return out
}

// Acquire returns an idle target, creates one in a free slot, or waits for either.
func (p *Pool) Acquire(ctx context.Context, key string) (Target, error) {
	p.mu.Lock()
	bucket, ok := p.buckets[key]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, key)
	}

	for {
		select {
		case idle := <-bucket.idle:
			p.track(idle.target, bucket, idle.slot)
			return idle.target, nil
		default:
		}

		select {
		case idle := <-bucket.idle:
			p.track(idle.target, bucket, idle.slot)
			return idle.target, nil
		case slot := <-bucket.slots:
			t, err := bucket.factory(ctx, slot)
			if err != nil {
				bucket.slots <- slot
				return nil, fmt.Errorf("create target %s[%d]: %w", key, slot, err)
			}
			p.track(t, bucket, slot)
			return t, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a lease. A non-nil err discards the target and frees its slot.
// 폐기된 타깃은 다음 Acquire 때 factory로 새로 만든다.
func (p *Pool) Release(t Target, err error) {
	if t == nil {
		return
	}
	p.mu.Lock()
	l, ok := p.leases[t]
	if ok {
		delete(p.leases, t)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		l.bucket.slots <- l.slot
		return
	}
	l.bucket.idle <- idleTarget{target: t, slot: l.slot}
}

// Close shuts down every parked target.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	buckets := make([]*targetBucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	var errs []error
	for _, bucket := range buckets {
	drain:
		for {
			select {
			case idle := <-bucket.idle:
				if err := idle.target.Shutdown(ctx); err != nil {
					errs = append(errs, err)
				}
				bucket.slots <- idle.slot
			default:
				break drain
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) track(t Target, bucket *targetBucket, slot int) {
	p.mu.Lock()
	p.leases[t] = lease{bucket: bucket, slot: slot}
	p.mu.Unlock()
}

type idleTarget struct {
	target Target
	slot   int
}

type targetBucket struct {
	key     string
	factory Factory
	slots   chan int
	idle    chan idleTarget
}

func newTargetBucket(key string, capacity int, factory Factory) *targetBucket {
	b := &targetBucket{
		key:     key,
		factory: factory,
		slots:   make(chan int, capacity),
		idle:    make(chan idleTarget, capacity),
	}
	for i := 0; i < capacity; i++ {
		b.slots <- i
	}
	return b
}

func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
