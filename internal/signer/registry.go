package signer

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
	"golang.org/x/sync/singleflight"
)

// Registry caches one Signer per key handle on a shared Session. Public keys
// are fetched the first time a handle is used. The lock only guards the cache;
// backend calls run outside it, and concurrent first uses of a handle share
// one fetch.
type Registry struct {
	session *Session
	opts    []Option
	loads   singleflight.Group

	mu      sync.Mutex
	signers map[KeyHandle]*Signer
}

// NewRegistry creates an empty registry. opts apply to every Signer it creates.
func NewRegistry(session *Session, opts ...Option) *Registry {
	return &Registry{
		session: session,
		opts:    opts,
		signers: make(map[KeyHandle]*Signer),
	}
}

// Session returns the backend session shared by all signers.
func (r *Registry) Session() *Session {
	return r.session
}

// Get returns the Signer for handle, creating it on first use. A caller
// waiting on another caller's fetch stops waiting when its own ctx ends.
func (r *Registry) Get(ctx context.Context, handle KeyHandle) (*Signer, error) {
	if s, ok := r.cached(handle); ok {
		return s, nil
	}

	ch := r.loads.DoChan(string(handle), func() (interface{}, error) {
		if s, ok := r.cached(handle); ok {
			return s, nil
		}
		s, err := New(ctx, r.session, handle, r.opts...)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.signers[handle] = s
		r.mu.Unlock()
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Signer), nil
	case <-ctx.Done():
		return nil, sigerr.Unavailable(ctx.Err(), "loading key %s", handle)
	}
}

func (r *Registry) cached(handle KeyHandle) (*Signer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.signers[handle]
	return s, ok
}

// Address returns the address of the key behind handle.
func (r *Registry) Address(ctx context.Context, handle KeyHandle) (common.Address, error) {
	s, err := r.Get(ctx, handle)
	if err != nil {
		return common.Address{}, err
	}
	return s.Identity().Address, nil
}

// Create generates a key on the backend and returns its Signer.
func (r *Registry) Create(ctx context.Context, opts KeyOptions) (*Signer, error) {
	handle, _, err := r.session.GenerateKey(ctx, opts)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, handle)
}

// Handles returns the handles loaded so far, sorted.
func (r *Registry) Handles() []KeyHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := make([]KeyHandle, 0, len(r.signers))
	for h := range r.signers {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// Preload loads every handle the backend can enumerate. Backends that cannot
// list keys are left to lazy loading.
func (r *Registry) Preload(ctx context.Context) error {
	handles, err := r.session.ListKeys(ctx)
	if err != nil {
		return err
	}
	for _, h := range handles {
		if _, err := r.Get(ctx, h); err != nil {
			return err
		}
	}
	return nil
}
