package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/xueqianLu/hsmsigner/internal/tx"
)

// fakeConnector signs with an in-memory key and records how it is called.
type fakeConnector struct {
	key *ecdsa.PrivateKey
	// pub, when set, is reported instead of the signing key's public key.
	pub *ecdsa.PublicKey

	highS   bool
	block   bool
	signErr error

	// signDelay keeps each SignDigest inside the backend for a while.
	signDelay time.Duration

	// slowPub, when set, holds PublicKey for handle "slow" until closed.
	slowPub chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	pubCalls    atomic.Int32
	signCalls   atomic.Int32

	mu      sync.Mutex
	handles []KeyHandle
}

func newFakeConnector() *fakeConnector {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return &fakeConnector{key: key}
}

func (f *fakeConnector) Type() string { return "fake" }

func (f *fakeConnector) PublicKey(ctx context.Context, handle KeyHandle) (*ecdsa.PublicKey, error) {
	f.pubCalls.Add(1)
	if handle == "missing" {
		return nil, KeyNotFound(handle)
	}
	if handle == "slow" && f.slowPub != nil {
		select {
		case <-f.slowPub:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.pub != nil {
		return f.pub, nil
	}
	pub := f.key.PublicKey
	return &pub, nil
}

func (f *fakeConnector) SignDigest(ctx context.Context, _ KeyHandle, digest common.Hash) (tx.RawSignature, error) {
	f.signCalls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.signDelay > 0 {
		time.Sleep(f.signDelay)
	}
	if f.block {
		<-ctx.Done()
		return tx.RawSignature{}, ctx.Err()
	}
	if f.signErr != nil {
		return tx.RawSignature{}, f.signErr
	}
	sig, err := crypto.Sign(digest.Bytes(), f.key)
	if err != nil {
		return tx.RawSignature{}, errors.Wrap(err, "sign")
	}
	raw, err := tx.NewRawSignature(sig[:32], sig[32:64])
	if err != nil {
		return tx.RawSignature{}, err
	}
	if f.highS {
		raw = raw.WithS(new(big.Int).Sub(crypto.S256().Params().N, raw.SInt()))
	}
	return raw, nil
}

func (f *fakeConnector) ListKeys(context.Context) ([]KeyHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]KeyHandle(nil), f.handles...), nil
}

func (f *fakeConnector) address() common.Address {
	return crypto.PubkeyToAddress(f.key.PublicKey)
}
