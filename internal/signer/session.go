package signer

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/xueqianLu/hsmsigner/internal/metrics"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
	"github.com/xueqianLu/hsmsigner/internal/tx"
	"go.uber.org/zap"
)

// Session serializes access to one connector. Hardware backends process a
// single operation per authenticated session, so at most one connector call
// is in flight per Session; other callers queue.
type Session struct {
	connector Connector
	slot      chan struct{}
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewSession wraps connector. logger and m may be nil.
func NewSession(connector Connector, logger *zap.Logger, m *metrics.Metrics) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		connector: connector,
		slot:      make(chan struct{}, 1),
		logger:    logger.With(zap.String("connector", connector.Type())),
		metrics:   m,
	}
}

// Connector returns the wrapped connector.
func (s *Session) Connector() Connector {
	return s.connector
}

// PublicKey fetches the public key for handle.
func (s *Session) PublicKey(ctx context.Context, handle KeyHandle) (*ecdsa.PublicKey, error) {
	var pub *ecdsa.PublicKey
	err := s.do(ctx, "public_key", func(ctx context.Context) error {
		var err error
		pub, err = s.connector.PublicKey(ctx, handle)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// SignDigest asks the backend to sign digest with handle.
func (s *Session) SignDigest(ctx context.Context, handle KeyHandle, digest common.Hash) (tx.RawSignature, error) {
	var sig tx.RawSignature
	err := s.do(ctx, "sign_digest", func(ctx context.Context) error {
		var err error
		sig, err = s.connector.SignDigest(ctx, handle, digest)
		return err
	})
	if err != nil {
		return tx.RawSignature{}, err
	}
	return sig, nil
}

// GenerateKey creates a key if the backend supports it.
func (s *Session) GenerateKey(ctx context.Context, opts KeyOptions) (KeyHandle, *ecdsa.PublicKey, error) {
	gen, ok := s.connector.(KeyGenerator)
	if !ok {
		return "", nil, errors.Errorf("connector %s cannot generate keys", s.connector.Type())
	}
	var (
		handle KeyHandle
		pub    *ecdsa.PublicKey
	)
	err := s.do(ctx, "generate_key", func(ctx context.Context) error {
		var err error
		handle, pub, err = gen.GenerateKey(ctx, opts)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return handle, pub, nil
}

// ListKeys enumerates backend keys if the backend supports it.
func (s *Session) ListKeys(ctx context.Context) ([]KeyHandle, error) {
	lister, ok := s.connector.(KeyLister)
	if !ok {
		return nil, nil
	}
	var keys []KeyHandle
	err := s.do(ctx, "list_keys", func(ctx context.Context) error {
		var err error
		keys, err = lister.ListKeys(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// do runs fn while holding the session. If ctx ends first, do returns a
// SignerUnavailable error at once; the session stays held until fn returns.
func (s *Session) do(ctx context.Context, op string, fn func(context.Context) error) error {
	queued := time.Now()
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return sigerr.Unavailable(ctx.Err(), "waiting for %s session", s.connector.Type())
	}
	s.metrics.ObserveSessionWait(time.Since(queued))

	done := make(chan error, 1)
	go func() {
		defer func() { <-s.slot }()
		start := time.Now()
		err := fn(ctx)
		s.metrics.ObserveConnector(s.connector.Type(), op, time.Since(start), err)
		done <- err
	}()

	select {
	case err := <-done:
		return s.classify(op, err)
	case <-ctx.Done():
		s.logger.Warn("Connector call abandoned", zap.String("op", op), zap.Error(ctx.Err()))
		return sigerr.Unavailable(ctx.Err(), "%s %s did not complete", s.connector.Type(), op)
	}
}

func (s *Session) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if sigerr.KindOf(err) != sigerr.Unknown {
		return err
	}
	s.logger.Error("Connector call failed", zap.String("op", op), zap.Error(err))
	return sigerr.Unavailable(err, "%s %s", s.connector.Type(), op)
}
