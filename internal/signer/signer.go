package signer

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/xueqianLu/hsmsigner/internal/metrics"
	"github.com/xueqianLu/hsmsigner/internal/recovery"
	"github.com/xueqianLu/hsmsigner/internal/sigerr"
	"github.com/xueqianLu/hsmsigner/internal/tx"
	"go.uber.org/zap"
)

// DefaultSignTimeout bounds a single backend call when no timeout is configured.
const DefaultSignTimeout = 20 * time.Second

// Signer turns unsigned transactions into signed, broadcast-ready encodings
// using one backend key.
type Signer struct {
	session     *Session
	identity    *Identity
	signTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Signer.
type Option func(*Signer)

// WithSignTimeout bounds each backend call. Zero or negative disables the bound.
func WithSignTimeout(d time.Duration) Option {
	return func(s *Signer) { s.signTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Signer) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Signer) { s.metrics = m }
}

// New creates a Signer for handle, fetching its public key once.
func New(ctx context.Context, session *Session, handle KeyHandle, opts ...Option) (*Signer, error) {
	if handle == "" {
		return nil, sigerr.Malformed("keyID", "key handle is empty")
	}
	s := &Signer{
		session:     session,
		signTimeout: DefaultSignTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	pub, err := session.PublicKey(callCtx, handle)
	if err != nil {
		return nil, err
	}
	identity, err := NewIdentity(handle, pub)
	if err != nil {
		return nil, sigerr.Unavailable(err, "loading identity")
	}
	s.identity = identity
	s.logger = s.logger.With(zap.String("keyID", string(handle)), zap.String("address", identity.Address.Hex()))
	s.logger.Info("Loaded signing key")
	return s, nil
}

// Identity returns the key's public identity.
func (s *Signer) Identity() *Identity {
	return s.identity
}

// SignRequest decodes an eth_signTransaction object and signs it.
func (s *Signer) SignRequest(ctx context.Context, fields map[string]interface{}) (string, error) {
	t, err := tx.DecodeRequestFields(fields)
	if err != nil {
		s.metrics.ObserveSign(sigerr.KindOf(err).String(), 0, false)
		return "", err
	}
	return s.Sign(ctx, t)
}

// Sign returns the 0x-prefixed hex of the signed encoding of t.
func (s *Signer) Sign(ctx context.Context, t *tx.UnsignedTransaction) (string, error) {
	raw, err := s.SignTransaction(ctx, t)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(raw), nil
}

// SignTransaction returns the signed encoding of t. Any failure aborts the
// whole call; no partial signature is returned.
func (s *Signer) SignTransaction(ctx context.Context, t *tx.UnsignedTransaction) ([]byte, error) {
	start := time.Now()
	raw, flipped, err := s.sign(ctx, t)
	outcome := "ok"
	if err != nil {
		outcome = sigerr.KindOf(err).String()
	}
	s.metrics.ObserveSign(outcome, time.Since(start), flipped)
	return raw, err
}

func (s *Signer) sign(ctx context.Context, t *tx.UnsignedTransaction) ([]byte, bool, error) {
	if t == nil {
		return nil, false, sigerr.Malformed("", "transaction is nil")
	}
	digest, err := tx.SigningDigest(t)
	if err != nil {
		return nil, false, err
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	sig, err := s.session.SignDigest(callCtx, s.identity.Handle, digest)
	if err != nil {
		return nil, false, err
	}

	sig, flipped := recovery.NormalizeLowS(sig)
	res, err := recovery.Resolve(digest, sig, s.identity.PublicKey)
	if err != nil {
		s.logger.Error("Signature does not recover to the signing key",
			zap.String("digest", digest.Hex()),
			zap.Bool("lowSFlip", flipped),
			zap.Error(err))
		return nil, flipped, err
	}

	v := ReplayProtectedV(res.ID, t.ChainID)
	enc, err := tx.EncodeSigned(t, v, res.Signature)
	if err != nil {
		return nil, flipped, err
	}

	s.logger.Debug("Signed transaction",
		zap.Uint64("chainId", t.ChainID),
		zap.Uint64("nonce", t.Nonce),
		zap.Uint8("recoveryId", res.ID),
		zap.Bool("lowSFlip", flipped),
		zap.Int("recoveryAttempts", res.Attempts))
	return enc, flipped, nil
}

func (s *Signer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.signTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.signTimeout)
}

// ReplayProtectedV computes the EIP-155 value id + 2*chainId + 35.
func ReplayProtectedV(id uint8, chainID uint64) *big.Int {
	v := new(big.Int).SetUint64(chainID)
	v.Lsh(v, 1)
	return v.Add(v, big.NewInt(int64(id)+35))
}
