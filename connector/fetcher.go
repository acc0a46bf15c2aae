package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rexbrahh/irma-engine/decoder/common"
)

// ErrAccountNotFound is returned when an account does not exist on chain.
var ErrAccountNotFound = errors.New("account not found")

// Account is raw account data read at a slot.
type Account struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Data    []byte
	Slot    uint64
}

// AccountFetcher loads account data.
type AccountFetcher interface {
	FetchAccount(ctx context.Context, address solana.PublicKey) (Account, error)
}

// FetcherOption customises an RPCFetcher.
type FetcherOption func(*RPCFetcher)

// WithCommitment sets the commitment used for account reads.
func WithCommitment(c solanarpc.CommitmentType) FetcherOption {
	return func(f *RPCFetcher) { f.commitment = c }
}

// WithRateLimit caps requests per second with the given burst.
func WithRateLimit(rps float64, burst int) FetcherOption {
	return func(f *RPCFetcher) {
		if rps <= 0 {
			f.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry budget for transient RPC failures.
func WithRetry(maxTries uint, initial time.Duration) FetcherOption {
	return func(f *RPCFetcher) {
		f.maxTries = maxTries
		f.initialBackoff = initial
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(logger *zap.Logger) FetcherOption {
	return func(f *RPCFetcher) { f.logger = logger }
}

// RPCFetcher reads accounts over JSON-RPC, paced by a token bucket and retried
// with exponential backoff. Missing accounts are not retried.
type RPCFetcher struct {
	client         *solanarpc.Client
	commitment     solanarpc.CommitmentType
	limiter        *rate.Limiter
	maxTries       uint
	initialBackoff time.Duration
	logger         *zap.Logger
}

// NewRPCFetcher wraps an rpc client.
func NewRPCFetcher(client *solanarpc.Client, opts ...FetcherOption) *RPCFetcher {
	f := &RPCFetcher{
		client:         client,
		commitment:     solanarpc.CommitmentConfirmed,
		limiter:        rate.NewLimiter(rate.Limit(10), 10),
		maxTries:       4,
		initialBackoff: 200 * time.Millisecond,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("rpc")
	return f
}

// FetchAccount implements AccountFetcher.
func (f *RPCFetcher) FetchAccount(ctx context.Context, address solana.PublicKey) (Account, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.initialBackoff
	policy.MaxInterval = f.initialBackoff * 10

	notify := func(err error, wait time.Duration) {
		f.logger.Debug("retrying account fetch",
			zap.String("address", address.String()),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	operation := func() (Account, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return Account{}, backoff.Permanent(err)
		}
		out, err := f.client.GetAccountInfoWithOpts(ctx, address, &solanarpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: f.commitment,
		})
		if errors.Is(err, solanarpc.ErrNotFound) {
			return Account{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrAccountNotFound, address))
		}
		if err != nil {
			return Account{}, err
		}
		if out == nil || out.Value == nil || out.Value.Data == nil {
			return Account{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrAccountNotFound, address))
		}
		return Account{
			Address: address,
			Owner:   out.Value.Owner,
			Data:    out.Value.Data.GetBinary(),
			Slot:    out.Context.Slot,
		}, nil
	}

	acct, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(f.maxTries),
		backoff.WithNotify(notify))
	if err != nil {
		return Account{}, fmt.Errorf("fetch account %s: %w", address, err)
	}
	return acct, nil
}

// MintMetadataFetcher resolves mint decimals and supply from the SPL mint account.
type MintMetadataFetcher struct {
	Fetcher AccountFetcher
}

// MintMetadata implements common.MintMetadataProvider.
func (m MintMetadataFetcher) MintMetadata(ctx context.Context, mint solana.PublicKey) (common.MintMetadata, error) {
	acct, err := m.Fetcher.FetchAccount(ctx, mint)
	if err != nil {
		return common.MintMetadata{}, err
	}
	return common.DecodeMint(mint, acct.Data)
}
