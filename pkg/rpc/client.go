package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ninja0404/ctxgen/pkg/config"
	"github.com/ninja0404/ctxgen/pkg/runtime"
	"github.com/ninja0404/ctxgen/pkg/types"
)

// MaxAccountsPerRequest is the getMultipleAccounts key limit.
const MaxAccountsPerRequest = 100

// Client wraps solana-go rpc.Client with retry, timeout, and rate limiting.
type Client struct {
	raw     *solanarpc.Client
	cfg     config.RPCConfig
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient builds a configured Client.
func NewClient(cfg config.RPCConfig) *Client {
	endpoint := cfg.ResolveRPCURL()
	rpcClient := solanarpc.New(endpoint)

	var limiter *rate.Limiter
	if cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst == 0 {
			burst = int(cfg.RateLimit.RPS * 2)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}

	log := cfg.Logger
	if log.GetLevel() == zerolog.NoLevel {
		log = zerolog.Nop()
	}

	return &Client{
		raw:     rpcClient,
		cfg:     cfg,
		limiter: limiter,
		log:     log,
	}
}

// Raw exposes the underlying solana-go client.
func (c *Client) Raw() *solanarpc.Client {
	return c.raw
}

// GetMultipleAccounts fetches keys in batches of MaxAccountsPerRequest.
// Missing accounts come back as nil entries.
func (c *Client) GetMultipleAccounts(ctx context.Context, keys []solana.PublicKey) ([]*solanarpc.Account, error) {
	out := make([]*solanarpc.Account, 0, len(keys))
	for start := 0; start < len(keys); start += MaxAccountsPerRequest {
		end := start + MaxAccountsPerRequest
		if end > len(keys) {
			end = len(keys)
		}
		var res *solanarpc.GetMultipleAccountsResult
		err := c.call(ctx, "getMultipleAccounts", func(ctx context.Context) error {
			var err error
			res, err = c.raw.GetMultipleAccountsWithOpts(ctx, keys[start:end], &solanarpc.GetMultipleAccountsOpts{
				Encoding:   solana.EncodingBase64,
				Commitment: solanarpc.CommitmentType(c.cfg.Commitment),
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(res.Value) != end-start {
			return nil, types.RPCError{Op: "getMultipleAccounts", Err: fmt.Errorf("asked for %d accounts, got %d", end-start, len(res.Value))}
		}
		out = append(out, res.Value...)
	}
	return out, nil
}

// Meta is one instruction account to load: its address and the privileges
// the transaction would grant it.
type Meta struct {
	Key      solana.PublicKey
	Signer   bool
	Writable bool
	// Optional slots left at the default address are not fetched.
	Optional bool
}

// placeholder reports whether m stands for a skipped optional account. The
// default address is also the system program id, which other slots fetch.
func (m Meta) placeholder() bool {
	return m.Optional && m.Key.IsZero()
}

// LoadAccounts fetches metas and turns them into runtime accounts. Optional
// slots at the default address yield an empty placeholder.
// Other missing accounts load as unfunded system accounts, the state of an
// address nothing has been created at.
func (c *Client) LoadAccounts(ctx context.Context, metas []Meta) ([]*runtime.AccountInfo, error) {
	keys := make([]solana.PublicKey, 0, len(metas))
	for _, m := range metas {
		if !m.placeholder() {
			keys = append(keys, m.Key)
		}
	}
	fetched, err := c.GetMultipleAccounts(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]*runtime.AccountInfo, len(metas))
	next := 0
	for i, m := range metas {
		if m.placeholder() {
			out[i] = runtime.NewAccountInfo(m.Key, solana.SystemProgramID, 0, nil, false, false)
			continue
		}
		acct := fetched[next]
		next++
		if acct == nil {
			c.log.Debug().Str("account", m.Key.String()).Msg("account not found, using empty system account")
			out[i] = runtime.NewAccountInfo(m.Key, solana.SystemProgramID, 0, nil, m.Signer, m.Writable)
			continue
		}
		if acct.Executable {
			out[i] = runtime.NewProgramAccount(m.Key)
			continue
		}
		var data []byte
		if acct.Data != nil {
			data = acct.Data.GetBinary()
		}
		out[i] = runtime.NewAccountInfo(m.Key, acct.Owner, acct.Lamports, data, m.Signer, m.Writable)
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if !c.cfg.Retry.Enabled {
		if err := fn(ctx); err != nil {
			return types.RPCError{Op: op, Err: err}
		}
		return nil
	}

	attempts := c.cfg.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		if !retryable(err) || i == attempts-1 {
			break
		}
		backoff := c.backoff(i)
		c.log.Debug().
			Str("op", op).
			Int("attempt", i+1).
			Dur("backoff", backoff).
			Err(err).
			Msg("rpc retry")

		select {
		case <-ctx.Done():
			return types.RPCError{Op: op, Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}
	return types.RPCError{Op: op, Err: fmt.Errorf("failed after %d attempts: %w", attempts, err)}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

func (c *Client) backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := c.cfg.Retry.InitialBackoff
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > c.cfg.Retry.MaxBackoff && c.cfg.Retry.MaxBackoff > 0 {
			delay = c.cfg.Retry.MaxBackoff
			break
		}
	}
	if c.cfg.Retry.Jitter && delay > 1 {
		jitter := rand.Int63n(int64(delay / 2))
		delay = delay/2 + time.Duration(jitter)
	}
	return delay
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return types.IsRetryableError(err)
}
