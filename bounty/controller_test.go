package bounty

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/mark3labs/x402-facilitator"
	"github.com/mark3labs/x402-facilitator/metrics"
	"github.com/mark3labs/x402-facilitator/store"
)

const (
	agentA = "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa"
	agentB = "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"
)

var bountyAmount = big.NewInt(1_000_000)

// fakePayer settles transfers with a configurable status.
type fakePayer struct {
	mu        sync.Mutex
	status    string
	delay     time.Duration
	transfers int64
	lookups   map[string]string
	balance   *big.Int
	sent      []common.Address
}

func newFakePayer() *fakePayer {
	return &fakePayer{
		status:  x402.SettlementStatusConfirmed,
		lookups: map[string]string{},
		balance: big.NewInt(99_000_000),
	}
}

func (p *fakePayer) Address() common.Address {
	return common.HexToAddress("0x0DFa93560e0DCfF78F7e3985826e42e53E9493cC")
}

func (p *fakePayer) Transfer(_ context.Context, to common.Address, amount *big.Int) (*x402.SettlementResponse, error) {
	n := atomic.AddInt64(&p.transfers, 1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, to)

	resp := &x402.SettlementResponse{
		Network:     "eip155:14",
		Transaction: fmt.Sprintf("0x%064x", n),
		Status:      p.status,
	}
	switch p.status {
	case x402.SettlementStatusConfirmed:
		resp.Success = true
		resp.BlockNumber = strconv.FormatInt(100+n, 10)
	case x402.SettlementStatusPending:
		resp.ErrorReason = string(x402.ErrCodeSettlementPending)
	default:
		resp.ErrorReason = string(x402.ErrCodeTransactionReverted)
		resp.ErrorMessage = "transfer amount exceeds balance"
	}
	return resp, nil
}

func (p *fakePayer) Lookup(_ context.Context, txHash string) (*x402.SettlementResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.lookups[txHash]
	if !ok {
		return nil, fmt.Errorf("lookup %s: connection refused", txHash)
	}
	return &x402.SettlementResponse{Transaction: txHash, Status: status, Success: status == x402.SettlementStatusConfirmed, BlockNumber: "555"}, nil
}

func (p *fakePayer) Balance(context.Context) (*big.Int, error) {
	if p.balance == nil {
		return nil, fmt.Errorf("rpc down")
	}
	return new(big.Int).Set(p.balance), nil
}

type fixture struct {
	controller *Controller
	whitelist  *store.WhitelistStore
	ledger     *store.ClaimLedger
	payer      *fakePayer
	metrics    *metrics.Metrics
}

func setup(t *testing.T, maxClaims int64) *fixture {
	t.Helper()
	db, err := store.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		whitelist: store.NewWhitelistStore(db.Client(), zerolog.Nop()),
		ledger:    store.NewClaimLedger(db.Client(), zerolog.Nop()),
		payer:     newFakePayer(),
		metrics:   metrics.New(),
	}
	f.controller, err = NewController(Config{
		Enabled:   true,
		Amount:    bountyAmount,
		MaxClaims: maxClaims,
		Decimals:  6,
		Symbol:    "USD₮0",
	}, f.whitelist, f.ledger, f.payer, zerolog.Nop(), WithMetrics(f.metrics))
	require.NoError(t, err)
	return f
}

func (f *fixture) approve(t *testing.T, addrs ...string) {
	t.Helper()
	for i, addr := range addrs {
		_, _, err := f.whitelist.Add(context.Background(), addr, fmt.Sprintf("agent-%d", i), "https://moltbook.com/post/1")
		require.NoError(t, err)
	}
}

func addrN(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

func TestNewController_Validation(t *testing.T) {
	_, err := NewController(Config{Enabled: true, MaxClaims: 1}, nil, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, x402.ErrInvalidAmount)

	_, err = NewController(Config{Enabled: true, Amount: big.NewInt(1)}, nil, nil, nil, zerolog.Nop())
	assert.Error(t, err)

	c, err := NewController(Config{}, nil, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	outcome, err := c.MaybeTrigger(context.Background(), agentA)
	assert.NoError(t, err)
	assert.Nil(t, outcome, "disabled bounty reports nothing")
}

func TestController_MaybeTrigger(t *testing.T) {
	ctx := context.Background()

	t.Run("pays a whitelisted first-time payer", func(t *testing.T) {
		f := setup(t, 100)
		f.approve(t, agentA)

		outcome, err := f.controller.MaybeTrigger(ctx, agentA)
		require.NoError(t, err)
		assert.True(t, outcome.Paid())
		assert.Equal(t, "1.000000", outcome.Amount)
		assert.Equal(t, "agent-0", outcome.Handle)
		assert.Equal(t, int64(99), outcome.Remaining)
		assert.NotEmpty(t, outcome.TxHash)

		claim, err := f.ledger.Get(ctx, agentA)
		require.NoError(t, err)
		assert.Equal(t, outcome.TxHash, claim.TxHash)
		assert.Equal(t, "1000000", claim.Amount)

		_, err = f.ledger.Reservation(ctx, agentA)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("second trigger does not touch the payer", func(t *testing.T) {
		f := setup(t, 100)
		f.approve(t, agentA)

		_, err := f.controller.MaybeTrigger(ctx, agentA)
		require.NoError(t, err)
		outcome, err := f.controller.MaybeTrigger(ctx, agentA)
		require.NoError(t, err)

		assert.Equal(t, x402.ErrCodeAlreadyClaimed, outcome.Code)
		assert.Equal(t, int64(1), atomic.LoadInt64(&f.payer.transfers))
	})

	t.Run("not whitelisted", func(t *testing.T) {
		f := setup(t, 100)
		outcome, err := f.controller.MaybeTrigger(ctx, agentA)
		require.NoError(t, err)
		assert.Equal(t, x402.ErrCodeNotWhitelisted, outcome.Code)
		assert.Equal(t, DefaultGuidance, outcome.Message)
		assert.ErrorIs(t, outcome.Err(), x402.ErrNotWhitelisted)
		assert.Zero(t, f.payer.transfers)
	})

	t.Run("claim outlives removal from the whitelist", func(t *testing.T) {
		f := setup(t, 100)
		f.approve(t, agentA)

		first, err := f.controller.MaybeTrigger(ctx, agentA)
		require.NoError(t, err)
		require.True(t, first.Paid())
		assert.NoError(t, first.Err())

		removed, err := f.whitelist.Remove(ctx, agentA)
		require.NoError(t, err)
		require.True(t, removed)

		outcome, err := f.controller.MaybeTrigger(ctx, agentA)
		require.NoError(t, err)
		assert.Equal(t, x402.ErrCodeAlreadyClaimed, outcome.Code)
		assert.Equal(t, int64(1), f.payer.transfers)
	})

	t.Run("address case does not matter", func(t *testing.T) {
		f := setup(t, 100)
		f.approve(t, agentA)
		outcome, err := f.controller.MaybeTrigger(ctx, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
		require.NoError(t, err)
		assert.True(t, outcome.Paid())
	})

	t.Run("invalid address", func(t *testing.T) {
		f := setup(t, 100)
		_, err := f.controller.MaybeTrigger(ctx, "0x1234")
		assert.ErrorIs(t, err, x402.ErrInvalidRequest)
	})

	t.Run("pool exhausted", func(t *testing.T) {
		f := setup(t, 1)
		f.approve(t, agentA, agentB)

		first, err := f.controller.MaybeTrigger(ctx, agentA)
		require.NoError(t, err)
		require.True(t, first.Paid())
		assert.Zero(t, first.Remaining)

		second, err := f.controller.MaybeTrigger(ctx, agentB)
		require.NoError(t, err)
		assert.Equal(t, x402.ErrCodePoolExhausted, second.Code)
		assert.Equal(t, int64(1), f.payer.transfers)
	})

	t.Run("failed transfer frees the slot", func(t *testing.T) {
		f := setup(t, 1)
		f.approve(t, agentA)
		f.payer.status = x402.SettlementStatusFailed

		outcome, err := f.controller.MaybeTrigger(ctx, agentA)
		require.NoError(t, err)
		assert.Equal(t, x402.ErrCodePaymentFailed, outcome.Code)
		assert.Contains(t, outcome.Message, "transfer amount exceeds balance")
		assert.ErrorIs(t, outcome.Err(), x402.ErrSettlementFailed)
		assert.Equal(t, int64(1), outcome.Remaining)

		check, err := f.controller.Check(ctx, agentA)
		require.NoError(t, err)
		assert.Equal(t, StateWhitelistedUnclaimed, check.State)
		assert.True(t, check.CanClaim)

		f.payer.status = x402.SettlementStatusConfirmed
		outcome, err = f.controller.MaybeTrigger(ctx, agentA)
		require.NoError(t, err)
		assert.True(t, outcome.Paid(), "a later trigger can retry")
	})

	t.Run("pending transfer holds the slot", func(t *testing.T) {
		f := setup(t, 100)
		f.approve(t, agentA)
		f.payer.status = x402.SettlementStatusPending

		outcome, err := f.controller.MaybeTrigger(ctx, agentA)
		require.NoError(t, err)
		assert.Equal(t, x402.ErrCodeSettlementPending, outcome.Code)

		again, err := f.controller.MaybeTrigger(ctx, agentA)
		require.NoError(t, err)
		assert.Equal(t, x402.ErrCodeClaimPending, again.Code)
		assert.Equal(t, int64(1), f.payer.transfers)

		r, err := f.ledger.Reservation(ctx, agentA)
		require.NoError(t, err)
		assert.Equal(t, store.ReservationPending, r.Status)
		assert.Equal(t, outcome.TxHash, r.TxHash)
	})
}

func TestController_ConcurrentTriggers(t *testing.T) {
	ctx := context.Background()

	t.Run("same address pays once", func(t *testing.T) {
		f := setup(t, 100)
		f.approve(t, agentA)
		f.payer.delay = 5 * time.Millisecond

		var wg sync.WaitGroup
		var paid int64
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcome, err := f.controller.MaybeTrigger(ctx, agentA)
				if assert.NoError(t, err) && outcome.Paid() {
					atomic.AddInt64(&paid, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), paid)
		assert.Equal(t, int64(1), atomic.LoadInt64(&f.payer.transfers))
		assert.Zero(t, f.controller.locks.size())
	})

	t.Run("cap holds across addresses", func(t *testing.T) {
		const maxClaims = 5
		f := setup(t, maxClaims)
		addrs := make([]string, 20)
		for i := range addrs {
			addrs[i] = addrN(i)
		}
		f.approve(t, addrs...)
		f.payer.delay = 2 * time.Millisecond

		var wg sync.WaitGroup
		for _, addr := range addrs {
			wg.Add(1)
			go func(addr string) {
				defer wg.Done()
				_, err := f.controller.MaybeTrigger(ctx, addr)
				assert.NoError(t, err)
			}(addr)
		}
		wg.Wait()

		count, err := f.ledger.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(maxClaims), count)
		assert.Equal(t, int64(maxClaims), atomic.LoadInt64(&f.payer.transfers))

		report, err := f.controller.Audit(ctx)
		require.NoError(t, err)
		assert.True(t, report.Consistent)
		assert.Equal(t, "5000000", report.TotalPaid)
	})
}

func TestController_Check(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 2)
	f.approve(t, agentA, agentB)

	check, err := f.controller.Check(ctx, addrN(7))
	require.NoError(t, err)
	assert.Equal(t, StateNotWhitelisted, check.State)
	assert.Nil(t, check.Handle)
	assert.False(t, check.CanClaim)

	check, err = f.controller.Check(ctx, agentA)
	require.NoError(t, err)
	assert.Equal(t, StateWhitelistedUnclaimed, check.State)
	require.NotNil(t, check.Handle)
	assert.Equal(t, "agent-0", *check.Handle)
	assert.NotNil(t, check.ApprovedAt)
	assert.True(t, check.CanClaim)

	_, err = f.controller.MaybeTrigger(ctx, agentA)
	require.NoError(t, err)
	check, err = f.controller.Check(ctx, agentA)
	require.NoError(t, err)
	assert.Equal(t, StateClaimed, check.State)
	assert.True(t, check.Claimed)
	assert.NotEmpty(t, check.TxHash)
	assert.False(t, check.CanClaim)

	_, err = f.ledger.Reserve(ctx, addrN(9), "", bountyAmount, 2)
	require.NoError(t, err)
	check, err = f.controller.Check(ctx, agentB)
	require.NoError(t, err)
	assert.Equal(t, StatePoolExhausted, check.State)

	_, err = f.controller.Check(ctx, "nope")
	assert.ErrorIs(t, err, x402.ErrInvalidRequest)
}

func TestController_Status(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 3)
	f.approve(t, agentA, agentB)

	for _, addr := range []string{agentA, agentB} {
		_, err := f.controller.MaybeTrigger(ctx, addr)
		require.NoError(t, err)
	}

	status, err := f.controller.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, "1.000000 USD₮0", status.BountyAmount)
	assert.Equal(t, "99.000000", status.PoolBalance)
	assert.Equal(t, int64(2), status.Claimed)
	assert.Equal(t, int64(1), status.Remaining)
	assert.Equal(t, "2.000000", status.TotalPaid)
	assert.Len(t, status.RecentClaims, 2)
	assert.Equal(t, DefaultHowToClaim, status.HowToClaim)

	f.payer.balance = nil
	status, err = f.controller.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.PoolBalance)
}

func TestController_Reconcile(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	agentC := addrN(3)
	agentD := addrN(4)
	f.approve(t, agentA, agentB, agentC)

	f.payer.status = x402.SettlementStatusPending
	outA, err := f.controller.MaybeTrigger(ctx, agentA)
	require.NoError(t, err)
	outB, err := f.controller.MaybeTrigger(ctx, agentB)
	require.NoError(t, err)
	outC, err := f.controller.MaybeTrigger(ctx, agentC)
	require.NoError(t, err)

	// a crash between Reserve and submission leaves an unsubmitted reservation
	_, err = f.ledger.Reserve(ctx, agentD, "", bountyAmount, 10)
	require.NoError(t, err)

	f.payer.lookups[outA.TxHash] = x402.SettlementStatusConfirmed
	f.payer.lookups[outB.TxHash] = x402.SettlementStatusFailed
	f.payer.lookups[outC.TxHash] = x402.SettlementStatusPending

	report, err := f.controller.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{x402.NormalizeAddress(agentA)}, report.Committed)
	assert.Equal(t, []string{x402.NormalizeAddress(agentB)}, report.Released)
	assert.Equal(t, []string{agentC}, report.StillPending)
	assert.Equal(t, []string{agentD}, report.Unsubmitted)

	claim, err := f.ledger.Get(ctx, agentA)
	require.NoError(t, err)
	assert.Equal(t, uint64(555), claim.BlockNumber)

	err = f.controller.Release(ctx, agentC)
	assert.ErrorIs(t, err, x402.ErrClaimPending, "submitted reservations go through Reconcile")
	require.NoError(t, f.controller.Release(ctx, agentD))

	summary, err := f.ledger.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.ClaimCount)
	assert.Equal(t, int64(1), summary.ReservationCount)
}

func TestController_ReconcileLookupError(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	f.approve(t, agentA)
	f.payer.status = x402.SettlementStatusPending

	_, err := f.controller.MaybeTrigger(ctx, agentA)
	require.NoError(t, err)

	report, err := f.controller.Reconcile(ctx)
	assert.Error(t, err)
	require.NotNil(t, report)
	assert.Empty(t, report.Committed)

	_, err = f.ledger.Reservation(ctx, agentA)
	assert.NoError(t, err, "reservation is kept when the chain cannot be read")
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	var inside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("a")
			defer unlock()
			assert.Equal(t, int32(1), atomic.AddInt32(&inside, 1))
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Zero(t, k.size())
}
