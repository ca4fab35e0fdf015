// Package bounty pays a one-time reward to whitelisted payers on their first
// successful verification.
package bounty

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	x402 "github.com/mark3labs/x402-facilitator"
	"github.com/mark3labs/x402-facilitator/metrics"
	"github.com/mark3labs/x402-facilitator/store"
)

// recentLimit is the number of claims listed by Status.
const recentLimit = 10

// Payer moves the bounty token from the facilitator. *facilitator.Settler implements it.
type Payer interface {
	Address() common.Address
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*x402.SettlementResponse, error)
	Lookup(ctx context.Context, txHash string) (*x402.SettlementResponse, error)
	Balance(ctx context.Context) (*big.Int, error)
}

// Whitelist is the read side of the approved address set.
type Whitelist interface {
	Get(ctx context.Context, address string) (*store.WhitelistEntry, error)
}

// Controller decides and records bounty payouts.
type Controller struct {
	cfg       Config
	whitelist Whitelist
	ledger    *store.ClaimLedger
	payer     Payer
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	locks     *keyedMutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics records trigger outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// NewController creates a controller over the given stores and payer.
func NewController(cfg Config, whitelist Whitelist, ledger *store.ClaimLedger, payer Payer, logger zerolog.Logger, opts ...Option) (*Controller, error) {
	if cfg.Enabled {
		if cfg.Amount == nil || cfg.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: bounty amount must be positive", x402.ErrInvalidAmount)
		}
		if cfg.MaxClaims <= 0 {
			return nil, fmt.Errorf("bounty max claims must be positive, got %d", cfg.MaxClaims)
		}
	}
	if cfg.Guidance == "" {
		cfg.Guidance = DefaultGuidance
	}
	if cfg.HowToClaim == nil {
		cfg.HowToClaim = DefaultHowToClaim
	}

	c := &Controller{
		cfg:       cfg,
		whitelist: whitelist,
		ledger:    ledger,
		payer:     payer,
		logger:    logger.With().Str("component", "bounty").Logger(),
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Enabled reports whether triggers can pay.
func (c *Controller) Enabled() bool {
	return c.cfg.Enabled
}

// MaybeTrigger pays the bounty to address if it is whitelisted, has not
// claimed, and the pool has room. Ineligibility and failed transfers are
// reported in the Outcome; an error means a store or address problem. It
// returns nil, nil when the bounty is disabled.
func (c *Controller) MaybeTrigger(ctx context.Context, address string) (*Outcome, error) {
	if !c.cfg.Enabled {
		return nil, nil
	}
	if !x402.IsHexAddress(address) {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequest, "invalid address", x402.ErrInvalidRequest).
			WithDetails("address", address)
	}
	addr := x402.NormalizeAddress(address)

	unlock := c.locks.Lock(addr)
	defer unlock()

	outcome, err := c.trigger(ctx, addr)
	if err != nil {
		c.metrics.ObserveBounty("error", 0)
		return nil, err
	}

	if outcome.Paid() {
		paid, _ := new(big.Float).SetInt(c.cfg.Amount).Float64()
		c.metrics.ObserveBounty("paid", paid)
	} else {
		c.metrics.ObserveBounty(string(outcome.Code), 0)
	}
	return outcome, nil
}

func (c *Controller) trigger(ctx context.Context, addr string) (*Outcome, error) {
	// A claim is terminal even if the address has since left the whitelist.
	if _, err := c.ledger.Get(ctx, addr); err == nil {
		return c.ineligible(ctx, addr, x402.ErrCodeAlreadyClaimed, "Address already claimed bounty"), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	entry, err := c.whitelist.Get(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return c.ineligible(ctx, addr, x402.ErrCodeNotWhitelisted, c.cfg.Guidance), nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := c.ledger.Reserve(ctx, addr, entry.Handle, c.cfg.Amount, c.cfg.MaxClaims); err != nil {
		switch {
		case errors.Is(err, x402.ErrAlreadyClaimed):
			return c.ineligible(ctx, addr, x402.ErrCodeAlreadyClaimed, "Address already claimed bounty"), nil
		case errors.Is(err, x402.ErrClaimPending):
			return c.ineligible(ctx, addr, x402.ErrCodeClaimPending, "A bounty payment to this address is awaiting confirmation"), nil
		case errors.Is(err, x402.ErrPoolExhausted):
			return c.ineligible(ctx, addr, x402.ErrCodePoolExhausted, "Bounty pool exhausted"), nil
		default:
			return nil, err
		}
	}

	log := c.logger.With().Str("address", addr).Str("handle", entry.Handle).Logger()
	resp, err := c.payer.Transfer(ctx, common.HexToAddress(addr), c.cfg.Amount)
	if err != nil {
		c.release(addr)
		return nil, err
	}

	// The transfer may be on chain; bookkeeping must finish even if the
	// caller goes away.
	bg := context.WithoutCancel(ctx)

	switch resp.Status {
	case x402.SettlementStatusConfirmed:
		block, _ := strconv.ParseUint(resp.BlockNumber, 10, 64)
		claim, err := c.ledger.Commit(bg, addr, resp.Transaction, block)
		if err != nil {
			log.Error().Err(err).Str("tx_hash", resp.Transaction).Msg("bounty paid but claim not recorded")
			if markErr := c.ledger.MarkPending(bg, addr, resp.Transaction); markErr != nil {
				log.Error().Err(markErr).Msg("failed to keep reservation for reconciliation")
			}
			return nil, err
		}
		log.Info().Str("tx_hash", claim.TxHash).Str("amount", claim.Amount).Msg("bounty paid")
		return &Outcome{
			Amount:    x402.BigIntToAmount(c.cfg.Amount, int(c.cfg.Decimals)),
			TxHash:    claim.TxHash,
			Handle:    claim.Handle,
			Remaining: c.remaining(bg),
		}, nil

	case x402.SettlementStatusPending:
		if err := c.ledger.MarkPending(bg, addr, resp.Transaction); err != nil {
			return nil, err
		}
		return &Outcome{
			Code:      x402.ErrCodeSettlementPending,
			Message:   "Bounty transfer submitted but not yet confirmed",
			TxHash:    resp.Transaction,
			Handle:    entry.Handle,
			Remaining: c.remaining(bg),
		}, nil

	default:
		// Failed means rejected before broadcast or reverted on chain. No
		// transfer can still land.
		c.release(addr)
		log.Warn().Err(resp.Err()).Str("tx_hash", resp.Transaction).Msg("bounty payment failed")
		reason := resp.ErrorMessage
		if reason == "" {
			reason = resp.ErrorReason
		}
		return &Outcome{
			Code:      x402.ErrCodePaymentFailed,
			Message:   fmt.Sprintf("Bounty payment failed: %s", reason),
			TxHash:    resp.Transaction,
			Handle:    entry.Handle,
			Remaining: c.remaining(bg),
		}, nil
	}
}

func (c *Controller) ineligible(ctx context.Context, addr string, code x402.ErrorCode, message string) *Outcome {
	outcome := &Outcome{Code: code, Message: message, Remaining: c.remaining(ctx)}
	c.logger.Debug().Err(outcome.Err()).Str("address", addr).Msg("bounty not paid")
	return outcome
}

func (c *Controller) release(addr string) {
	if err := c.ledger.Release(context.Background(), addr); err != nil {
		c.logger.Error().Err(err).Str("address", addr).Msg("failed to release pool slot")
	}
}

// remaining is best effort; it reads zero when the ledger is unreadable.
func (c *Controller) remaining(ctx context.Context) int64 {
	s, err := c.ledger.Summary(ctx)
	if err != nil {
		return 0
	}
	return remainingSlots(c.cfg.MaxClaims, s)
}

func remainingSlots(max int64, s *store.Summary) int64 {
	n := max - s.ClaimCount - s.ReservationCount
	if n < 0 {
		return 0
	}
	return n
}

// Check returns the standing of address without changing anything.
func (c *Controller) Check(ctx context.Context, address string) (*CheckResult, error) {
	if !x402.IsHexAddress(address) {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequest, "invalid address", x402.ErrInvalidRequest).
			WithDetails("address", address)
	}
	addr := x402.NormalizeAddress(address)
	result := &CheckResult{Address: addr, State: StateUnknown}

	entry, err := c.whitelist.Get(ctx, addr)
	switch {
	case err == nil:
		result.Whitelisted = true
		result.Handle = &entry.Handle
		approved := entry.ApprovedAt
		result.ApprovedAt = &approved
	case !errors.Is(err, store.ErrNotFound):
		return result, err
	}

	claim, err := c.ledger.Get(ctx, addr)
	switch {
	case err == nil:
		result.Claimed = true
		result.TxHash = claim.TxHash
	case !errors.Is(err, store.ErrNotFound):
		return result, err
	}

	reservation, err := c.ledger.Reservation(ctx, addr)
	switch {
	case err == nil:
		result.ClaimPending = true
		if result.TxHash == "" {
			result.TxHash = reservation.TxHash
		}
	case !errors.Is(err, store.ErrNotFound):
		return result, err
	}

	summary, err := c.ledger.Summary(ctx)
	if err != nil {
		return result, err
	}

	switch {
	case result.Claimed:
		result.State = StateClaimed
	case result.ClaimPending:
		result.State = StateClaimPending
	case !result.Whitelisted:
		result.State = StateNotWhitelisted
	case remainingSlots(c.cfg.MaxClaims, summary) == 0:
		result.State = StatePoolExhausted
	default:
		result.State = StateWhitelistedUnclaimed
	}
	result.CanClaim = c.cfg.Enabled && result.State == StateWhitelistedUnclaimed
	return result, nil
}

// Status summarizes the pool. The pool balance is omitted when the chain
// cannot be read.
func (c *Controller) Status(ctx context.Context) (*Status, error) {
	summary, err := c.ledger.Summary(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := c.ledger.Recent(ctx, recentLimit)
	if err != nil {
		return nil, err
	}
	c.metrics.SetClaims(summary.ClaimCount)

	decimals := int(c.cfg.Decimals)
	remaining := remainingSlots(c.cfg.MaxClaims, summary)
	status := &Status{
		Active:       c.cfg.Enabled && remaining > 0,
		BountyAmount: fmt.Sprintf("%s %s", x402.BigIntToAmount(c.cfg.Amount, decimals), c.cfg.Symbol),
		Claimed:      summary.ClaimCount,
		Pending:      summary.ReservationCount,
		MaxClaims:    c.cfg.MaxClaims,
		Remaining:    remaining,
		TotalPaid:    x402.BigIntToAmount(summary.TotalPaid, decimals),
		RecentClaims: make([]RecentClaim, 0, len(recent)),
		HowToClaim:   c.cfg.HowToClaim,
	}

	if balance, err := c.payer.Balance(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to read pool balance")
	} else {
		status.PoolBalance = x402.BigIntToAmount(balance, decimals)
	}

	for _, claim := range recent {
		status.RecentClaims = append(status.RecentClaims, RecentClaim{
			Address:   claim.Address,
			Handle:    claim.Handle,
			TxHash:    claim.TxHash,
			Timestamp: claim.ClaimedAt,
		})
	}
	return status, nil
}

// Reconcile resolves reservations whose transfer was submitted but not
// confirmed: confirmed transfers become claims and failed ones free their
// slot. Lookup failures are collected and returned together.
func (c *Controller) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	reservations, err := c.ledger.Reservations(ctx, "")
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		Committed:    []string{},
		Released:     []string{},
		StillPending: []string{},
		Unsubmitted:  []string{},
	}
	var errs []error
	for _, r := range reservations {
		if r.TxHash == "" {
			report.Unsubmitted = append(report.Unsubmitted, r.Address)
			continue
		}
		if err := c.reconcileOne(ctx, r, report); err != nil {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", r.Address, err))
		}
	}

	c.logger.Info().
		Int("committed", len(report.Committed)).
		Int("released", len(report.Released)).
		Int("pending", len(report.StillPending)).
		Int("unsubmitted", len(report.Unsubmitted)).
		Msg("reservations reconciled")
	return report, errors.Join(errs...)
}

func (c *Controller) reconcileOne(ctx context.Context, r store.ClaimReservation, report *ReconcileReport) error {
	unlock := c.locks.Lock(r.Address)
	defer unlock()

	resp, err := c.payer.Lookup(ctx, r.TxHash)
	if err != nil {
		return err
	}
	switch resp.Status {
	case x402.SettlementStatusConfirmed:
		block, _ := strconv.ParseUint(resp.BlockNumber, 10, 64)
		if _, err := c.ledger.Commit(ctx, r.Address, r.TxHash, block); err != nil {
			return err
		}
		report.Committed = append(report.Committed, r.Address)
	case x402.SettlementStatusFailed:
		if err := c.ledger.Release(ctx, r.Address); err != nil {
			return err
		}
		report.Released = append(report.Released, r.Address)
	default:
		report.StillPending = append(report.StillPending, r.Address)
	}
	return nil
}

// Release frees the slot held by an unsubmitted reservation. Reservations
// with a transaction hash must go through Reconcile.
func (c *Controller) Release(ctx context.Context, address string) error {
	addr := x402.NormalizeAddress(address)
	unlock := c.locks.Lock(addr)
	defer unlock()

	r, err := c.ledger.Reservation(ctx, addr)
	if err != nil {
		return err
	}
	if r.TxHash != "" {
		return fmt.Errorf("%w: reservation for %s has transaction %s", x402.ErrClaimPending, addr, r.TxHash)
	}
	c.logger.Warn().Str("address", addr).Time("reserved_at", r.CreatedAt).Dur("age", time.Since(r.CreatedAt)).Msg("releasing unsubmitted reservation")
	return c.ledger.Release(ctx, addr)
}

// Audit checks the ledger totals against its claim rows.
func (c *Controller) Audit(ctx context.Context) (*store.AuditReport, error) {
	return c.ledger.Audit(ctx)
}
