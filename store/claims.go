package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	x402 "github.com/mark3labs/x402-facilitator"
)

// Summary is a snapshot of the pool.
type Summary struct {
	ClaimCount       int64
	ReservationCount int64
	TotalPaid        *big.Int
}

// AuditReport compares the running totals against the claim rows.
type AuditReport struct {
	ClaimRows        int64  `json:"claimRows"`
	ClaimCount       int64  `json:"claimCount"`
	SumOfClaims      string `json:"sumOfClaims"`
	TotalPaid        string `json:"totalPaid"`
	OpenReservations int64  `json:"openReservations"`
	Consistent       bool   `json:"consistent"`
}

// ClaimLedger is the durable record of bounty payouts.
type ClaimLedger struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewClaimLedger creates a claim ledger.
func NewClaimLedger(db *gorm.DB, logger zerolog.Logger) *ClaimLedger {
	return &ClaimLedger{
		db:     db,
		logger: logger.With().Str("component", "claim_ledger").Logger(),
		now:    time.Now,
	}
}

// Get returns the claim for address or ErrNotFound.
func (l *ClaimLedger) Get(ctx context.Context, address string) (*Claim, error) {
	var claim Claim
	err := l.db.WithContext(ctx).
		Where("address = ?", x402.NormalizeAddress(address)).
		First(&claim).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr(err, "failed to query claim")
	}
	return &claim, nil
}

// Reservation returns the open reservation for address or ErrNotFound.
func (l *ClaimLedger) Reservation(ctx context.Context, address string) (*ClaimReservation, error) {
	var r ClaimReservation
	err := l.db.WithContext(ctx).
		Where("address = ?", x402.NormalizeAddress(address)).
		First(&r).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr(err, "failed to query reservation")
	}
	return &r, nil
}

// Count returns the number of confirmed claims.
func (l *ClaimLedger) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&Claim{}).Count(&n).Error; err != nil {
		return 0, storageErr(err, "failed to count claims")
	}
	return n, nil
}

// Reserve takes a pool slot for address. In one transaction it fails with
// x402.ErrAlreadyClaimed when a claim exists, x402.ErrClaimPending when a
// reservation exists, and x402.ErrPoolExhausted when claims plus open
// reservations already reach maxClaims.
func (l *ClaimLedger) Reserve(ctx context.Context, address, handle string, amount *big.Int, maxClaims int64) (*ClaimReservation, error) {
	addr := x402.NormalizeAddress(address)
	reservation := ClaimReservation{
		Address: addr,
		Handle:  handle,
		Amount:  amount.String(),
		Status:  ReservationInFlight,
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Claim{}).Where("address = ?", addr).Count(&n).Error; err != nil {
			return storageErr(err, "failed to check existing claim")
		}
		if n > 0 {
			return x402.ErrAlreadyClaimed
		}

		if err := tx.Model(&ClaimReservation{}).Where("address = ?", addr).Count(&n).Error; err != nil {
			return storageErr(err, "failed to check existing reservation")
		}
		if n > 0 {
			return x402.ErrClaimPending
		}

		var claims, reserved int64
		if err := tx.Model(&Claim{}).Count(&claims).Error; err != nil {
			return storageErr(err, "failed to count claims")
		}
		if err := tx.Model(&ClaimReservation{}).Count(&reserved).Error; err != nil {
			return storageErr(err, "failed to count reservations")
		}
		if claims+reserved >= maxClaims {
			return x402.ErrPoolExhausted
		}

		if err := tx.Create(&reservation).Error; err != nil {
			return storageErr(err, "failed to create reservation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug().Str("address", addr).Str("amount", reservation.Amount).Msg("pool slot reserved")
	return &reservation, nil
}

// MarkPending records that the transfer for address was submitted but not confirmed.
func (l *ClaimLedger) MarkPending(ctx context.Context, address, txHash string) error {
	addr := x402.NormalizeAddress(address)
	result := l.db.WithContext(ctx).
		Model(&ClaimReservation{}).
		Where("address = ?", addr).
		Updates(map[string]any{"status": ReservationPending, "tx_hash": txHash})
	if result.Error != nil {
		return storageErr(result.Error, "failed to mark reservation pending")
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "reservation for %s", addr)
	}
	l.logger.Warn().Str("address", addr).Str("tx_hash", txHash).Msg("bounty transfer awaiting confirmation")
	return nil
}

// Commit converts the reservation for address into a claim and updates the
// running totals in the same transaction.
func (l *ClaimLedger) Commit(ctx context.Context, address, txHash string, blockNumber uint64) (*Claim, error) {
	addr := x402.NormalizeAddress(address)
	var claim Claim

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r ClaimReservation
		err := tx.Where("address = ?", addr).First(&r).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(ErrNotFound, "reservation for %s", addr)
		}
		if err != nil {
			return storageErr(err, "failed to load reservation")
		}

		amount, ok := new(big.Int).SetString(r.Amount, 10)
		if !ok {
			return storageErr(x402.ErrInvalidAmount, "reservation amount is corrupt")
		}

		claim = Claim{
			ID:          uuid.NewString(),
			Address:     addr,
			Handle:      r.Handle,
			Amount:      r.Amount,
			TxHash:      txHash,
			BlockNumber: blockNumber,
			ClaimedAt:   l.now().UTC(),
		}
		if err := insertClaim(tx, &claim, amount); err != nil {
			return err
		}
		if err := tx.Delete(&ClaimReservation{}, "address = ?", addr).Error; err != nil {
			return storageErr(err, "failed to delete reservation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("address", addr).
		Str("amount", claim.Amount).
		Str("tx_hash", txHash).
		Uint64("block_number", blockNumber).
		Msg("bounty claim recorded")
	return &claim, nil
}

// insertClaim writes claim and adds amount to the totals row using tx.
func insertClaim(tx *gorm.DB, claim *Claim, amount *big.Int) error {
	if err := tx.Create(claim).Error; err != nil {
		return storageErr(err, "failed to insert claim")
	}

	totals, err := loadTotals(tx)
	if err != nil {
		return err
	}
	paid, ok := new(big.Int).SetString(totals.TotalPaid, 10)
	if !ok {
		return storageErr(x402.ErrInvalidAmount, "ledger total is corrupt")
	}
	paid.Add(paid, amount)

	if err := tx.Model(&LedgerTotals{}).
		Where("id = ?", totalsRowID).
		Updates(map[string]any{
			"total_paid":  paid.String(),
			"claim_count": gorm.Expr("claim_count + ?", 1),
		}).Error; err != nil {
		return storageErr(err, "failed to update ledger totals")
	}
	return nil
}

func loadTotals(tx *gorm.DB) (*LedgerTotals, error) {
	totals := LedgerTotals{ID: totalsRowID, TotalPaid: "0"}
	if err := tx.FirstOrCreate(&totals, LedgerTotals{ID: totalsRowID}).Error; err != nil {
		return nil, storageErr(err, "failed to load ledger totals")
	}
	return &totals, nil
}

// Release drops the reservation for address, returning its slot to the pool.
func (l *ClaimLedger) Release(ctx context.Context, address string) error {
	addr := x402.NormalizeAddress(address)
	if err := l.db.WithContext(ctx).Delete(&ClaimReservation{}, "address = ?", addr).Error; err != nil {
		return storageErr(err, "failed to release reservation")
	}
	l.logger.Debug().Str("address", addr).Msg("pool slot released")
	return nil
}

// Reservations returns open reservations with the given status, oldest first.
// An empty status returns all of them.
func (l *ClaimLedger) Reservations(ctx context.Context, status string) ([]ClaimReservation, error) {
	var out []ClaimReservation
	query := l.db.WithContext(ctx).Order("created_at ASC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, storageErr(err, "failed to list reservations")
	}
	return out, nil
}

// Recent returns the latest claims, newest first.
func (l *ClaimLedger) Recent(ctx context.Context, limit int) ([]Claim, error) {
	var claims []Claim
	query := l.db.WithContext(ctx).Order("claimed_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&claims).Error; err != nil {
		return nil, storageErr(err, "failed to query recent claims")
	}
	return claims, nil
}

// List returns every claim, oldest first.
func (l *ClaimLedger) List(ctx context.Context) ([]Claim, error) {
	var claims []Claim
	if err := l.db.WithContext(ctx).Order("claimed_at ASC").Find(&claims).Error; err != nil {
		return nil, storageErr(err, "failed to list claims")
	}
	return claims, nil
}

// Summary returns the claim count, the open reservation count and the total paid.
func (l *ClaimLedger) Summary(ctx context.Context) (*Summary, error) {
	var s Summary
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		totals, err := loadTotals(tx)
		if err != nil {
			return err
		}
		paid, ok := new(big.Int).SetString(totals.TotalPaid, 10)
		if !ok {
			return storageErr(x402.ErrInvalidAmount, "ledger total is corrupt")
		}
		s.TotalPaid = paid

		if err := tx.Model(&Claim{}).Count(&s.ClaimCount).Error; err != nil {
			return storageErr(err, "failed to count claims")
		}
		if err := tx.Model(&ClaimReservation{}).Count(&s.ReservationCount).Error; err != nil {
			return storageErr(err, "failed to count reservations")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Audit recomputes the totals from the claim rows and compares them with the
// stored running totals.
func (l *ClaimLedger) Audit(ctx context.Context) (*AuditReport, error) {
	var report AuditReport
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claims []Claim
		if err := tx.Select("amount").Find(&claims).Error; err != nil {
			return storageErr(err, "failed to load claims")
		}
		sum := new(big.Int)
		for _, c := range claims {
			v, ok := new(big.Int).SetString(c.Amount, 10)
			if !ok {
				return storageErr(x402.ErrInvalidAmount, fmt.Sprintf("claim amount %q is corrupt", c.Amount))
			}
			sum.Add(sum, v)
		}

		totals, err := loadTotals(tx)
		if err != nil {
			return err
		}
		if err := tx.Model(&ClaimReservation{}).Count(&report.OpenReservations).Error; err != nil {
			return storageErr(err, "failed to count reservations")
		}

		report.ClaimRows = int64(len(claims))
		report.ClaimCount = totals.ClaimCount
		report.SumOfClaims = sum.String()
		report.TotalPaid = totals.TotalPaid
		report.Consistent = report.ClaimRows == report.ClaimCount && report.SumOfClaims == report.TotalPaid
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.Consistent {
		l.logger.Error().
			Int64("claim_rows", report.ClaimRows).
			Int64("claim_count", report.ClaimCount).
			Str("sum_of_claims", report.SumOfClaims).
			Str("total_paid", report.TotalPaid).
			Msg("claim ledger totals do not match claim rows")
	}
	return &report, nil
}

// importClaim inserts a historical claim with its totals, skipping addresses
// that already have one.
func (l *ClaimLedger) importClaim(ctx context.Context, claim Claim) (bool, error) {
	claim.Address = x402.NormalizeAddress(claim.Address)
	if !x402.IsHexAddress(claim.Address) {
		return false, fmt.Errorf("%w: invalid address %q", x402.ErrInvalidRequest, claim.Address)
	}
	amount, ok := new(big.Int).SetString(claim.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return false, fmt.Errorf("%w: %q", x402.ErrInvalidAmount, claim.Amount)
	}
	if claim.ID == "" {
		claim.ID = uuid.NewString()
	}
	if claim.ClaimedAt.IsZero() {
		claim.ClaimedAt = l.now().UTC()
	}

	inserted := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Claim{}).Where("address = ?", claim.Address).Count(&n).Error; err != nil {
			return storageErr(err, "failed to check existing claim")
		}
		if n > 0 {
			return nil
		}
		if err := insertClaim(tx, &claim, amount); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}
