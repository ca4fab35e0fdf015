package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	x402 "github.com/mark3labs/x402-facilitator"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = stderrors.New("store: not found")

// storageErr tags err with x402.ErrStorage so callers can classify it.
func storageErr(err error, msg string) error {
	return errors.Wrap(fmt.Errorf("%w: %w", x402.ErrStorage, err), msg)
}

// WhitelistStore provides access to approved bounty addresses.
type WhitelistStore struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewWhitelistStore creates a whitelist store.
func NewWhitelistStore(db *gorm.DB, logger zerolog.Logger) *WhitelistStore {
	return &WhitelistStore{
		db:     db,
		logger: logger.With().Str("component", "whitelist_store").Logger(),
		now:    time.Now,
	}
}

// Add approves an address. It reports added=false and returns the existing
// entry when the address is already whitelisted.
func (s *WhitelistStore) Add(ctx context.Context, address, handle, provenance string) (*WhitelistEntry, bool, error) {
	entry := WhitelistEntry{
		Address:    x402.NormalizeAddress(address),
		Handle:     handle,
		Provenance: provenance,
		ApprovedAt: s.now().UTC(),
	}
	if !x402.IsHexAddress(entry.Address) {
		return nil, false, fmt.Errorf("%w: invalid address %q", x402.ErrInvalidRequest, address)
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry)
	if result.Error != nil {
		return nil, false, storageErr(result.Error, "failed to insert whitelist entry")
	}

	if result.RowsAffected == 0 {
		existing, err := s.Get(ctx, entry.Address)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	s.logger.Info().
		Str("address", entry.Address).
		Str("handle", entry.Handle).
		Msg("address whitelisted")
	return &entry, true, nil
}

// Remove revokes an address. It reports whether a row was deleted.
func (s *WhitelistStore) Remove(ctx context.Context, address string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("address = ?", x402.NormalizeAddress(address)).
		Delete(&WhitelistEntry{})
	if result.Error != nil {
		return false, storageErr(result.Error, "failed to delete whitelist entry")
	}
	if result.RowsAffected > 0 {
		s.logger.Info().Str("address", x402.NormalizeAddress(address)).Msg("address removed from whitelist")
	}
	return result.RowsAffected > 0, nil
}

// Get returns the entry for address or ErrNotFound.
func (s *WhitelistStore) Get(ctx context.Context, address string) (*WhitelistEntry, error) {
	var entry WhitelistEntry
	err := s.db.WithContext(ctx).
		Where("address = ?", x402.NormalizeAddress(address)).
		First(&entry).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr(err, "failed to query whitelist entry")
	}
	return &entry, nil
}

// List returns all entries ordered by approval time.
func (s *WhitelistStore) List(ctx context.Context) ([]WhitelistEntry, error) {
	var entries []WhitelistEntry
	if err := s.db.WithContext(ctx).Order("approved_at ASC").Find(&entries).Error; err != nil {
		return nil, storageErr(err, "failed to list whitelist entries")
	}
	return entries, nil
}

// Count returns the number of whitelisted addresses.
func (s *WhitelistStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&WhitelistEntry{}).Count(&n).Error; err != nil {
		return 0, storageErr(err, "failed to count whitelist entries")
	}
	return n, nil
}

// importEntry inserts an entry with its original approval time, skipping duplicates.
func (s *WhitelistStore) importEntry(ctx context.Context, entry WhitelistEntry) (bool, error) {
	entry.Address = x402.NormalizeAddress(entry.Address)
	if !x402.IsHexAddress(entry.Address) {
		return false, fmt.Errorf("%w: invalid address %q", x402.ErrInvalidRequest, entry.Address)
	}
	if entry.ApprovedAt.IsZero() {
		entry.ApprovedAt = s.now().UTC()
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if result.Error != nil {
		return false, storageErr(result.Error, "failed to import whitelist entry")
	}
	return result.RowsAffected > 0, nil
}
