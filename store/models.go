package store

import "time"

// Reservation status values.
const (
	// ReservationInFlight marks a payout whose transfer has not returned yet.
	ReservationInFlight = "in_flight"
	// ReservationPending marks a submitted transfer whose receipt never arrived.
	ReservationPending = "pending"
)

const totalsRowID = 1

// WhitelistEntry is an address an operator approved for the bounty.
type WhitelistEntry struct {
	Address    string    `gorm:"primaryKey;size:42" json:"address"` // lower-case hex
	Handle     string    `json:"handle"`                            // external agent handle
	Provenance string    `gorm:"type:text" json:"provenance,omitempty"`
	ApprovedAt time.Time `gorm:"not null" json:"approvedAt"`
}

// Claim records a confirmed bounty payout. Rows are never updated.
type Claim struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Address     string    `gorm:"uniqueIndex;size:42;not null" json:"address"`
	Handle      string    `json:"handle,omitempty"`
	Amount      string    `gorm:"not null" json:"amount"` // atomic units, decimal
	TxHash      string    `gorm:"index;size:66" json:"txHash"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	ClaimedAt   time.Time `gorm:"index;not null" json:"claimedAt"`
}

// ClaimReservation holds a pool slot for an address while its payout is unresolved.
type ClaimReservation struct {
	Address   string    `gorm:"primaryKey;size:42" json:"address"`
	Handle    string    `json:"handle,omitempty"`
	Amount    string    `gorm:"not null" json:"amount"`
	Status    string    `gorm:"index;not null" json:"status"` // in_flight or pending
	TxHash    string    `gorm:"size:66" json:"txHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LedgerTotals is the singleton row of running totals.
type LedgerTotals struct {
	ID         uint   `gorm:"primaryKey"`
	TotalPaid  string `gorm:"not null;default:'0'"`
	ClaimCount int64  `gorm:"not null;default:0"`
	UpdatedAt  time.Time
}
