package bounty

import (
	"math/big"
	"time"

	x402 "github.com/mark3labs/x402-facilitator"
)

// State is the bounty standing of an address.
type State string

const (
	StateUnknown              State = "unknown"
	StateNotWhitelisted       State = "not_whitelisted"
	StateWhitelistedUnclaimed State = "whitelisted_unclaimed"
	StateClaimPending         State = "claim_pending"
	StateClaimed              State = "claimed"
	StatePoolExhausted        State = "pool_exhausted"
)

// Config holds the pool parameters.
type Config struct {
	Enabled   bool
	Amount    *big.Int // atomic units per claim
	MaxClaims int64
	Decimals  uint8
	Symbol    string
	// Guidance is the message shown to addresses that are not whitelisted.
	Guidance string
	// HowToClaim is returned by Status.
	HowToClaim []string
}

// DefaultGuidance tells unapproved agents how to get on the whitelist.
const DefaultGuidance = "Post in m/payments on Moltbook with your wallet address to claim the bounty!"

// DefaultHowToClaim is the step list returned by Status.
var DefaultHowToClaim = []string{
	"1. Get USD₮0 on Flare (any amount)",
	"2. Post your wallet address in m/payments on Moltbook to get whitelisted",
	"3. Send a valid x402 payment verification to this facilitator",
	"4. Receive the bounty automatically",
}

// Outcome reports what a trigger did. Code is empty when the bounty was paid.
type Outcome struct {
	Code      x402.ErrorCode `json:"reason,omitempty"`
	Message   string         `json:"message,omitempty"`
	Amount    string         `json:"amount,omitempty"`
	TxHash    string         `json:"txHash,omitempty"`
	Handle    string         `json:"handle,omitempty"`
	Remaining int64          `json:"remaining"`
}

// Paid reports whether the trigger transferred and recorded the bounty.
func (o *Outcome) Paid() bool {
	return o != nil && o.Code == ""
}

// Err returns nil for a paid outcome and otherwise the reason as a
// PaymentError, e.g. one wrapping x402.ErrNotWhitelisted.
func (o *Outcome) Err() error {
	if o.Paid() {
		return nil
	}
	return o.Code.Err(o.Message)
}

// CheckResult is a snapshot of an address's standing.
type CheckResult struct {
	Address      string     `json:"address"`
	State        State      `json:"state"`
	Whitelisted  bool       `json:"whitelisted"`
	Claimed      bool       `json:"claimed"`
	ClaimPending bool       `json:"claimPending"`
	Handle       *string    `json:"handle"`
	ApprovedAt   *time.Time `json:"approvedAt"`
	TxHash       string     `json:"txHash,omitempty"`
	CanClaim     bool       `json:"canClaim"`
}

// RecentClaim is a claim as listed by Status.
type RecentClaim struct {
	Address   string    `json:"address"`
	Handle    string    `json:"handle,omitempty"`
	TxHash    string    `json:"txHash"`
	Timestamp time.Time `json:"timestamp"`
}

// Status summarizes the pool.
type Status struct {
	Active       bool          `json:"active"`
	BountyAmount string        `json:"bountyAmount"`
	PoolBalance  string        `json:"poolBalance,omitempty"`
	Claimed      int64         `json:"claimed"`
	Pending      int64         `json:"pending"`
	MaxClaims    int64         `json:"maxClaims"`
	Remaining    int64         `json:"remaining"`
	TotalPaid    string        `json:"totalPaid"`
	RecentClaims []RecentClaim `json:"recentClaims"`
	HowToClaim   []string      `json:"howToClaim"`
}

// ReconcileReport lists what Reconcile did with open reservations.
type ReconcileReport struct {
	Committed    []string `json:"committed"`
	Released     []string `json:"released"`
	StillPending []string `json:"stillPending"`
	// Unsubmitted reservations never got a transaction hash. They are left
	// for an operator to release.
	Unsubmitted []string `json:"unsubmitted"`
}
