// Package mcp exposes the facilitator to agents over the Model Context Protocol.
package mcp

// Tool names.
const (
	ToolBountyStatus  = "bounty_status"
	ToolBountyCheck   = "bounty_check"
	ToolVerifyPayment = "verify_payment"
)

// Tool argument keys.
const (
	// ArgAddress is the EVM address checked by bounty_check.
	ArgAddress = "address"

	// ArgPayment is the /verify body, either as an object or as the base64
	// X-PAYMENT header value.
	ArgPayment = "payment"
)
