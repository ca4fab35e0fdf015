// Package http exposes the facilitator over HTTP.
//
// The API type holds the router-independent request handling. NewRouter
// mounts it on chi; the gin subpackage mounts the same API on gin.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	x402 "github.com/mark3labs/x402-facilitator"
	"github.com/mark3labs/x402-facilitator/bounty"
	"github.com/mark3labs/x402-facilitator/encoding"
	"github.com/mark3labs/x402-facilitator/facilitator"
	"github.com/mark3labs/x402-facilitator/metrics"
	"github.com/mark3labs/x402-facilitator/store"
	"github.com/mark3labs/x402-facilitator/validation"
)

// maxBodyBytes bounds /verify and /settle request bodies.
const maxBodyBytes = 64 << 10

// Verifier checks authorizations. *facilitator.Verifier implements it.
type Verifier interface {
	Verify(ctx context.Context, payload x402.PaymentPayload) (*facilitator.VerificationResult, error)
}

// Settler submits authorizations. *facilitator.Settler implements it.
type Settler interface {
	Address() common.Address
	Settle(ctx context.Context, payload x402.PaymentPayload) (*x402.SettlementResponse, error)
}

// Bounty is the reward pool. *bounty.Controller implements it.
type Bounty interface {
	Enabled() bool
	MaybeTrigger(ctx context.Context, address string) (*bounty.Outcome, error)
	Check(ctx context.Context, address string) (*bounty.CheckResult, error)
	Status(ctx context.Context) (*bounty.Status, error)
	Reconcile(ctx context.Context) (*bounty.ReconcileReport, error)
	Release(ctx context.Context, address string) error
	Audit(ctx context.Context) (*store.AuditReport, error)
}

// Whitelist is the admin side of the approved address set. *store.WhitelistStore implements it.
type Whitelist interface {
	Add(ctx context.Context, address, handle, provenance string) (*store.WhitelistEntry, bool, error)
	Remove(ctx context.Context, address string) (bool, error)
	List(ctx context.Context) ([]store.WhitelistEntry, error)
}

// Response is a router-independent reply.
type Response struct {
	Status int
	Header http.Header
	Body   any
}

// ErrorBody is the shape of every failure reply.
type ErrorBody struct {
	Error    x402.ErrorCode         `json:"error"`
	Category x402.ErrorCategory     `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// VerifyResponse is the /verify reply: the verification result plus what
// happened with the bounty.
type VerifyResponse struct {
	Valid    bool               `json:"valid"`
	Error    x402.ErrorCode     `json:"error,omitempty"`
	Category x402.ErrorCategory `json:"category,omitempty"`
	Message  string             `json:"message,omitempty"`
	Payer    string             `json:"payer,omitempty"`

	BountyPaid     *bounty.Outcome `json:"bountyPaid,omitempty"`
	BountyEligible *bool           `json:"bountyEligible,omitempty"`
	BountyReason   x402.ErrorCode  `json:"bountyReason,omitempty"`
	BountyMessage  string          `json:"bountyMessage,omitempty"`
	BountyTxHash   string          `json:"bountyTxHash,omitempty"`
}

// SettleResponse is the /settle reply. The error fields are set on failure.
type SettleResponse struct {
	x402.SettlementResponse
	Error    x402.ErrorCode     `json:"error,omitempty"`
	Category x402.ErrorCategory `json:"category,omitempty"`
	Message  string             `json:"message,omitempty"`
}

// setError fills the error fields from a rejection or settlement failure.
func (r *SettleResponse) setError(err error) {
	code := x402.CodeOf(err)
	r.Error = code
	r.Category = code.Category()
	r.Message = "settlement transaction failed"

	var pe *x402.PaymentError
	if errors.As(err, &pe) && pe.Message != "" {
		r.Message = pe.Message
	}
}

// API composes the verifier, settler and bounty pool into request handlers.
type API struct {
	chain     x402.ChainConfig
	verifier  Verifier
	settler   Settler
	bounty    Bounty
	whitelist Whitelist
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	name      string
}

// APIOption configures an API.
type APIOption func(*API)

// WithBounty enables the bounty routes and the /verify trigger.
func WithBounty(b Bounty, wl Whitelist) APIOption {
	return func(a *API) {
		a.bounty = b
		a.whitelist = wl
	}
}

// WithMetrics records verification and settlement counts on m.
func WithMetrics(m *metrics.Metrics) APIOption {
	return func(a *API) {
		a.metrics = m
	}
}

// WithName sets the service name reported by Info.
func WithName(name string) APIOption {
	return func(a *API) {
		a.name = name
	}
}

// NewAPI creates an API for chain.
func NewAPI(chain x402.ChainConfig, verifier Verifier, settler Settler, logger zerolog.Logger, opts ...APIOption) *API {
	a := &API{
		chain:    chain,
		verifier: verifier,
		settler:  settler,
		logger:   logger.With().Str("component", "api").Logger(),
		name:     "x402 " + chain.Name + " Facilitator",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Metrics returns the metrics the API records on, or nil.
func (a *API) Metrics() *metrics.Metrics {
	return a.metrics
}

func (a *API) bountyEnabled() bool {
	return a.bounty != nil && a.bounty.Enabled()
}

// Info describes the facilitator.
func (a *API) Info(ctx context.Context) *Response {
	body := map[string]any{
		"name":        a.name,
		"network":     a.chain.NetworkID,
		"chain":       a.chain.Name,
		"asset":       a.chain.AssetAddress,
		"assetSymbol": a.chain.AssetSymbol,
		"facilitator": a.settler.Address().Hex(),
		"status":      "operational",
	}

	if a.bounty != nil {
		summary := map[string]any{"active": false}
		if status, err := a.bounty.Status(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("failed to read bounty status")
		} else {
			summary = map[string]any{
				"active":    status.Active,
				"amount":    status.BountyAmount,
				"claimed":   status.Claimed,
				"remaining": status.Remaining,
			}
		}
		body["bounty"] = summary
	}
	return &Response{Status: http.StatusOK, Body: body}
}

// Requirements describes the payments this facilitator accepts.
func (a *API) Requirements() *Response {
	return &Response{Status: http.StatusOK, Body: facilitator.RequirementsFor(a.chain)}
}

// Verify checks the authorization in body and, when valid, tries the bounty
// for the payer. A request without a body may carry the payload in the
// X-PAYMENT header.
func (a *API) Verify(ctx context.Context, body io.Reader, paymentHeader string) *Response {
	payload, err := a.decodePayload(body, paymentHeader)
	if err != nil {
		return a.errorResponse(err)
	}

	result, err := a.verifier.Verify(ctx, payload)
	if err != nil {
		return a.errorResponse(err)
	}

	resp := &VerifyResponse{
		Valid:   result.Valid,
		Error:   result.Error,
		Message: result.Message,
		Payer:   result.Payer,
	}
	if !result.Valid {
		resp.Category = result.Error.Category()
		a.metrics.ObserveVerification(string(result.Error))
		return &Response{Status: http.StatusOK, Body: resp}
	}
	a.metrics.ObserveVerification("valid")

	if a.bountyEnabled() {
		a.applyBounty(ctx, resp)
	}
	return &Response{Status: http.StatusOK, Body: resp}
}

// applyBounty runs the trigger and folds its outcome into resp. Bounty
// failures never turn a valid verification into an error.
func (a *API) applyBounty(ctx context.Context, resp *VerifyResponse) {
	ineligible := false

	outcome, err := a.bounty.MaybeTrigger(ctx, resp.Payer)
	switch {
	case err != nil:
		a.logger.Error().Err(err).Str("payer", resp.Payer).Msg("bounty trigger failed")
		resp.BountyEligible = &ineligible
		resp.BountyReason = x402.CodeOf(err)
		resp.BountyMessage = "Bounty is temporarily unavailable, verify again later"
	case outcome == nil:
	case outcome.Paid():
		resp.BountyPaid = outcome
		a.logger.Info().Str("payer", resp.Payer).Str("tx_hash", outcome.TxHash).Msg("new agent connected")
	default:
		resp.BountyEligible = &ineligible
		resp.BountyReason = outcome.Code
		resp.BountyMessage = outcome.Message
		resp.BountyTxHash = outcome.TxHash
	}
}

// Settle verifies and then settles the authorization in body.
func (a *API) Settle(ctx context.Context, body io.Reader, paymentHeader string) *Response {
	payload, err := a.decodePayload(body, paymentHeader)
	if err != nil {
		return a.errorResponse(err)
	}

	result, err := a.verifier.Verify(ctx, payload)
	if err != nil {
		return a.errorResponse(err)
	}
	if err := result.Err(); err != nil {
		a.metrics.ObserveVerification(string(result.Error))
		body := &SettleResponse{
			SettlementResponse: x402.SettlementResponse{
				Status:       x402.SettlementStatusFailed,
				ErrorReason:  string(result.Error),
				ErrorMessage: result.Message,
				Network:      a.chain.NetworkID,
				Payer:        result.Payer,
			},
		}
		body.setError(err)
		return &Response{Status: http.StatusBadRequest, Body: body}
	}

	settlement, err := a.settler.Settle(ctx, payload)
	if err != nil {
		return a.errorResponse(err)
	}
	a.metrics.ObserveSettlement(settlement.Status)

	resp := &Response{
		Status: http.StatusOK,
		Header: http.Header{},
		Body:   &SettleResponse{SettlementResponse: *settlement},
	}
	if encoded, err := encoding.EncodeSettlement(*settlement); err != nil {
		a.logger.Warn().Err(err).Msg("failed to encode payment response header")
	} else {
		resp.Header.Set(encoding.PaymentResponseHeader, encoded)
	}

	switch settlement.Status {
	case x402.SettlementStatusConfirmed:
	case x402.SettlementStatusPending:
		resp.Status = http.StatusAccepted
	default:
		resp.Body.(*SettleResponse).setError(settlement.Err())
		resp.Status = http.StatusBadGateway
	}
	return resp
}

// BountyStatus summarizes the pool.
func (a *API) BountyStatus(ctx context.Context) *Response {
	if a.bounty == nil {
		return disabled()
	}
	status, err := a.bounty.Status(ctx)
	if err != nil {
		return a.errorResponse(err)
	}
	return &Response{Status: http.StatusOK, Body: status}
}

// BountyCheck reports the standing of address.
func (a *API) BountyCheck(ctx context.Context, address string) *Response {
	if a.bounty == nil {
		return disabled()
	}
	result, err := a.bounty.Check(ctx, address)
	if err != nil {
		return a.errorResponse(err)
	}
	return &Response{Status: http.StatusOK, Body: result}
}

// WhitelistRequest is the body of POST /admin/whitelist.
type WhitelistRequest struct {
	Address    string `json:"address"`
	Handle     string `json:"handle"`
	Provenance string `json:"provenance"`
}

// AdminListWhitelist returns every approved address.
func (a *API) AdminListWhitelist(ctx context.Context) *Response {
	if a.whitelist == nil {
		return disabled()
	}
	entries, err := a.whitelist.List(ctx)
	if err != nil {
		return a.errorResponse(err)
	}
	return &Response{Status: http.StatusOK, Body: map[string]any{"agents": entries, "count": len(entries)}}
}

// AdminAddWhitelist approves an address.
func (a *API) AdminAddWhitelist(ctx context.Context, body io.Reader) *Response {
	if a.whitelist == nil {
		return disabled()
	}
	var req WhitelistRequest
	if err := json.NewDecoder(io.LimitReader(body, maxBodyBytes)).Decode(&req); err != nil {
		return a.errorResponse(x402.NewPaymentError(x402.ErrCodeInvalidRequest, "invalid JSON body", x402.ErrInvalidRequest))
	}
	if strings.TrimSpace(req.Handle) == "" {
		return a.errorResponse(x402.NewPaymentError(x402.ErrCodeInvalidRequest, "handle is required", x402.ErrInvalidRequest).
			WithDetails("field", "handle"))
	}

	entry, added, err := a.whitelist.Add(ctx, req.Address, req.Handle, req.Provenance)
	if err != nil {
		return a.errorResponse(err)
	}
	if !added {
		return &Response{Status: http.StatusOK, Body: map[string]any{"added": false, "message": "already whitelisted", "entry": entry}}
	}
	a.logger.Info().Str("address", entry.Address).Str("handle", entry.Handle).Msg("address whitelisted")
	return &Response{Status: http.StatusCreated, Body: map[string]any{"added": true, "entry": entry}}
}

// AdminRemoveWhitelist revokes an address.
func (a *API) AdminRemoveWhitelist(ctx context.Context, address string) *Response {
	if a.whitelist == nil {
		return disabled()
	}
	removed, err := a.whitelist.Remove(ctx, address)
	if err != nil {
		return a.errorResponse(err)
	}
	if !removed {
		return &Response{Status: http.StatusNotFound, Body: map[string]any{"removed": false, "message": "not whitelisted"}}
	}
	a.logger.Info().Str("address", x402.NormalizeAddress(address)).Msg("address removed from whitelist")
	return &Response{Status: http.StatusOK, Body: map[string]any{"removed": true}}
}

// AdminReconcile resolves pending bounty transfers.
func (a *API) AdminReconcile(ctx context.Context) *Response {
	if a.bounty == nil {
		return disabled()
	}
	report, err := a.bounty.Reconcile(ctx)
	if err != nil && report == nil {
		return a.errorResponse(err)
	}
	body := map[string]any{"report": report}
	if err != nil {
		body["errors"] = err.Error()
	}
	return &Response{Status: http.StatusOK, Body: body}
}

// AdminRelease frees the slot of an unsubmitted reservation.
func (a *API) AdminRelease(ctx context.Context, address string) *Response {
	if a.bounty == nil {
		return disabled()
	}
	if err := a.bounty.Release(ctx, address); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Response{Status: http.StatusNotFound, Body: map[string]any{"released": false, "message": "no reservation"}}
		}
		return a.errorResponse(err)
	}
	return &Response{Status: http.StatusOK, Body: map[string]any{"released": true}}
}

// AdminAudit checks the claim totals.
func (a *API) AdminAudit(ctx context.Context) *Response {
	if a.bounty == nil {
		return disabled()
	}
	report, err := a.bounty.Audit(ctx)
	if err != nil {
		return a.errorResponse(err)
	}
	status := http.StatusOK
	if !report.Consistent {
		status = http.StatusConflict
	}
	return &Response{Status: status, Body: report}
}

// decodePayload reads the JSON body, falling back to the X-PAYMENT header
// when the body is empty, and validates the result.
func (a *API) decodePayload(body io.Reader, paymentHeader string) (x402.PaymentPayload, error) {
	var payload x402.PaymentPayload

	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes+1))
	if err != nil {
		return payload, x402.NewPaymentError(x402.ErrCodeInvalidRequest, "failed to read body", x402.ErrInvalidRequest)
	}
	if len(data) > maxBodyBytes {
		return payload, x402.NewPaymentError(x402.ErrCodeInvalidRequest, "request body too large", x402.ErrInvalidRequest)
	}

	switch {
	case len(strings.TrimSpace(string(data))) > 0:
		if err := json.Unmarshal(data, &payload); err != nil {
			return payload, x402.NewPaymentError(x402.ErrCodeInvalidRequest, "invalid JSON body", x402.ErrInvalidRequest)
		}
	case paymentHeader != "":
		payload, err = encoding.DecodePayment(paymentHeader)
		if err != nil {
			return payload, x402.NewPaymentError(x402.ErrCodeInvalidRequest, "invalid "+encoding.PaymentHeader+" header", err)
		}
	default:
		return payload, x402.NewPaymentError(x402.ErrCodeInvalidRequest, "request body is required", x402.ErrInvalidRequest)
	}

	if err := validation.ValidatePaymentPayload(payload, a.chain); err != nil {
		return payload, err
	}
	return payload, nil
}

func (a *API) errorResponse(err error) *Response {
	code := x402.CodeOf(err)
	body := &ErrorBody{
		Error:    code,
		Category: code.Category(),
		Message:  err.Error(),
	}

	var pe *x402.PaymentError
	if errors.As(err, &pe) {
		body.Message = pe.Message
		if len(pe.Details) > 0 {
			body.Details = pe.Details
		}
	}

	status := http.StatusInternalServerError
	switch body.Category {
	case x402.CategoryValidation, x402.CategoryAuthorization:
		status = http.StatusBadRequest
	case x402.CategoryEligibility:
		status = http.StatusConflict
	case x402.CategorySettlement:
		status = http.StatusBadGateway
	default:
		a.logger.Error().Err(err).Str("code", string(code)).Msg("request failed")
		body.Message = "internal error, retry later"
	}
	return &Response{Status: status, Body: body}
}

func disabled() *Response {
	return &Response{Status: http.StatusNotFound, Body: &ErrorBody{
		Error:    "not_found",
		Category: x402.CategoryValidation,
		Message:  "bounty is not enabled on this facilitator",
	}}
}
