package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/mark3labs/x402-facilitator"
	sevm "github.com/mark3labs/x402-facilitator/signers/evm"
)

func TestFacilitatorClient(t *testing.T) {
	env := newTestEnv(t, 100)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx := context.Background()
	client := NewFacilitatorClient(srv.URL + "/")
	agent := keyAddress(t, agentKeyHex)
	_, _, err := env.whitelist.Add(ctx, agent.Hex(), "agent-x", "")
	require.NoError(t, err)

	t.Run("requirements", func(t *testing.T) {
		req, err := client.Requirements(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, req.X402Version)
		require.Len(t, req.Schemes, 1)
		assert.Equal(t, x402.FlareMainnet.NetworkID, req.Schemes[0].Network)
	})

	t.Run("verify pays the bounty once", func(t *testing.T) {
		resp, err := client.Verify(ctx, signedPayment(t, agentKeyHex, 1_000_000, nil))
		require.NoError(t, err)
		assert.True(t, resp.Valid)
		require.NotNil(t, resp.BountyPaid)

		check, err := client.BountyCheck(ctx, agent.Hex())
		require.NoError(t, err)
		assert.True(t, check.Claimed)

		status, err := client.BountyStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), status.Claimed)
	})

	t.Run("verify rejects malformed payload", func(t *testing.T) {
		payload := signedPayment(t, agentKeyHex, 1_000_000, nil)
		payload.Accepted.Network = "eip155:1"
		_, err := client.Verify(ctx, payload)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "got %v", err)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, x402.CategoryValidation, apiErr.Body.Category)
	})

	t.Run("settle returns failures as responses", func(t *testing.T) {
		resp, err := client.Settle(ctx, signedPayment(t, strangerKeyHex, 1_000_000, nil))
		require.NoError(t, err)
		assert.True(t, resp.Success)

		expired := signedPayment(t, strangerKeyHex, 1_000_000, func(a *sevm.EIP3009Authorization) {
			a.ValidBefore.SetInt64(time.Now().Add(-time.Minute).Unix())
		})
		resp, err = client.Settle(ctx, expired)
		require.NoError(t, err)
		assert.False(t, resp.Success)
	})

	t.Run("reconcile needs an admin token", func(t *testing.T) {
		_, err := client.Reconcile(ctx)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

		client.AdminToken, err = env.tokens.Issue("ops", time.Minute)
		require.NoError(t, err)
		report, err := client.Reconcile(ctx)
		require.NoError(t, err)
		require.NotNil(t, report)
		assert.Empty(t, report.StillPending)
	})
}

func TestFacilitatorClientUnreachable(t *testing.T) {
	client := NewFacilitatorClient("http://127.0.0.1:1")
	client.VerifyTimeout = time.Second
	_, err := client.Requirements(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "facilitator unreachable")
}
