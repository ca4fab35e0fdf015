package store

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

// LegacyClaimsFile is the JSON document the first facilitator kept its payouts in.
type LegacyClaimsFile struct {
	Claims    []LegacyClaim `json:"claims"`
	TotalPaid string        `json:"totalPaid"`
}

// LegacyClaim is one payout in LegacyClaimsFile.
type LegacyClaim struct {
	Address       string `json:"address"`
	MoltbookAgent string `json:"moltbookAgent"`
	Amount        string `json:"amount"`
	TxHash        string `json:"txHash"`
	Timestamp     string `json:"timestamp"`
}

// LegacyWhitelistFile is the JSON document the first facilitator kept its whitelist in.
type LegacyWhitelistFile struct {
	Agents []LegacyAgent `json:"agents"`
}

// LegacyAgent is one approved address in LegacyWhitelistFile.
type LegacyAgent struct {
	Address         string `json:"address"`
	MoltbookAgent   string `json:"moltbookAgent"`
	MoltbookPostURL string `json:"moltbookPostUrl"`
	ApprovedAt      string `json:"approvedAt"`
}

// ImportReport counts what a legacy import did.
type ImportReport struct {
	WhitelistImported int `json:"whitelistImported"`
	WhitelistSkipped  int `json:"whitelistSkipped"`
	ClaimsImported    int `json:"claimsImported"`
	ClaimsSkipped     int `json:"claimsSkipped"`
}

// ImportLegacy loads the legacy JSON documents into the database. Either path
// may be empty. Rows that already exist are skipped, so the import can be re-run.
func ImportLegacy(ctx context.Context, wl *WhitelistStore, ledger *ClaimLedger, whitelistPath, claimsPath string) (*ImportReport, error) {
	report := &ImportReport{}

	if whitelistPath != "" {
		var doc LegacyWhitelistFile
		if err := readJSON(whitelistPath, &doc); err != nil {
			return report, err
		}
		for _, a := range doc.Agents {
			ok, err := wl.importEntry(ctx, WhitelistEntry{
				Address:    a.Address,
				Handle:     a.MoltbookAgent,
				Provenance: a.MoltbookPostURL,
				ApprovedAt: parseLegacyTime(a.ApprovedAt),
			})
			if err != nil {
				return report, errors.Wrapf(err, "whitelist entry %s", a.Address)
			}
			if ok {
				report.WhitelistImported++
			} else {
				report.WhitelistSkipped++
			}
		}
	}

	if claimsPath != "" {
		var doc LegacyClaimsFile
		if err := readJSON(claimsPath, &doc); err != nil {
			return report, err
		}
		for _, c := range doc.Claims {
			ok, err := ledger.importClaim(ctx, Claim{
				Address:   c.Address,
				Handle:    c.MoltbookAgent,
				Amount:    c.Amount,
				TxHash:    c.TxHash,
				ClaimedAt: parseLegacyTime(c.Timestamp),
			})
			if err != nil {
				return report, errors.Wrapf(err, "claim %s", c.Address)
			}
			if ok {
				report.ClaimsImported++
			} else {
				report.ClaimsSkipped++
			}
		}
	}

	return report, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}
	return nil
}

// parseLegacyTime returns the zero time for empty or unparsable values.
func parseLegacyTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
