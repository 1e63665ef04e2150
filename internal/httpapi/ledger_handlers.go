package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/audit"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/distribution"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ethsig"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
)

type distributeRequest struct {
	Amount numeric `json:"amount"`
}

type claimRequest struct {
	UserAddress        string  `json:"userAddress"`
	DistributionID     numeric `json:"distributionId"`
	Balance            numeric `json:"balance"`
	Signature          string  `json:"signature"`
	OwnershipSignature string  `json:"ownershipSignature"`
	Nonce              string  `json:"nonce"`
}

type claimResponse struct {
	UserAddress    string `json:"userAddress"`
	DistributionID string `json:"distributionId"`
	Payout         string `json:"payout"`
}

type listDistributionsResponse struct {
	Holder        string             `json:"holder"`
	Distributions []distributionJSON `json:"distributions"`
}

func (a *API) handleGetDistribution(w http.ResponseWriter, r *http.Request) {
	if a.reader == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := a.reader.GetDistribution(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDistributionJSON(d))
}

func (a *API) handleListDistributions(w http.ResponseWriter, r *http.Request) {
	if a.reader == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("holder"))
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "holder query parameter is required")
		return
	}
	if !ethsig.IsAddress(raw) {
		writeError(w, r, http.StatusBadRequest, "invalid holder")
		return
	}
	holder := common.HexToAddress(raw)
	items, err := a.reader.UnclaimedDistributions(r.Context(), holder)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	resp := listDistributionsResponse{Holder: holder.Hex(), Distributions: make([]distributionJSON, 0, len(items))}
	for _, d := range items {
		resp.Distributions = append(resp.Distributions, toDistributionJSON(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleHasClaimed(w http.ResponseWriter, r *http.Request) {
	if a.reader == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	raw := r.PathValue("holder")
	if !ethsig.IsAddress(raw) {
		writeError(w, r, http.StatusBadRequest, "invalid holder")
		return
	}
	claimed, err := a.reader.HasClaimed(r.Context(), id, common.HexToAddress(raw))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"distributionId": strconv.FormatUint(id, 10),
		"claimed":        claimed,
	})
}

func (a *API) handleDistribute(w http.ResponseWriter, r *http.Request) {
	if a.ledger == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ledger is read-only")
		return
	}
	var req distributeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	raw := strings.TrimSpace(string(req.Amount))
	if raw == "" || strings.HasPrefix(raw, "+") {
		writeError(w, r, http.StatusBadRequest, "amount must be a positive integer")
		return
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "amount must be a positive integer")
		return
	}

	d, err := a.ledger.DistributeProfit(r.Context(), a.owner, amount)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	audit.DistributionCreated(r.Context(), d.ID, d.DistributionBlock, d.TotalAmount, d.TokensExcludingOwner)

	w.Header().Set("Location", "/distributions/"+strconv.FormatUint(d.ID, 10))
	writeJSON(w, http.StatusCreated, toDistributionJSON(d))
}

func (a *API) handleClaim(w http.ResponseWriter, r *http.Request) {
	if a.claims == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ledger is read-only")
		return
	}
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.claims.Claim(r.Context(), distribution.ClaimRequest{
		UserAddress:        req.UserAddress,
		DistributionID:     string(req.DistributionID),
		Balance:            string(req.Balance),
		Signature:          req.Signature,
		OwnershipSignature: req.OwnershipSignature,
		Nonce:              req.Nonce,
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{
		UserAddress:    res.Holder.Hex(),
		DistributionID: strconv.FormatUint(res.DistributionID, 10),
		Payout:         res.Payout.Dec(),
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

// handleLedgerError maps ledger sentinels; anything else goes through handleServiceError.
func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "distribution not found")
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		writeError(w, r, http.StatusConflict, "already claimed")
	case errors.Is(err, ledger.ErrInvalidSignature), errors.Is(err, ledger.ErrOwnerCannotClaim):
		writeError(w, r, http.StatusForbidden, "rejected by signer check")
	case errors.Is(err, ledger.ErrNotOwner):
		writeError(w, r, http.StatusForbidden, "caller is not the owner")
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, r, http.StatusBadRequest, "amount must be a positive integer")
	case errors.Is(err, ledger.ErrNoEligibleHolders):
		writeError(w, r, http.StatusConflict, "no eligible holders")
	case errors.Is(err, ledger.ErrOverflow):
		writeError(w, r, http.StatusBadRequest, "amount out of range")
	case errors.Is(err, ledger.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "ledger unavailable, retry later")
	default:
		handleServiceError(w, r, err)
	}
}
