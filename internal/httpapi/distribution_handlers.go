package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/distribution"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
)

type distributionJSON struct {
	ID                   string `json:"id"`
	TotalAmount          string `json:"totalAmount"`
	DistributionDate     string `json:"distributionDate"`
	DistributionBlock    string `json:"distributionBlock"`
	TokensExcludingOwner string `json:"tokensExcludingOwner"`
}

type shareJSON struct {
	distributionJSON
	BalanceAtDistributionBlock string `json:"balanceAtDistributionBlock"`
	UserShare                  string `json:"userShare"`
}

type balanceResponse struct {
	Balance                string      `json:"balance"`
	AvailableDistributions []shareJSON `json:"availableDistributions"`
}

type signatureRequest struct {
	UserAddress           string  `json:"userAddress"`
	DistributionID        numeric `json:"distributionId"`
	BalanceAtDistribution numeric `json:"balanceAtDistribution"`
	DistributionBlock     numeric `json:"distributionBlock"`
	OwnershipSignature    string  `json:"ownershipSignature"`
	Nonce                 string  `json:"nonce"`
}

type signatureResponse struct {
	Signature string `json:"signature"`
}

func toDistributionJSON(d ledger.Distribution) distributionJSON {
	out := distributionJSON{
		ID:                strconv.FormatUint(d.ID, 10),
		DistributionDate:  strconv.FormatInt(d.DistributionDate.Unix(), 10),
		DistributionBlock: strconv.FormatUint(d.DistributionBlock, 10),
	}
	if d.TotalAmount != nil {
		out.TotalAmount = d.TotalAmount.Dec()
	}
	if d.TokensExcludingOwner != nil {
		out.TokensExcludingOwner = d.TokensExcludingOwner.Dec()
	}
	return out
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	if a.dist == nil {
		writeError(w, r, http.StatusInternalServerError, "service not configured")
		return
	}
	q := r.URL.Query()
	report, err := a.dist.Balance(r.Context(), q.Get("userAddress"), q.Get("block"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := balanceResponse{
		Balance:                report.Balance.Dec(),
		AvailableDistributions: make([]shareJSON, 0, len(report.AvailableDistributions)),
	}
	for _, s := range report.AvailableDistributions {
		resp.AvailableDistributions = append(resp.AvailableDistributions, shareJSON{
			distributionJSON:           toDistributionJSON(s.Distribution),
			BalanceAtDistributionBlock: s.BalanceAtDistributionBlock.Dec(),
			UserShare:                  s.UserShare.Dec(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSignature(w http.ResponseWriter, r *http.Request) {
	if a.dist == nil {
		writeError(w, r, http.StatusInternalServerError, "service not configured")
		return
	}
	var req signatureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	authz, err := a.dist.IssueSignature(r.Context(), distribution.SignatureRequest{
		UserAddress:           req.UserAddress,
		DistributionID:        string(req.DistributionID),
		BalanceAtDistribution: string(req.BalanceAtDistribution),
		DistributionBlock:     string(req.DistributionBlock),
		OwnershipSignature:    req.OwnershipSignature,
		Nonce:                 req.Nonce,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signatureResponse{Signature: authz.EncodedSignature()})
}

// handleServiceError maps distribution service errors onto HTTP statuses.
// Validation messages are returned verbatim; everything else is generic.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, distribution.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), distribution.ErrInvalidInput.Error()+": "))
	case errors.Is(err, distribution.ErrBalanceMismatch):
		writeError(w, r, http.StatusBadRequest, distribution.ErrBalanceMismatch.Error())
	case errors.Is(err, distribution.ErrOwnershipFailed):
		writeError(w, r, http.StatusForbidden, distribution.ErrOwnershipFailed.Error())
	case errors.Is(err, distribution.ErrNotConfigured):
		writeError(w, r, http.StatusInternalServerError, "service not configured")
	case errors.Is(err, distribution.ErrChainUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "chain unavailable, retry later")
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "distribution not found")
	default:
		internalError(w, r, err)
	}
}
