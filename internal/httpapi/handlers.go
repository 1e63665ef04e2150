package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/auth"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/distribution"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/obs"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/stream"
)

const serviceName = "landlord-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings whatever backs the ledger: the database, the chain node, or both.
type ReadyProbe struct {
	DB    *sql.DB
	Chain interface {
		BlockNumber(ctx context.Context) (uint64, error)
	}
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Chain != nil {
		if _, err := rp.Chain.BlockNumber(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Deps are the collaborators behind the HTTP routes. Ledger, Claims and Tokens
// are optional; their routes answer 503 when absent.
type Deps struct {
	Version      string
	LedgerMode   string
	Ready        readinessChecker
	Distribution *distribution.Service
	Reader       ledger.Reader
	Ledger       ledger.Service
	Claims       *distribution.Claims
	Owner        common.Address
	Tokens       *auth.Tokens
	Operators    *auth.Operators
	Stream       *stream.Stream
	CORSOrigins  []string
	RatePerSec   float64
	RateBurst    int
	MaxBodyBytes int64
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	ready      readinessChecker
	version    string
	ledgerMode string

	dist      *distribution.Service
	reader    ledger.Reader
	ledger    ledger.Service
	claims    *distribution.Claims
	owner     common.Address
	tokens    *auth.Tokens
	operators *auth.Operators
	stream    *stream.Stream

	origins    []string
	ratePerSec float64
	rateBurst  int
	maxBody    int64
}

func New(d Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		ready:      d.Ready,
		version:    d.Version,
		ledgerMode: d.LedgerMode,
		dist:       d.Distribution,
		reader:     d.Reader,
		ledger:     d.Ledger,
		claims:     d.Claims,
		owner:      d.Owner,
		tokens:     d.Tokens,
		operators:  d.Operators,
		stream:     d.Stream,
		origins:    d.CORSOrigins,
		ratePerSec: d.RatePerSec,
		rateBurst:  d.RateBurst,
		maxBody:    d.MaxBodyBytes,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.reader == nil && a.ledger != nil {
		a.reader = a.ledger
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// holder-facing
	a.mux.HandleFunc("GET /balance", a.handleBalance)
	a.mux.HandleFunc("POST /signature", a.handleSignature)
	a.mux.HandleFunc("GET /distributions", a.handleListDistributions)
	a.mux.HandleFunc("GET /distributions/{id}", a.handleGetDistribution)
	a.mux.HandleFunc("GET /distributions/{id}/claimed/{holder}", a.handleHasClaimed)
	a.mux.HandleFunc("POST /claims", a.handleClaim)
	a.mux.HandleFunc("GET /v1/stream", a.Stream)

	// operators
	a.mux.HandleFunc("POST /v1/auth/token", a.handleAuthToken)
	a.mux.Handle("POST /admin/distributions", a.requireRole(auth.RoleAdmin, http.HandlerFunc(a.handleDistribute)))

	return a
}

// Handler wraps the mux with the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Warn("readiness_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":       serviceName,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"version":    a.version,
		"ledgerMode": a.ledgerMode,
	}
	if a.dist != nil {
		if signer := a.dist.SignerAddress(); signer != (common.Address{}) {
			info["backendAddress"] = signer.Hex()
		}
	}
	if a.ledger != nil {
		info["owner"] = a.owner.Hex()
	}
	writeJSON(w, http.StatusOK, info)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// internalError logs err and answers with a generic message.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	obs.Error("request_failed", map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
		"error":      err.Error(),
	})
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("malformed JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// numeric accepts a JSON string or a JSON number and keeps its decimal text.
type numeric string

func (n *numeric) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = numeric(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = numeric(num.String())
	return nil
}
