// Package wager provides the HTTP handlers for the wager ledger: bootstrap,
// proposition management, staking, resolution, payouts and settlement.
//
// All monetary values use amount.Amount; never float64 for money.
package wager

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/wager-engine/internal/amount"
	"github.com/atmx/wager-engine/internal/auth"
	"github.com/atmx/wager-engine/internal/custody"
	"github.com/atmx/wager-engine/internal/ledger"
	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/model"
)

// Service exposes the ledger engine over HTTP.
type Service struct {
	engine *ledger.Engine
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new wager service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(engine *ledger.Engine, hub *WSHub) *Service {
	return &Service{engine: engine, wsHub: hub}
}

// Routes mounts the API on r. requireAuth guards every mutating route and
// must put the verified caller into the request context.
func (s *Service) Routes(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Get("/config", s.GetConfig)
	r.Get("/propositions", s.ListPropositions)
	r.Get("/propositions/{id}", s.GetProposition)
	r.Get("/propositions/{id}/summary", s.GetSummary)
	r.Get("/propositions/{id}/stakes/{participant}", s.GetStakes)
	r.Get("/propositions/{id}/payouts", s.GetPayouts)
	r.Get("/propositions/{id}/payouts/{participant}", s.GetPayout)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/initialize", s.Initialize)
		r.Post("/propositions", s.CreateProposition)
		r.Post("/propositions/{id}/stakes", s.PlaceStake)
		r.Post("/propositions/{id}/resolve", s.Resolve)
		r.Post("/propositions/{id}/settlements", s.SettleAll)
		r.Post("/propositions/{id}/settlements/{participant}", s.Settle)
	})
}

// --- Request/Response types ---

// InitializeRequest is the JSON body for POST /initialize.
type InitializeRequest struct {
	Currency string `json:"currency"`
	Operator string `json:"operator"`
}

// CreatePropositionRequest is the JSON body for POST /propositions.
type CreatePropositionRequest struct {
	ID model.PropositionID `json:"id"`
}

// StakeRequest is the JSON body for POST /propositions/{id}/stakes.
// Participant defaults to the caller.
type StakeRequest struct {
	Participant string        `json:"participant,omitempty"`
	Side        model.Side    `json:"side"`
	Amount      amount.Amount `json:"amount"`
}

// ResolveRequest is the JSON body for POST /propositions/{id}/resolve.
type ResolveRequest struct {
	Outcome model.Outcome `json:"outcome"`
}

// PayoutResponse is the JSON body returned from GET .../payouts/{participant}.
type PayoutResponse struct {
	PropositionID model.PropositionID `json:"proposition_id"`
	Participant   string              `json:"participant"`
	Amount        amount.Amount       `json:"amount"`
}

// --- HTTP Handlers ---

// Initialize handles POST /api/v1/initialize
func (s *Service) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cfg, err := s.engine.Initialize(r.Context(), req.Currency, req.Operator)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// GetConfig handles GET /api/v1/config
func (s *Service) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.GetConfig(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// CreateProposition handles POST /api/v1/propositions
func (s *Service) CreateProposition(w http.ResponseWriter, r *http.Request) {
	var req CreatePropositionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	p, err := s.engine.CreateProposition(r.Context(), caller, req.ID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	metrics.OpenPropositions.Inc()
	s.broadcast(WSMessage{
		Type:          EventPropositionCreated,
		PropositionID: p.ID,
		YesPool:       p.YesPool.String(),
		NoPool:        p.NoPool.String(),
	})
	writeJSON(w, http.StatusCreated, p)
}

// ListPropositions handles GET /api/v1/propositions
// Optionally filtered by ?state=open|resolved.
func (s *Service) ListPropositions(w http.ResponseWriter, r *http.Request) {
	props, err := s.engine.ListPropositions(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	if state := model.State(r.URL.Query().Get("state")); state != "" {
		filtered := []model.Proposition{}
		for _, p := range props {
			if p.State == state {
				filtered = append(filtered, p)
			}
		}
		props = filtered
	}
	writeJSON(w, http.StatusOK, props)
}

// GetProposition handles GET /api/v1/propositions/{id}
func (s *Service) GetProposition(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}
	p, err := s.engine.GetProposition(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetSummary handles GET /api/v1/propositions/{id}/summary
func (s *Service) GetSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}
	sum, err := s.engine.Summary(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// PlaceStake handles POST /api/v1/propositions/{id}/stakes
func (s *Service) PlaceStake(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}
	var req StakeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	participant := req.Participant
	if participant == "" {
		participant = caller
	}

	receipt, err := s.engine.PlaceStake(r.Context(), ledger.StakeRequest{
		Caller:        caller,
		PropositionID: id,
		Participant:   participant,
		Side:          req.Side,
		Amount:        req.Amount,
	})
	if err != nil {
		metrics.StakeRejections.WithLabelValues(rejectionReason(err)).Inc()
		writeLedgerError(w, err)
		return
	}

	metrics.StakesTotal.WithLabelValues(string(req.Side)).Inc()
	metrics.StakeVolume.WithLabelValues(string(req.Side)).Add(metrics.Float(req.Amount.Decimal()))
	s.broadcast(WSMessage{
		Type:          EventStakePlaced,
		PropositionID: id,
		YesPool:       receipt.Proposition.YesPool.String(),
		NoPool:        receipt.Proposition.NoPool.String(),
		Participant:   participant,
		Side:          req.Side,
		Amount:        req.Amount.String(),
	})
	writeJSON(w, http.StatusCreated, receipt)
}

// GetStakes handles GET /api/v1/propositions/{id}/stakes/{participant}
func (s *Service) GetStakes(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}
	entries, err := s.engine.GetStakes(r.Context(), id, chi.URLParam(r, "participant"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Resolve handles POST /api/v1/propositions/{id}/resolve
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	p, err := s.engine.Resolve(r.Context(), caller, id, req.Outcome)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	metrics.OpenPropositions.Dec()
	metrics.ResolutionsTotal.WithLabelValues(string(p.Outcome)).Inc()
	s.broadcast(WSMessage{
		Type:          EventPropositionResolved,
		PropositionID: id,
		YesPool:       p.YesPool.String(),
		NoPool:        p.NoPool.String(),
		Outcome:       p.Outcome,
	})
	writeJSON(w, http.StatusOK, p)
}

// GetPayouts handles GET /api/v1/propositions/{id}/payouts
func (s *Service) GetPayouts(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}
	report, err := s.engine.Payouts(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetPayout handles GET /api/v1/propositions/{id}/payouts/{participant}
func (s *Service) GetPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}
	participant := chi.URLParam(r, "participant")
	owed, err := s.engine.ComputePayout(r.Context(), id, participant)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PayoutResponse{
		PropositionID: id,
		Participant:   participant,
		Amount:        owed,
	})
}

// Settle handles POST /api/v1/propositions/{id}/settlements/{participant}
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	settlement, err := s.engine.Settle(r.Context(), caller, id, chi.URLParam(r, "participant"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	s.recordSettlement(settlement)
	writeJSON(w, http.StatusCreated, settlement)
}

// SettleAll handles POST /api/v1/propositions/{id}/settlements
func (s *Service) SettleAll(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	settled, err := s.engine.SettleAll(r.Context(), caller, id)
	for i := range settled {
		s.recordSettlement(&settled[i])
	}
	if err != nil {
		if len(settled) > 0 {
			slog.Warn("settle all stopped early", "proposition", id, "settled", len(settled), "err", err)
		}
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settled)
}

func (s *Service) recordSettlement(st *model.Settlement) {
	metrics.SettlementsTotal.Inc()
	metrics.PayoutVolume.Add(metrics.Float(st.Amount.Decimal()))
	s.broadcast(WSMessage{
		Type:          EventPayoutSettled,
		PropositionID: st.PropositionID,
		Participant:   st.Participant,
		Amount:        st.Amount.String(),
	})
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

// --- helpers ---

func propositionID(w http.ResponseWriter, r *http.Request) (model.PropositionID, bool) {
	id, err := model.ParsePropositionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, amount.ErrInvalid) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsConflict(err):
		return http.StatusConflict
	case ledger.IsInvalid(err):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, custody.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func rejectionReason(err error) string {
	switch statusFor(err) {
	case http.StatusForbidden:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "closed"
	case http.StatusBadRequest:
		return "invalid"
	case http.StatusUnprocessableEntity:
		return "overflow"
	case http.StatusPaymentRequired:
		return "insufficient_funds"
	default:
		return "error"
	}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("ledger operation failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
