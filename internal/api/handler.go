// Package api exposes the dashboard-facing HTTP surface: interaction
// ingestion, resonance reads, wallet verification handoff into a gate,
// and sync queue visibility.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"resogate/internal/account"
	"resogate/internal/gate"
	"resogate/internal/score"
)

const maxBodyBytes = 4 << 10

// JoinPreparer is the slice of the gate manager this handler needs.
type JoinPreparer interface {
	PrepareJoin(ctx context.Context, gateID, walletAddress string, score int) (gate.JoinOffer, error)
}

// Enqueuer is the slice of the sync queue this handler needs.
type Enqueuer interface {
	Enqueue(address string, targetScore int) error
	Depth() int
	LastCommitted(address string) (int, bool)
}

// Handler wires the HTTP endpoints to the score store, the gate
// manager, and the sync queue.
type Handler struct {
	log      *slog.Logger
	accounts account.Store
	queue    Enqueuer
	guard    *score.SyncGuard
	gates    JoinPreparer
}

// NewHandler constructs a Handler. All collaborators are required.
func NewHandler(log *slog.Logger, accounts account.Store, queue Enqueuer, guard *score.SyncGuard, gates JoinPreparer) (*Handler, error) {
	if accounts == nil || queue == nil || guard == nil || gates == nil {
		return nil, errors.New("nil collaborator")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, accounts: accounts, queue: queue, guard: guard, gates: gates}, nil
}

// Register wires the routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/interaction", h.handleInteraction)
	mux.HandleFunc("/api/follow", h.handleFollow)
	mux.HandleFunc("/api/gate/invite", h.handleInvite)
	mux.HandleFunc("/api/score/", h.handleScore)
	mux.HandleFunc("/api/sync/depth", h.handleSyncDepth)
}

// resonance reads the account and aggregates it with the followers'
// current scores.
func (h *Handler) resonance(ctx context.Context, address string) (account.ScoreState, score.Resonance, error) {
	st, err := h.accounts.Get(ctx, address)
	if err != nil {
		return account.ScoreState{}, score.Resonance{}, err
	}
	followers, err := h.accounts.FollowerScores(ctx, address)
	if err != nil {
		return account.ScoreState{}, score.Resonance{}, err
	}
	return st, score.Compute(st.Score, followers), nil
}

// lastLedger is the freshest known ledger value: a commit this process
// made wins over the persisted one.
func (h *Handler) lastLedger(st account.ScoreState) int {
	if v, ok := h.queue.LastCommitted(st.Address); ok {
		return v
	}
	return st.LedgerScore
}

func (h *Handler) handleInteraction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var req interactionRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	st, err := h.accounts.ApplyInteractions(r.Context(), req.WalletAddress, req.Interactions)
	switch {
	case errors.Is(err, account.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown_wallet", "wallet not registered")
		return
	case errors.Is(err, account.ErrBadAddress), errors.Is(err, account.ErrBadInteractionCount):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case err != nil:
		h.log.Error("api.interaction_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not apply interactions")
		return
	}

	_, res, err := h.resonance(r.Context(), st.Address)
	if err != nil {
		h.log.Error("api.resonance_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not compute resonance")
		return
	}

	queued := false
	if h.guard.ShouldSync(st.Address, res.Ledger, h.lastLedger(st)) {
		if err := h.queue.Enqueue(st.Address, res.Ledger); err != nil {
			h.log.Warn("api.sync_enqueue_fail", "address", st.Address, "err", err)
		} else {
			queued = true
		}
	}

	writeJSON(w, http.StatusOK, interactionResponse{
		WalletAddress:  st.Address,
		Score:          st.Score,
		TotalResonance: res.Ledger,
		SyncQueued:     queued,
	})
}

func (h *Handler) handleFollow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var req followRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	err := h.accounts.AddFollower(r.Context(), req.OwnerAddress, req.FollowerAddress)
	switch {
	case errors.Is(err, account.ErrBadAddress):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case err != nil:
		h.log.Error("api.follow_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not record follow")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInvite is the handoff from a verified wallet to a gated
// channel. It also runs the login-time drift check: when the computed
// resonance and the ledger disagree by a full milestone, the corrected
// value is queued immediately.
func (h *Handler) handleInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var req inviteRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.GateID == "" || strings.TrimSpace(req.WalletAddress) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "gate_id and wallet_address required")
		return
	}

	st, res, err := h.resonance(r.Context(), req.WalletAddress)
	if errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrBadAddress) {
		writeError(w, http.StatusNotFound, "unknown_wallet", "wallet not registered")
		return
	}
	if err != nil {
		h.log.Error("api.invite_resonance_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not compute resonance")
		return
	}

	queued := false
	if target, ok := score.LoginSyncTarget(res.Ledger, h.lastLedger(st)); ok {
		if err := h.queue.Enqueue(st.Address, target); err != nil {
			h.log.Warn("api.login_sync_enqueue_fail", "address", st.Address, "err", err)
		} else {
			queued = true
			h.log.Info("api.login_sync", "address", st.Address, "target", target)
		}
	}

	offer, err := h.gates.PrepareJoin(r.Context(), req.GateID, st.Address, res.Ledger)
	if err != nil {
		h.log.Error("api.invite_fail", "gate_id", req.GateID, "err", err)
		writeError(w, http.StatusBadGateway, "gate_unavailable", "could not create invite")
		return
	}

	writeJSON(w, http.StatusOK, inviteResponse{
		InviteLink: offer.InviteLink,
		Token:      offer.Token,
		ExpiresAt:  offer.ExpiresAt,
		SyncQueued: queued,
	})
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	address := strings.TrimPrefix(r.URL.Path, "/api/score/")
	if address == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "address required")
		return
	}

	st, res, err := h.resonance(r.Context(), address)
	if errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrBadAddress) {
		writeError(w, http.StatusNotFound, "unknown_wallet", "wallet not registered")
		return
	}
	if err != nil {
		h.log.Error("api.score_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not compute resonance")
		return
	}

	writeJSON(w, http.StatusOK, scoreResponse{
		WalletAddress:  st.Address,
		Score:          st.Score,
		AvgFollower:    res.AvgFollower,
		Followers:      res.Followers,
		TotalResonance: res.Ledger,
		LedgerScore:    h.lastLedger(st),
	})
}

func (h *Handler) handleSyncDepth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	writeJSON(w, http.StatusOK, depthResponse{Depth: h.queue.Depth()})
}
