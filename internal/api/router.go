package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/mkrivacevic11921rn/settlement-core/internal/api/httpx"
	"github.com/mkrivacevic11921rn/settlement-core/internal/config"
	"github.com/mkrivacevic11921rn/settlement-core/internal/interbank"
	"github.com/mkrivacevic11921rn/settlement-core/internal/ledger"
	"github.com/mkrivacevic11921rn/settlement-core/internal/metrics"
	"github.com/mkrivacevic11921rn/settlement-core/internal/middleware"
	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
	"github.com/mkrivacevic11921rn/settlement-core/internal/saga"
)

type RouterDeps struct {
	Cfg       config.Config
	Transfers *ledger.TransferService
	Otp       *ledger.OtpService
	Trades    *saga.Coordinator
	Gateway   *interbank.Gateway
	Events    repo.Events
	Auth      *middleware.AuthMiddleware
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// ---------- transfers ----------
		r.Post("/transfer", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				FromAccountID int64   `json:"from_account_id"`
				ToAccountID   int64   `json:"to_account_id"`
				Amount        float64 `json:"amount"`
				Type          string  `json:"type"`
				Note          string  `json:"note"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body")
				return
			}
			t, err := d.Transfers.CreateTransfer(r.Context(), ledger.CreateTransferInput{
				FromAccountID: req.FromAccountID,
				ToAccountID:   req.ToAccountID,
				Amount:        req.Amount,
				Type:          models.TransferType(req.Type),
				Note:          req.Note,
			})
			if err != nil {
				switch {
				case errors.Is(err, repo.ErrNotFound):
					httpx.WriteError(w, http.StatusNotFound, "not_found", "account not found")
				case errors.Is(err, ledger.ErrInvalidTransfer), errors.Is(err, ledger.ErrCurrencyMismatch):
					httpx.WriteError(w, http.StatusBadRequest, "invalid_transfer", err.Error())
				default:
					httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
				return
			}
			httpx.WriteJSON(w, http.StatusCreated, t)
		})

		// OTP check, then settlement; every failure mode maps to its own
		// status so clients can distinguish retryable from terminal.
		r.Post("/transfer/{id}/verify", func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "bad transfer id")
				return
			}
			var req struct {
				Otp string `json:"otp"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Otp == "" {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "otp required")
				return
			}

			if d.Otp.IsExpired(r.Context(), id) {
				httpx.WriteError(w, http.StatusBadRequest, "otp_expired", "verification code expired")
				return
			}
			if !d.Otp.IsValid(r.Context(), id, req.Otp) {
				httpx.WriteError(w, http.StatusBadRequest, "otp_invalid", "invalid verification code")
				return
			}
			if err := d.Otp.MarkUsed(r.Context(), id); err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
				return
			}

			msg, err := d.Transfers.Settle(r.Context(), id)
			if err != nil {
				switch {
				case errors.Is(err, repo.ErrNotFound):
					httpx.WriteError(w, http.StatusNotFound, "not_found", "transfer not found")
				case errors.Is(err, ledger.ErrInsufficientFunds):
					httpx.WriteError(w, http.StatusBadRequest, "insufficient_funds", "insufficient funds")
				case errors.Is(err, ledger.ErrLimitExceeded):
					httpx.WriteError(w, http.StatusBadRequest, "limit_exceeded", "spending limit exceeded")
				case errors.Is(err, ledger.ErrInvalidState):
					httpx.WriteError(w, http.StatusConflict, "invalid_state", err.Error())
				default:
					httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": msg})
		})

		// ---------- OTC trade settlement ----------
		// Outcomes travel over the ack channel to the trading subsystem,
		// so these return 202 regardless of how the stage went.
		r.Post("/otc/initiate", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				UID             string  `json:"uid"`
				BuyerAccountID  int64   `json:"buyer_account_id"`
				SellerAccountID int64   `json:"seller_account_id"`
				Amount          float64 `json:"amount"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UID == "" {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "uid required")
				return
			}
			d.Trades.Initiate(r.Context(), req.UID, req.BuyerAccountID, req.SellerAccountID, req.Amount)
			httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"uid": req.UID})
		})

		r.Post("/otc/{uid}/proceed", func(w http.ResponseWriter, r *http.Request) {
			uid := chi.URLParam(r, "uid")
			d.Trades.Proceed(r.Context(), uid)
			httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"uid": uid})
		})

		r.Post("/otc/{uid}/rollback", func(w http.ResponseWriter, r *http.Request) {
			uid := chi.URLParam(r, "uid")
			d.Trades.Rollback(r.Context(), uid)
			httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"uid": uid})
		})

		// ---------- interbank ----------
		r.Group(func(r chi.Router) {
			r.Use(d.Auth.Auth)
			r.Post("/interbank/webhook", func(w http.ResponseWriter, r *http.Request) {
				var env interbank.Envelope
				if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed envelope")
					return
				}
				err := d.Gateway.Receive(r.Context(), env)
				switch {
				case err == nil:
					httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
				case errors.Is(err, interbank.ErrDuplicateEvent):
					// replays are acknowledged, never reprocessed
					httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
				case errors.Is(err, interbank.ErrInvalidEnvelope), errors.Is(err, interbank.ErrUnknownMessageType):
					httpx.WriteError(w, http.StatusBadRequest, "invalid_envelope", err.Error())
				default:
					httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
			})
		})

		// ---------- outbox audit ----------
		r.Get("/events/{id}/deliveries", func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "bad event id")
				return
			}
			if _, err := d.Events.GetByID(r.Context(), id); err != nil {
				httpx.WriteError(w, http.StatusNotFound, "not_found", "event not found")
				return
			}
			dels, err := d.Events.ListDeliveries(r.Context(), id)
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
				return
			}
			httpx.WriteJSON(w, http.StatusOK, dels)
		})
	})

	return r
}
