// Package handler exposes the verification engine over HTTP and maps its
// error taxonomy to status codes.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	accountdomain "github.com/GreenfieldTrail/keycloak-phone-provider/internal/account/domain"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/phone"
	tokendomain "github.com/GreenfieldTrail/keycloak-phone-provider/internal/token/domain"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/verification/service"
)

// AccountGetter resolves the account a validation request acts on.
type AccountGetter interface {
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
}

// Handler serves the verification-code endpoints.
type Handler struct {
	svc           *service.Service
	accounts      AccountGetter
	defaultRegion string
	regexFor      func(realmID string) string
	log           *logrus.Logger
}

// New returns a handler over the verification engine. regexFor supplies the
// optional per-realm number pattern and may be nil.
func New(svc *service.Service, accounts AccountGetter, defaultRegion string, regexFor func(realmID string) string, log *logrus.Logger) *Handler {
	if regexFor == nil {
		regexFor = func(string) string { return "" }
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{svc: svc, accounts: accounts, defaultRegion: defaultRegion, regexFor: regexFor, log: log}
}

// Register mounts the verification routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/realms/{realm}/verification-codes", h.sendCode).Methods(http.MethodPost)
	r.HandleFunc("/realms/{realm}/verification-codes/validate", h.validateCode).Methods(http.MethodPost)
}

type sendCodeRequest struct {
	PhoneNumber string `json:"phone_number"`
	Type        string `json:"type"`
	Kind        string `json:"kind"`
}

type sendCodeResponse struct {
	ExpiresIn int `json:"expires_in"`
}

func (h *Handler) sendCode(w http.ResponseWriter, r *http.Request) {
	realmID := mux.Vars(r)["realm"]

	var req sendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t := tokendomain.TokenCodeType(req.Type)
	if !t.Valid() {
		writeError(w, http.StatusBadRequest, "unknown token code type")
		return
	}

	number, ok := h.canonicalize(w, realmID, req.PhoneNumber)
	if !ok {
		return
	}

	expiresIn, err := h.svc.SendCode(r.Context(), realmID, number, t, req.Kind)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAbuseLimitExceeded):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, service.ErrDeliveryUnavailable):
			writeError(w, http.StatusServiceUnavailable, "message could not be delivered")
		default:
			h.log.WithError(err).Error("send code failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, sendCodeResponse{ExpiresIn: expiresIn})
}

type validateCodeRequest struct {
	AccountID   string `json:"account_id"`
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
	Type        string `json:"type"`
}

func (h *Handler) validateCode(w http.ResponseWriter, r *http.Request) {
	realmID := mux.Vars(r)["realm"]

	var req validateCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t := tokendomain.TokenCodeType(req.Type)
	if !t.Valid() {
		writeError(w, http.StatusBadRequest, "unknown token code type")
		return
	}

	account, err := h.accounts.GetByID(r.Context(), req.AccountID)
	if err != nil {
		h.log.WithError(err).Error("account lookup failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if account == nil || account.RealmID != realmID {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	number, ok := h.canonicalize(w, realmID, req.PhoneNumber)
	if !ok {
		return
	}

	if err := h.svc.ValidateCode(r.Context(), account, number, req.Code, t); err != nil {
		switch {
		case errors.Is(err, service.ErrNoOngoingProcess):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrCodeMismatch):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			h.log.WithError(err).Error("validate code failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// canonicalize normalizes the number and applies the realm pattern. On
// failure it writes a 400 and returns ok false.
func (h *Handler) canonicalize(w http.ResponseWriter, realmID, raw string) (string, bool) {
	number, err := phone.Canonicalize(raw, h.defaultRegion)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	if !phone.MatchesPattern(number, h.regexFor(realmID)) {
		writeError(w, http.StatusBadRequest, "phone number not acceptable in this realm")
		return "", false
	}
	return number, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
