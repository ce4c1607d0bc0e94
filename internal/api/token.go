package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// TokenVault is the slice of the credential vault the token handoff
// endpoints use.
type TokenVault interface {
	Store(token string, ttl time.Duration) error
	Clear() error
}

// Token serves the access-token handoff: the portal frontend completes
// the OAuth consent flow and hands the short-lived token to this
// service so document fetches can use the authorized tier.
type Token struct {
	vault TokenVault
}

// NewToken creates the token handler.
func NewToken(vault TokenVault) *Token {
	return &Token{vault: vault}
}

// RegisterRoutes registers the token routes on the given mux.
func (t *Token) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/token", t.store)
	mux.HandleFunc("DELETE /api/token", t.clear)
}

type tokenRequest struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"` // seconds
}

func (t *Token) store(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccessToken == "" || req.ExpiresIn <= 0 {
		writeError(w, http.StatusBadRequest, "accessToken and expiresIn are required")
		return
	}

	if err := t.vault.Store(req.AccessToken, time.Duration(req.ExpiresIn)*time.Second); err != nil {
		writeError(w, http.StatusInternalServerError, "could not store token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *Token) clear(w http.ResponseWriter, _ *http.Request) {
	if err := t.vault.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, "could not clear token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
