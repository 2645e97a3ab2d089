package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tremho/inverse-y/internal/storage"
	"github.com/tremho/inverse-y/internal/user"
	dErrors "github.com/tremho/inverse-y/pkg/domain-errors"
)

type loginBeginRequest struct {
	AppID       string `json:"appId"`
	Provider    string `json:"provider"`
	InvokingURL string `json:"invokingUrl"`
}

// handleLoginBegin starts the handshake and returns the provider login page
// as HTML. The finish leg must be called separately while the browser works
// through the page.
func (h *Handler) handleLoginBegin(w http.ResponseWriter, r *http.Request) {
	var req loginBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.AppID == "" || req.Provider == "" {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "appId and provider are required"))
		return
	}
	if req.InvokingURL == "" {
		req.InvokingURL = requestURL(r)
	}

	ctx := r.Context()
	space := SpaceFrom(ctx)
	ssn, err := h.sessions.Get(ctx, space.SessionKey)
	if err != nil {
		writeError(w, dErrors.Newf(dErrors.CodeInternal, "resolve session: %v", err))
		return
	}
	space.SessionKey = ssn.ID
	space.AppID = req.AppID
	ssn.AppID = req.AppID
	ssn.Provider = req.Provider

	page, err := h.coordinator.Begin(ctx, &ssn, req.InvokingURL)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.sessions.Save(ctx, ssn); err != nil {
		writeError(w, dErrors.Newf(dErrors.CodeInternal, "save session: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

type loginFinishRequest struct {
	UserToken string `json:"userToken"`
}

type loginFinishResponse struct {
	UserID          string `json:"userId,omitempty"`
	Provider        string `json:"provider"`
	AuthenticatedAt int64  `json:"authenticatedAt"`
}

// handleLoginFinish blocks until the out-of-band completion fills the
// handshake slot or the wait budget runs out.
func (h *Handler) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req loginFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	ctx := r.Context()
	space := SpaceFrom(ctx)
	ssn, err := h.sessions.Get(ctx, space.SessionKey)
	if err != nil {
		writeError(w, dErrors.Newf(dErrors.CodeInternal, "resolve session: %v", err))
		return
	}
	if ssn.SIAToken == "" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "no login in progress"))
		return
	}

	got, err := h.coordinator.WaitFinish(ctx, &ssn, req.UserToken)
	if err != nil {
		writeError(w, err)
		return
	}

	// The filled slot carries the onboarded user; bind it to the space so
	// later requests can classify the user without another store read.
	if slotID, err := h.tickets.Verify(got.AppID, got.SIAToken); err == nil {
		if sl, err := h.slots.Fetch(ctx, slotID); err == nil {
			space.UserID = sl.UserID
		}
	}

	writeJSON(w, http.StatusOK, loginFinishResponse{
		UserID:          space.UserID,
		Provider:        got.Provider,
		AuthenticatedAt: got.AuthenticatedAt,
	})
}

type ssoCompleteRequest struct {
	AppID     string `json:"appId"`
	SIAToken  string `json:"siaToken"`
	Provider  string `json:"provider"`
	UserToken string `json:"userToken"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// handleSSOComplete is the out-of-band leg: the provider callback presents the
// ticket it was handed inside the login page, the user is onboarded, and the
// slot is filled so the waiting finish leg can conclude.
func (h *Handler) handleSSOComplete(w http.ResponseWriter, r *http.Request) {
	var req ssoCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.AppID == "" || req.SIAToken == "" {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "appId and siaToken are required"))
		return
	}

	ctx := r.Context()
	slotID, err := h.tickets.Verify(req.AppID, req.SIAToken)
	if err != nil {
		writeError(w, err)
		return
	}

	userID, err := h.users.Onboard(ctx, req.AppID, user.SSOInfo{
		SIAToken:  req.SIAToken,
		UserToken: req.UserToken,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Provider:  req.Provider,
	})
	if err != nil {
		writeError(w, dErrors.Newf(dErrors.CodeInternal, "onboard user: %v", err))
		return
	}

	providerData, _ := json.Marshal(map[string]string{
		"provider": req.Provider,
		"email":    req.Email,
	})
	sl, err := h.slots.Fill(ctx, slotID, providerData, userID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, dErrors.New(dErrors.CodeNotFound, "no handshake slot for ticket"))
		return
	}
	if err != nil {
		writeError(w, dErrors.Newf(dErrors.CodeInternal, "fill slot: %v", err))
		return
	}

	h.logger.InfoContext(ctx, "sso completion landed",
		"slot_id", slotID,
		"user_id", sl.UserID,
		"provider", req.Provider,
	)
	writeJSON(w, http.StatusOK, map[string]string{"userId": sl.UserID})
}

// requestURL reconstructs the invoking URL from the request, for callers that
// do not pass one explicitly.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}
