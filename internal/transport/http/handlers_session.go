package httptransport

import (
	"net/http"

	dErrors "github.com/tremho/inverse-y/pkg/domain-errors"
)

type sessionInfoResponse struct {
	Valid           bool   `json:"valid"`
	UserState       string `json:"userState"`
	AppID           string `json:"appId,omitempty"`
	Provider        string `json:"provider,omitempty"`
	UserID          string `json:"userId,omitempty"`
	AuthenticatedAt int64  `json:"authenticatedAt,omitempty"`
}

// handleSessionInfo reports the state of the caller's session without
// mutating it.
func (h *Handler) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	space := SpaceFrom(ctx)

	resp := sessionInfoResponse{
		UserState: h.rotator.ClassifyUser(space).String(),
		AppID:     space.AppID,
		UserID:    space.UserID,
	}
	if space.SessionKey != "" {
		ssn, err := h.sessions.Get(ctx, space.SessionKey)
		if err != nil {
			writeError(w, dErrors.Newf(dErrors.CodeInternal, "resolve session: %v", err))
			return
		}
		resp.Valid = h.sessions.IsValid(ssn)
		resp.Provider = ssn.Provider
		resp.AuthenticatedAt = ssn.AuthenticatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout drops the durable session and unbinds the user from the
// session space. The space itself lives on; its identifier keeps rotating.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	space := SpaceFrom(ctx)

	if space.SessionKey != "" {
		h.sessions.Delete(ctx, space.SessionKey)
		h.metrics.SessionsDeleted.Inc()
	}
	space.SessionKey = ""
	space.UserID = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
