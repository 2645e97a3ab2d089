package httptransport

import (
	"context"
	"net/http"

	"github.com/tremho/inverse-y/internal/rotation"
)

type contextKeySpace struct{}

// SpaceFrom retrieves the session space resolved by SessionRotation.
func SpaceFrom(ctx context.Context) *rotation.Space {
	space, _ := ctx.Value(contextKeySpace{}).(*rotation.Space)
	return space
}

// SessionRotation resolves the caller's session space from the incoming
// identifier header and rotates it before the handler runs, so the next
// identifier is on the response even when the handler streams a body.
// A missing or superseded identifier silently starts a fresh space. The
// resolve-and-rotate step is atomic, which leaves the handler as the space's
// only holder: concurrent presenters of the same identifier get fresh spaces.
func SessionRotation(rotator *rotation.Rotator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			incoming := r.Header.Get(rotation.HeaderSessionID)
			space, nextID, err := rotator.Acquire(r.URL.Path, "", incoming)
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set(rotation.HeaderNextSessionID, nextID)
			ctx := context.WithValue(r.Context(), contextKeySpace{}, space)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
