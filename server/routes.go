package server

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gorilla/mux"
)

// ErrNext is returned by a routed handler to continue with the stage after
// the router, as if no route had matched.
var ErrNext = stderrors.New("continue with next stage")

type errSlotKey struct{}

type errSlot struct {
	err error
}

// Routes mounts a gorilla/mux router as a pipeline stage. A matching route
// serves the request; anything else (including method mismatches) goes on
// to the next stage. Handlers registered through Adapt report errors back
// into the pipeline.
func Routes(router *mux.Router) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			var m mux.RouteMatch
			if !router.Match(r, &m) || m.MatchErr != nil {
				return next.Serve(w, r)
			}

			slot := &errSlot{}
			router.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), errSlotKey{}, slot)))

			if stderrors.Is(slot.err, ErrNext) {
				return next.Serve(w, r)
			}
			return slot.err
		})
	}
}

// Adapt turns a Handler into a http.Handler for registration on a router
// mounted with Routes. Outside Routes the error is written as an envelope.
func Adapt(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := invoke(h, w, r)
		if err == nil {
			return
		}
		if slot, ok := r.Context().Value(errSlotKey{}).(*errSlot); ok {
			slot.err = err
			return
		}
		WriteError(w, err)
	})
}
