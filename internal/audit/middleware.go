package audit

import (
	"encoding/json"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/obs"
)

// HTTPRecorder writes an audit entry after the wrapped handler responds.
type HTTPRecorder struct {
	Service   *Service
	OnError   func(error)
	ActorFunc func(*http.Request) Actor
}

// HTTPConfig describes the resource a route acts on.
type HTTPConfig struct {
	Action       string
	ResourceType string
	// ResourceIDParam names the chi URL parameter holding the resource id.
	// Creates have none; the id is then taken from the Location header.
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
	// OnlyMutations skips GET and HEAD requests.
	OnlyMutations bool
}

// Middleware records one entry per handled request, failed ones included.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r.Service == nil || !r.Service.Enabled ||
				(cfg.OnlyMutations && (req.Method == http.MethodGet || req.Method == http.MethodHead)) {
				next.ServeHTTP(w, req)
				return
			}

			recorder := obs.NewStatusRecorder(w)
			next.ServeHTTP(recorder, req)

			var metadata []byte
			if cfg.MetadataFunc != nil {
				if payload := cfg.MetadataFunc(req, recorder.Status()); payload != nil {
					metadata, _ = json.Marshal(payload)
				}
			}
			err := r.Service.Record(req.Context(), r.actor(req), cfg.Action, cfg.ResourceType,
				resourceID(cfg, req, recorder), req, recorder.Status(), metadata)
			if err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}

func resourceID(cfg HTTPConfig, req *http.Request, w http.ResponseWriter) string {
	if cfg.ResourceIDParam != "" {
		if id := chi.URLParam(req, cfg.ResourceIDParam); id != "" {
			return id
		}
	}
	if loc := w.Header().Get("Location"); loc != "" {
		return path.Base(loc)
	}
	return ""
}

func (r HTTPRecorder) actor(req *http.Request) Actor {
	if r.ActorFunc != nil {
		return r.ActorFunc(req)
	}
	if p, ok := common.PrincipalFrom(req.Context()); ok {
		id := p.ID
		return Actor{Kind: ActorKindUser, UserID: &id, Role: p.Role}
	}
	return Actor{Kind: ActorKindAnonymous}
}
