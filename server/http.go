package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/domquery/idgen"
	"github.com/hazyhaar/domquery/kit"
	"github.com/hazyhaar/domquery/mirror"
	"github.com/hazyhaar/domquery/mutation"
	"github.com/hazyhaar/domquery/query"
)

// Routes builds the HTTP router for the service.
func (s *Service) Routes(requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if requestTimeout > 0 {
		r.Use(chimw.Timeout(requestTimeout))
	}
	r.Use(requestContext)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/v1/documents", func(r chi.Router) {
		r.Post("/", s.handleRegister)
		r.Get("/", s.handleList)
		r.Route("/{page_id}", func(r chi.Router) {
			r.Delete("/", s.handleRemove)
			r.Get("/stats", s.handleStats)
			r.Post("/resolve", s.handleResolve)
			r.Post("/count", s.handleCount)
			r.Post("/wait", s.handleWait)
			r.Post("/batches", s.handleBatch)
		})
	})
	return r
}

// requestContext stamps every request with an ID and its remote address.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithRequestID(r.Context(), idgen.Prefixed("req_", idgen.NanoID(12))())
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		ctx = kit.WithTransport(ctx, "http")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	resp, err := s.Register(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, 201, resp)
}

func (s *Service) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, map[string]any{"pages": s.mirror.Pages()})
}

func (s *Service) handleRemove(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "page_id")
	if _, err := s.mirror.Get(pageID); err != nil {
		writeServiceError(w, err)
		return
	}
	s.mirror.Remove(pageID)
	writeJSON(w, 200, map[string]string{"status": "removed"})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.PageStats(chi.URLParam(r, "page_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, 200, st)
}

func (s *Service) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	req.PageID = chi.URLParam(r, "page_id")
	resp, err := s.Resolve(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, 200, resp)
}

func (s *Service) handleCount(w http.ResponseWriter, r *http.Request) {
	var req CountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	req.PageID = chi.URLParam(r, "page_id")
	resp, err := s.Count(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, 200, resp)
}

func (s *Service) handleWait(w http.ResponseWriter, r *http.Request) {
	var req WaitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	req.PageID = chi.URLParam(r, "page_id")
	resp, err := s.Wait(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, 200, resp)
}

func (s *Service) handleBatch(w http.ResponseWriter, r *http.Request) {
	var batch mutation.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, 400, err)
		return
	}
	batch.PageID = chi.URLParam(r, "page_id")
	resp, err := s.Apply(r.Context(), &batch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, 200, resp)
}

// writeServiceError maps domain errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var te *query.TimeoutError
	switch {
	case errors.As(err, &te):
		writeJSON(w, 408, map[string]any{
			"error":      te.Error(),
			"selector":   te.Selector,
			"state":      string(te.State),
			"timeout_ms": te.Timeout.Milliseconds(),
		})
	case errors.Is(err, mirror.ErrUnknownPage):
		writeError(w, 404, err)
	case errors.Is(err, mirror.ErrSeqGap), errors.Is(err, mirror.ErrStale):
		writeError(w, 409, err)
	case errors.Is(err, ErrBadRequest):
		writeError(w, 400, err)
	default:
		writeError(w, 500, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
