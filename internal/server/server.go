// Package server exposes the watcher's admin API: status, seen items,
// detection history, the saved search, and manual check/clear triggers.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"adwatch/internal/model"
	"adwatch/internal/poller"
	"adwatch/internal/store"
)

type API struct {
	store        store.SeenStore
	poller       *poller.Poller
	guard        *Guard
	maxBodyBytes int64
	log          zerolog.Logger
}

type Options struct {
	Store        store.SeenStore
	Poller       *poller.Poller
	Guard        *Guard
	MaxBodyBytes int64
	Logger       zerolog.Logger
}

func New(opts Options) *API {
	return &API{
		store:        opts.Store,
		poller:       opts.Poller,
		guard:        opts.Guard,
		maxBodyBytes: opts.MaxBodyBytes,
		log:          opts.Logger,
	}
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(withJSON)

	r.Route("/api", func(r chi.Router) {
		r.Use(a.guard.Authorized)

		r.Get("/status", a.handleStatus)
		r.Get("/items", a.handleItems)
		r.Get("/detections", a.handleDetections)
		r.Get("/search", a.handleGetSearch)

		r.Group(func(r chi.Router) {
			r.Use(a.guard.LocalOnly)
			r.Post("/check", a.handleCheck)
			r.Post("/clear", a.handleClear)
			r.Put("/search", a.handlePutSearch)
		})
	})
	return r
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.Stats(r.Context())
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"run":   a.poller.Snapshot(),
		"stats": stats,
	})
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.Recent(r.Context(), queryLimit(r))
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []model.SeenEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleDetections(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.Detections(r.Context(), queryLimit(r))
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []model.SeenEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"detections": items})
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	if err := a.poller.RunNow(r.Context()); err != nil {
		if errors.Is(err, poller.ErrCheckAlreadyRunning) || errors.Is(err, poller.ErrCheckCooldown) {
			respondErr(w, http.StatusConflict, err)
			return
		}
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "run": a.poller.Snapshot()})
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Clear(r.Context()); err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	a.log.Warn().Msg("seen-set cleared via API")
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	params, err := a.poller.SearchParams(r.Context())
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, params)
}

func (a *API) handlePutSearch(w http.ResponseWriter, r *http.Request) {
	var params model.SearchParams
	if err := decodeJSON(r, a.maxBodyBytes, &params); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if params.PriceMin < 0 || params.PriceMax < 0 {
		respondErr(w, http.StatusBadRequest, errors.New("price bounds must be non-negative"))
		return
	}
	if params.PriceMax > 0 && params.PriceMin > params.PriceMax {
		respondErr(w, http.StatusBadRequest, errors.New("price_min exceeds price_max"))
		return
	}
	if err := a.poller.SaveSearchParams(r.Context(), params); err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, params)
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func withJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

func queryLimit(r *http.Request) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func decodeJSON(r *http.Request, maxBody int64, out any) error {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondErr(w http.ResponseWriter, code int, err error) {
	respondJSON(w, code, map[string]any{"error": err.Error()})
}
