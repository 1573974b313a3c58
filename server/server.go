package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/codetesla51/lotterykv/store"
)

const maxValueBytes = 1 << 20

// Options configures the HTTP surface.
type Options struct {
	Address      string
	StaticDir    string
	StaticPrefix string
}

// Server exposes a store.Store over HTTP and serves static assets.
type Server struct {
	store        store.Store
	opts         Options
	logger       *slog.Logger
	interceptors []Interceptor
}

func New(s store.Store, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.StaticPrefix == "" {
		opts.StaticPrefix = "/static/"
	}
	return &Server{store: s, opts: opts, logger: logger}
}

// Use registers extra interceptors. They run inside the built-in request-id,
// logging and recover interceptors, in registration order.
func (s *Server) Use(interceptors ...Interceptor) {
	s.interceptors = append(s.interceptors, interceptors...)
}

// Handler builds the routed and intercepted handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /kv/{key}", s.handleGet)
	mux.HandleFunc("PUT /kv/{key}", s.handleSet)
	mux.HandleFunc("DELETE /kv/{key}", s.handleDelete)
	mux.HandleFunc("POST /kv/{key}/incr", s.handleIncrement)

	mux.HandleFunc("GET /prefix/{prefix}", s.handleGetByPrefix)
	mux.HandleFunc("DELETE /prefix/{prefix}", s.handleDelByPrefix)

	mux.HandleFunc("GET /sets/{key}", s.handleGetSet)
	mux.HandleFunc("PUT /sets/{key}/{member}", s.handleAddMember)
	mux.HandleFunc("DELETE /sets/{key}/{member}", s.handleRemoveMember)
	mux.HandleFunc("GET /set-prefix/{prefix}", s.handleGetSetByPrefix)

	mux.HandleFunc("GET /hashes/{key}", s.handleGetHash)
	mux.HandleFunc("GET /hashes/{key}/values", s.handleGetHashValues)
	mux.HandleFunc("GET /hashes/{key}/fields", s.handleGetHashFields)
	mux.HandleFunc("DELETE /hashes/{key}/fields", s.handleDeleteHashFields)
	mux.HandleFunc("GET /hashes/{key}/fields/{field}", s.handleGetHashField)
	mux.HandleFunc("PUT /hashes/{key}/fields/{field}", s.handleSetHashField)
	mux.HandleFunc("DELETE /hashes/{key}/fields/{field}", s.handleDeleteHashField)

	if s.opts.StaticDir != "" {
		mux.Handle("GET "+s.opts.StaticPrefix,
			http.StripPrefix(s.opts.StaticPrefix, http.FileServer(http.Dir(s.opts.StaticDir))))
	}

	h := chain(mux, s.interceptors...)
	return chain(h, requestID, logging(s.logger), recoverer(s.logger))
}

// Serve listens on the configured address until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http shutdown failed", "error", err)
		}
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	val, err := s.store.Get(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": val})
}

// readValue reads the request body as a value. Bodies over maxValueBytes are
// rejected with 413 rather than stored truncated.
func readValue(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Error: fmt.Sprintf("value exceeds %d bytes", maxErr.Limit),
			})
			return "", false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read body: " + err.Error()})
		return "", false
	}
	return string(body), true
}

// handleSet stores the request body. ?ttl=<seconds> selects SetWithTTL.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	body, ok := readValue(w, r)
	if !ok {
		return
	}

	if raw := r.URL.Query().Get("ttl"); raw != "" {
		ttl, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "ttl must be an integer"})
			return
		}
		err = s.store.SetWithTTL(r.Context(), key, body, ttl)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	} else if err := s.store.Set(r.Context(), key, body); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("key")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	delta := int64(1)
	if raw := r.URL.Query().Get("delta"); raw != "" {
		d, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "delta must be an integer"})
			return
		}
		delta = d
	}

	n, err := s.store.Increment(r.Context(), r.PathValue("key"), delta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"value": n})
}

// handleGetByPrefix answers {"values": null} when nothing matches.
func (s *Server) handleGetByPrefix(w http.ResponseWriter, r *http.Request) {
	values, err := s.store.GetByPrefix(r.Context(), r.PathValue("prefix"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"values": values})
}

func (s *Server) handleDelByPrefix(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DelByPrefix(r.Context(), r.PathValue("prefix")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSet(w http.ResponseWriter, r *http.Request) {
	members, err := s.store.GetHashSet(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"members": members})
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetHashSet(r.Context(), r.PathValue("key"), r.PathValue("member")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveHashSet(r.Context(), r.PathValue("key"), r.PathValue("member")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSetByPrefix(w http.ResponseWriter, r *http.Request) {
	members, err := s.store.GetSetByPrefix(r.Context(), r.PathValue("prefix"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"members": members})
}

func (s *Server) handleGetHash(w http.ResponseWriter, r *http.Request) {
	fields, err := s.store.GetHashMaps(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

func (s *Server) handleGetHashValues(w http.ResponseWriter, r *http.Request) {
	values, err := s.store.GetHashMapList(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"values": values})
}

// handleGetHashFields lists field names, filtered by ?contains= when given.
func (s *Server) handleGetHashFields(w http.ResponseWriter, r *http.Request) {
	fields, err := s.store.GetHashKeys(r.Context(), r.PathValue("key"), r.URL.Query().Get("contains"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"fields": fields})
}

// handleDeleteHashFields removes every ?field= given.
func (s *Server) handleDeleteHashFields(w http.ResponseWriter, r *http.Request) {
	fields := r.URL.Query()["field"]
	if err := s.store.DeleteHashKeys(r.Context(), r.PathValue("key"), fields...); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetHashField(w http.ResponseWriter, r *http.Request) {
	field := r.PathValue("field")
	val, err := s.store.GetHashMap(r.Context(), r.PathValue("key"), field)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"field": field, "value": val})
}

func (s *Server) handleSetHashField(w http.ResponseWriter, r *http.Request) {
	body, ok := readValue(w, r)
	if !ok {
		return
	}
	if err := s.store.SetHashMap(r.Context(), r.PathValue("key"), r.PathValue("field"), body); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteHashField(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteHashKeys(r.Context(), r.PathValue("key"), r.PathValue("field")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	s.logger.Error("store call failed",
		"method", r.Method, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()), "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
