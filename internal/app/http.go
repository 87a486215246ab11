package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"nallo/api/internal/auth"
	"nallo/api/internal/graph"
	"nallo/api/internal/logger"
	"nallo/api/internal/rbac"
)

const maxBodyBytes = 8 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	jwtSecret  []byte
}

func NewHTTPServer(service *Service, corsOrigin string, jwtSecret []byte) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, jwtSecret: jwtSecret}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && (r.URL.Path == "/health" || r.URL.Path == "/api/health") {
		s.handleHealth(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		s.fail(w, r, notFound("Route not found"))
		return
	}

	switch parts[1] {
	case "documents":
		s.handleDocuments(w, r, parts)
	case "search":
		s.handleSearch(w, r, parts)
	case "concepts", "tags", "versions", "pages":
		s.handleEntities(w, r, parts)
	default:
		s.fail(w, r, notFound("Route not found"))
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Sugar.Errorw("health check failed", "panic", recovered)
			writeJSON(w, http.StatusServiceUnavailable, disconnectedReport())
		}
	}()

	report := s.service.CheckHealth(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			items, err := s.service.List(r.Context(), graph.DocumentFilter{
				Status:    strings.TrimSpace(query.Get("status")),
				VersionID: strings.TrimSpace(query.Get("versionId")),
				Limit:     queryLimit(r, 100),
			})
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
		case http.MethodPost:
			if !s.authorize(w, r, rbac.ActionWrite) {
				return
			}
			var body CreateDocumentInput
			if err := decodeBody(r, &body); err != nil {
				s.fail(w, r, err)
				return
			}
			doc, err := s.service.Create(r.Context(), body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"document": doc})
		default:
			s.methodNotAllowed(w, r)
		}
		return
	}

	documentID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			doc, err := s.service.Get(r.Context(), documentID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document": doc})
		case http.MethodPut, http.MethodPatch:
			if !s.authorize(w, r, rbac.ActionWrite) {
				return
			}
			var body UpdateDocumentInput
			if err := decodeBody(r, &body); err != nil {
				s.fail(w, r, err)
				return
			}
			doc, err := s.service.Update(r.Context(), documentID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document": doc})
		case http.MethodDelete:
			if !s.authorize(w, r, rbac.ActionDelete) {
				return
			}
			if err := s.service.Delete(r.Context(), documentID); err != nil {
				s.fail(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			s.methodNotAllowed(w, r)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "content" && r.Method == http.MethodDelete {
		if !s.authorize(w, r, rbac.ActionWrite) {
			return
		}
		if err := s.service.DeleteContent(r.Context(), documentID); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if len(parts) == 5 && parts[3] == "content" && parts[4] == "url" && r.Method == http.MethodGet {
		signed, err := s.service.ContentURL(r.Context(), documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, signed)
		return
	}

	if len(parts) == 4 && parts[3] == "related" && r.Method == http.MethodGet {
		edges, err := s.service.Related(r.Context(), documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": edges})
		return
	}

	if len(parts) == 4 && parts[3] == "links" && (r.Method == http.MethodPost || r.Method == http.MethodDelete) {
		if !s.authorize(w, r, rbac.ActionWrite) {
			return
		}
		var body LinkInput
		if err := decodeBody(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		if r.Method == http.MethodPost {
			if err := s.service.Link(r.Context(), documentID, body); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
			return
		}
		if err := s.service.Unlink(r.Context(), documentID, body); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.fail(w, r, notFound("Route not found"))
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 2 || r.Method != http.MethodGet {
		s.fail(w, r, notFound("Route not found"))
		return
	}
	query := r.URL.Query()
	resp := s.service.Search(r.Context(), query.Get("q"), strings.TrimSpace(query.Get("status")), queryLimit(r, 20))
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleEntities(w http.ResponseWriter, r *http.Request, parts []string) {
	kind := parts[1]
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		items, err := s.service.ListEntities(r.Context(), kind, queryLimit(r, 100))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case len(parts) == 2 && r.Method == http.MethodPost:
		if !s.authorize(w, r, rbac.ActionWrite) {
			return
		}
		var body EntityInput
		if err := decodeBody(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		entity, err := s.service.CreateEntity(r.Context(), kind, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": entity})
	case len(parts) == 3 && r.Method == http.MethodGet:
		entity, err := s.service.GetEntity(r.Context(), kind, parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": entity})
	default:
		s.fail(w, r, notFound("Route not found"))
	}
}

// authorize checks the bearer token and role for a mutating route and writes
// the 401 or 403 itself when the request may not proceed.
func (s *HTTPServer) authorize(w http.ResponseWriter, r *http.Request, action rbac.Action) bool {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		s.fail(w, r, unauthorized())
		return false
	}
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		s.fail(w, r, err)
		return false
	}
	if !rbac.Can(rbac.Normalize(claims.Role), action) {
		logger.Log.Info("permission denied",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("subject", claims.Subject),
			zap.String("role", claims.Role),
			zap.String("action", string(action)),
		)
		s.fail(w, r, forbidden())
		return false
	}
	return true
}

func (s *HTTPServer) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.fail(w, r, appError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil))
}

// fail is the single exit for errors. Unexpected errors and partial writes
// are logged with their cause.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logger.Log.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		logger.Log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	body := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return appError(http.StatusBadRequest, CodeInvalidBody, "request body is required", nil)
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return appError(http.StatusBadRequest, CodeInvalidBody, "request body is required", nil)
		}
		return appError(http.StatusBadRequest, CodeInvalidBody, fmt.Sprintf("invalid JSON body: %v", err), nil)
	}
	return nil
}

func queryLimit(r *http.Request, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
