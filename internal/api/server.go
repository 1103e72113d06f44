package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"qbwc-sync/internal/catalog"
	"qbwc-sync/internal/logging"
	"qbwc-sync/internal/models"
	"qbwc-sync/internal/session"
	"qbwc-sync/internal/telemetry"
)

// ServerVersion is reported to the connector by serverVersion.
const ServerVersion = "1.0.0"

const maxEnvelopeBytes = 64 << 20

// Sessions is the protocol surface the SOAP endpoint dispatches to.
type Sessions interface {
	Authenticate(ctx context.Context, user, password string) (string, error)
	NextJob(ctx context.Context, token string) (models.QueryJob, bool, error)
	SubmitResponse(ctx context.Context, token, raw string) (int, error)
	Close(ctx context.Context, token string) (string, error)
	Progress(ctx context.Context, token string) (models.Progress, error)
	LastError(ctx context.Context, token string) (string, error)
	ConnectionError(ctx context.Context, token, hresult, message string) (string, error)
}

// ResultsReader lists the reconciliation outcomes recorded for a session.
type ResultsReader interface {
	SessionResults(ctx context.Context, sessionID string, limit int) ([]models.Result, error)
}

// Server wires HTTP handlers for the connector endpoint and the admin API.
type Server struct {
	sessions Sessions
	catalog  *catalog.Catalog
	results  ResultsReader
	logger   *zap.Logger
}

// New constructs the API server. results may be nil when no audit log is configured.
func New(sessions Sessions, cat *catalog.Catalog, results ResultsReader, logger *zap.Logger) *Server {
	return &Server{
		sessions: sessions,
		catalog:  cat,
		results:  results,
		logger:   logging.OrNop(logger),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/qbwc", s.handleSOAP)

	r.Get("/catalog", s.handleCatalog)
	r.Get("/sessions/{token}", s.handleSession)
	r.Get("/sessions/{token}/results", s.handleSessionResults)
	return r
}

func (s *Server) handleSOAP(w http.ResponseWriter, r *http.Request) {
	call, err := decodeCall(io.LimitReader(r.Body, maxEnvelopeBytes))
	if err != nil {
		s.logger.Warn("bad soap request", zap.Error(err))
		writeFault(w, http.StatusBadRequest, "soap:Client", err.Error())
		return
	}
	ctx := r.Context()
	method := call.XMLName.Local
	log := s.logger.With(zap.String("method", method))

	var out methodResponse
	switch method {
	case "serverVersion":
		out = stringResult(method, ServerVersion)

	case "clientVersion":
		log.Info("connector version", zap.String("version", call.Version))
		out = stringResult(method, "")

	case "authenticate":
		token, err := s.sessions.Authenticate(ctx, call.UserName, call.Password)
		switch {
		case err == nil:
			out = arrayResult(method, token, "")
		case errors.Is(err, session.ErrAuthFailed), errors.Is(err, session.ErrThrottled):
			out = arrayResult(method, "", "nvu")
		default:
			log.Error("authenticate failed", zap.Error(err))
			out = arrayResult(method, "", "nvu")
		}

	case "sendRequestXML":
		job, ok, err := s.sessions.NextJob(ctx, call.Ticket)
		if err != nil {
			log.Warn("next job failed", zap.String("session_id", call.Ticket), zap.Error(err))
		}
		payload := ""
		if ok {
			payload = job.Payload
		}
		out = stringResult(method, payload)

	case "receiveResponseXML":
		if call.HResult != "" {
			log.Warn("connector returned an error for the pending query",
				zap.String("session_id", call.Ticket),
				zap.String("hresult", call.HResult),
				zap.String("message", call.Message),
			)
		}
		percent, err := s.sessions.SubmitResponse(ctx, call.Ticket, call.Response)
		switch {
		case err == nil, errors.Is(err, session.ErrProtocolSequence):
		default:
			log.Warn("submit response failed", zap.String("session_id", call.Ticket), zap.Error(err))
			percent = -1
		}
		out = intResult(method, percent)

	case "getLastError":
		msg, err := s.sessions.LastError(ctx, call.Ticket)
		if err != nil {
			msg = err.Error()
		}
		out = stringResult(method, msg)

	case "connectionError":
		reply, err := s.sessions.ConnectionError(ctx, call.Ticket, call.HResult, call.Message)
		if err != nil {
			log.Warn("connection error not recorded", zap.Error(err))
			reply = "done"
		}
		out = stringResult(method, reply)

	case "closeConnection":
		reply, err := s.sessions.Close(ctx, call.Ticket)
		if err != nil {
			log.Warn("close failed", zap.String("session_id", call.Ticket), zap.Error(err))
			reply = "OK"
		}
		out = stringResult(method, reply)

	default:
		writeFault(w, http.StatusBadRequest, "soap:Client", "unknown method "+method)
		return
	}

	body, err := encodeEnvelope(out)
	if err != nil {
		writeFault(w, http.StatusInternalServerError, "soap:Server", "encode response")
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type catalogEntry struct {
	EntityType string   `json:"entity_type"`
	Collection string   `json:"collection"`
	KeyField   string   `json:"key_field"`
	Fields     []string `json:"fields,omitempty"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	descs := s.catalog.Descriptors()
	out := make([]catalogEntry, 0, len(descs))
	for _, d := range descs {
		out = append(out, catalogEntry{EntityType: d.EntityType, Collection: d.Collection, KeyField: d.KeyField, Fields: d.Fields})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": out})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	p, err := s.sessions.Progress(r.Context(), token)
	if errors.Is(err, session.ErrUnknownSession) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		http.Error(w, "audit log not configured", http.StatusNotFound)
		return
	}
	results, err := s.results.SessionResults(r.Context(), chi.URLParam(r, "token"), 500)
	if err != nil {
		http.Error(w, "failed to read results", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "tally": models.Tally(results)})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeFault(w http.ResponseWriter, code int, faultCode, message string) {
	body, err := encodeEnvelope(soapFault{Code: faultCode, Message: message})
	if err != nil {
		http.Error(w, message, code)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
