package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/log"
	"github.com/hearth-sh/hearth/pkg/metrics"
	"github.com/hearth-sh/hearth/pkg/types"
)

const (
	// AgentName is the trigger agent for webhook-fired workflows.
	AgentName = "webhook"

	// DefaultAddr binds to loopback; the surface is not meant to be
	// reachable from outside the host.
	DefaultAddr = "127.0.0.1:7420"

	// DefaultPrefix is the hook path prefix.
	DefaultPrefix = "/hooks"

	signatureHeader = "X-Signature"
	shutdownTimeout = 5 * time.Second
)

// Triggerer consumes webhook firings; satisfied by workflow.Engine. The
// workflow name pins the definition the binding targets.
type Triggerer interface {
	TriggerNamed(workflow, agent, event string, payload map[string]any) (string, error)
}

// Dashboarder feeds /healthz; satisfied by health.Monitor.
type Dashboarder interface {
	Dashboard() (map[string]types.RollUp, error)
}

// Server is the loopback HTTP surface: webhook bindings under a prefix,
// plus /metrics and /healthz.
type Server struct {
	bindings *Bindings
	trigger  Triggerer
	health   Dashboarder
	logger   zerolog.Logger
	prefix   string
	addr     string

	listener net.Listener
	server   *http.Server
}

// NewServer creates the HTTP surface. Empty addr and prefix take defaults.
func NewServer(bindings *Bindings, trigger Triggerer, health Dashboarder, addr, prefix string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return &Server{
		bindings: bindings,
		trigger:  trigger,
		health:   health,
		logger:   log.WithComponent("webhook"),
		prefix:   prefix,
		addr:     addr,
	}
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc(s.prefix+"/", s.handleHook)
	return mux
}

// Start begins serving. The listen address is available via Addr after
// Start returns.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err)
	}
	s.listener = listener
	s.server = &http.Server{Handler: s.Handler()}
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("webhook server stopped")
		}
	}()
	s.logger.Info().Str("addr", listener.Addr().String()).Str("prefix", s.prefix).Msg("webhook server listening")
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, draining in-flight requests.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, s.prefix+"/")

	if r.Method != http.MethodPost {
		s.respondError(w, name, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if name == "" || strings.Contains(name, "/") {
		s.respondError(w, name, http.StatusNotFound, "unknown binding")
		return
	}

	binding, err := s.bindings.Get(name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			s.respondError(w, name, http.StatusNotFound, "unknown binding")
			return
		}
		s.respondError(w, name, http.StatusInternalServerError, "binding lookup failed")
		return
	}

	maxBody := binding.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	if r.ContentLength > maxBody {
		s.respondError(w, name, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		s.respondError(w, name, http.StatusBadRequest, "unreadable body")
		return
	}
	if int64(len(body)) > maxBody {
		s.respondError(w, name, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	// Everything above has no side effects; reject before triggering.
	if binding.Secret != "" && !validSignature(binding.Secret, body, r.Header.Get(signatureHeader)) {
		s.respondError(w, name, http.StatusUnauthorized, "signature mismatch")
		return
	}

	payload, err := decodePayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		s.respondError(w, name, http.StatusBadRequest, "malformed JSON body")
		return
	}

	runID, err := s.trigger.TriggerNamed(binding.TargetWorkflow, AgentName, binding.TargetEvent, payload)
	if err != nil {
		switch {
		case errdefs.IsNotFound(err):
			s.respondError(w, name, http.StatusNotFound, "no workflow bound to event")
		case errdefs.IsCapacity(err):
			s.respondError(w, name, http.StatusServiceUnavailable, "workflow queue full")
		default:
			s.logger.Error().Err(err).Str("binding", name).Msg("trigger failed")
			s.respondError(w, name, http.StatusInternalServerError, "trigger failed")
		}
		return
	}

	metrics.WebhookRequestsTotal.WithLabelValues(name, strconv.Itoa(http.StatusAccepted)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"run_id": runID})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dash, err := s.health.Dashboard()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dash)
}

func (s *Server) respondError(w http.ResponseWriter, binding string, status int, message string) {
	metrics.WebhookRequestsTotal.WithLabelValues(binding, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// validSignature checks "sha256=<hex>" HMAC over the raw body.
func validSignature(secret string, body []byte, header string) bool {
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the X-Signature value for a body; callers of the hook use
// the same derivation.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// decodePayload turns the request body into a trigger payload. JSON bodies
// become the payload object; octet-stream bodies ride under "body".
func decodePayload(contentType string, body []byte) (map[string]any, error) {
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	if strings.HasPrefix(contentType, "application/octet-stream") {
		return map[string]any{"body": string(body)}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
