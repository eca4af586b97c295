package nodehandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/go-chi/chi/v5"
)

// MaxBodySize bounds request bodies on every route.
const MaxBodySize = 16 << 20

// Executor is the node-side service behind the HTTP API.
type Executor interface {
	Execute(ctx context.Context, inv interfaces.Invocation) ([]byte, error)
	PutBlob(ctx context.Context, clientID, key string, data []byte) error
	GetBlob(ctx context.Context, clientID, key string) ([]byte, error)
}

// ExecRequest is the body of an exec call. App and function come from the
// URL.
type ExecRequest struct {
	Session  string   `json:"session_id,omitempty"`
	ClientID string   `json:"client_id"`
	InFiles  []string `json:"in_files,omitempty"`
	OutFiles []string `json:"out_files,omitempty"`
	Args     [][]byte `json:"args,omitempty"`
}

// Handler serves one node's exec and blob routes.
type Handler struct {
	node Executor
	log  *slog.Logger
}

func NewHandler(node Executor, log *slog.Logger) *Handler {
	return &Handler{node: node, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/exec/{app}/{func}", h.HandleExec)
	r.Put("/api/v1/blob/{client}/*", h.HandlePutBlob)
	r.Get("/api/v1/blob/{client}/*", h.HandleGetBlob)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrUnknownOperation),
		errors.Is(err, interfaces.ErrInvalidParameters),
		errors.Is(err, interfaces.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrUnknownUser),
		errors.Is(err, interfaces.ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrMissingCorrelatedRandomness):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error(msg, "err", err)
	} else {
		h.log.Debug(msg, "err", err, "status", status)
	}
	http.Error(w, fmt.Errorf("%s: %w", msg, err).Error(), status)
}

// HandleExec runs an operation on the node.
//
// URL format: POST /api/v1/exec/{app}/{func}
// Request body: JSON ExecRequest
// Response: the operation's raw result bytes
func (h *Handler) HandleExec(w http.ResponseWriter, r *http.Request) {
	op, err := interfaces.ParseOperation(chi.URLParam(r, "func"))
	if err != nil {
		h.fail(w, "invalid function", err)
		return
	}

	var req ExecRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodySize)).Decode(&req); err != nil {
		h.fail(w, "invalid request body", fmt.Errorf("%w: %w", interfaces.ErrInvalidParameters, err))
		return
	}

	out, err := h.node.Execute(r.Context(), interfaces.Invocation{
		App:       chi.URLParam(r, "app"),
		Operation: op,
		Session:   req.Session,
		ClientID:  req.ClientID,
		InFiles:   req.InFiles,
		OutFiles:  req.OutFiles,
		Args:      req.Args,
	})
	if err != nil {
		h.fail(w, fmt.Sprintf("%s failed", op), err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(out); err != nil {
		h.log.Error("Failed to write response", "err", err)
	}
}

// HandlePutBlob stores the request body under the client's key.
//
// URL format: PUT /api/v1/blob/{client}/{key...}
func (h *Handler) HandlePutBlob(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		h.fail(w, "failed to read request body", fmt.Errorf("%w: %w", interfaces.ErrInvalidParameters, err))
		return
	}

	if err := h.node.PutBlob(r.Context(), chi.URLParam(r, "client"), chi.URLParam(r, "*"), data); err != nil {
		h.fail(w, "could not store blob", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetBlob returns the blob stored under the client's key.
//
// URL format: GET /api/v1/blob/{client}/{key...}
func (h *Handler) HandleGetBlob(w http.ResponseWriter, r *http.Request) {
	data, err := h.node.GetBlob(r.Context(), chi.URLParam(r, "client"), chi.URLParam(r, "*"))
	if err != nil {
		h.fail(w, "could not fetch blob", err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(data); err != nil {
		h.log.Error("Failed to write response", "err", err)
	}
}
