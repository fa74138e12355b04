package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/dtroode/faceid-server/internal/api/http/respond"
	"github.com/dtroode/faceid-server/internal/logger"
	"github.com/dtroode/faceid-server/internal/model"
	"github.com/dtroode/faceid-server/internal/service"
)

const (
	enrollImageField = "image"
	probeImageField  = "snap"
)

// IdentityService defines enrollment, identification and admin operations.
type IdentityService interface {
	Enroll(ctx context.Context, params model.EnrollParams) (model.Summary, error)
	Identify(ctx context.Context, probe []byte, filename string) (model.Match, error)
	List(ctx context.Context) iter.Seq2[model.Summary, error]
	Lookup(ctx context.Context, externalID string) (model.Summary, error)
	Delete(ctx context.Context, externalID string) (model.Summary, error)
	Image(ctx context.Context, ref string) (io.ReadCloser, error)
	Status(ctx context.Context) (service.Status, error)
}

// Identity handles HTTP endpoints for identities.
type Identity struct {
	service        IdentityService
	maxUploadBytes int64
	logger         *logger.Logger
}

// NewIdentity creates a new Identity handler.
func NewIdentity(service IdentityService, maxUploadBytes int64, logger *logger.Logger) *Identity {
	return &Identity{service: service, maxUploadBytes: maxUploadBytes, logger: logger}
}

type identifyResponse struct {
	Match    bool           `json:"match"`
	Identity *model.Summary `json:"identity,omitempty"`
	Distance *float64       `json:"distance,omitempty"`
}

// Enroll registers an identity from a multipart form.
func (h *Identity) Enroll(w http.ResponseWriter, r *http.Request) {
	image, filename, err := h.readUpload(w, r, enrollImageField)
	if err != nil {
		h.fail(w, r, "enroll", err)
		return
	}

	params := model.EnrollParams{
		ExternalID:         r.FormValue("externalId"),
		DisplayName:        r.FormValue("displayName"),
		InstitutionalEmail: r.FormValue("institutionalEmail"),
		Phone:              r.FormValue("phone"),
		Image:              image,
		Filename:           filename,
	}

	summary, err := h.service.Enroll(r.Context(), params)
	if err != nil {
		h.fail(w, r, "enroll", err, "external_id", params.ExternalID)
		return
	}

	h.write(w, http.StatusCreated, summary)
}

// Identify matches the probe face in a multipart form.
func (h *Identity) Identify(w http.ResponseWriter, r *http.Request) {
	probe, filename, err := h.readUpload(w, r, probeImageField)
	if err != nil {
		h.fail(w, r, "identify", err)
		return
	}

	match, err := h.service.Identify(r.Context(), probe, filename)
	if err != nil {
		h.fail(w, r, "identify", err)
		return
	}

	resp := identifyResponse{Match: match.Matched}
	if match.Matched {
		resp.Identity = &match.Identity
		resp.Distance = &match.Distance
	}
	h.write(w, http.StatusOK, resp)
}

// List streams all identity summaries as a JSON array.
func (h *Identity) List(w http.ResponseWriter, r *http.Request) {
	started := false
	enc := json.NewEncoder(w)

	for summary, err := range h.service.List(r.Context()) {
		if err != nil {
			if !started {
				h.fail(w, r, "list", err)
				return
			}
			h.logger.Error("Identity handler: list aborted mid-stream", "error", err)
			panic(http.ErrAbortHandler)
		}

		if !started {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "[")
			started = true
		} else {
			_, _ = io.WriteString(w, ",")
		}
		if err := enc.Encode(summary); err != nil {
			h.logger.Warn("Identity handler: failed to write summary", "error", err)
			return
		}
	}

	if !started {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "[")
	}
	_, _ = io.WriteString(w, "]\n")
}

// Lookup returns one identity summary.
func (h *Identity) Lookup(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")

	summary, err := h.service.Lookup(r.Context(), externalID)
	if err != nil {
		h.fail(w, r, "lookup", err, "external_id", externalID)
		return
	}

	h.write(w, http.StatusOK, summary)
}

// Delete removes an identity and returns its summary.
func (h *Identity) Delete(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")

	summary, err := h.service.Delete(r.Context(), externalID)
	if err != nil {
		h.fail(w, r, "delete", err, "external_id", externalID)
		return
	}

	h.write(w, http.StatusOK, summary)
}

// Image streams a stored enrollment image.
func (h *Identity) Image(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if ref == "" || ref != filepath.Base(ref) || ref == "." || ref == ".." {
		h.fail(w, r, "image", &model.ValidationError{Fields: []string{"ref"}})
		return
	}

	rc, err := h.service.Image(r.Context(), ref)
	if err != nil {
		h.fail(w, r, "image", err, "ref", ref)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(ref))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("Identity handler: failed to stream image", "ref", ref, "error", err)
	}
}

// Health reports extractor readiness and the store dimension.
func (h *Identity) Health(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context())
	if err != nil {
		h.fail(w, r, "health", err)
		return
	}

	code := http.StatusOK
	if !status.ExtractorReady {
		code = http.StatusServiceUnavailable
	}
	h.write(w, code, status)
}

func (h *Identity) readUpload(w http.ResponseWriter, r *http.Request, field string) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%w: malformed multipart form: %w", model.ErrValidation, err)
	}

	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", model.ErrValidation, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	return data, header.Filename, nil
}

func (h *Identity) fail(w http.ResponseWriter, r *http.Request, op string, err error, args ...any) {
	status, message := handleError(err)

	attrs := append([]any{"operation", op, "status", status, "error", err.Error()}, args...)
	switch {
	case errors.Is(err, model.ErrDimensionMismatch):
		h.logger.Error("Identity handler: descriptor dimension mismatch", attrs...)
	case status >= http.StatusInternalServerError:
		h.logger.Error("Identity handler: request failed", attrs...)
	default:
		h.logger.Debug("Identity handler: request rejected", attrs...)
	}

	_ = respond.Error(w, status, message)
}

func (h *Identity) write(w http.ResponseWriter, status int, data any) {
	if err := respond.JSON(w, status, data); err != nil {
		h.logger.Warn("Identity handler: failed to encode response", "error", err)
	}
}
