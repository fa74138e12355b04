package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/dtroode/faceid-server/internal/artifact"
	"github.com/dtroode/faceid-server/internal/logger"
	"github.com/dtroode/faceid-server/internal/matching"
	"github.com/dtroode/faceid-server/internal/model"
)

var safeKey = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Identity coordinates enrollment and identification over the identity store,
// the descriptor extractor and the artifact manager.
type Identity struct {
	store     model.IdentityStore
	extractor model.Extractor
	engine    *matching.Engine
	artifacts *artifact.Manager
	logger    *logger.Logger
}

func NewIdentity(
	store model.IdentityStore,
	extractor model.Extractor,
	engine *matching.Engine,
	artifacts *artifact.Manager,
	logger *logger.Logger,
) *Identity {
	return &Identity{
		store:     store,
		extractor: extractor,
		engine:    engine,
		artifacts: artifacts,
		logger:    logger,
	}
}

// Enroll registers a new identity. Validation happens before anything is
// staged; the image reaches permanent storage only after the record commits.
func (s *Identity) Enroll(ctx context.Context, params model.EnrollParams) (model.Summary, error) {
	params = trimParams(params)
	if err := validateEnroll(params); err != nil {
		return model.Summary{}, err
	}

	ext := artifact.NormalizeExt(filepath.Ext(params.Filename))
	staged, err := s.artifacts.Stage(ctx, params.Image, ext)
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to stage image: %w", err)
	}
	defer staged.Release()

	descriptor, err := s.extractOne(ctx, staged.Bytes())
	if err != nil {
		return model.Summary{}, err
	}

	identity := model.Identity{
		ExternalID:         params.ExternalID,
		DisplayName:        params.DisplayName,
		InstitutionalEmail: params.InstitutionalEmail,
		Phone:              params.Phone,
		Descriptors:        []model.Descriptor{descriptor},
		ImageRef:           imageKey(params.ExternalID, ext),
	}

	saved, err := s.store.Insert(ctx, identity)
	if err != nil {
		if errors.Is(err, model.ErrDimensionMismatch) {
			s.logger.Error("Descriptor dimension mismatch on enrollment",
				"external_id", identity.ExternalID, "dimension", len(descriptor))
		}
		return model.Summary{}, fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := staged.Promote(ctx, saved.ImageRef); err != nil {
		if _, delErr := s.store.Delete(ctx, saved.ExternalID); delErr != nil {
			s.logger.Error("Failed to roll back identity after image promotion failure",
				"external_id", saved.ExternalID, "error", delErr)
		}
		return model.Summary{}, fmt.Errorf("failed to store image: %w", err)
	}

	s.logger.Info("identity enrolled", "external_id", saved.ExternalID, "image_ref", saved.ImageRef)

	return saved.Summary(), nil
}

// Identify finds the enrolled identity closest to the single face in probe.
// The probe artifact is always released.
func (s *Identity) Identify(ctx context.Context, probe []byte, filename string) (model.Match, error) {
	if len(probe) == 0 {
		return model.Match{}, &model.ValidationError{Fields: []string{"image"}}
	}

	staged, err := s.artifacts.Stage(ctx, probe, filepath.Ext(filename))
	if err != nil {
		return model.Match{}, fmt.Errorf("failed to stage probe: %w", err)
	}
	defer staged.Release()

	descriptor, err := s.extractOne(ctx, staged.Bytes())
	if err != nil {
		return model.Match{}, err
	}

	match, err := s.engine.Identify(ctx, s.store, descriptor)
	if err != nil {
		if errors.Is(err, model.ErrDimensionMismatch) {
			s.logger.Error("Descriptor dimension mismatch on identify", "dimension", len(descriptor), "error", err)
		}
		return model.Match{}, fmt.Errorf("failed to identify probe: %w", err)
	}

	if match.Matched {
		s.logger.Info("probe matched", "external_id", match.Identity.ExternalID, "distance", match.Distance)
	} else {
		s.logger.Info("probe did not match any identity")
	}

	return match, nil
}

// List returns summaries of all enrolled identities in external id order.
func (s *Identity) List(ctx context.Context) iter.Seq2[model.Summary, error] {
	return s.store.List(ctx)
}

func (s *Identity) Lookup(ctx context.Context, externalID string) (model.Summary, error) {
	identity, err := s.store.FindByExternalID(ctx, externalID)
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to find identity: %w", err)
	}
	return identity.Summary(), nil
}

// Delete removes the identity and then its image. Image deletion is best effort.
func (s *Identity) Delete(ctx context.Context, externalID string) (model.Summary, error) {
	identity, err := s.store.Delete(ctx, externalID)
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to delete identity: %w", err)
	}

	s.artifacts.Discard(ctx, identity.ImageRef)
	s.logger.Info("identity deleted", "external_id", identity.ExternalID, "image_ref", identity.ImageRef)

	return identity.Summary(), nil
}

// Image opens the stored enrollment image by reference.
func (s *Identity) Image(ctx context.Context, ref string) (io.ReadCloser, error) {
	return s.artifacts.Open(ctx, ref)
}

// Status describes readiness for health checks.
type Status struct {
	ExtractorReady bool `json:"extractorReady"`
	Dimension      int  `json:"dimension"`
}

func (s *Identity) Status(ctx context.Context) (Status, error) {
	dim, err := s.store.Dimension(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read store dimension: %w", err)
	}

	ready := true
	if r, ok := s.extractor.(interface{ Ready() bool }); ok {
		ready = r.Ready()
	}

	return Status{ExtractorReady: ready, Dimension: dim}, nil
}

func (s *Identity) extractOne(ctx context.Context, image []byte) (model.Descriptor, error) {
	descriptors, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return nil, extractionError(err)
	}

	descriptor, err := matching.ResolveProbe(descriptors)
	if err != nil {
		return nil, err
	}
	return descriptor, nil
}

func extractionError(err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidImage),
		errors.Is(err, model.ErrExtractorUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("failed to extract descriptors: %w", err)
	default:
		return fmt.Errorf("failed to extract descriptors: %w: %w", model.ErrExtractorUnavailable, err)
	}
}

func trimParams(p model.EnrollParams) model.EnrollParams {
	p.ExternalID = strings.TrimSpace(p.ExternalID)
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.InstitutionalEmail = strings.TrimSpace(p.InstitutionalEmail)
	p.Phone = strings.TrimSpace(p.Phone)
	return p
}

func validateEnroll(p model.EnrollParams) error {
	var missing []string
	if p.ExternalID == "" {
		missing = append(missing, "externalId")
	}
	if p.DisplayName == "" {
		missing = append(missing, "displayName")
	}
	if p.InstitutionalEmail == "" {
		missing = append(missing, "institutionalEmail")
	}
	if p.Phone == "" {
		missing = append(missing, "phone")
	}
	if len(p.Image) == 0 {
		missing = append(missing, "image")
	}
	if len(missing) > 0 {
		return &model.ValidationError{Fields: missing}
	}
	return nil
}

// imageKey gives every enrollment its own image key, prefixed with the
// external id when that is safe to use in a file name. A delete that races a
// re-enrollment of the same id can then only discard the old image.
func imageKey(externalID, ext string) string {
	suffix := uuid.NewString()
	if safeKey.MatchString(externalID) {
		return externalID + "-" + suffix[:8] + ext
	}
	return suffix + ext
}
