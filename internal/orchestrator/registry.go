package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fedplane/internal/apperr"
	"fedplane/internal/auth"
	"fedplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Register creates a CONNECTED site and returns it with its raw API key.
// The key is not recoverable afterwards.
func (s *Service) Register(ctx context.Context, name, description string) (_ *store.Site, _ string, err error) {
	ctx, span := s.startSpan(ctx, "Register")
	defer func() { endSpan(span, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("site name is required: %w", apperr.ErrValidation)
	}

	key, err := auth.GenerateKey()
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	site := &store.Site{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Status:      store.SiteStatusConnected,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateSite(ctx, nil, site, auth.HashKey(key)); err != nil {
		return nil, "", err
	}

	s.logger(ctx).Info("site registered", "site_uid", site.ID, "name", site.Name)
	return site, key, nil
}

// Heartbeat sets a site's status and refreshes updated_at under a row lock.
func (s *Service) Heartbeat(ctx context.Context, siteID uuid.UUID, status store.SiteStatus) (_ *store.Site, err error) {
	ctx, span := s.startSpan(ctx, "Heartbeat", attribute.String("site_uid", siteID.String()))
	defer func() { endSpan(span, err) }()

	if !status.Valid() {
		return nil, fmt.Errorf("site status %q: %w", status, apperr.ErrValidation)
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	site, err := s.store.LockSite(ctx, tx, siteID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.store.UpdateSiteStatus(ctx, tx, siteID, status, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit heartbeat: %w: %w", apperr.ErrPersistence, err)
	}

	site.Status = status
	site.UpdatedAt = now
	s.metrics.Heartbeat(ctx, string(status))
	return site, nil
}

// Lookup returns a site by uid.
func (s *Service) Lookup(ctx context.Context, siteID uuid.UUID) (*store.Site, error) {
	return s.store.GetSiteByID(ctx, siteID)
}

// Authenticate resolves the site owning apiKey.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*store.Site, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("empty api key: %w", apperr.ErrValidation)
	}
	return s.store.GetSiteByAPIKeyHash(ctx, auth.HashKey(apiKey))
}

// SweepLiveness disconnects every CONNECTED site silent for longer than the
// liveness threshold as of now.
func (s *Service) SweepLiveness(ctx context.Context, now time.Time) (_ int64, err error) {
	ctx, span := s.startSpan(ctx, "SweepLiveness")
	defer func() { endSpan(span, err) }()

	cutoff := now.Add(-s.livenessThreshold)
	n, err := s.store.DisconnectStaleSites(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("sites_disconnected", n))
	s.metrics.SitesDisconnected(ctx, n)
	if n > 0 {
		s.logger(ctx).Info("disconnected stale sites", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// CountConnectedSites backs the connected sites gauge.
func (s *Service) CountConnectedSites(ctx context.Context) (int64, error) {
	return s.store.CountSites(ctx, store.SiteStatusConnected)
}
