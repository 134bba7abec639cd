package postgres

import (
	"context"
	"time"

	"fedplane/internal/store"

	"github.com/google/uuid"
)

const siteColumns = "id, name, description, status, created_at, updated_at"

func scanSite(row rowScanner) (*store.Site, error) {
	var site store.Site
	if err := row.Scan(
		&site.ID,
		&site.Name,
		&site.Description,
		&site.Status,
		&site.CreatedAt,
		&site.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &site, nil
}

// CreateSite inserts a site row together with its API key hash.
func (s *Store) CreateSite(ctx context.Context, tx store.DBTransaction, site *store.Site, keyHash string) error {
	query := `
		INSERT INTO sites (id, name, description, status, api_key_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.getExecutor(tx).ExecContext(ctx, query,
		site.ID,
		site.Name,
		site.Description,
		site.Status,
		keyHash,
		site.CreatedAt,
		site.UpdatedAt,
	)
	if err != nil {
		return wrapErr("create site", err)
	}
	return nil
}

func (s *Store) GetSiteByID(ctx context.Context, id uuid.UUID) (*store.Site, error) {
	query := "SELECT " + siteColumns + " FROM sites WHERE id = $1"

	site, err := scanSite(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, wrapErr("get site "+id.String(), err)
	}
	return site, nil
}

func (s *Store) GetSiteByAPIKeyHash(ctx context.Context, hash string) (*store.Site, error) {
	query := "SELECT " + siteColumns + " FROM sites WHERE api_key_hash = $1"

	site, err := scanSite(s.db.QueryRowContext(ctx, query, hash))
	if err != nil {
		return nil, wrapErr("get site by key", err)
	}
	return site, nil
}

// LockSite reads the site row under an exclusive row lock held until the
// transaction ends.
func (s *Store) LockSite(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Site, error) {
	query := "SELECT " + siteColumns + " FROM sites WHERE id = $1 FOR UPDATE"

	site, err := scanSite(s.getExecutor(tx).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, wrapErr("lock site "+id.String(), err)
	}
	return site, nil
}

func (s *Store) UpdateSiteStatus(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.SiteStatus, at time.Time) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE sites
		SET status = $1, updated_at = $2
		WHERE id = $3
	`, status, at, id)
	if err != nil {
		return wrapErr("update site status", err)
	}
	return nil
}

// DisconnectStaleSites flips stale CONNECTED sites to DISCONNECTED in one
// statement. Postgres re-evaluates the WHERE clause against the latest row
// version once it holds the row lock, so a heartbeat committed while the
// sweep runs keeps the site connected.
func (s *Store) DisconnectStaleSites(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sites
		SET status = $1
		WHERE status = $2 AND updated_at < $3
	`, store.SiteStatusDisconnected, store.SiteStatusConnected, cutoff)
	if err != nil {
		return 0, wrapErr("disconnect stale sites", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("disconnect stale sites", err)
	}
	return n, nil
}

func (s *Store) CountSites(ctx context.Context, status store.SiteStatus) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sites WHERE status = $1", status).Scan(&count)
	if err != nil {
		return 0, wrapErr("count sites", err)
	}
	return count, nil
}
