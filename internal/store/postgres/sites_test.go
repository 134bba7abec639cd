package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"fedplane/internal/apperr"
	"fedplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var siteCols = []string{"id", "name", "description", "status", "created_at", "updated_at"}

func TestCreateSite_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	now := time.Now().Truncate(time.Second)
	site := &store.Site{
		ID:        uuid.New(),
		Name:      "hospital-a",
		Status:    store.SiteStatusDisconnected,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO sites`).
		WithArgs(site.ID, site.Name, "", store.SiteStatusDisconnected, "hash", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CreateSite(context.Background(), nil, site, "hash"); err != nil {
		t.Fatalf("CreateSite failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetSiteByID_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	now := time.Now().Truncate(time.Second)

	mock.ExpectQuery(`FROM sites WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(siteCols).
			AddRow(id.String(), "hospital-a", "north wing", "CONNECTED", now, now))

	site, err := s.GetSiteByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSiteByID failed: %v", err)
	}
	if site.ID != id {
		t.Errorf("got ID %v, want %v", site.ID, id)
	}
	if site.Status != store.SiteStatusConnected {
		t.Errorf("got Status %s, want CONNECTED", site.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetSiteByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectQuery(`FROM sites WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(siteCols))

	site, err := s.GetSiteByID(context.Background(), id)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("got %v, want not found", err)
	}
	if site != nil {
		t.Errorf("expected nil site, got %+v", site)
	}
}

func TestGetSiteByAPIKeyHash(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery(`FROM sites WHERE api_key_hash = \$1`).
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows(siteCols).
			AddRow(id.String(), "hospital-b", "", "DISCONNECTED", now, now))

	site, err := s.GetSiteByAPIKeyHash(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetSiteByAPIKeyHash failed: %v", err)
	}
	if site.ID != id {
		t.Errorf("got ID %v, want %v", site.ID, id)
	}
}

func TestLockSite_UsesRowLock(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM sites WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(siteCols).
			AddRow(id.String(), "hospital-a", "", "DISCONNECTED", now, now))
	mock.ExpectExec(`UPDATE sites SET status = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs(store.SiteStatusConnected, sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := s.db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := s.LockSite(ctx, tx, id); err != nil {
		t.Fatalf("LockSite failed: %v", err)
	}
	if err := s.UpdateSiteStatus(ctx, tx, id, store.SiteStatusConnected, time.Now()); err != nil {
		t.Fatalf("UpdateSiteStatus failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDisconnectStaleSites(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	cutoff := time.Now().Add(-time.Minute)
	mock.ExpectExec(`UPDATE sites SET status = \$1 WHERE status = \$2 AND updated_at < \$3`).
		WithArgs(store.SiteStatusDisconnected, store.SiteStatusConnected, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DisconnectStaleSites(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DisconnectStaleSites failed: %v", err)
	}
	if n != 3 {
		t.Errorf("got %d disconnected, want 3", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCountSites(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sites WHERE status = \$1`).
		WithArgs(store.SiteStatusConnected).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountSites(context.Background(), store.SiteStatusConnected)
	if err != nil {
		t.Fatalf("CountSites failed: %v", err)
	}
	if n != 7 {
		t.Errorf("got %d, want 7", n)
	}
}
