// Package session keeps named credential profiles in a local SQLite file and
// serves their tokens as oauth2 token sources.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultProfile is used when no profile is named.
const DefaultProfile = "morphic-util"

// Profile errors.
var (
	ErrProfileNotFound = errors.New("profile not found: run the config command first")
	ErrTokenExpired    = errors.New("profile token expired: run the config command again")
)

// Profile is one stored credential set.
type Profile struct {
	Name         string
	AccessToken  string
	Expiry       time.Time
	CatalogueURL string
	UpdatedAt    time.Time
}

// Store persists profiles.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var sqlOpen = sql.Open

// Open opens (or creates) the profile database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("profile store path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	db, err := sqlOpen("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS profiles (
		name TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		expiry TEXT,
		catalogue_url TEXT,
		updated_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create profiles table: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

func profileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultProfile
	}
	return name
}

// Save inserts or replaces a profile.
func (s *Store) Save(ctx context.Context, p Profile) error {
	if strings.TrimSpace(p.AccessToken) == "" {
		return errors.New("access token required")
	}
	p.Name = profileName(p.Name)
	var expiry sql.NullString
	if !p.Expiry.IsZero() {
		expiry = sql.NullString{String: p.Expiry.UTC().Format(time.RFC3339), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles(name, access_token, expiry, catalogue_url, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET access_token=excluded.access_token, expiry=excluded.expiry,
			catalogue_url=excluded.catalogue_url, updated_at=excluded.updated_at`,
		p.Name, p.AccessToken, expiry, p.CatalogueURL, s.now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.Name, err)
	}
	return nil
}

// Get loads a profile by name.
func (s *Store) Get(ctx context.Context, name string) (Profile, error) {
	name = profileName(name)
	row := s.db.QueryRowContext(ctx, `SELECT name, access_token, expiry, catalogue_url, updated_at FROM profiles WHERE name = ?`, name)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return p, err
}

// List returns every profile ordered by name.
func (s *Store) List(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, access_token, expiry, catalogue_url, updated_at FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes a profile and reports whether it existed.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, profileName(name))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(sc scanner) (Profile, error) {
	var (
		p       Profile
		expiry  sql.NullString
		url     sql.NullString
		updated string
	)
	if err := sc.Scan(&p.Name, &p.AccessToken, &expiry, &url, &updated); err != nil {
		return Profile{}, err
	}
	p.CatalogueURL = url.String
	if expiry.Valid && expiry.String != "" {
		t, err := time.Parse(time.RFC3339, expiry.String)
		if err != nil {
			return Profile{}, fmt.Errorf("profile %s expiry: %w", p.Name, err)
		}
		p.Expiry = t
	}
	if t, err := time.Parse(time.RFC3339, updated); err == nil {
		p.UpdatedAt = t
	}
	return p, nil
}

// Token returns the bearer token of profile, failing once it has expired.
func (s *Store) Token(ctx context.Context, profile string) (*oauth2.Token, error) {
	p, err := s.Get(ctx, profile)
	if err != nil {
		return nil, err
	}
	if !p.Expiry.IsZero() && !s.now().Before(p.Expiry) {
		return nil, fmt.Errorf("%w: %s", ErrTokenExpired, p.Name)
	}
	return &oauth2.Token{AccessToken: p.AccessToken, TokenType: "Bearer", Expiry: p.Expiry}, nil
}

// TokenSource returns a source that reads profile on first use and again
// whenever the cached token expires.
func (s *Store) TokenSource(ctx context.Context, profile string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, profileSource{ctx: ctx, store: s, profile: profile})
}

type profileSource struct {
	ctx     context.Context
	store   *Store
	profile string
}

func (p profileSource) Token() (*oauth2.Token, error) {
	return p.store.Token(p.ctx, p.profile)
}
