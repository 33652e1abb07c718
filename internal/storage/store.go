package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store defines the durable table store used by the tracker, the session
// manager and the control channel.
type Store interface {
	UpsertPage(ctx context.Context, rawURL, title string, now time.Time) (*Page, error)
	GetPage(ctx context.Context, id int64) (*Page, error)
	GetPageByURL(ctx context.Context, rawURL string) (*Page, error)
	ListPages(ctx context.Context) ([]Page, error)
	BeginAccrual(ctx context.Context, pageID int64, now time.Time) (bool, error)
	EndAccrual(ctx context.Context, pageID int64, sessionID string, now time.Time) (int64, error)
	CheckpointAccrual(ctx context.Context, pageID int64, sessionID string, now time.Time) (int64, error)
	CloseStaleAccruals(ctx context.Context, cutoff time.Time, sessionID string) (int, error)
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, q EventQuery) ([]Event, error)
	PruneEvents(ctx context.Context, olderThan time.Time) (int64, error)
	TopDomains(ctx context.Context, limit int, now time.Time) ([]DomainStat, error)
	TodayActiveTime(ctx context.Context, now time.Time, mode TodayMode) (int64, error)
	ClearAll(ctx context.Context) error
	Export(ctx context.Context, now time.Time) (*Export, error)
	Close() error
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements
	upsertPage   *sql.Stmt
	getPage      *sql.Stmt
	getPageByURL *sql.Stmt
	beginAccrual *sql.Stmt
	insertEvent  *sql.Stmt

	mu         sync.RWMutex
	exclusions []string
}

// Option adjusts how Open prepares the database.
type Option func(*openOptions)

type openOptions struct {
	journalMode string
}

// WithJournalMode sets the SQLite journal mode for file databases.
// The default is WAL.
func WithJournalMode(mode string) Option {
	return func(o *openOptions) {
		if mode != "" {
			o.journalMode = mode
		}
	}
}

// Open opens (or creates) the SQLite database at path, applies pragmas and
// migrations, and returns a ready store. Use ":memory:" for tests.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := openOptions{journalMode: "wal"}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + path
	}

	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: the store is a serialized resource and an in-memory
	// database only exists on the connection that created it.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		switch mode := strings.ToUpper(o.journalMode); mode {
		case "WAL", "DELETE", "TRUNCATE", "PERSIST":
			if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = "+mode); err != nil {
				db.Close()
				return nil, fmt.Errorf("set journal mode %s: %w", mode, err)
			}
		default:
			db.Close()
			return nil, fmt.Errorf("unsupported journal mode %q", o.journalMode)
		}
	}

	if err := NewMigrationRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for diagnostics.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

const pageColumns = `id, url, domain, title, first_visit, last_visit, total_active_ms, open_accrual_start, visit_count`

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.upsertPage, err = s.db.Prepare(`
		INSERT INTO pages (url, domain, title, first_visit, last_visit, visit_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(url) DO UPDATE SET
			title       = CASE WHEN excluded.title != '' THEN excluded.title ELSE pages.title END,
			last_visit  = MAX(pages.last_visit, excluded.last_visit),
			visit_count = pages.visit_count + 1
	`)
	if err != nil {
		return err
	}

	s.getPage, err = s.db.Prepare(`SELECT ` + pageColumns + ` FROM pages WHERE id = ?`)
	if err != nil {
		return err
	}

	s.getPageByURL, err = s.db.Prepare(`SELECT ` + pageColumns + ` FROM pages WHERE url = ?`)
	if err != nil {
		return err
	}

	s.beginAccrual, err = s.db.Prepare(`
		UPDATE pages SET open_accrual_start = ?
		WHERE id = ? AND open_accrual_start IS NULL
	`)
	if err != nil {
		return err
	}

	s.insertEvent, err = s.db.Prepare(`
		INSERT INTO events (page_id, session_id, ts, type, payload)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	return nil
}

// SetExclusions replaces the domain deny list. Matching covers subdomains.
func (s *SQLiteStore) SetExclusions(domains []string) {
	s.mu.Lock()
	s.exclusions = append([]string(nil), domains...)
	s.mu.Unlock()
}

// IsExcluded checks if a domain is blocked by exclusion rules.
func (s *SQLiteStore) IsExcluded(domain string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.exclusions {
		if domainMatches(domain, rule) {
			return true
		}
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (*Page, error) {
	var (
		p                     Page
		firstVisit, lastVisit int64
		open                  sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.URL, &p.Domain, &p.Title, &firstVisit, &lastVisit,
		&p.TotalActiveTimeMs, &open, &p.VisitCount); err != nil {
		return nil, err
	}
	p.FirstVisit = time.UnixMilli(firstVisit)
	p.LastVisit = time.UnixMilli(lastVisit)
	if open.Valid {
		t := time.UnixMilli(open.Int64)
		p.OpenAccrualStart = &t
	}
	return &p, nil
}

// UpsertPage records a page view for rawURL: it creates the page with
// visitCount=1, or refreshes title and lastVisit and increments visitCount.
func (s *SQLiteStore) UpsertPage(ctx context.Context, rawURL, title string, now time.Time) (*Page, error) {
	norm, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	ms := now.UnixMilli()
	if _, err := s.upsertPage.ExecContext(ctx, norm, ExtractDomain(norm), title, ms, ms); err != nil {
		return nil, fmt.Errorf("upsert page: %w", err)
	}
	return s.GetPageByURL(ctx, norm)
}

// GetPage retrieves a page by ID.
func (s *SQLiteStore) GetPage(ctx context.Context, id int64) (*Page, error) {
	p, err := scanPage(s.getPage.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	return p, nil
}

// GetPageByURL retrieves a page by its normalized URL. rawURL is normalized first.
func (s *SQLiteStore) GetPageByURL(ctx context.Context, rawURL string) (*Page, error) {
	norm, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	p, err := scanPage(s.getPageByURL.QueryRowContext(ctx, norm))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", norm, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	return p, nil
}

// ListPages returns every page, most recently visited first.
func (s *SQLiteStore) ListPages(ctx context.Context) ([]Page, error) {
	return s.queryPages(ctx, s.db, `SELECT `+pageColumns+` FROM pages ORDER BY last_visit DESC, id ASC`)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) queryPages(ctx context.Context, q querier, query string, args ...any) ([]Page, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	pages := []Page{}
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, *p)
	}
	return pages, rows.Err()
}

// Close releases all prepared statements and the database handle.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.upsertPage, s.getPage, s.getPageByURL,
		s.beginAccrual, s.insertEvent,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
