package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/booksource-service/internal/entity"
	"github.com/user/booksource-service/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS book_sources (
	id              TEXT PRIMARY KEY,
	bookSourceUrl   TEXT NOT NULL UNIQUE,
	bookSourceName  TEXT NOT NULL,
	bookSourceGroup TEXT NOT NULL DEFAULT '',
	bookSourceType  INTEGER NOT NULL DEFAULT 0,
	loginUrl        TEXT NOT NULL DEFAULT '',
	header          TEXT,
	enabled         BOOLEAN NOT NULL DEFAULT TRUE,
	enabledExplore  BOOLEAN NOT NULL DEFAULT TRUE,
	customOrder     INTEGER NOT NULL DEFAULT 0,
	weight          INTEGER NOT NULL DEFAULT 0,
	lastUpdateTime  BIGINT NOT NULL DEFAULT 0,
	searchUrl       TEXT NOT NULL DEFAULT '',
	exploreUrl      TEXT NOT NULL DEFAULT '',
	ruleSearch      TEXT NOT NULL DEFAULT '{}',
	ruleExplore     TEXT,
	ruleBookInfo    TEXT NOT NULL DEFAULT '{}',
	ruleToc         TEXT NOT NULL DEFAULT '{}',
	ruleContent     TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_book_sources_order ON book_sources (weight DESC, lastUpdateTime DESC);
`

var (
	columnList  = strings.Join(repository.Columns, ", ")
	selectQuery = `SELECT ` + columnList + ` FROM book_sources`
	upsertQuery = buildUpsert()
)

func buildUpsert() string {
	placeholders := make([]string, len(repository.Columns))
	updates := make([]string, 0, len(repository.Columns))
	for i, c := range repository.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if c == "id" || c == "lastUpdateTime" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return `
		INSERT INTO book_sources (` + columnList + `)
		VALUES (` + strings.Join(placeholders, ", ") + `)
		ON CONFLICT (id) DO UPDATE SET
			` + strings.Join(updates, ",\n\t\t\t") + `,
			lastUpdateTime = CASE WHEN book_sources.lastUpdateTime >= EXCLUDED.lastUpdateTime
				THEN book_sources.lastUpdateTime + 1 ELSE EXCLUDED.lastUpdateTime END
		RETURNING lastUpdateTime;
	`
}

// BookSourceRepoImpl provides a concrete implementation for the BookSourceRepository interface using PostgreSQL.
type BookSourceRepoImpl struct {
	dsn string

	mu sync.Mutex
	db *pgxpool.Pool
}

// NewBookSourceRepo creates a new instance of BookSourceRepoImpl. The pool is created by Init.
func NewBookSourceRepo(dsn string) *BookSourceRepoImpl {
	return &BookSourceRepoImpl{dsn: dsn}
}

// Init connects the pool and creates the book_sources table if needed.
func (r *BookSourceRepoImpl) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db != nil {
		return nil
	}

	pool, err := pgxpool.New(ctx, r.dsn)
	if err != nil {
		return fmt.Errorf("%w: connect: %w", repository.ErrStorageInit, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("%w: ping: %w", repository.ErrStorageInit, err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return fmt.Errorf("%w: apply schema: %w", repository.ErrStorageInit, err)
	}
	r.db = pool
	return nil
}

func (r *BookSourceRepoImpl) pool() (*pgxpool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil, fmt.Errorf("%w: store not initialized", repository.ErrStorageInit)
	}
	return r.db, nil
}

// GetAll retrieves every book source ordered by weight and recency.
func (r *BookSourceRepoImpl) GetAll(ctx context.Context) ([]*entity.BookSource, error) {
	db, err := r.pool()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, selectQuery+` ORDER BY weight DESC, lastUpdateTime DESC;`)
	if err != nil {
		return nil, fmt.Errorf("query book sources: %w", err)
	}
	defer rows.Close()

	sources := []*entity.BookSource{}
	for rows.Next() {
		var row repository.Row
		if err := rows.Scan(row.Dest()...); err != nil {
			return nil, fmt.Errorf("scan book source: %w", err)
		}
		s, err := row.BookSource()
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// Get retrieves a book source by id.
func (r *BookSourceRepoImpl) Get(ctx context.Context, id string) (*entity.BookSource, error) {
	db, err := r.pool()
	if err != nil {
		return nil, err
	}
	var row repository.Row
	err = db.QueryRow(ctx, selectQuery+` WHERE id = $1;`, id).Scan(row.Dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get book source %s: %w", id, err)
	}
	return row.BookSource()
}

// Add stores or replaces a book source and returns its id.
func (r *BookSourceRepoImpl) Add(ctx context.Context, source *entity.BookSource) (string, error) {
	db, err := r.pool()
	if err != nil {
		return "", err
	}
	row, err := repository.NewRow(source)
	if err != nil {
		return "", err
	}
	if row.ID == "" {
		err := db.QueryRow(ctx, `SELECT id FROM book_sources WHERE bookSourceUrl = $1;`, row.BookSourceURL).Scan(&row.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			row.ID = uuid.Must(uuid.NewV7()).String()
		} else if err != nil {
			return "", fmt.Errorf("lookup book source %s: %w", row.BookSourceURL, err)
		}
	}
	row.LastUpdateTime = time.Now().UnixMilli()

	var stamp int64
	if err := db.QueryRow(ctx, upsertQuery, row.Args()...).Scan(&stamp); err != nil {
		return "", fmt.Errorf("save book source %s: %w", row.BookSourceURL, err)
	}
	source.ID = row.ID
	source.LastUpdateTime = stamp
	return row.ID, nil
}

// Update writes the supplied columns plus a strictly increasing lastUpdateTime.
func (r *BookSourceRepoImpl) Update(ctx context.Context, id string, fields map[string]any) (int64, error) {
	db, err := r.pool()
	if err != nil {
		return 0, err
	}

	columns := make([]string, 0, len(fields))
	for c := range fields {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+2)
	for _, c := range columns {
		v, err := repository.EncodeField(c, fields[c])
		if err != nil {
			return 0, err
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	args = append(args, time.Now().UnixMilli())
	now := len(args)
	sets = append(sets, fmt.Sprintf("lastUpdateTime = CASE WHEN lastUpdateTime >= $%d THEN lastUpdateTime + 1 ELSE $%d END", now, now))
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE book_sources SET %s WHERE id = $%d RETURNING lastUpdateTime;`, strings.Join(sets, ", "), len(args))
	var stamp int64
	err = db.QueryRow(ctx, query, args...).Scan(&stamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: id %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("update book source %s: %w", id, err)
	}
	return stamp, nil
}

// Remove deletes a book source by id.
func (r *BookSourceRepoImpl) Remove(ctx context.Context, id string) error {
	db, err := r.pool()
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, `DELETE FROM book_sources WHERE id = $1;`, id); err != nil {
		return fmt.Errorf("remove book source %s: %w", id, err)
	}
	return nil
}

// Close closes the pool.
func (r *BookSourceRepoImpl) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db != nil {
		r.db.Close()
		r.db = nil
	}
	return nil
}

var _ repository.BookSourceRepository = (*BookSourceRepoImpl)(nil)
