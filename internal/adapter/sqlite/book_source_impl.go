package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/booksource-service/internal/entity"
	"github.com/user/booksource-service/internal/repository"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var (
	columnList = strings.Join(repository.Columns, ", ")

	selectQuery = `SELECT ` + columnList + ` FROM book_sources`

	upsertQuery = func() string {
		updates := make([]string, 0, len(repository.Columns))
		for _, c := range repository.Columns {
			if c == "id" || c == "lastUpdateTime" {
				continue
			}
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
		}
		return `INSERT INTO book_sources (` + columnList + `)
		VALUES (` + strings.TrimSuffix(strings.Repeat("?, ", len(repository.Columns)), ", ") + `)
		ON CONFLICT(id) DO UPDATE SET
			` + strings.Join(updates, ",\n\t\t\t") + `,
			lastUpdateTime = CASE WHEN book_sources.lastUpdateTime >= excluded.lastUpdateTime
				THEN book_sources.lastUpdateTime + 1 ELSE excluded.lastUpdateTime END
		RETURNING lastUpdateTime`
	}()
)

// BookSourceRepoImpl provides a concrete implementation for the BookSourceRepository interface using SQLite.
type BookSourceRepoImpl struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// NewBookSourceRepo creates a repository backed by the database file at path.
// Nothing is opened until Init.
func NewBookSourceRepo(path string) *BookSourceRepoImpl {
	return &BookSourceRepoImpl{path: path}
}

// Init opens the database, applies pragmas and creates the schema.
func (r *BookSourceRepoImpl) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db != nil {
		return nil
	}

	if r.path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
			return fmt.Errorf("%w: mkdir: %w", repository.ErrStorageInit, err)
		}
	}
	db, err := sql.Open("sqlite", r.path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", repository.ErrStorageInit, r.path, err)
	}
	if r.path == MemoryPath {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return fmt.Errorf("%w: %s: %w", repository.ErrStorageInit, p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("%w: apply schema: %w", repository.ErrStorageInit, err)
	}
	r.db = db
	return nil
}

func (r *BookSourceRepoImpl) conn() (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil, fmt.Errorf("%w: store not initialized", repository.ErrStorageInit)
	}
	return r.db, nil
}

// GetAll returns every book source, highest weight first, then most recently updated.
func (r *BookSourceRepoImpl) GetAll(ctx context.Context) ([]*entity.BookSource, error) {
	db, err := r.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, selectQuery+` ORDER BY weight DESC, lastUpdateTime DESC`)
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

// Get retrieves a single book source by id.
func (r *BookSourceRepoImpl) Get(ctx context.Context, id string) (*entity.BookSource, error) {
	db, err := r.conn()
	if err != nil {
		return nil, err
	}
	var row repository.Row
	err = db.QueryRowContext(ctx, selectQuery+` WHERE id = ?`, id).Scan(row.Dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get book source %s: %w", id, err)
	}
	return row.BookSource()
}

// Add inserts or replaces a book source. Without an id it reuses the id of a
// row with the same url, or generates a new one.
func (r *BookSourceRepoImpl) Add(ctx context.Context, source *entity.BookSource) (string, error) {
	db, err := r.conn()
	if err != nil {
		return "", err
	}
	row, err := repository.NewRow(source)
	if err != nil {
		return "", err
	}
	if row.ID == "" {
		err := db.QueryRowContext(ctx, `SELECT id FROM book_sources WHERE bookSourceUrl = ?`, row.BookSourceURL).Scan(&row.ID)
		if errors.Is(err, sql.ErrNoRows) {
			row.ID = uuid.Must(uuid.NewV7()).String()
		} else if err != nil {
			return "", fmt.Errorf("lookup book source %s: %w", row.BookSourceURL, err)
		}
	}
	row.LastUpdateTime = time.Now().UnixMilli()

	var stamp int64
	if err := db.QueryRowContext(ctx, upsertQuery, row.Args()...).Scan(&stamp); err != nil {
		return "", fmt.Errorf("save book source %s: %w", row.BookSourceURL, err)
	}
	source.ID = row.ID
	source.LastUpdateTime = stamp
	return row.ID, nil
}

// Update writes the supplied columns and stamps lastUpdateTime, keeping it
// strictly increasing even when the clock has not advanced.
func (r *BookSourceRepoImpl) Update(ctx context.Context, id string, fields map[string]any) (int64, error) {
	db, err := r.conn()
	if err != nil {
		return 0, err
	}

	columns := make([]string, 0, len(fields))
	for c := range fields {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+3)
	for _, c := range columns {
		v, err := repository.EncodeField(c, fields[c])
		if err != nil {
			return 0, err
		}
		sets = append(sets, c+" = ?")
		args = append(args, v)
	}
	now := time.Now().UnixMilli()
	sets = append(sets, "lastUpdateTime = CASE WHEN lastUpdateTime >= ? THEN lastUpdateTime + 1 ELSE ? END")
	args = append(args, now, now, id)

	query := `UPDATE book_sources SET ` + strings.Join(sets, ", ") + ` WHERE id = ? RETURNING lastUpdateTime`
	var stamp int64
	err = db.QueryRowContext(ctx, query, args...).Scan(&stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: id %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("update book source %s: %w", id, err)
	}
	return stamp, nil
}

// Remove deletes a book source. Removing an absent id succeeds.
func (r *BookSourceRepoImpl) Remove(ctx context.Context, id string) error {
	db, err := r.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM book_sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove book source %s: %w", id, err)
	}
	return nil
}

// Close closes the database if it was opened.
func (r *BookSourceRepoImpl) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

var _ repository.BookSourceRepository = (*BookSourceRepoImpl)(nil)
