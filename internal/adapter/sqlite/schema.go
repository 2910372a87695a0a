package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS book_sources (
    id              TEXT PRIMARY KEY,
    bookSourceUrl   TEXT NOT NULL,
    bookSourceName  TEXT NOT NULL,
    bookSourceGroup TEXT NOT NULL DEFAULT '',
    bookSourceType  INTEGER NOT NULL DEFAULT 0,
    loginUrl        TEXT NOT NULL DEFAULT '',
    header          TEXT,
    enabled         INTEGER NOT NULL DEFAULT 1,
    enabledExplore  INTEGER NOT NULL DEFAULT 1,
    customOrder     INTEGER NOT NULL DEFAULT 0,
    weight          INTEGER NOT NULL DEFAULT 0,
    lastUpdateTime  INTEGER NOT NULL DEFAULT 0,
    searchUrl       TEXT NOT NULL DEFAULT '',
    exploreUrl      TEXT NOT NULL DEFAULT '',
    ruleSearch      TEXT NOT NULL DEFAULT '{}',
    ruleExplore     TEXT,
    ruleBookInfo    TEXT NOT NULL DEFAULT '{}',
    ruleToc         TEXT NOT NULL DEFAULT '{}',
    ruleContent     TEXT NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_book_sources_url ON book_sources(bookSourceUrl);
CREATE INDEX IF NOT EXISTS idx_book_sources_order ON book_sources(weight DESC, lastUpdateTime DESC);
`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}
