// Package export writes analyzed corpora and their aggregates into a SQLite file so they can be
// queried without re-reading the CSV outputs.
package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline"
	"github.com/theimaginaryfoundation/sentiment-o-bot/pipeline/fileutils"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	kind TEXT NOT NULL,
	row_index INTEGER NOT NULL,
	keyword TEXT NOT NULL DEFAULT '',
	cleaned_text TEXT NOT NULL DEFAULT '',
	tokens TEXT NOT NULL DEFAULT '',
	created_at TEXT,
	sentiment_label TEXT,
	sentiment_score REAL,
	raw_json TEXT NOT NULL,
	PRIMARY KEY (kind, row_index)
);

CREATE INDEX IF NOT EXISTS idx_records_keyword ON records(kind, keyword);
CREATE INDEX IF NOT EXISTS idx_records_label ON records(kind, sentiment_label);

CREATE TABLE IF NOT EXISTS term_frequencies (
	kind TEXT NOT NULL,
	term TEXT NOT NULL,
	count INTEGER NOT NULL,
	docs INTEGER NOT NULL,
	PRIMARY KEY (kind, term)
);

CREATE TABLE IF NOT EXISTS daily_counts (
	kind TEXT NOT NULL,
	day TEXT NOT NULL,
	count INTEGER NOT NULL,
	PRIMARY KEY (kind, day)
);

CREATE TABLE IF NOT EXISTS sentiment_distribution (
	kind TEXT NOT NULL,
	label TEXT NOT NULL,
	count INTEGER NOT NULL,
	PRIMARY KEY (kind, label)
);
`

// DB is an export target. Each Export call replaces whatever was stored for that kind.
type DB struct {
	conn *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// ExportCorpus stores every row of t under kind. Well-known columns get their own fields; the
// full row is kept as a JSON object keyed by header.
func (db *DB) ExportCorpus(ctx context.Context, kind string, t fileutils.Table) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ExportCorpus: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE kind = ?`, kind); err != nil {
		return 0, fmt.Errorf("ExportCorpus: clear %s: %w", kind, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (kind, row_index, keyword, cleaned_text, tokens, created_at, sentiment_label, sentiment_score, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("ExportCorpus: prepare: %w", err)
	}
	defer stmt.Close()

	for i := range t.Rows {
		raw, err := rowJSON(t, i)
		if err != nil {
			return 0, fmt.Errorf("ExportCorpus: row %d: %w", i, err)
		}
		_, err = stmt.ExecContext(ctx,
			kind, i,
			t.Value(i, pipeline.ColumnKeyword),
			t.Value(i, pipeline.ColumnCleanedText),
			t.Value(i, pipeline.ColumnTokens),
			nullString(t.Value(i, pipeline.ColumnCreatedAt)),
			nullString(t.Value(i, pipeline.ColumnSentimentLabel)),
			nullFloat(t.Value(i, pipeline.ColumnSentimentScore)),
			raw,
		)
		if err != nil {
			return 0, fmt.Errorf("ExportCorpus: insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ExportCorpus: commit: %w", err)
	}
	return t.Len(), nil
}

// Export stores one corpus and its aggregates. It fits pipeline.StatsRunOptions.OnCorpus.
func (db *DB) Export(ctx context.Context, st pipeline.CorpusStats, t fileutils.Table) error {
	if _, err := db.ExportCorpus(ctx, st.Kind, t); err != nil {
		return err
	}
	return db.ExportStats(ctx, st)
}

// ExportStats stores the aggregates of one corpus.
func (db *DB) ExportStats(ctx context.Context, st pipeline.CorpusStats) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ExportStats: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"term_frequencies", "daily_counts", "sentiment_distribution"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE kind = ?`, st.Kind); err != nil {
			return fmt.Errorf("ExportStats: clear %s: %w", table, err)
		}
	}
	for _, tc := range st.TopTerms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO term_frequencies (kind, term, count, docs) VALUES (?, ?, ?, ?)`,
			st.Kind, tc.Term, tc.Count, tc.Docs); err != nil {
			return fmt.Errorf("ExportStats: term %q: %w", tc.Term, err)
		}
	}
	for _, d := range st.Daily {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO daily_counts (kind, day, count) VALUES (?, ?, ?)`,
			st.Kind, d.Day, d.Count); err != nil {
			return fmt.Errorf("ExportStats: day %s: %w", d.Day, err)
		}
	}
	for label, n := range st.Sentiment {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sentiment_distribution (kind, label, count) VALUES (?, ?, ?)`,
			st.Kind, string(label), n); err != nil {
			return fmt.Errorf("ExportStats: label %s: %w", label, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ExportStats: commit: %w", err)
	}
	return nil
}

func rowJSON(t fileutils.Table, i int) (string, error) {
	m := make(map[string]string, len(t.Header))
	for j, h := range t.Header {
		m[h] = t.Rows[i][j]
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(s string) sql.NullFloat64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
