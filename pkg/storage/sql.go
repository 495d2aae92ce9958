package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

const (
	createNodesTableSQL = `
CREATE TABLE IF NOT EXISTS claim_nodes (
    id VARCHAR(64) PRIMARY KEY,
    kind VARCHAR(16) NOT NULL,
    node_text TEXT NOT NULL,
    node_type VARCHAR(32),
    agent VARCHAR(64),
    cycle INTEGER NOT NULL DEFAULT 0,
    content_hash VARCHAR(32) NOT NULL,
    payload TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nodes_kind ON claim_nodes(kind);
CREATE INDEX IF NOT EXISTS idx_nodes_hash ON claim_nodes(content_hash);
`

	createEdgesTableSQL = `
CREATE TABLE IF NOT EXISTS claim_edges (
    from_id VARCHAR(64) NOT NULL,
    to_id VARCHAR(64) NOT NULL,
    relation VARCHAR(32) NOT NULL,
    PRIMARY KEY (from_id, to_id, relation)
);

CREATE INDEX IF NOT EXISTS idx_edges_to ON claim_edges(to_id);
`

	createEmbeddingsTableSQL = `
CREATE TABLE IF NOT EXISTS claim_embeddings (
    node_id VARCHAR(64) PRIMARY KEY,
    dim INTEGER NOT NULL,
    vector TEXT NOT NULL
);
`

	createQuadsTableSQL = `
CREATE TABLE IF NOT EXISTS ontology_quads (
    quad_hash VARCHAR(32) PRIMARY KEY,
    subject TEXT NOT NULL,
    predicate TEXT NOT NULL,
    object TEXT NOT NULL,
    graph TEXT NOT NULL
);
`
)

// bm25CandidateLimit bounds how many persisted rows are pulled in for
// in-process BM25 ranking.
const bm25CandidateLimit = 256

// SQLBackend persists graph rows through database/sql. SQLite, PostgreSQL,
// and MySQL dialects are supported; connections come from a shared DBPool.
// Vector similarity is not implemented here, the VectorIndex covers it.
type SQLBackend struct {
	db      *sql.DB
	dialect string
}

// NewSQLBackend opens (or reuses) a pooled connection for cfg and returns
// a backend speaking its dialect.
func NewSQLBackend(pool *DBPool, cfg *config.DatabaseConfig) (*SQLBackend, error) {
	if pool == nil {
		pool = NewDBPool()
	}
	db, err := pool.Get(cfg)
	if err != nil {
		return nil, protocol.WrapErr(protocol.KindStorage, "storage.sql.open", err)
	}

	dialect := cfg.Dialect()
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, protocol.Newf(protocol.KindConfig, "storage.sql.open", "unsupported dialect %q", dialect)
	}

	return &SQLBackend{db: db, dialect: dialect}, nil
}

// Initialize creates the schema. Every statement is create-if-not-exists,
// so repeated calls are no-ops.
func (b *SQLBackend) Initialize(ctx context.Context) error {
	for _, stmts := range []string{
		createNodesTableSQL,
		createEdgesTableSQL,
		createEmbeddingsTableSQL,
		createQuadsTableSQL,
	} {
		for _, stmt := range strings.Split(stmts, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := b.db.ExecContext(ctx, stmt); err != nil {
				return protocol.WrapErr(protocol.KindStorage, "storage.sql.initialize", err)
			}
		}
	}
	return nil
}

// Persist writes the batch inside a transaction, retrying once before the
// failure is surfaced.
func (b *SQLBackend) Persist(ctx context.Context, rows Rows) error {
	if rows.Empty() {
		return nil
	}
	if err := b.persistOnce(ctx, rows); err != nil {
		slog.Warn("Storage write failed, retrying once", "error", err)
		if err := b.persistOnce(ctx, rows); err != nil {
			return protocol.WrapErr(protocol.KindStorage, "storage.sql.persist", err)
		}
	}
	return nil
}

func (b *SQLBackend) persistOnce(ctx context.Context, rows Rows) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, n := range rows.Nodes {
		if err := b.upsertNode(ctx, tx, n); err != nil {
			return err
		}
	}
	for _, e := range rows.Edges {
		q := b.rebind(b.insertIgnore("claim_edges", "(from_id, to_id, relation) VALUES (?, ?, ?)", "(from_id, to_id, relation)"))
		if _, err := tx.ExecContext(ctx, q, e.From, e.To, e.Relation); err != nil {
			return err
		}
	}
	for _, em := range rows.Embeddings {
		if err := b.upsertEmbedding(ctx, tx, em); err != nil {
			return err
		}
	}
	for _, qd := range rows.Quads {
		hash := utils.Checksum64(qd.Subject + "|" + qd.Predicate + "|" + qd.Object + "|" + qd.Graph)
		q := b.rebind(b.insertIgnore("ontology_quads", "(quad_hash, subject, predicate, object, graph) VALUES (?, ?, ?, ?, ?)", "(quad_hash)"))
		if _, err := tx.ExecContext(ctx, q, hash, qd.Subject, qd.Predicate, qd.Object, qd.Graph); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (b *SQLBackend) upsertNode(ctx context.Context, tx *sql.Tx, n NodeRow) error {
	query := `
INSERT INTO claim_nodes (id, kind, node_text, node_type, agent, cycle, content_hash, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    node_text = excluded.node_text,
    node_type = excluded.node_type,
    content_hash = excluded.content_hash,
    payload = excluded.payload
`
	if b.dialect == "mysql" {
		query = `
INSERT INTO claim_nodes (id, kind, node_text, node_type, agent, cycle, content_hash, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    node_text = VALUES(node_text),
    node_type = VALUES(node_type),
    content_hash = VALUES(content_hash),
    payload = VALUES(payload)
`
	}
	_, err := tx.ExecContext(ctx, b.rebind(query),
		n.ID, n.Kind, n.Text, n.Type, n.Agent, n.Cycle, n.ContentHash, string(n.Payload), time.Now().UTC(),
	)
	return err
}

func (b *SQLBackend) upsertEmbedding(ctx context.Context, tx *sql.Tx, em EmbeddingRow) error {
	vec, err := json.Marshal(em.Vector)
	if err != nil {
		return err
	}

	query := `
INSERT INTO claim_embeddings (node_id, dim, vector)
VALUES (?, ?, ?)
ON CONFLICT (node_id) DO UPDATE SET
    dim = excluded.dim,
    vector = excluded.vector
`
	if b.dialect == "mysql" {
		query = `
INSERT INTO claim_embeddings (node_id, dim, vector)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE
    dim = VALUES(dim),
    vector = VALUES(vector)
`
	}
	_, err = tx.ExecContext(ctx, b.rebind(query), em.NodeID, len(em.Vector), string(vec))
	return err
}

// insertIgnore builds a duplicate-tolerant INSERT for the dialect.
func (b *SQLBackend) insertIgnore(table, values, conflictCols string) string {
	switch b.dialect {
	case "mysql":
		return "INSERT IGNORE INTO " + table + " " + values
	case "sqlite":
		return "INSERT OR IGNORE INTO " + table + " " + values
	default:
		return "INSERT INTO " + table + " " + values + " ON CONFLICT " + conflictCols + " DO NOTHING"
	}
}

// rebind converts ? placeholders to the $n form PostgreSQL expects.
func (b *SQLBackend) rebind(query string) string {
	if b.dialect != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// FetchNode returns the node with the given ID, or nil when absent.
func (b *SQLBackend) FetchNode(ctx context.Context, id string) (*NodeRow, error) {
	query := b.rebind(`
SELECT id, kind, node_text, node_type, agent, cycle, content_hash, payload
FROM claim_nodes WHERE id = ?
`)
	var n NodeRow
	var payload string
	err := b.db.QueryRowContext(ctx, query, id).Scan(
		&n.ID, &n.Kind, &n.Text, &n.Type, &n.Agent, &n.Cycle, &n.ContentHash, &payload,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, protocol.WrapErr(protocol.KindStorage, "storage.sql.fetch", err)
	}
	n.Payload = []byte(payload)
	return &n, nil
}

// QueryBM25 pulls candidate rows whose text mentions any query token, then
// ranks them in process. Deterministic for a fixed table state.
func (b *SQLBackend) QueryBM25(ctx context.Context, text string, k int) ([]ScoredNode, error) {
	tokens := utils.Tokenize(text)
	if len(tokens) == 0 || k <= 0 {
		return nil, nil
	}
	if len(tokens) > 8 {
		tokens = tokens[:8]
	}

	conds := make([]string, 0, len(tokens))
	args := make([]interface{}, 0, len(tokens)+1)
	for _, t := range tokens {
		conds = append(conds, "LOWER(node_text) LIKE ?")
		args = append(args, "%"+t+"%")
	}
	query := fmt.Sprintf(`
SELECT id, node_text FROM claim_nodes
WHERE %s
ORDER BY id
LIMIT %d
`, strings.Join(conds, " OR "), bm25CandidateLimit)

	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		return nil, protocol.WrapErr(protocol.KindStorage, "storage.sql.bm25", err)
	}
	defer rows.Close()

	idx := NewBM25Index()
	for rows.Next() {
		var id, nodeText string
		if err := rows.Scan(&id, &nodeText); err != nil {
			return nil, protocol.WrapErr(protocol.KindStorage, "storage.sql.bm25", err)
		}
		idx.Upsert(id, nodeText)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.WrapErr(protocol.KindStorage, "storage.sql.bm25", err)
	}

	return idx.Query(text, k), nil
}

// VectorSearch is not served from SQL; the VectorIndex owns similarity.
func (b *SQLBackend) VectorSearch(ctx context.Context, vector []float32, k int) ([]ScoredNode, error) {
	return nil, ErrCapabilityUnsupported
}

// OntologyQuery filters quads whose subject, predicate, or object contains
// the text, case-insensitively.
func (b *SQLBackend) OntologyQuery(ctx context.Context, text string) ([]QuadRow, error) {
	needle := "%" + strings.ToLower(utils.NormalizeSpace(text)) + "%"
	query := b.rebind(`
SELECT subject, predicate, object, graph FROM ontology_quads
WHERE LOWER(subject) LIKE ? OR LOWER(predicate) LIKE ? OR LOWER(object) LIKE ?
ORDER BY subject, predicate, object
LIMIT 128
`)

	rows, err := b.db.QueryContext(ctx, query, needle, needle, needle)
	if err != nil {
		return nil, protocol.WrapErr(protocol.KindStorage, "storage.sql.ontology", err)
	}
	defer rows.Close()

	var out []QuadRow
	for rows.Next() {
		var q QuadRow
		if err := rows.Scan(&q.Subject, &q.Predicate, &q.Object, &q.Graph); err != nil {
			return nil, protocol.WrapErr(protocol.KindStorage, "storage.sql.ontology", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.WrapErr(protocol.KindStorage, "storage.sql.ontology", err)
	}
	return out, nil
}

// Teardown is a no-op; the DBPool owns connection lifecycle.
func (b *SQLBackend) Teardown(ctx context.Context) error {
	return nil
}
