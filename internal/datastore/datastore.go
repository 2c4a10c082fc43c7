// Package datastore implements the engine: entity CRUD over a MySQL entity
// table, fan-out maintenance of dependent index tables, and the built-in
// tag pseudo-index (§4.6).
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"schemaless/internal/ddl"
	"schemaless/internal/entitycodec"
	"schemaless/internal/guid"
	"schemaless/internal/index"
	"schemaless/internal/planner"
	"schemaless/internal/predicate"
	"schemaless/internal/query"
	"schemaless/internal/storeerr"
)

// entitiesTable is the fixed name of the entity table (§6).
const entitiesTable = "entities"

// Engine owns a single SQL connection and the set of index descriptors
// registered against it. Per §5, operations run to completion synchronously
// and descriptor registration must happen during setup, before concurrent
// queries begin.
type Engine struct {
	db      *sql.DB
	codec   *entitycodec.Codec
	opts    Options
	log     *slog.Logger
	indexes []*index.Descriptor
	qx      *query.Executor
}

// New constructs an Engine. It does not connect; call Open to establish the
// connection and (if configured) create the entities table.
func New(opts Options) (*Engine, error) {
	codec, err := entitycodec.NewCodec(opts.useZlib())
	if err != nil {
		return nil, fmt.Errorf("datastore.New: %w", err)
	}

	tagIdx, err := index.New(entitiesTable, []string{"tag"}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("datastore.New: %w", err)
	}

	return &Engine{
		codec:   codec,
		opts:    opts,
		log:     opts.logger(),
		indexes: []*index.Descriptor{tagIdx},
	}, nil
}

// Open connects to MySQL and, if CreateEntities is set, ensures the entities
// table exists.
func (e *Engine) Open(ctx context.Context) error {
	host, err := e.opts.singleHost()
	if err != nil {
		return fmt.Errorf("datastore.Open: %w", err)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", e.opts.User, e.opts.Password, host, e.opts.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("datastore.Open: %w", storeerr.New(storeerr.Backend, "sql.Open", err))
	}
	if err := db.PingContext(ctx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return fmt.Errorf("datastore.Open: ping failed: %v, close failed: %w", err, cerr)
		}
		return fmt.Errorf("datastore.Open: %w", storeerr.New(storeerr.Backend, "ping", err))
	}

	e.db = db
	e.rebuildQueryExecutor()
	e.log.Info("datastore connected", "host", host, "database", e.opts.Database)

	if e.opts.createEntities() {
		if err := e.ensureEntitiesTable(ctx); err != nil {
			return err
		}
	}
	return nil
}

// rebuildQueryExecutor rewires the query executor against the current
// connection and index set. Called from Open and DefineIndex; per §5, index
// registration is a setup-time operation, never concurrent with queries.
func (e *Engine) rebuildQueryExecutor() {
	if e.db == nil {
		return
	}
	e.qx = query.NewExecutor(e.db, e.codec, planner.NewCollection(e.indexes))
}

// Query runs exprs against the registered indexes and returns the matching,
// decoded entities, per §4.7.
func (e *Engine) Query(ctx context.Context, exprs []predicate.ColumnExpression, opts *predicate.QueryOptions) ([]entitycodec.Entity, error) {
	return e.qx.Query(ctx, exprs, opts)
}

// Get runs exprs and expects at most one match.
func (e *Engine) Get(ctx context.Context, exprs []predicate.ColumnExpression, opts *predicate.QueryOptions) (entitycodec.Entity, bool, error) {
	return e.qx.Get(ctx, exprs, opts)
}

// All returns every entity belonging to idx; see query.Executor.All for how
// tag-bound and other indexes are read.
func (e *Engine) All(ctx context.Context, idx *index.Descriptor, opts *predicate.QueryOptions) ([]entitycodec.Entity, error) {
	return e.qx.All(ctx, idx, opts)
}

// GetByFields is the equality-only convenience over Get: build fields into
// an all-equality probe and fold opts (predicate.Limit, predicate.OrderBy)
// in without callers constructing ColumnExpressions by hand.
func (e *Engine) GetByFields(ctx context.Context, fields map[string]any, opts ...predicate.QueryOption) (entitycodec.Entity, bool, error) {
	return e.qx.GetByFields(ctx, fields, opts...)
}

// Close releases the underlying connection. Safe to call multiple times.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	db := e.db
	e.db = nil
	if err := db.Close(); err != nil {
		return fmt.Errorf("datastore.Close: %w", err)
	}
	return nil
}

func (e *Engine) ensureEntitiesTable(ctx context.Context) error {
	sqlStmt := ddl.CreateTableIfNotExists(ddl.Table{
		Name: entitiesTable,
		Columns: []ddl.Column{
			{Name: "added_id", Type: "INTEGER", AutoIncrement: true},
			{Name: "id", Type: "BINARY(16)"},
			{Name: "updated", Type: "TIMESTAMP", Default: "CURRENT_TIMESTAMP"},
			{Name: "tag", Type: "MEDIUMINT", Nullable: true},
			{Name: "body", Type: "MEDIUMBLOB"},
		},
		PrimaryKey: []string{"added_id"},
		UniqueKeys: [][]string{{"id"}},
		Keys:       [][]string{{"updated"}},
	})
	if _, err := e.db.ExecContext(ctx, sqlStmt); err != nil {
		return fmt.Errorf("datastore.ensureEntitiesTable: %w", storeerr.New(storeerr.Backend, "create entities table", err))
	}
	e.log.Info("ensured entities table")
	return nil
}

// DefineIndex registers a new index descriptor, lazily creating its table.
// Per §5, this must only be called during setup, not concurrently with
// in-flight queries.
func (e *Engine) DefineIndex(ctx context.Context, d *index.Descriptor, fieldTypes map[string]string) error {
	if !d.IsTagIndex() {
		if _, err := e.db.ExecContext(ctx, d.CreateTableSQL(fieldTypes)); err != nil {
			return fmt.Errorf("datastore.DefineIndex: %w", storeerr.New(storeerr.Backend, "create index table", err))
		}
	}
	e.indexes = append(e.indexes, d)
	e.rebuildQueryExecutor()
	e.log.Info("index defined", "table", d.Table, "fields", d.Fields)
	return nil
}

// SQLDB exposes the underlying connection for components that need to run
// their own queries against it, such as package scandriver.
func (e *Engine) SQLDB() *sql.DB {
	return e.db
}

// Codec exposes the engine's entity codec, for components that decode
// bodies directly (package scandriver).
func (e *Engine) Codec() *entitycodec.Codec {
	return e.codec
}

// Indexes returns the currently registered index descriptors, including the
// built-in tag pseudo-index, in registration order.
func (e *Engine) Indexes() []*index.Descriptor {
	return e.indexes
}

// matchingIndexes returns every registered secondary index (excluding the
// tag pseudo-index, which has no table of its own) that matches fields.
func (e *Engine) matchingIndexes(fields map[string]any) []*index.Descriptor {
	var out []*index.Descriptor
	for _, d := range e.indexes {
		if d.IsTagIndex() {
			continue
		}
		if d.Matches(fields) {
			out = append(out, d)
		}
	}
	return out
}

// Put inserts a new entity (no "id" key present) or updates an existing one
// (an "id" key present), per §4.6.
func (e *Engine) Put(ctx context.Context, entity entitycodec.Entity, tag *int) (entitycodec.Entity, error) {
	matchFields := cloneEntity(entity)
	if tag != nil {
		matchFields["tag"] = *tag
	}

	if idVal, ok := entity["id"]; ok {
		idStr, ok := idVal.(string)
		if !ok {
			return nil, storeerr.New(storeerr.InvalidId, "datastore.Put", nil)
		}
		rawID, err := guid.NormalizeString(idStr)
		if err != nil {
			return nil, fmt.Errorf("datastore.Put: %w", err)
		}
		return e.putUpdate(ctx, rawID, entity, matchFields)
	}
	return e.putNew(ctx, entity, matchFields, tag)
}

func (e *Engine) putNew(ctx context.Context, entity entitycodec.Entity, matchFields map[string]any, tag *int) (entitycodec.Entity, error) {
	rawID, err := guid.New()
	if err != nil {
		return nil, fmt.Errorf("datastore.Put: %w", err)
	}

	body, err := e.codec.Encode(entity)
	if err != nil {
		return nil, fmt.Errorf("datastore.Put: %w", err)
	}

	res, err := e.db.ExecContext(ctx,
		"INSERT INTO entities (id, tag, body) VALUES (?, ?, ?)",
		rawID, tagParam(tag), body)
	if err != nil {
		return nil, fmt.Errorf("datastore.Put: %w", storeerr.New(storeerr.Backend, "insert entity", err))
	}

	addedID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("datastore.Put: %w", storeerr.New(storeerr.Backend, "last insert id", err))
	}

	for _, d := range e.matchingIndexes(matchFields) {
		if err := e.insertIndexRow(ctx, d, matchFields, rawID); err != nil {
			return nil, err
		}
	}

	return e.ByAddedID(ctx, addedID)
}

func (e *Engine) putUpdate(ctx context.Context, rawID []byte, entity entitycodec.Entity, matchFields map[string]any) (entitycodec.Entity, error) {
	body, err := e.codec.Encode(entity)
	if err != nil {
		return nil, fmt.Errorf("datastore.Put: %w", err)
	}

	_, err = e.db.ExecContext(ctx,
		"UPDATE entities SET updated = CURRENT_TIMESTAMP, body = ? WHERE id = ?",
		body, rawID)
	if err != nil {
		return nil, fmt.Errorf("datastore.Put: %w", storeerr.New(storeerr.Backend, "update entity", err))
	}

	// This does NOT delete index rows for indexes that no longer match the
	// new entity version; see DESIGN.md's resolution of the open question.
	for _, d := range e.matchingIndexes(matchFields) {
		if err := e.upsertIndexRow(ctx, d, matchFields, rawID); err != nil {
			return nil, err
		}
	}

	updated := cloneEntity(entity)
	hexID, err := guid.ToHex(rawID)
	if err != nil {
		return nil, fmt.Errorf("datastore.Put: %w", err)
	}
	updated["id"] = hexID
	updated["updated"] = time.Now().UTC()
	return updated, nil
}

func (e *Engine) insertIndexRow(ctx context.Context, d *index.Descriptor, fields map[string]any, entityID []byte) error {
	cols := append(append([]string(nil), d.Fields...), "entity_id")
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	params := make([]any, 0, len(cols))
	for _, f := range d.Fields {
		params = append(params, fields[f])
	}
	params = append(params, entityID)

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ddl.QuoteIdentifier(d.Table), quoteJoin(cols), placeholders)
	if _, err := e.db.ExecContext(ctx, stmt, params...); err != nil {
		return fmt.Errorf("datastore.insertIndexRow: %w", storeerr.New(storeerr.Backend, "insert index row", err))
	}
	return nil
}

// upsertIndexRow implements the update path's index maintenance: probe for
// an existing row by entity_id, UPDATE if found, else INSERT. A duplicate-key
// violation on the INSERT path (IndexConflict) is recovered by falling back
// to UPDATE-by-entity_id, per §4.6/§7.
func (e *Engine) upsertIndexRow(ctx context.Context, d *index.Descriptor, fields map[string]any, entityID []byte) error {
	var exists int
	probe := fmt.Sprintf("SELECT 1 FROM %s WHERE entity_id = ? LIMIT 1", ddl.QuoteIdentifier(d.Table))
	err := e.db.QueryRowContext(ctx, probe, entityID).Scan(&exists)
	switch {
	case err == nil:
		return e.updateIndexRow(ctx, d, fields, entityID)
	case err == sql.ErrNoRows:
		if insertErr := e.insertIndexRow(ctx, d, fields, entityID); insertErr != nil {
			if isDuplicateKey(insertErr) {
				e.log.Warn("index conflict on insert, recovering via update", "table", d.Table)
				return e.updateIndexRow(ctx, d, fields, entityID)
			}
			return insertErr
		}
		return nil
	default:
		return fmt.Errorf("datastore.upsertIndexRow: %w", storeerr.New(storeerr.Backend, "probe index row", err))
	}
}

func (e *Engine) updateIndexRow(ctx context.Context, d *index.Descriptor, fields map[string]any, entityID []byte) error {
	assignments := make([]string, 0, len(d.Fields))
	params := make([]any, 0, len(d.Fields)+1)
	for _, f := range d.Fields {
		assignments = append(assignments, fmt.Sprintf("%s = ?", ddl.QuoteIdentifier(f)))
		params = append(params, fields[f])
	}
	params = append(params, entityID)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE entity_id = ?", ddl.QuoteIdentifier(d.Table), strings.Join(assignments, ", "))
	if _, err := e.db.ExecContext(ctx, stmt, params...); err != nil {
		return fmt.Errorf("datastore.updateIndexRow: %w", storeerr.New(storeerr.Backend, "update index row", err))
	}
	return nil
}

// resolveDeleteID normalizes whichever identifier Delete was given: the
// explicit id argument takes precedence over an "id" key on entity.
func (e *Engine) resolveDeleteID(entity entitycodec.Entity, id []byte) ([]byte, error) {
	if len(id) > 0 {
		raw, err := guid.Normalize(id)
		if err != nil {
			return nil, fmt.Errorf("datastore.Delete: %w", err)
		}
		return raw, nil
	}

	idVal, ok := entity["id"]
	if !ok {
		return nil, storeerr.New(storeerr.BadArgument, "datastore.Delete", nil)
	}
	idStr, ok := idVal.(string)
	if !ok {
		return nil, storeerr.New(storeerr.InvalidId, "datastore.Delete", nil)
	}
	raw, err := guid.NormalizeString(idStr)
	if err != nil {
		return nil, fmt.Errorf("datastore.Delete: %w", err)
	}
	return raw, nil
}

// Delete removes an entity and every matching index row. At least one of
// entity or id is required (§4.6).
func (e *Engine) Delete(ctx context.Context, entity entitycodec.Entity, id []byte) (int64, error) {
	if entity == nil && len(id) == 0 {
		return 0, storeerr.New(storeerr.BadArgument, "datastore.Delete", nil)
	}

	rawID, err := e.resolveDeleteID(entity, id)
	if err != nil {
		return 0, err
	}

	matchFields := entity
	if matchFields == nil {
		found, ok, err := e.ByID(ctx, rawID)
		if err != nil {
			return 0, fmt.Errorf("datastore.Delete: %w", err)
		}
		if !ok {
			return 0, nil
		}
		matchFields = found
	}

	var affected int64
	for _, d := range e.matchingIndexes(matchFields) {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE entity_id = ?", ddl.QuoteIdentifier(d.Table))
		res, err := e.db.ExecContext(ctx, stmt, rawID)
		if err != nil {
			return affected, fmt.Errorf("datastore.Delete: %w", storeerr.New(storeerr.Backend, "delete index row", err))
		}
		n, _ := res.RowsAffected()
		affected += n
	}

	res, err := e.db.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", rawID)
	if err != nil {
		return affected, fmt.Errorf("datastore.Delete: %w", storeerr.New(storeerr.Backend, "delete entity", err))
	}
	n, _ := res.RowsAffected()
	affected += n

	return affected, nil
}

// ByID fetches a single entity by its id (raw or hex). Returns ok=false
// when no row exists.
func (e *Engine) ByID(ctx context.Context, id []byte) (entitycodec.Entity, bool, error) {
	rawID, err := guid.Normalize(id)
	if err != nil {
		return nil, false, fmt.Errorf("datastore.ByID: %w", err)
	}

	row := e.db.QueryRowContext(ctx, "SELECT added_id, id, updated, body FROM entities WHERE id = ?", rawID)
	return e.scanEntity(row)
}

// ByAddedID fetches a single entity by its added_id. Callers must not pass
// an added_id that was never assigned by this store (§4.6).
func (e *Engine) ByAddedID(ctx context.Context, addedID int64) (entitycodec.Entity, error) {
	row := e.db.QueryRowContext(ctx, "SELECT added_id, id, updated, body FROM entities WHERE added_id = ?", addedID)
	ent, ok, err := e.scanEntity(row)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storeerr.New(storeerr.BadArgument, "datastore.ByAddedID", fmt.Errorf("no entity with added_id %d", addedID))
	}
	return ent, nil
}

func (e *Engine) scanEntity(row *sql.Row) (entitycodec.Entity, bool, error) {
	var addedID int64
	var rawID []byte
	var updated time.Time
	var body []byte

	if err := row.Scan(&addedID, &rawID, &updated, &body); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("datastore.scanEntity: %w", storeerr.New(storeerr.Backend, "scan entity row", err))
	}

	ent, err := e.codec.Decode(body, rawID, updated)
	if err != nil {
		return nil, false, fmt.Errorf("datastore.scanEntity: %w", err)
	}
	ent["added_id"] = addedID
	return ent, true, nil
}

func cloneEntity(e entitycodec.Entity) entitycodec.Entity {
	out := make(entitycodec.Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

func tagParam(tag *int) any {
	if tag == nil {
		return nil
	}
	return *tag
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = ddl.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ",")
}

func isDuplicateKey(err error) bool {
	var merr *mysqldriver.MySQLError
	if errors.As(err, &merr) {
		return merr.Number == 1062
	}
	return false
}
