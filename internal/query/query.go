// Package query implements the query executor (§4.7): choosing an index via
// package planner, partitioning predicates into an index-side probe and a
// client-side residual, and reassembling decoded entities in the right
// order.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"schemaless/internal/ddl"
	"schemaless/internal/entitycodec"
	"schemaless/internal/index"
	"schemaless/internal/planner"
	"schemaless/internal/predicate"
	"schemaless/internal/storeerr"
)

// DB is the subset of *sql.DB the executor needs. Satisfied by *sql.DB.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Executor runs predicate queries against a datastore's tables. It holds no
// mutable state of its own; callers rebuild it whenever the index set
// changes (datastore.Engine does this in DefineIndex).
type Executor struct {
	db      DB
	codec   *entitycodec.Codec
	planner *planner.Collection
}

// NewExecutor builds an Executor over db using codec to decode bodies and
// planner to choose an index per query.
func NewExecutor(db DB, codec *entitycodec.Codec, planner *planner.Collection) *Executor {
	return &Executor{db: db, codec: codec, planner: planner}
}

// Query runs exprs (optionally ordered/limited per opts) and returns the
// matching, decoded entities. Per §4.5/§4.7: planner.Choose picks the index
// covering the most of exprs' fields; fields the chosen index doesn't cover
// are applied as a client-side residual after decode. When opts specifies an
// OrderBy column, ordering is applied on the index side (or directly on the
// entities table for the tag pseudo-index) and the fetched entities are
// reassembled in that order; otherwise results are ordered by the entity's
// updated timestamp ascending, applied after decode.
func (x *Executor) Query(ctx context.Context, exprs []predicate.ColumnExpression, opts *predicate.QueryOptions) ([]entitycodec.Entity, error) {
	if opts == nil {
		opts = &predicate.QueryOptions{}
	}

	fields := make([]string, 0, len(exprs))
	for _, e := range exprs {
		fields = append(fields, e.Column.Name)
	}

	hasOrdering := opts.OrderBy.Name != ""
	idx, err := x.planner.Choose(fields, hasOrdering)
	if err != nil {
		return nil, fmt.Errorf("query.Query: %w", err)
	}

	var probe, residual []predicate.ColumnExpression
	for _, e := range exprs {
		if fieldCovered(idx, e.Column.Name) {
			probe = append(probe, e)
		} else {
			residual = append(residual, e)
		}
	}

	var entities []entitycodec.Entity
	if idx.IsTagIndex() {
		entities, err = x.queryEntitiesDirect(ctx, probe, opts)
	} else {
		entities, err = x.queryViaIndexTable(ctx, idx, probe, opts)
	}
	if err != nil {
		return nil, err
	}

	filtered := entities[:0]
	for _, ent := range entities {
		ok := true
		for _, e := range residual {
			match, err := e.Check(ent)
			if err != nil {
				return nil, fmt.Errorf("query.Query: %w", err)
			}
			if !match {
				ok = false
				break
			}
		}
		if ok {
			filtered = append(filtered, ent)
		}
	}
	entities = filtered

	if !hasOrdering {
		sortByUpdated(entities)
	}
	if opts.Limit > 0 && len(entities) > opts.Limit {
		entities = entities[:opts.Limit]
	}
	return entities, nil
}

// Get runs exprs and expects at most one match. More than one row is an
// InternalError: callers reach for Get only when the probe is known to be
// unique (typically an equality match on id or a unique index field).
func (x *Executor) Get(ctx context.Context, exprs []predicate.ColumnExpression, opts *predicate.QueryOptions) (entitycodec.Entity, bool, error) {
	if opts == nil {
		opts = &predicate.QueryOptions{}
	}
	getOpts := *opts
	getOpts.Limit = 2

	entities, err := x.Query(ctx, exprs, &getOpts)
	if err != nil {
		return nil, false, err
	}
	switch len(entities) {
	case 0:
		return nil, false, nil
	case 1:
		return entities[0], true, nil
	default:
		return nil, false, storeerr.New(storeerr.InternalError, "query.Get", fmt.Errorf("expected at most one row, got %d", len(entities)))
	}
}

// All returns every entity belonging to idx, mirroring the original's all()
// convenience. For a tag-bound index it runs an equality Query on idx's
// match_on (which includes the tag), planned like any other Query. For any
// other secondary index it reads every row of idx's own table with an empty
// probe. The built-in tag pseudo-index has no match_on and is rejected as
// Unplannable.
func (x *Executor) All(ctx context.Context, idx *index.Descriptor, opts *predicate.QueryOptions) ([]entitycodec.Entity, error) {
	if idx.Tag != nil || idx.IsTagIndex() {
		exprs, _ := predicate.FromEquality(idx.MatchOn)
		return x.Query(ctx, exprs, opts)
	}
	if opts == nil {
		opts = &predicate.QueryOptions{}
	}
	entities, err := x.queryViaIndexTable(ctx, idx, nil, opts)
	if err != nil {
		return nil, err
	}
	if opts.OrderBy.Name == "" {
		sortByUpdated(entities)
		if opts.Limit > 0 && len(entities) > opts.Limit {
			entities = entities[:opts.Limit]
		}
	}
	return entities, nil
}

// GetByFields builds an equality probe from fields, folds opts in via
// ApplyOptions, and runs Get — the reduce_args(**kwargs) ergonomic surface
// the original's index.py offered callers who don't need anything but
// equality matches.
func (x *Executor) GetByFields(ctx context.Context, fields map[string]any, opts ...predicate.QueryOption) (entitycodec.Entity, bool, error) {
	exprs, _ := predicate.FromEquality(fields)
	return x.Get(ctx, exprs, predicate.ApplyOptions(opts...))
}

func fieldCovered(idx *index.Descriptor, field string) bool {
	for _, f := range idx.Fields {
		if f == field {
			return true
		}
	}
	return false
}

func (x *Executor) queryEntitiesDirect(ctx context.Context, probe []predicate.ColumnExpression, opts *predicate.QueryOptions) ([]entitycodec.Entity, error) {
	where, args, err := buildWhere(probe)
	if err != nil {
		return nil, fmt.Errorf("query.queryEntitiesDirect: %w", err)
	}

	hasOrdering := opts.OrderBy.Name != ""
	stmt := fmt.Sprintf("SELECT added_id, id, updated, body FROM %s WHERE %s", ddl.QuoteIdentifier("entities"), where)
	stmt += orderAndLimitSQL(opts, hasOrdering)

	rows, err := x.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, storeerr.New(storeerr.Backend, "query.queryEntitiesDirect", err)
	}
	defer rows.Close()

	var out []entitycodec.Entity
	for rows.Next() {
		var addedID int64
		var id []byte
		var updated time.Time
		var body []byte
		if err := rows.Scan(&addedID, &id, &updated, &body); err != nil {
			return nil, storeerr.New(storeerr.Backend, "query.queryEntitiesDirect", err)
		}
		ent, err := x.codec.Decode(body, id, updated)
		if err != nil {
			return nil, err
		}
		ent["added_id"] = addedID
		out = append(out, ent)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.New(storeerr.Backend, "query.queryEntitiesDirect", err)
	}
	return out, nil
}

func (x *Executor) queryViaIndexTable(ctx context.Context, idx *index.Descriptor, probe []predicate.ColumnExpression, opts *predicate.QueryOptions) ([]entitycodec.Entity, error) {
	where, args, err := buildWhere(probe)
	if err != nil {
		return nil, fmt.Errorf("query.queryViaIndexTable: %w", err)
	}

	hasOrdering := opts.OrderBy.Name != ""
	stmt := fmt.Sprintf("SELECT entity_id FROM %s WHERE %s", ddl.QuoteIdentifier(idx.Table), where)
	// Ordering and limit are only pushed down to the index-side select when
	// the caller asked for an explicit order; otherwise the final order
	// depends on the entities table's updated column, computed after fetch.
	stmt += orderAndLimitSQL(opts, hasOrdering)

	rows, err := x.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, storeerr.New(storeerr.Backend, "query.queryViaIndexTable", err)
	}
	var ids [][]byte
	for rows.Next() {
		var id []byte
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, storeerr.New(storeerr.Backend, "query.queryViaIndexTable", err)
		}
		ids = append(ids, id)
	}
	rerr := rows.Err()
	rows.Close()
	if rerr != nil {
		return nil, storeerr.New(storeerr.Backend, "query.queryViaIndexTable", rerr)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	idArgs := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		idArgs[i] = id
	}
	entStmt := fmt.Sprintf("SELECT added_id, id, updated, body FROM %s WHERE id IN (%s)",
		ddl.QuoteIdentifier("entities"), strings.Join(placeholders, ","))

	entRows, err := x.db.QueryContext(ctx, entStmt, idArgs...)
	if err != nil {
		return nil, storeerr.New(storeerr.Backend, "query.queryViaIndexTable", err)
	}
	defer entRows.Close()

	byID := make(map[string]entitycodec.Entity, len(ids))
	for entRows.Next() {
		var addedID int64
		var id []byte
		var updated time.Time
		var body []byte
		if err := entRows.Scan(&addedID, &id, &updated, &body); err != nil {
			return nil, storeerr.New(storeerr.Backend, "query.queryViaIndexTable", err)
		}
		ent, err := x.codec.Decode(body, id, updated)
		if err != nil {
			return nil, err
		}
		ent["added_id"] = addedID
		byID[string(id)] = ent
	}
	if err := entRows.Err(); err != nil {
		return nil, storeerr.New(storeerr.Backend, "query.queryViaIndexTable", err)
	}

	// Reassemble in the index-side order (stable): id order as returned by
	// SELECT entity_id, which is either explicitly ORDER BY'd above or, when
	// no ordering was requested, corrected by sortByUpdated below.
	out := make([]entitycodec.Entity, 0, len(ids))
	for _, id := range ids {
		if ent, ok := byID[string(id)]; ok {
			out = append(out, ent)
		}
	}
	return out, nil
}

func buildWhere(exprs []predicate.ColumnExpression) (string, []any, error) {
	if len(exprs) == 0 {
		return "1=1", nil, nil
	}
	var clauses []string
	var args []any
	for _, e := range exprs {
		clause, a, err := e.Build()
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, a...)
	}
	return strings.Join(clauses, " AND "), args, nil
}

func orderAndLimitSQL(opts *predicate.QueryOptions, applyOrder bool) string {
	var b strings.Builder
	if applyOrder && opts.OrderBy.Name != "" {
		dir := "ASC"
		if opts.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", ddl.QuoteIdentifier(opts.OrderBy.Name), dir)
	}
	if applyOrder && opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", opts.Limit)
	}
	return b.String()
}

// sortByUpdated orders entities by their decoded updated timestamp,
// ascending, stable on ties.
func sortByUpdated(entities []entitycodec.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		ti, _ := entities[i]["updated"].(time.Time)
		tj, _ := entities[j]["updated"].(time.Time)
		return ti.Before(tj)
	})
}
