// Package index implements index descriptors: the declaration of a
// secondary-index table, the match_on predicate deciding whether a document
// belongs in it, and the table's DDL.
package index

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"schemaless/internal/ddl"
	"schemaless/internal/storeerr"
)

// EntitiesTable is the reserved table name for the built-in tag pseudo-index
// (§4.6), which reads directly from the entities table rather than a
// separate index table.
const EntitiesTable = "entities"

// Descriptor declares a secondary index: a table name, the set of fields it
// indexes, an optional static match_on predicate, and an optional tag
// binding. A Descriptor is immutable after construction.
type Descriptor struct {
	Table   string
	Fields  []string
	MatchOn map[string]any
	Tag     *int
}

// New validates and constructs a Descriptor. Field names containing a comma
// are rejected with InvalidIndexField, since comma is the on-disk list
// separator used for composite keys. An empty table name auto-declares the
// index's table via AutoName (spec §6), for callers that don't want to pick
// a table name themselves.
func New(table string, fields []string, matchOn map[string]any, tag *int) (*Descriptor, error) {
	for _, f := range fields {
		if strings.Contains(f, ",") {
			return nil, storeerr.New(storeerr.InvalidIndexField, "index.New", fmt.Errorf("field %q contains a comma", f))
		}
	}

	if table == "" {
		table = AutoName(fields)
	}

	on := make(map[string]any, len(matchOn)+1)
	for k, v := range matchOn {
		on[k] = v
	}
	if tag != nil {
		on["tag"] = *tag
	}

	fieldsCopy := append([]string(nil), fields...)

	return &Descriptor{Table: table, Fields: fieldsCopy, MatchOn: on, Tag: tag}, nil
}

// Matches reports whether d applies to an entity with the given field set:
// every indexed field must be present as a key, and every match_on key/value
// pair must be present and equal.
func (d *Descriptor) Matches(entity map[string]any) bool {
	for _, f := range d.Fields {
		if _, ok := entity[f]; !ok {
			return false
		}
	}
	for k, want := range d.MatchOn {
		got, ok := entity[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// IsTagIndex reports whether d is the built-in pseudo-index reading
// directly from the entities table.
func (d *Descriptor) IsTagIndex() bool {
	return d.Table == EntitiesTable
}

// AutoName derives the table name spec §6 specifies for an auto-declared
// index: index_<tag5>_<md5hex>, where tag5 is the first five characters of
// the comma-joined, sorted field list (fewer if the list is shorter, with
// any character outside a-z and 0-9 replaced by '_') and md5hex is the full
// MD5 of that same joined list.
func AutoName(fields []string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	joined := strings.Join(sorted, ",")

	sum := md5.Sum([]byte(joined))
	tag5 := joined
	if len(tag5) > 5 {
		tag5 = tag5[:5]
	}
	tag5 = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, tag5)

	return fmt.Sprintf("index_%s_%s", tag5, hex.EncodeToString(sum[:]))
}

// defaultFieldType is the MySQL column type given to an indexed field that
// has no entry in CreateTableSQL's fieldTypes map. This domain only ever
// stores JSON-scalar field values in index tables, so a generous VARCHAR
// covers strings/numbers/bools uniformly; callers needing a narrower type
// (e.g. an integer column for correct numeric ordering) pass one explicitly
// in fieldTypes (datastore.Engine.DefineIndex forwards it).
const defaultFieldType = "VARCHAR(255)"

// CreateTableSQL renders the CREATE TABLE IF NOT EXISTS statement for d's
// index table, per spec §6's index-table schema: one column per indexed
// field, entity_id BINARY(16), a secondary KEY on entity_id, and a composite
// PRIMARY KEY over (fields..., entity_id).
func (d *Descriptor) CreateTableSQL(fieldTypes map[string]string) string {
	cols := make([]ddl.Column, 0, len(d.Fields)+1)
	for _, f := range d.Fields {
		t := defaultFieldType
		if ft, ok := fieldTypes[f]; ok {
			t = ft
		}
		cols = append(cols, ddl.Column{Name: f, Type: t})
	}
	cols = append(cols, ddl.Column{Name: "entity_id", Type: "BINARY(16)"})

	pk := append(append([]string(nil), d.Fields...), "entity_id")

	return ddl.CreateTableIfNotExists(ddl.Table{
		Name:       d.Table,
		Columns:    cols,
		PrimaryKey: pk,
		Keys:       [][]string{{"entity_id"}},
	})
}
