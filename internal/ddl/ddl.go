// Package ddl generates the CREATE TABLE statements this domain needs: the
// fixed entities table and auto-declared index tables. Unlike a general
// schema-migration tool, it only ever emits a table once — this domain
// never diffs or alters table shape.
package ddl

import (
	"fmt"
	"strings"
)

// Column describes one column of a generated table.
type Column struct {
	Name          string
	Type          string
	Nullable      bool
	AutoIncrement bool
	Default       string // raw SQL default expression, e.g. "CURRENT_TIMESTAMP"
}

func (c Column) definition() string {
	parts := []string{QuoteIdentifier(c.Name), c.Type}
	if c.Nullable {
		parts = append(parts, "NULL")
	} else {
		parts = append(parts, "NOT NULL")
	}
	if c.AutoIncrement {
		parts = append(parts, "AUTO_INCREMENT")
	}
	if c.Default != "" {
		parts = append(parts, "DEFAULT", c.Default)
	}
	return strings.Join(parts, " ")
}

// Table describes a table to be created: its columns, primary key columns,
// and any plain (non-unique) secondary keys.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	UniqueKeys [][]string // one UNIQUE KEY(...) clause per entry
	Keys       [][]string // one KEY(...) clause per entry
	Engine     string
}

// CreateTableIfNotExists renders "CREATE TABLE IF NOT EXISTS ...;" for t.
func CreateTableIfNotExists(t Table) string {
	var lines []string
	for _, c := range t.Columns {
		lines = append(lines, "  "+c.definition())
	}
	if len(t.PrimaryKey) > 0 {
		lines = append(lines, fmt.Sprintf("  PRIMARY KEY (%s)", quoteJoin(t.PrimaryKey)))
	}
	for _, k := range t.UniqueKeys {
		lines = append(lines, fmt.Sprintf("  UNIQUE KEY (%s)", quoteJoin(k)))
	}
	for _, k := range t.Keys {
		lines = append(lines, fmt.Sprintf("  KEY (%s)", quoteJoin(k)))
	}

	engine := t.Engine
	if engine == "" {
		engine = "InnoDB"
	}

	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n%s\n) ENGINE=%s;",
		QuoteIdentifier(t.Name),
		strings.Join(lines, ",\n"),
		engine,
	)
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdentifier(n)
	}
	return strings.Join(quoted, ",")
}

// QuoteIdentifier backtick-quotes a MySQL identifier, doubling any embedded
// backtick.
func QuoteIdentifier(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "`", "``")
	return "`" + name + "`"
}
