package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifierDoublesBacktick(t *testing.T) {
	assert.Equal(t, "`a``b`", QuoteIdentifier("a`b"))
}

func TestCreateTableIfNotExistsEntities(t *testing.T) {
	tbl := Table{
		Name: "entities",
		Columns: []Column{
			{Name: "added_id", Type: "INTEGER", AutoIncrement: true},
			{Name: "id", Type: "BINARY(16)"},
			{Name: "updated", Type: "TIMESTAMP", Default: "CURRENT_TIMESTAMP"},
			{Name: "tag", Type: "MEDIUMINT", Nullable: true},
			{Name: "body", Type: "MEDIUMBLOB"},
		},
		PrimaryKey: []string{"added_id"},
		Keys:       [][]string{{"updated"}},
	}

	sql := CreateTableIfNotExists(tbl)
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS `entities`")
	assert.Contains(t, sql, "`added_id` INTEGER NOT NULL AUTO_INCREMENT")
	assert.Contains(t, sql, "`tag` MEDIUMINT NULL")
	assert.Contains(t, sql, "PRIMARY KEY (`added_id`)")
	assert.Contains(t, sql, "KEY (`updated`)")
	assert.Contains(t, sql, "ENGINE=InnoDB;")
}

func TestCreateTableIfNotExistsIndexTable(t *testing.T) {
	tbl := Table{
		Name: "index_user_id",
		Columns: []Column{
			{Name: "user_id", Type: "VARCHAR(255)"},
			{Name: "entity_id", Type: "BINARY(16)"},
		},
		PrimaryKey: []string{"user_id", "entity_id"},
		Keys:       [][]string{{"entity_id"}},
	}

	sql := CreateTableIfNotExists(tbl)
	assert.Contains(t, sql, "PRIMARY KEY (`user_id`,`entity_id`)")
	assert.Contains(t, sql, "KEY (`entity_id`)")
}
