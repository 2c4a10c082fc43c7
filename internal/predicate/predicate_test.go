package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemaless/internal/storeerr"
)

func TestBuildEquality(t *testing.T) {
	sql, params, err := C("user_id").Eq("a").Build()
	require.NoError(t, err)
	assert.Equal(t, "user_id = ?", sql)
	assert.Equal(t, []any{"a"}, params)
}

func TestBuildEqualityNullEmitsIsNull(t *testing.T) {
	sql, params, err := C("tag").Eq(nil).Build()
	require.NoError(t, err)
	assert.Equal(t, "tag IS NULL", sql)
	assert.Nil(t, params)
}

func TestBuildInequalityNullEmitsIsNotNull(t *testing.T) {
	sql, params, err := C("tag").Ne(nil).Build()
	require.NoError(t, err)
	assert.Equal(t, "tag IS NOT NULL", sql)
	assert.Nil(t, params)
}

func TestBuildInRejectsEmpty(t *testing.T) {
	_, _, err := C("user_id").In(nil).Build()
	require.Error(t, err)
	assert.True(t, storeerr.Is(err, storeerr.EmptyInClause))
}

func TestBuildIn(t *testing.T) {
	sql, params, err := C("user_id").In([]any{"u1", "u2"}).Build()
	require.NoError(t, err)
	assert.Equal(t, "user_id IN (?,?)", sql)
	assert.Equal(t, []any{"u1", "u2"}, params)
}

func TestCheckMissingFieldIsFalseExceptNe(t *testing.T) {
	fields := map[string]any{}
	ok, err := C("x").Eq(1).Check(fields)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = C("x").Ne(1).Check(fields)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckOrderedNumeric(t *testing.T) {
	fields := map[string]any{"bar": float64(5)}
	ok, err := C("bar").Gt(3).Check(fields)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = C("bar").Lt(3).Check(fields)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckOrderedString(t *testing.T) {
	fields := map[string]any{"name": "baz"}
	ok, err := C("name").Ge("baz").Check(fields)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckIn(t *testing.T) {
	fields := map[string]any{"user_id": "u2"}
	ok, err := C("user_id").In([]any{"u1", "u2"}).Check(fields)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFromEquality(t *testing.T) {
	exprs, opts := FromEquality(map[string]any{"bar": 1})
	require.Len(t, exprs, 1)
	assert.Equal(t, "bar", exprs[0].Column.Name)
	assert.Equal(t, OpEQ, exprs[0].Op)
	assert.NotNil(t, opts)
}
