package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemaless/internal/index"
	"schemaless/internal/storeerr"
)

func mustIndex(t *testing.T, table string, fields []string) *index.Descriptor {
	t.Helper()
	d, err := index.New(table, fields, nil, nil)
	require.NoError(t, err)
	return d
}

func TestChoosePrefersMostCoveredThenNarrowest(t *testing.T) {
	wide := mustIndex(t, "index_wide", []string{"user_id", "first_name", "last_name"})
	narrow := mustIndex(t, "index_narrow", []string{"user_id"})

	c := NewCollection([]*index.Descriptor{wide, narrow})

	chosen, err := c.Choose([]string{"user_id"}, false)
	require.NoError(t, err)
	assert.Equal(t, narrow, chosen, "equal coverage should prefer the narrower index")
}

func TestChooseBreaksTiesByInsertionOrder(t *testing.T) {
	first := mustIndex(t, "index_a", []string{"x"})
	second := mustIndex(t, "index_b", []string{"x"})

	c := NewCollection([]*index.Descriptor{first, second})

	chosen, err := c.Choose([]string{"x"}, false)
	require.NoError(t, err)
	assert.Equal(t, first, chosen)
}

func TestChooseUnplannableWithNoCoverageAndNoOrdering(t *testing.T) {
	onlyOther := mustIndex(t, "index_other", []string{"other"})
	c := NewCollection([]*index.Descriptor{onlyOther})

	_, err := c.Choose([]string{"user_id"}, false)
	require.Error(t, err)
	assert.True(t, storeerr.Is(err, storeerr.Unplannable))
}

func TestChooseAllowsZeroCoverageWithOrdering(t *testing.T) {
	onlyOther := mustIndex(t, "index_other", []string{"other"})
	c := NewCollection([]*index.Descriptor{onlyOther})

	chosen, err := c.Choose([]string{"user_id"}, true)
	require.NoError(t, err)
	assert.Equal(t, onlyOther, chosen)
}

func TestChooseMemoizesPerFieldSet(t *testing.T) {
	idx := mustIndex(t, "index_a", []string{"x"})
	c := NewCollection([]*index.Descriptor{idx})

	first, err := c.Choose([]string{"x"}, false)
	require.NoError(t, err)
	second, err := c.Choose([]string{"x"}, false)
	require.NoError(t, err)
	assert.Same(t, first, second)
}
