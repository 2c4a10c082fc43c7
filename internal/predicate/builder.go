package predicate

// QueryOptions carries the optional limit/order-by a query may specify. The
// Limit and OrderBy options fill it in via ApplyOptions.
type QueryOptions struct {
	Limit   int
	OrderBy Column
	Desc    bool
}

// QueryOption mutates QueryOptions.
type QueryOption func(*QueryOptions)

// Limit caps the number of rows a query returns.
func Limit(n int) QueryOption {
	return func(o *QueryOptions) { o.Limit = n }
}

// OrderBy requests index-side ordering on the given column.
func OrderBy(col Column, desc bool) QueryOption {
	return func(o *QueryOptions) { o.OrderBy = col; o.Desc = desc }
}

// FromEquality builds one equality ColumnExpression per map entry, plus an
// empty QueryOptions; every map entry becomes a predicate, and limit or
// ordering are supplied separately through ApplyOptions. This is the
// ergonomic convenience the original's reduce_args(**kwargs) offered for the
// common case of an all-equality query.
func FromEquality(fields map[string]any) ([]ColumnExpression, *QueryOptions) {
	exprs := make([]ColumnExpression, 0, len(fields))
	for name, value := range fields {
		exprs = append(exprs, C(name).Eq(value))
	}
	return exprs, &QueryOptions{}
}

// ApplyOptions folds opts into a fresh QueryOptions value.
func ApplyOptions(opts ...QueryOption) *QueryOptions {
	o := &QueryOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
