package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperator(t *testing.T) {
	tests := []struct {
		raw   string
		want  Operator
		known bool
	}{
		{"=", EQ, true},
		{"in", IN, true},
		{"not  in", NIN, true},
		{"NOT EXISTS", NotExists, true},
		{">=", GTE, true},
		{"!=", NEQ, true},
		{"between", EQ, false},
		{"", EQ, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseOperator(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, ok)
		})
	}
}

func TestOperator_Positive(t *testing.T) {
	assert.Equal(t, Exists, NotExists.Positive())
	assert.Equal(t, IN, NIN.Positive())
	assert.Equal(t, EQ, NEQ.Positive())
	assert.Equal(t, GTE, GTE.Positive())
	assert.True(t, NotLike.IsNegated())
	assert.False(t, LIKE.IsNegated())
}

func TestNewComposite_RequiresChildren(t *testing.T) {
	_, err := NewComposite(And)
	require.ErrorIs(t, err, ErrEmptyComposite)

	_, err = NewComposite("XOR", NewComparison("a", EQ, 1))
	require.Error(t, err)
}

func TestComparison_Values(t *testing.T) {
	assert.Nil(t, NewComparison("a", Exists, nil).Values())
	assert.Equal(t, []any{"x"}, NewComparison("a", EQ, "x").Values())
	assert.Equal(t, []any{1, 2}, NewComparison("a", IN, []int{1, 2}).Values())
	assert.Equal(t, []any{"a", "b"}, NewComparison("a", IN, []string{"a", "b"}).Values())
}

func TestDecode_Tree(t *testing.T) {
	raw := `{"and": [
		{"field": "text.all_text", "op": "LIKE", "value": "tomato"},
		{"or": [
			{"field": "decimal.price__price", "op": ">=", "value": 10.5},
			{"field": "integer.category__id", "op": "in", "value": [1, 2]}
		]}
	]}`

	expr, err := Decode([]byte(raw))
	require.NoError(t, err)

	root, ok := expr.(*Composite)
	require.True(t, ok)
	assert.Equal(t, And, root.Kind)
	require.Len(t, root.Children, 2)

	leaf := root.Children[0].(*Comparison)
	assert.Equal(t, "text.all_text", leaf.Field)
	assert.Equal(t, LIKE, leaf.Operator)
	assert.Equal(t, "tomato", leaf.Value)

	or := root.Children[1].(*Composite)
	assert.Equal(t, Or, or.Kind)
	assert.Equal(t, 10.5, or.Children[0].(*Comparison).Value)
	assert.Equal(t, []any{int64(1), int64(2)}, or.Children[1].(*Comparison).Value)
}

func TestDecode_UnknownOperatorFallsBackToEQ(t *testing.T) {
	expr, err := Decode([]byte(`{"field": "sku", "op": "SOUNDS LIKE", "value": "abc"}`))
	require.NoError(t, err)
	assert.Equal(t, EQ, expr.(*Comparison).Operator)
}

func TestDecode_Null(t *testing.T) {
	expr, err := Decode([]byte(" null "))
	require.NoError(t, err)
	assert.Nil(t, expr)
}

func TestDecode_EmptyComposite(t *testing.T) {
	_, err := Decode([]byte(`{"and": []}`))
	require.Error(t, err)
}

func TestDecode_InvalidNode(t *testing.T) {
	_, err := Decode([]byte(`{"value": 1}`))
	require.Error(t, err)
}
