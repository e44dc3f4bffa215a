package trigger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// predFrom builds a leaf predicate from a fixed state map.
func predFrom(state map[string]bool) func(string) (bool, error) {
	return func(name string) (bool, error) {
		ok, known := state[name]
		if !known {
			return false, errors.New("unknown pipeline: " + name)
		}
		return ok, nil
	}
}

func TestParseSingleLeaf(t *testing.T) {
	expr, err := Parse("dwd")
	require.NoError(t, err)
	require.IsType(t, Leaf{}, expr)
	assert.Equal(t, "dwd", expr.String())
}

func TestParseEmpty(t *testing.T) {
	expr, err := Parse("   ")
	require.NoError(t, err)
	assert.Nil(t, expr)
}

func TestParseAndOr(t *testing.T) {
	tests := []struct {
		input string
		state map[string]bool
		want  bool
	}{
		{"a & b", map[string]bool{"a": true, "b": true}, true},
		{"a & b", map[string]bool{"a": true, "b": false}, false},
		{"a | b", map[string]bool{"a": false, "b": true}, true},
		{"a | b", map[string]bool{"a": false, "b": false}, false},
		{"a & (b | c)", map[string]bool{"a": true, "b": false, "c": true}, true},
		{"a & (b | c)", map[string]bool{"a": true, "b": false, "c": false}, false},
		{"a & (b | c)", map[string]bool{"a": false, "b": true, "c": true}, false},
		{"(a | b) & (c | d)", map[string]bool{"a": false, "b": true, "c": true, "d": false}, true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			expr, err := Parse(tc.input)
			require.NoError(t, err)

			got, err := expr.Eval(predFrom(tc.state))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseNestedShape(t *testing.T) {
	// "a & (b | c)" must compile to And(Leaf(a), Or(Leaf(b), Leaf(c))).
	expr, err := Parse("a & (b | c)")
	require.NoError(t, err)

	and, ok := expr.(And)
	require.True(t, ok, "top node should be And, got %T", expr)
	require.Len(t, and.Children, 2)

	assert.Equal(t, Leaf{Name: "a"}, and.Children[0])

	or, ok := and.Children[1].(Or)
	require.True(t, ok, "second child should be Or, got %T", and.Children[1])
	assert.Equal(t, []Expr{Leaf{Name: "b"}, Leaf{Name: "c"}}, or.Children)
}

func TestParseMalformed(t *testing.T) {
	malformed := []string{
		"a & (b | c",  // unbalanced open
		"a & b | c)",  // unbalanced close
		"a &",         // dangling operator
		"& a",         // leading operator
		"a b",         // missing operator
		"a & b | c",   // mixed operators without parens
		"a ! b",       // unknown character
		"a & () & b",  // empty group
	}

	for _, input := range malformed {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)

			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestEvalPropagatesLeafError(t *testing.T) {
	expr, err := Parse("a & missing")
	require.NoError(t, err)

	_, err = expr.Eval(predFrom(map[string]bool{"a": true}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestPipelines(t *testing.T) {
	expr, err := Parse("a & (b | c) & a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, Pipelines(expr))
}

func TestStringRoundTrip(t *testing.T) {
	expr, err := Parse("a & (b | c)")
	require.NoError(t, err)

	again, err := Parse(expr.String())
	require.NoError(t, err)
	assert.Equal(t, expr, again)
}
