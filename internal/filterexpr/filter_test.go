package filterexpr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSummary struct {
	number, shredCount, txCount int64
	persisted                   bool
}

func (s fakeSummary) FilterSummary() (number, shredCount, txCount int64, persisted bool) {
	return s.number, s.shredCount, s.txCount, s.persisted
}

func TestCompileEmptyExpressionYieldsNilFilter(t *testing.T) {
	f, err := Compile("")
	require.NoError(t, err)
	require.Nil(t, f)

	match, err := f.Match(fakeSummary{number: 1})
	require.NoError(t, err)
	require.False(t, match)
}

func TestCompileRejectsInvalidExpression(t *testing.T) {
	_, err := Compile("Number >>> 1000")
	require.Error(t, err)
}

func TestMatchEvaluatesCompiledExpression(t *testing.T) {
	f, err := Compile("ShredCount > 500 and Persisted == true")
	require.NoError(t, err)
	require.NotNil(t, f)

	match, err := f.Match(fakeSummary{shredCount: 600, persisted: true})
	require.NoError(t, err)
	require.True(t, match)

	match, err = f.Match(fakeSummary{shredCount: 600, persisted: false})
	require.NoError(t, err)
	require.False(t, match)

	match, err = f.Match(fakeSummary{shredCount: 10, persisted: true})
	require.NoError(t, err)
	require.False(t, match)
}
