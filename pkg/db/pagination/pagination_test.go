package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	require.Equal(t, Page{Limit: 20}, Page{}.Normalize(20, 100))
	require.Equal(t, Page{Limit: 100, Offset: 5}, Page{Limit: 500, Offset: 5}.Normalize(20, 100))
	require.Equal(t, Page{Limit: 3}, Page{Limit: 3, Offset: -2}.Normalize(20, 100))
}

func TestBuildPageInfo(t *testing.T) {
	info := BuildPageInfo(Page{Limit: 2, Offset: 0}, 2, 5)
	require.True(t, info.HasMore)

	info = BuildPageInfo(Page{Limit: 2, Offset: 4}, 1, 5)
	require.False(t, info.HasMore)
	require.Equal(t, int64(5), info.TotalCount)
}
