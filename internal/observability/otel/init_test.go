package otel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeadersSplitsPairs(t *testing.T) {
	got := ParseHeaders("a=1, b=2 ,bad, c=3")
	require.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, got)
}

func TestParseHeadersEmptyInput(t *testing.T) {
	require.Empty(t, ParseHeaders(""))
}
