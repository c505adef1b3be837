package feed

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURLAddsSchemeWhenMissing(t *testing.T) {
	got, err := normalizeURL("feed.example.com")
	require.NoError(t, err)
	require.Equal(t, "wss://feed.example.com/ws", got)
}

func TestNormalizeURLKeepsExistingScheme(t *testing.T) {
	got, err := normalizeURL("ws://feed.example.com")
	require.NoError(t, err)
	require.Equal(t, "ws://feed.example.com/ws", got)
}

func TestNormalizeURLDoesNotDoublyAppendWs(t *testing.T) {
	got, err := normalizeURL("wss://feed.example.com/ws")
	require.NoError(t, err)
	require.Equal(t, "wss://feed.example.com/ws", got)
}

func TestNormalizeURLAppendsWsAfterTrailingSlash(t *testing.T) {
	got, err := normalizeURL("wss://feed.example.com/")
	require.NoError(t, err)
	require.Equal(t, "wss://feed.example.com/ws", got)
}

func TestNormalizeURLPreservesExistingNonWsPath(t *testing.T) {
	got, err := normalizeURL("wss://feed.example.com/shreds")
	require.NoError(t, err)
	require.Equal(t, "wss://feed.example.com/shreds/ws", got)
}
