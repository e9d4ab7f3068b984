package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieStore_SingleUse(t *testing.T) {
	s := NewCookieStore()

	cookie, err := s.Issue("100500")
	require.NoError(t, err)
	assert.Len(t, cookie, 256)

	uin, ok := s.Consume(cookie)
	require.True(t, ok)
	assert.Equal(t, "100500", uin)

	_, ok = s.Consume(cookie)
	assert.False(t, ok)
}

func TestCookieStore_UnknownCookie(t *testing.T) {
	s := NewCookieStore()
	_, ok := s.Consume([]byte("bogus"))
	assert.False(t, ok)
}

func TestChallengeStore_ConsumeDeletes(t *testing.T) {
	s := NewChallengeStore()

	challenge, err := s.Issue("100500")
	require.NoError(t, err)
	assert.Len(t, challenge, 64)

	got, ok := s.Consume("100500")
	require.True(t, ok)
	assert.Equal(t, challenge, got)

	_, ok = s.Consume("100500")
	assert.False(t, ok)
}

func TestChallengeStore_ReissueOverwrites(t *testing.T) {
	s := NewChallengeStore()

	first, err := s.Issue("100500")
	require.NoError(t, err)
	second, err := s.Issue("100500")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	got, ok := s.Consume("100500")
	require.True(t, ok)
	assert.Equal(t, second, got)
}
