package media

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	a := assert.New(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSigner("secret", "https://cdn.example.com/media/", 5*time.Minute)

	u, exp := s.Sign("TOKEN 1", now)
	a.True(strings.HasPrefix(u, "https://cdn.example.com/media/TOKEN%201/master.m3u8?"))
	a.Equal(now.Add(5*time.Minute), exp)

	require.NoError(t, s.Verify(u, now))
	a.ErrorIs(s.Verify(u, now.Add(6*time.Minute)), ErrExpired)
	a.ErrorIs(NewSigner("other", "https://cdn.example.com/media", time.Minute).Verify(u, now), ErrBadSignature)
	a.ErrorIs(s.Verify(strings.Replace(u, "TOKEN%201", "TOKEN%202", 1), now), ErrBadSignature)
	a.ErrorIs(s.Verify("https://cdn.example.com/media/x/master.m3u8", now), ErrBadSignature)
}
