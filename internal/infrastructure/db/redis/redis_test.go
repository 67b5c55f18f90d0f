package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
)

func TestSessionKey(t *testing.T) {
	require.Equal(t, "session:2Tx9", sessionKey("2Tx9"))
}

func TestSessionTTL(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.Equal(t, 30*time.Minute, sessionTTL(&domain.Session{ExpiresAt: now.Add(30 * time.Minute)}, now))
	require.Equal(t, 24*time.Hour, sessionTTL(&domain.Session{}, now))
	require.LessOrEqual(t, sessionTTL(&domain.Session{ExpiresAt: now.Add(-time.Second)}, now), time.Duration(0))
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent(`{"kind":"SIGNED_OUT","session_id":"s1","user_id":"u1"}`)
	require.NoError(t, err)
	require.Equal(t, ports.BusEvent{Kind: ports.EventSignedOut, SessionID: "s1", UserID: "u1"}, ev)

	ev, err = decodeEvent(`{"kind":"USER_UPDATED","user_id":"u1"}`)
	require.NoError(t, err)
	require.Equal(t, "u1", ev.UserID)

	_, err = decodeEvent(`{"kind":"SIGNED_OUT"}`)
	require.Error(t, err)

	_, err = decodeEvent(`not json`)
	require.Error(t, err)
}

func TestConfigOptions(t *testing.T) {
	opts, err := Config{Addr: "cache:6379", DB: 2, PoolSize: 5}.options()
	require.NoError(t, err)
	require.Equal(t, "cache:6379", opts.Addr)
	require.Equal(t, 2, opts.DB)
	require.Equal(t, 5, opts.PoolSize)

	opts, err = Config{Addr: "redis://:hunter2@cache:6380/3"}.options()
	require.NoError(t, err)
	require.Equal(t, "cache:6380", opts.Addr)
	require.Equal(t, "hunter2", opts.Password)
	require.Equal(t, 3, opts.DB)

	opts, err = Config{Addr: "redis://cache:6380/3", Password: "override", DB: 1}.options()
	require.NoError(t, err)
	require.Equal(t, "override", opts.Password)
	require.Equal(t, 1, opts.DB)

	_, err = Config{Addr: "redis://cache:6380/notadb"}.options()
	require.Error(t, err)
}
