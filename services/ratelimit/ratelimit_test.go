package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orbitline/sessioncore/pkg/apierrors"
)

func TestAllowWithinBudget(t *testing.T) {
	l := New(map[Category]Rule{CategoryGeneral: {Limit: 3, Window: time.Minute, Burst: 3}})

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(CategoryGeneral, "subject-1"))
	}
	err := l.Allow(CategoryGeneral, "subject-1")
	require.Error(t, err)
	require.Equal(t, apierrors.KindRateLimitExceeded, apierrors.KindOf(err))
}

func TestAllowIsPerSubject(t *testing.T) {
	l := New(map[Category]Rule{CategoryGeneral: {Limit: 1, Window: time.Minute, Burst: 1}})

	require.NoError(t, l.Allow(CategoryGeneral, "subject-1"))
	require.Error(t, l.Allow(CategoryGeneral, "subject-1"))
	require.NoError(t, l.Allow(CategoryGeneral, "subject-2"), "a different subject must have its own bucket")
}

func TestAllowIsPerCategory(t *testing.T) {
	l := New(map[Category]Rule{
		CategoryGeneral:  {Limit: 1, Window: time.Minute, Burst: 1},
		CategoryPayments: {Limit: 1, Window: time.Minute, Burst: 1},
	})

	require.NoError(t, l.Allow(CategoryGeneral, "subject-1"))
	require.Error(t, l.Allow(CategoryGeneral, "subject-1"))
	require.NoError(t, l.Allow(CategoryPayments, "subject-1"), "a different category must have its own bucket for the same subject")
}

func TestUnknownCategoryFallsBackToGeneral(t *testing.T) {
	l := New(map[Category]Rule{CategoryGeneral: {Limit: 1, Window: time.Minute, Burst: 1}})

	require.NoError(t, l.Allow(Category("unrecognized"), "subject-1"))
	require.Error(t, l.Allow(Category("unrecognized"), "subject-1"))
}

func TestKeyFromRequestPrefersSubject(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	require.Equal(t, "subject-1", KeyFromRequest(req, "subject-1"))
}

func TestKeyFromRequestFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	require.Equal(t, "10.0.0.1", KeyFromRequest(req, ""))
}

func TestKeyFromRequestPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	require.Equal(t, "203.0.113.5", KeyFromRequest(req, ""))
}

func TestCleanupDropsStaleBuckets(t *testing.T) {
	l := New(map[Category]Rule{CategoryGeneral: {Limit: 5, Window: time.Minute, Burst: 5}})
	require.NoError(t, l.Allow(CategoryGeneral, "subject-1"))

	l.Cleanup(0)

	l.mu.Lock()
	_, exists := l.buckets[CategoryGeneral]["subject-1"]
	l.mu.Unlock()
	require.False(t, exists, "a bucket untouched since before the cutoff must be dropped")
}
