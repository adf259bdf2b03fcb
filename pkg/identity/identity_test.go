package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orbitline/sessioncore/domain/user"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	v := New("test-signing-secret", "")

	token, err := v.Issue("user-1", user.RoleReader, time.Hour)
	require.NoError(t, err)

	claims, err := v.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, user.RoleReader, claims.Role)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := New("secret-a", "")
	verifier := New("secret-b", "")

	token, err := issuer.Issue("user-1", user.RoleClient, time.Hour)
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestIssueDefaultsNonPositiveTTL(t *testing.T) {
	v := New("test-signing-secret", "")
	token, err := v.Issue("user-1", user.RoleClient, -time.Minute)
	require.NoError(t, err)

	claims, err := v.Validate(token)
	require.NoError(t, err, "a non-positive ttl must fall back to the default rather than mint an already-expired token")
	require.Equal(t, "user-1", claims.Subject)
}

func TestValidateEnforcesAudience(t *testing.T) {
	issuer := New("test-signing-secret", "mobile-app")
	verifier := New("test-signing-secret", "web-app")

	token, err := issuer.Issue("user-1", user.RoleClient, time.Hour)
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateRejectsGarbage(t *testing.T) {
	v := New("test-signing-secret", "")
	_, err := v.Validate("not-a-jwt")
	require.Error(t, err)
}
