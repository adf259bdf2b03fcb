package tokenbroker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIssueRTCTokenIsDeterministicPerSubject(t *testing.T) {
	b := New("app-id", "app-cert", "pubsub-key")

	first := b.IssueRTCToken("user-1", "channel-1", RolePublisher)
	second := b.IssueRTCToken("user-1", "channel-1", RolePublisher)

	require.Equal(t, first.UID, second.UID, "the same subject must always map to the same numeric uid")
	require.Equal(t, RolePublisher, first.Role)
	require.NotEmpty(t, first.Token)
}

func TestIssueRTCTokenDiffersBySubject(t *testing.T) {
	b := New("app-id", "app-cert", "pubsub-key")

	first := b.IssueRTCToken("user-1", "channel-1", RolePublisher)
	second := b.IssueRTCToken("user-2", "channel-1", RolePublisher)

	require.NotEqual(t, first.UID, second.UID)
}

func TestIssuePubSubTokenGrantsWildcardCapability(t *testing.T) {
	b := New("app-id", "app-cert", "pubsub-key")

	token := b.IssuePubSubToken("user-1")
	require.NotEmpty(t, token.Token)
	require.Contains(t, token.Capability, "*")
}
