package confirm_test

import (
	"testing"

	"github.com/opal-lang/tenantctl/internal/confirm"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *confirm.Service {
	t.Helper()
	svc, err := confirm.NewService([]byte("test-secret-value"), false)
	require.NoError(t, err)
	return svc
}

func TestRoundTrip_OK(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.Issue("hash1", 2000)
	require.NoError(t, err)

	ok, _ := svc.Verify(token, "hash1", 1000)
	require.True(t, ok)
}

func TestRoundTrip_Expired(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.Issue("hash1", 2000)
	require.NoError(t, err)

	ok, reason := svc.Verify(token, "hash1", 2000)
	require.False(t, ok)
	require.Equal(t, confirm.ReasonExpired, reason)
}

func TestRoundTrip_Mismatch(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.Issue("hash1", 2000)
	require.NoError(t, err)

	ok, reason := svc.Verify(token, "hash2", 1000)
	require.False(t, ok)
	require.Equal(t, confirm.ReasonMismatch, reason)
}

func TestVerify_InvalidSignature(t *testing.T) {
	svc := newTestService(t)
	other, err := confirm.NewService([]byte("other-secret-value"), false)
	require.NoError(t, err)

	token, err := other.Issue("hash1", 2000)
	require.NoError(t, err)

	ok, reason := svc.Verify(token, "hash1", 1000)
	require.False(t, ok)
	require.Equal(t, confirm.ReasonInvalid, reason)
}

func TestVerify_MalformedToken(t *testing.T) {
	svc := newTestService(t)

	ok, reason := svc.Verify("not-a-real-token", "hash1", 1000)
	require.False(t, ok)
	require.Equal(t, confirm.ReasonInvalid, reason)
}

func TestNewService_RejectsDefaultSecretInProduction(t *testing.T) {
	_, err := confirm.NewService([]byte("dev-only-confirmation-secret-do-not-use-in-production"), true)
	require.Error(t, err)
}
