package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gourav-1711/jewellery-backend/internal/platform/config"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errors map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errors: map[string]error{}, calls: map[string]int{}}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errors[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/shop/secrets/razorpay_key_secret/versions/latest"
	client.values[resource] = "remote-secret"

	f, err := NewFetcher(ctx, config.SecretsConfig{DefaultProject: "shop"}, WithClient(client), WithFallbackFile(""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	for i := 0; i < 2; i++ {
		got, err := f.ResolveSecret(ctx, "secret://razorpay_key_secret")
		require.NoError(t, err)
		assert.Equal(t, "remote-secret", got)
	}
	assert.Equal(t, 1, client.calls[resource])

	f.Invalidate("secret://razorpay_key_secret")
	_, err = f.ResolveSecret(ctx, "secret://razorpay_key_secret")
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls[resource])
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/webhook/versions/4"] = "v4"

	f, err := NewFetcher(ctx, config.SecretsConfig{DefaultProject: "shop"}, WithClient(client), WithFallbackFile(""))
	require.NoError(t, err)

	got, err := f.ResolveSecret(ctx, "secret://webhook?version=4&project=other")
	require.NoError(t, err)
	assert.Equal(t, "v4", got)
}

func TestResolveFallsBackWhenSecretManagerDenies(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte("# local\nsm://razorpay_webhook_secret=local-secret\n"), 0o600))

	client := newFakeSecretClient()
	client.errors["projects/shop/secrets/razorpay_webhook_secret/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	f, err := NewFetcher(ctx, config.SecretsConfig{DefaultProject: "shop", FallbackFile: path}, WithClient(client))
	require.NoError(t, err)

	got, err := f.ResolveSecret(ctx, "secret://razorpay_webhook_secret")
	require.NoError(t, err)
	assert.Equal(t, "local-secret", got)
}

func TestResolvePropagatesHardErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/shop/secrets/k/versions/latest"] = status.Error(codes.Internal, "boom")

	f, err := NewFetcher(ctx, config.SecretsConfig{DefaultProject: "shop"}, WithClient(client), WithFallbackFile(""))
	require.NoError(t, err)

	_, err = f.ResolveSecret(ctx, "secret://k")
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestResolveWithoutProjectUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets")
	require.NoError(t, os.WriteFile(path, []byte("secret://k=v\n"), 0o600))

	f, err := NewFetcher(ctx, config.SecretsConfig{FallbackFile: path})
	require.NoError(t, err)

	got, err := f.ResolveSecret(ctx, "secret://k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	_, err = f.ResolveSecret(ctx, "secret://missing")
	require.Error(t, err)
}

func TestParseReferenceRejectsBadInput(t *testing.T) {
	for _, ref := range []string{"", "http://x", "secret://"} {
		_, err := parseReference(ref)
		assert.Error(t, err, ref)
	}
}
