package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"subrelay/config"
	"subrelay/reddit"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testProvisioner(transport http.RoundTripper) *Provisioner {
	cfg := &config.Config{}
	cfg.Discord.BotToken = "bot-token"
	return &Provisioner{log: zap.NewNop(), cfg: cfg, transport: transport}
}

func TestEnsureSinkKeepsValidSinkAndUpdatesIdentity(t *testing.T) {
	existing := discordWebhookBase + "/123/tok"

	var patched map[string]any
	p := testProvisioner(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == http.MethodGet && req.URL.String() == existing:
			return respond(http.StatusOK, `{}`), nil
		case req.Method == http.MethodPatch && req.URL.String() == existing:
			require.NoError(t, json.NewDecoder(req.Body).Decode(&patched))
			return respond(http.StatusOK, `{}`), nil
		}
		t.Errorf("unexpected request: %s %s", req.Method, req.URL)
		return respond(http.StatusInternalServerError, ""), nil
	}))

	url, err := p.EnsureSink(context.Background(), "chan1", "r/pics", "", existing)
	require.NoError(t, err)
	assert.Equal(t, existing, url)
	assert.Equal(t, "r/pics", patched["name"])
}

func TestEnsureSinkRecreatesWhenSinkIsGone(t *testing.T) {
	existing := discordWebhookBase + "/123/tok"

	p := testProvisioner(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == http.MethodGet && req.URL.String() == existing:
			return respond(http.StatusNotFound, `{}`), nil
		case req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/channels/chan1/webhooks"):
			assert.Equal(t, "Bot bot-token", req.Header.Get("Authorization"))
			return respond(http.StatusOK, `{"id": "9", "token": "new-tok"}`), nil
		}
		t.Errorf("unexpected request: %s %s", req.Method, req.URL)
		return respond(http.StatusInternalServerError, ""), nil
	}))

	url, err := p.EnsureSink(context.Background(), "chan1", "r/pics", "", existing)
	require.NoError(t, err)
	assert.Equal(t, discordWebhookBase+"/9/new-tok", url)
}

func TestEnsureSinkSurfacesForbiddenWithoutRetry(t *testing.T) {
	var creates int
	p := testProvisioner(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		creates++
		return respond(http.StatusForbidden, `{"message": "Missing Permissions"}`), nil
	}))

	_, err := p.EnsureSink(context.Background(), "chan1", "r/pics", "", "")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 1, creates)
}

func TestEnsureSinkFallsBackToDefaultAvatar(t *testing.T) {
	var created map[string]any
	p := testProvisioner(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch {
		case req.URL.String() == "https://a.example/icon.png":
			return respond(http.StatusInternalServerError, ""), nil
		case req.URL.String() == reddit.DefaultAvatarURL:
			return respond(http.StatusOK, "png-bytes"), nil
		case req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/channels/chan1/webhooks"):
			require.NoError(t, json.NewDecoder(req.Body).Decode(&created))
			return respond(http.StatusOK, `{"id": "9", "token": "tok"}`), nil
		}
		t.Errorf("unexpected request: %s %s", req.Method, req.URL)
		return respond(http.StatusInternalServerError, ""), nil
	}))

	_, err := p.EnsureSink(context.Background(), "chan1", "r/pics", "https://a.example/icon.png", "")
	require.NoError(t, err)

	avatar, _ := created["avatar"].(string)
	assert.True(t, strings.HasPrefix(avatar, "data:image/png;base64,"), "avatar should be the inlined default image")
}

func TestEnsureSinkToleratesUnreachableAvatar(t *testing.T) {
	var created map[string]any
	p := testProvisioner(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method == http.MethodGet {
			return respond(http.StatusInternalServerError, ""), nil
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&created))
		return respond(http.StatusOK, `{"id": "9", "token": "tok"}`), nil
	}))

	url, err := p.EnsureSink(context.Background(), "chan1", "r/pics", "https://a.example/icon.png", "")
	require.NoError(t, err)
	assert.Equal(t, discordWebhookBase+"/9/tok", url)

	_, hasAvatar := created["avatar"]
	assert.False(t, hasAvatar, "an unreachable avatar must not block provisioning")
}
