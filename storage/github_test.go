package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ruteri/safe-forge/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGitHubServer(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/templates", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"full_name":"acme/templates"}`))
	})
	mux.HandleFunc("/repos/acme/templates/contents/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
		assert.Equal(t, "release", r.URL.Query().Get("ref"))

		data, ok := files[r.URL.Path[len("/repos/acme/templates/contents/"):]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(GitHubContent{
			Type:     "file",
			Encoding: "base64",
			Content:  base64.StdEncoding.EncodeToString(data),
			Size:     len(data),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGitHubBackend(t *testing.T) {
	ctx := context.Background()
	code := []byte("contract Escrow {}")
	id := interfaces.ComputeID(code)

	tampered := interfaces.ComputeID([]byte("x"))
	srv := newGitHubServer(t, map[string][]byte{
		"archive/template-code/" + id.String():       code,
		"archive/template-code/" + tampered.String(): []byte("not x"),
	})

	backend := NewGitHubBackend("acme", "templates", "archive", "release", "gh-token", discardLogger()).WithAPIURL(srv.URL)
	assert.Equal(t, "github://acme/templates/archive?ref=release", backend.LocationURI())
	require.True(t, backend.Available(ctx))

	got, err := backend.Fetch(ctx, id, interfaces.TemplateCodeType)
	require.NoError(t, err)
	assert.Equal(t, code, got)

	_, err = backend.Fetch(ctx, id, interfaces.DeploymentDataType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	_, err = backend.Fetch(ctx, tampered, interfaces.TemplateCodeType)
	require.ErrorContains(t, err, "hash mismatch")

	_, err = backend.Store(ctx, code, interfaces.TemplateCodeType)
	assert.ErrorIs(t, err, interfaces.ErrReadOnlyBackend)
}

func TestGitHubBackend_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	backend := NewGitHubBackend("acme", "missing", "", "", "", discardLogger()).WithAPIURL(srv.URL)
	assert.False(t, backend.Available(context.Background()))
}
