package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ruteri/safe-forge/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVault serves a minimal KV v2 API from memory.
type fakeVault struct {
	mu      sync.Mutex
	secrets map[string]map[string]interface{}
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("X-Vault-Token") != "root" {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := body["data"].(map[string]interface{})
		f.secrets[path] = data
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		data, ok := f.secrets[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": data},
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestVaultBackend(t *testing.T) {
	ctx := context.Background()
	fake := &fakeVault{secrets: map[string]map[string]interface{}{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	backend, err := NewVaultBackend(srv.URL, "secret", "forge", "root", discardLogger())
	require.NoError(t, err)

	data := []byte(`{"owner":"0x0000000000000000000000000000000000000001"}`)
	id, err := backend.Store(ctx, data, interfaces.DeploymentDataType)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)
	assert.Contains(t, fake.secrets, "secret/data/forge/deployment-data/"+id.String())

	got, err := backend.Fetch(ctx, id, interfaces.DeploymentDataType)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = backend.Fetch(ctx, id, interfaces.TemplateCodeType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}
