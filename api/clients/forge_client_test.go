package clients

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/safe-forge/api"
	"github.com/ruteri/safe-forge/cryptoutils"
	"github.com/ruteri/safe-forge/httpserver"
	"github.com/ruteri/safe-forge/interfaces"
	"github.com/ruteri/safe-forge/registry"
	"github.com/ruteri/safe-forge/storage"
	"github.com/ruteri/safe-forge/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newForgeServer(t *testing.T, deployer interfaces.Principal) *httptest.Server {
	t.Helper()
	return newArchivingForgeServer(t, deployer, nil)
}

func newArchivingForgeServer(t *testing.T, deployer interfaces.Principal, archive interfaces.StorageBackend) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	forge, err := registry.NewRegistry(context.Background(), store.NewMemoryStore(), registry.Options{Log: log, Archive: archive})
	require.NoError(t, err)
	require.NoError(t, forge.Initialize(context.Background(), deployer))

	srv, err := httpserver.New(&api.HTTPServerConfig{Log: log, MaxBodyBytes: 1 << 20}, httpserver.NewHandler(forge, log))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestForgeClient_EndToEnd(t *testing.T) {
	ctx := context.Background()

	deployerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	userKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	ts := newForgeServer(t, cryptoutils.PrincipalOf(deployerKey))
	admin := NewForgeClient(ts.URL, deployerKey)
	user := NewForgeClient(ts.URL+"/", userKey)
	anonymous := NewForgeClient(ts.URL, nil)

	userPrincipal, err := user.Principal()
	require.NoError(t, err)
	_, err = anonymous.Principal()
	assert.Error(t, err)

	ok, err := anonymous.IsAdmin(ctx, userPrincipal)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = user.AddAdmin(ctx, userPrincipal)
	require.ErrorIs(t, err, interfaces.ErrNotAuthorized)
	kind, _ := interfaces.KindOf(err)
	assert.Equal(t, interfaces.NotAuthorized, kind)

	_, err = anonymous.AddAdmin(ctx, userPrincipal)
	assert.ErrorContains(t, err, "no signing key")

	code := []byte("contract Escrow {}")
	registered, err := admin.RegisterTemplate(ctx, "escrow", code)
	require.NoError(t, err)
	assert.True(t, registered)

	_, err = admin.RegisterTemplate(ctx, "escrow", []byte("other"))
	assert.ErrorIs(t, err, interfaces.ErrTemplateAlreadyExists)

	_, err = user.GenerateContract(ctx, "escrow", nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidTemplate)

	_, err = admin.ApproveTemplate(ctx, "nope")
	assert.ErrorIs(t, err, interfaces.ErrTemplateNotFound)

	approved, err := admin.ApproveTemplate(ctx, "escrow")
	require.NoError(t, err)
	assert.True(t, approved)

	event, err := user.GenerateContract(ctx, "escrow", []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.EqualValues(t, 1, event.EventID)
	assert.Equal(t, userPrincipal, event.Caller)

	// The digest survives the round trip.
	digest, err := event.ComputeDigest()
	require.NoError(t, err)
	assert.Equal(t, event.Digest, digest)

	got, err := anonymous.TemplateCode(ctx, "escrow")
	require.NoError(t, err)
	assert.Equal(t, code, got)

	tmpl, err := anonymous.Template(ctx, "escrow")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusApproved, tmpl.Status)

	summaries, err := anonymous.Templates(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	page, err := anonymous.Events(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)

	e, err := anonymous.Event(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, event.Digest, e.Digest)

	_, err = anonymous.Event(ctx, 2)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)

	added, err := admin.AddAdmin(ctx, userPrincipal)
	require.NoError(t, err)
	assert.True(t, added)

	admins, err := anonymous.Admins(ctx)
	require.NoError(t, err)
	assert.Len(t, admins, 2)
}

func TestForgeClient_ReservedCharacterNames(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ts := newForgeServer(t, cryptoutils.PrincipalOf(key))
	c := NewForgeClient(ts.URL, key)

	// "aA" must stay distinct from "a%41".
	_, err = c.RegisterTemplate(ctx, "aA", []byte("plain"))
	require.NoError(t, err)

	names := []interfaces.TemplateName{"a%41", "x%zz", "100%", "a;b", "a?b", "a#b", "a,b=c", "a%2Fb", "a+b&c"}
	for _, name := range names {
		t.Run(name.String(), func(t *testing.T) {
			code := []byte("code of " + name.String())

			ok, err := c.RegisterTemplate(ctx, name, code)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = c.ApproveTemplate(ctx, name)
			require.NoError(t, err)
			assert.True(t, ok)

			event, err := c.GenerateContract(ctx, name, []byte{0x01})
			require.NoError(t, err)
			assert.Equal(t, name, event.TemplateName)

			tmpl, err := c.Template(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, name, tmpl.Name)
			assert.Equal(t, interfaces.StatusApproved, tmpl.Status)

			got, err := c.TemplateCode(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, code, got)
		})
	}

	plain, err := c.Template(ctx, "aA")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusRegistered, plain.Status)
	assert.Equal(t, []byte("plain"), []byte(plain.Code))
}

func TestForgeClient_ArchivedTemplateCode(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	dir := t.TempDir()
	serverArchive, err := storage.NewFileBackend(dir, log)
	require.NoError(t, err)
	ts := newArchivingForgeServer(t, cryptoutils.PrincipalOf(key), serverArchive)
	c := NewForgeClient(ts.URL, key)

	code := []byte("contract Escrow {}")
	_, err = c.RegisterTemplate(ctx, "escrow", code)
	require.NoError(t, err)

	mirror, err := storage.NewStorageBackendFactory(log).StorageBackendFor("file://" + dir)
	require.NoError(t, err)
	got, err := c.ArchivedTemplateCode(ctx, mirror, "escrow")
	require.NoError(t, err)
	assert.Equal(t, code, got)

	empty, err := storage.NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)
	_, err = c.ArchivedTemplateCode(ctx, empty, "escrow")
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	_, err = c.ArchivedTemplateCode(ctx, mirror, "missing")
	assert.ErrorIs(t, err, interfaces.ErrTemplateNotFound)
}

func TestForgeClient_ClockSkew(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ts := newForgeServer(t, cryptoutils.PrincipalOf(key))

	skewed := NewForgeClient(ts.URL, key, WithClock(func() time.Time { return time.Now().Add(time.Hour) }))
	_, err = skewed.RegisterTemplate(context.Background(), "late", nil)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestDecodeError(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusConflict)
	_, _ = rec.WriteString(`{"code":1002,"error":"template already exists (1002): template \"a\""}`)

	err := decodeError(rec.Result())
	var fe *interfaces.ForgeError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, interfaces.TemplateAlreadyExists, fe.Kind)
	assert.Equal(t, `template "a"`, fe.Msg)

	rec = httptest.NewRecorder()
	rec.WriteHeader(http.StatusBadGateway)
	_, _ = rec.WriteString("upstream down")
	err = decodeError(rec.Result())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "upstream down", httpErr.Message)
}
