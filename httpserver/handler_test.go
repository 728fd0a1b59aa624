package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/safe-forge/api"
	"github.com/ruteri/safe-forge/cryptoutils"
	"github.com/ruteri/safe-forge/interfaces"
	"github.com/ruteri/safe-forge/registry"
	"github.com/ruteri/safe-forge/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	handler  http.Handler
	server   *Server
	forge    *registry.Registry
	deployer *ecdsa.PrivateKey
	outsider *ecdsa.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	deployer, err := crypto.GenerateKey()
	require.NoError(t, err)
	outsider, err := crypto.GenerateKey()
	require.NoError(t, err)

	forge, err := registry.NewRegistry(ctx, store.NewMemoryStore(), registry.Options{Log: log})
	require.NoError(t, err)
	require.NoError(t, forge.Initialize(ctx, cryptoutils.PrincipalOf(deployer)))

	srv, err := New(&api.HTTPServerConfig{
		ListenAddr:   "127.0.0.1:0",
		Log:          log,
		MaxBodyBytes: 1 << 16,
	}, NewHandler(forge, log))
	require.NoError(t, err)

	return &testEnv{
		handler:  srv.Handler(),
		server:   srv,
		forge:    forge,
		deployer: deployer,
		outsider: outsider,
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	return e.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func (e *testEnv) signedPost(t *testing.T, key *ecdsa.PrivateKey, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, signedRequest(t, key, path, body, time.Now()))
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, path string, body any, at time.Time) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	ts := at.Unix()
	sig, err := cryptoutils.SignRequest(key, http.MethodPost, req.URL.EscapedPath(), ts, raw)
	require.NoError(t, err)
	req.Header.Set(cryptoutils.TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(cryptoutils.SignatureHeader, sig)
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

func TestHandler_Admins(t *testing.T) {
	env := newTestEnv(t)
	deployer := cryptoutils.PrincipalOf(env.deployer)
	newcomer := cryptoutils.PrincipalOf(env.outsider)

	rr := env.get(t, "/api/admins")
	require.Equal(t, http.StatusOK, rr.Code)
	var admins api.AdminsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &admins))
	require.Len(t, admins.Admins, 1)
	assert.Equal(t, deployer, admins.Admins[0].Principal)

	rr = env.get(t, "/api/admins/"+newcomer.String())
	require.Equal(t, http.StatusOK, rr.Code)
	var isAdmin api.IsAdminResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &isAdmin))
	assert.False(t, isAdmin.Admin)

	rr = env.get(t, "/api/admins/0x1234")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// A non-admin cannot add itself.
	rr = env.signedPost(t, env.outsider, "/api/admins", api.AddAdminRequest{Principal: newcomer})
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, 1000, decodeError(t, rr).Code)
	assert.False(t, env.forge.IsAuthorizedAdmin(newcomer))

	rr = env.signedPost(t, env.deployer, "/api/admins", api.AddAdminRequest{Principal: newcomer})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var result api.ResultResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.True(t, result.Result)
	assert.True(t, env.forge.IsAuthorizedAdmin(newcomer))

	rr = env.signedPost(t, env.deployer, "/api/admins", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_Authentication(t *testing.T) {
	env := newTestEnv(t)
	body := api.AddAdminRequest{Principal: cryptoutils.PrincipalOf(env.outsider)}

	t.Run("unsigned", func(t *testing.T) {
		raw, _ := json.Marshal(body)
		rr := env.do(t, httptest.NewRequest(http.MethodPost, "/api/admins", bytes.NewReader(raw)))
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Zero(t, decodeError(t, rr).Code)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		rr := env.do(t, signedRequest(t, env.deployer, "/api/admins", body, time.Now().Add(-10*time.Minute)))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("signature for another path", func(t *testing.T) {
		req := signedRequest(t, env.deployer, "/api/templates", body, time.Now())
		req.URL.Path = "/api/admins"
		rr := env.do(t, req)
		// The signature recovers some other principal, who is not an admin.
		assert.Contains(t, []int{http.StatusUnauthorized, http.StatusForbidden}, rr.Code)
	})

	assert.False(t, env.forge.IsAuthorizedAdmin(cryptoutils.PrincipalOf(env.outsider)))
}

func TestHandler_TemplateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	code := []byte{0x60, 0x80, 0x60, 0x40, 0x52}

	rr := env.signedPost(t, env.outsider, "/api/templates", api.RegisterTemplateRequest{Name: "erc20", Code: code})
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, 1000, decodeError(t, rr).Code)

	rr = env.signedPost(t, env.deployer, "/api/templates", api.RegisterTemplateRequest{Name: "erc20", Code: code})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.signedPost(t, env.deployer, "/api/templates", api.RegisterTemplateRequest{Name: "erc20", Code: []byte{0x00}})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, 1002, decodeError(t, rr).Code)

	rr = env.signedPost(t, env.deployer, "/api/templates", api.RegisterTemplateRequest{Name: "bad/name", Code: code})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.signedPost(t, env.outsider, "/api/templates/erc20/generate", api.GenerateContractRequest{DeploymentData: []byte{0x01}})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, 1003, decodeError(t, rr).Code)

	rr = env.signedPost(t, env.deployer, "/api/templates/missing/approve", struct{}{})
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 1001, decodeError(t, rr).Code)

	rr = env.signedPost(t, env.outsider, "/api/templates/erc20/approve", struct{}{})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.signedPost(t, env.deployer, "/api/templates/erc20/approve", struct{}{})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Any principal may generate from an approved template.
	rr = env.signedPost(t, env.outsider, "/api/templates/erc20/generate", api.GenerateContractRequest{DeploymentData: []byte{0xca, 0xfe}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var event interfaces.GenerationEvent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &event))
	assert.EqualValues(t, 1, event.EventID)
	assert.Equal(t, interfaces.TemplateName("erc20"), event.TemplateName)
	assert.Equal(t, cryptoutils.PrincipalOf(env.outsider), event.Caller)

	rr = env.get(t, "/api/templates/erc20")
	require.Equal(t, http.StatusOK, rr.Code)
	var tmpl interfaces.Template
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tmpl))
	assert.Equal(t, interfaces.StatusApproved, tmpl.Status)
	assert.Equal(t, code, []byte(tmpl.Code))

	rr = env.get(t, "/api/templates/erc20/code")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, code, rr.Body.Bytes())
	assert.Equal(t, `"`+interfaces.ComputeID(code).String()+`"`, rr.Header().Get("ETag"))

	rr = env.get(t, "/api/templates")
	require.Equal(t, http.StatusOK, rr.Code)
	var list api.TemplatesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Templates, 1)
	assert.Equal(t, len(code), list.Templates[0].CodeSize)
	require.NotNil(t, list.Templates[0].Approver)

	rr = env.get(t, "/api/templates/missing")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 1001, decodeError(t, rr).Code)
}

func TestHandler_EscapedTemplateNames(t *testing.T) {
	env := newTestEnv(t)

	register := func(name string) {
		rr := env.signedPost(t, env.deployer, "/api/templates", api.RegisterTemplateRequest{
			Name: interfaces.TemplateName(name),
			Code: []byte(name),
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
	register("aA")
	register("a%41")
	register("a;b")

	// No RawPath: chi hands back the decoded segment as is.
	rr := env.signedPost(t, env.deployer, "/api/templates/a%2541/approve", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// RawPath set by the escaped ';'.
	rr = env.signedPost(t, env.deployer, "/api/templates/a%3Bb/approve", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	for name, status := range map[interfaces.TemplateName]interfaces.TemplateStatus{
		"aA":   interfaces.StatusRegistered,
		"a%41": interfaces.StatusApproved,
		"a;b":  interfaces.StatusApproved,
	} {
		tmpl, err := env.forge.Template(name)
		require.NoError(t, err)
		assert.Equal(t, status, tmpl.Status, name)
	}

	rr = env.get(t, "/api/templates/a%2541/code")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "a%41", rr.Body.String())

	rr = env.signedPost(t, env.deployer, "/api/templates/a%2541/generate", api.GenerateContractRequest{})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var event interfaces.GenerationEvent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &event))
	assert.Equal(t, interfaces.TemplateName("a%41"), event.TemplateName)
}

func TestHandler_EventLimitCappedAtRegistryMax(t *testing.T) {
	env := newTestEnv(t)

	rr := env.get(t, "/api/events?limit="+strconv.Itoa(registry.MaxEventPageSize+1))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var page api.EventsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Empty(t, page.Events)
	assert.Zero(t, page.Next)
}

func TestHandler_Events(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	deployer := cryptoutils.PrincipalOf(env.deployer)

	_, err := env.forge.RegisterTemplate(ctx, deployer, "vault", []byte("code"))
	require.NoError(t, err)
	_, err = env.forge.ApproveTemplate(ctx, deployer, "vault")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := env.forge.GenerateContract(ctx, deployer, "vault", []byte{byte(i)})
		require.NoError(t, err)
	}

	rr := env.get(t, "/api/events?limit=2")
	require.Equal(t, http.StatusOK, rr.Code)
	var page api.EventsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Events, 2)
	assert.EqualValues(t, 2, page.Next)

	rr = env.get(t, "/api/events?after=2")
	require.Equal(t, http.StatusOK, rr.Code)
	page = api.EventsResponse{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Events, 1)
	assert.EqualValues(t, 3, page.Events[0].EventID)
	assert.Zero(t, page.Next)

	rr = env.get(t, "/api/events/3")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.get(t, "/api/events/4")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Zero(t, decodeError(t, rr).Code)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/events/abc").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/events?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/events?after=x").Code)
}

func TestHandler_BodyLimit(t *testing.T) {
	env := newTestEnv(t)
	big := make([]byte, 1<<17)
	rr := env.signedPost(t, env.deployer, "/api/templates", api.RegisterTemplateRequest{Name: "big", Code: big})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.get(t, "/livez").Code)
	assert.Equal(t, http.StatusOK, env.get(t, "/readyz").Code)

	rr := env.get(t, "/drain")
	assert.JSONEq(t, `{"status":"draining"}`, rr.Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, env.get(t, "/readyz").Code)
	assert.JSONEq(t, `{"status":"already draining"}`, env.get(t, "/drain").Body.String())

	rr = env.get(t, "/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, rr.Body.String())
	assert.Equal(t, http.StatusOK, env.get(t, "/readyz").Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   uint32
	}{
		{interfaces.NewForgeError(interfaces.NotAuthorized, "x"), http.StatusForbidden, 1000},
		{interfaces.NewForgeError(interfaces.TemplateNotFound, "x"), http.StatusNotFound, 1001},
		{interfaces.NewForgeError(interfaces.TemplateAlreadyExists, "x"), http.StatusConflict, 1002},
		{interfaces.NewForgeError(interfaces.InvalidTemplate, "x"), http.StatusUnprocessableEntity, 1003},
		{interfaces.NewForgeError(interfaces.ContractGenerationFailed, "x"), http.StatusInternalServerError, 1004},
		{interfaces.ErrInvalidTemplateName, http.StatusBadRequest, 0},
		{interfaces.ErrEventNotFound, http.StatusNotFound, 0},
		{badRequest("nope"), http.StatusBadRequest, 0},
		{io.EOF, http.StatusInternalServerError, 0},
	}
	for _, tt := range tests {
		status, code := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
