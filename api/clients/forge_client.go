package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/safe-forge/api"
	"github.com/ruteri/safe-forge/cryptoutils"
	"github.com/ruteri/safe-forge/interfaces"
)

// HTTPError is a non-domain failure reported by the server, such as a
// rejected signature or malformed input.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("forge API error %d: %s", e.StatusCode, e.Message)
}

// ForgeClient talks to a forge server. The key is only needed for mutating
// calls.
type ForgeClient struct {
	baseURL    string
	key        *ecdsa.PrivateKey
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*ForgeClient)

func WithHTTPClient(c *http.Client) Option {
	return func(fc *ForgeClient) { fc.httpClient = c }
}

// WithInsecureTLS skips server certificate verification, for servers using
// a self-signed certificate.
func WithInsecureTLS() Option {
	return func(fc *ForgeClient) {
		fc.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(fc *ForgeClient) { fc.now = now }
}

func NewForgeClient(baseURL string, key *ecdsa.PrivateKey, opts ...Option) *ForgeClient {
	c := &ForgeClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		key:        key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Principal returns the caller identity of signed requests.
func (c *ForgeClient) Principal() (interfaces.Principal, error) {
	if c.key == nil {
		return interfaces.Principal{}, errors.New("client has no signing key")
	}
	return cryptoutils.PrincipalOf(c.key), nil
}

func (c *ForgeClient) IsAdmin(ctx context.Context, p interfaces.Principal) (bool, error) {
	var resp api.IsAdminResponse
	if err := c.get(ctx, api.AdminsPath+"/"+p.String(), &resp); err != nil {
		return false, err
	}
	return resp.Admin, nil
}

func (c *ForgeClient) Admins(ctx context.Context) ([]interfaces.Admin, error) {
	var resp api.AdminsResponse
	if err := c.get(ctx, api.AdminsPath, &resp); err != nil {
		return nil, err
	}
	return resp.Admins, nil
}

func (c *ForgeClient) AddAdmin(ctx context.Context, p interfaces.Principal) (bool, error) {
	var resp api.ResultResponse
	if err := c.post(ctx, api.AdminsPath, api.AddAdminRequest{Principal: p}, &resp); err != nil {
		return false, err
	}
	return resp.Result, nil
}

func (c *ForgeClient) RegisterTemplate(ctx context.Context, name interfaces.TemplateName, code []byte) (bool, error) {
	var resp api.ResultResponse
	if err := c.post(ctx, api.TemplatesPath, api.RegisterTemplateRequest{Name: name, Code: code}, &resp); err != nil {
		return false, err
	}
	return resp.Result, nil
}

func (c *ForgeClient) ApproveTemplate(ctx context.Context, name interfaces.TemplateName) (bool, error) {
	var resp api.ResultResponse
	if err := c.post(ctx, templatePath(name)+"/approve", struct{}{}, &resp); err != nil {
		return false, err
	}
	return resp.Result, nil
}

func (c *ForgeClient) GenerateContract(ctx context.Context, name interfaces.TemplateName, deploymentData []byte) (*interfaces.GenerationEvent, error) {
	var event interfaces.GenerationEvent
	if err := c.post(ctx, templatePath(name)+"/generate", api.GenerateContractRequest{DeploymentData: deploymentData}, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *ForgeClient) Template(ctx context.Context, name interfaces.TemplateName) (*interfaces.Template, error) {
	var t interfaces.Template
	if err := c.get(ctx, templatePath(name), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// TemplateCode fetches the raw payload and checks it against its content id.
func (c *ForgeClient) TemplateCode(ctx context.Context, name interfaces.TemplateName) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, templatePath(name)+"/code", nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	code, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read template code: %w", err)
	}
	if want := resp.Header.Get("ETag"); want != "" {
		if got := `"` + interfaces.ComputeID(code).String() + `"`; got != want {
			return nil, fmt.Errorf("template code hash mismatch: got %s, want %s", got, want)
		}
	}
	return code, nil
}

// ArchivedTemplateCode looks up the content id of name on the server and
// fetches the code from archive instead, so large payloads can be pulled
// from a mirror such as an S3 bucket or a git repository.
func (c *ForgeClient) ArchivedTemplateCode(ctx context.Context, archive interfaces.StorageBackend, name interfaces.TemplateName) ([]byte, error) {
	var summary api.TemplateSummary
	if err := c.get(ctx, templatePath(name), &summary); err != nil {
		return nil, err
	}

	code, err := archive.Fetch(ctx, summary.CodeID, interfaces.TemplateCodeType)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %q from %s: %w", name, archive.LocationURI(), err)
	}
	if id := interfaces.ComputeID(code); id != summary.CodeID {
		return nil, fmt.Errorf("archived code of %q hashes to %s, want %s", name, id, summary.CodeID)
	}
	return code, nil
}

func (c *ForgeClient) Templates(ctx context.Context) ([]api.TemplateSummary, error) {
	var resp api.TemplatesResponse
	if err := c.get(ctx, api.TemplatesPath, &resp); err != nil {
		return nil, err
	}
	return resp.Templates, nil
}

func (c *ForgeClient) Event(ctx context.Context, id uint64) (*interfaces.GenerationEvent, error) {
	var event interfaces.GenerationEvent
	if err := c.get(ctx, api.EventsPath+"/"+strconv.FormatUint(id, 10), &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Events returns one page of events with ids greater than after.
func (c *ForgeClient) Events(ctx context.Context, after uint64, limit int) (*api.EventsResponse, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", strconv.FormatUint(after, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := api.EventsPath
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp api.EventsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func templatePath(name interfaces.TemplateName) string {
	return api.TemplatesPath + "/" + url.PathEscape(name.String())
}

func (c *ForgeClient) get(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeBody(resp, out)
}

func (c *ForgeClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, path, body, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeBody(resp, out)
}

func (c *ForgeClient) do(ctx context.Context, method, path string, body []byte, signed bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if signed {
		if c.key == nil {
			return nil, errors.New("client has no signing key")
		}
		ts := c.now().Unix()
		sig, err := cryptoutils.SignRequest(c.key, method, req.URL.EscapedPath(), ts, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set(cryptoutils.TimestampHeader, strconv.FormatInt(ts, 10))
		req.Header.Set(cryptoutils.SignatureHeader, sig)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeBody(resp *http.Response, out any) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// decodeError turns an error response into a *interfaces.ForgeError when it
// carries a known wire code, and an *HTTPError otherwise.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	if body.Code != 0 {
		if kind, ok := interfaces.ErrorKindFromCode(uint32(body.Code)); ok {
			prefix := fmt.Sprintf("%s (%d): ", kind, body.Code)
			return interfaces.NewForgeError(kind, "%s", strings.TrimPrefix(body.Error, prefix))
		}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: body.Error}
}
