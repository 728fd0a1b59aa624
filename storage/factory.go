package storage

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ruteri/safe-forge/interfaces"
)

// StorageBackendFactory creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
type StorageBackendFactory struct {
	log *slog.Logger
}

var _ interfaces.StorageBackendFactory = (*StorageBackendFactory)(nil)

func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: logger}
}

// StorageBackendFor creates a storage backend from a location URI of the
// form [scheme]://[auth@]host[:port][/path][?params].
//
// Supported schemes:
//   - file:///var/lib/forge/archive or file://./relative/dir
//   - s3://[KEY:SECRET@]bucket/prefix?region=us-west-2&endpoint=...&path_style=true
//   - ipfs://host:5001/forge?timeout=30s
//   - github://owner/repo/dir?ref=main&token=...
//   - vault://host:8200/mount/path?token=...&tls=false
func (sf *StorageBackendFactory) StorageBackendFor(locationURI string) (interfaces.StorageBackend, error) {
	loc, err := interfaces.NewStorageBackendLocation(locationURI)
	if err != nil {
		return nil, err
	}

	sf.log.Debug("Creating storage backend",
		slog.String("scheme", loc.Scheme),
		slog.String("host", loc.Host))

	switch loc.Scheme {
	case "github":
		return sf.createGitHubBackend(loc)
	case "ipfs":
		return sf.createIPFSBackend(loc)
	case "s3":
		return sf.createS3Backend(loc)
	case "file":
		return sf.createFileBackend(loc)
	case "vault":
		return sf.createVaultBackend(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// CreateMultiBackend creates a multi-storage backend from a list of location
// URIs. Invalid URIs are logged and skipped; at least one must be valid.
func (sf *StorageBackendFactory) CreateMultiBackend(locationURIs []string) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locationURIs))

	for _, uri := range locationURIs {
		backend, err := sf.StorageBackendFor(uri)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", uri))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}

	return NewMultiStorageBackend(backends, sf.log), nil
}

// createGitHubBackend: github://owner/repo[/dir]
func (sf *StorageBackendFactory) createGitHubBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	owner := loc.Host
	parts := strings.SplitN(strings.Trim(loc.Path, "/"), "/", 2)
	if owner == "" || parts[0] == "" {
		return nil, fmt.Errorf("%w: expected github://owner/repo", interfaces.ErrInvalidLocationURI)
	}

	var dir string
	if len(parts) == 2 {
		dir = parts[1]
	}

	token := loc.GetParam("token")
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}

	backend := NewGitHubBackend(owner, parts[0], dir, loc.GetParam("ref"), token, sf.log)
	if api := loc.GetParam("api"); api != "" {
		backend.WithAPIURL(api)
	}
	return backend, nil
}

// createIPFSBackend: ipfs://host:port[/root]?timeout=30s
func (sf *StorageBackendFactory) createIPFSBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	host, port, _ := strings.Cut(loc.Host, ":")
	if port == "" {
		port = "5001"
	}

	timeout := 30 * time.Second
	if t := loc.GetParam("timeout"); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timeout %q", interfaces.ErrInvalidLocationURI, t)
		}
		timeout = d
	}

	root := loc.Path
	if strings.Trim(root, "/") == "" {
		root = "safe-forge"
	}

	return NewIPFSBackend(host, port, root, timeout, sf.log)
}

// createS3Backend: s3://[KEY:SECRET@]bucket[/prefix]?region=...&endpoint=...
func (sf *StorageBackendFactory) createS3Backend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	cfg := S3Config{
		Bucket:    loc.Host,
		Prefix:    strings.TrimPrefix(loc.Path, "/"),
		Region:    loc.GetParam("region"),
		Endpoint:  loc.GetParam("endpoint"),
		PathStyle: loc.GetParamBool("path_style"),
	}

	if loc.User != nil {
		cfg.AccessKey = loc.User.Username()
		cfg.SecretKey, _ = loc.User.Password()
	} else {
		cfg.AccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		cfg.SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}

	return NewS3Backend(cfg, sf.log)
}

// createFileBackend: file:///absolute/path or file://./relative/path
func (sf *StorageBackendFactory) createFileBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, loc)
	}

	return NewFileBackend(path, sf.log)
}

// createVaultBackend: vault://host:port/mount[/path]?token=...&tls=false
func (sf *StorageBackendFactory) createVaultBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: empty Vault host", interfaces.ErrInvalidLocationURI)
	}

	mount, dataPath, _ := strings.Cut(strings.Trim(loc.Path, "/"), "/")
	if mount == "" {
		mount = "secret"
	}
	if dataPath == "" {
		dataPath = "safe-forge"
	}

	scheme := "https"
	if v := loc.GetParam("tls"); v == "false" || v == "0" {
		scheme = "http"
	}

	token := loc.GetParam("token")
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}

	return NewVaultBackend(fmt.Sprintf("%s://%s", scheme, loc.Host), mount, dataPath, token, sf.log)
}
