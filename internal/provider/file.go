package provider

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// FileProvider serves catalogs from YAML files named <dir>/<credentialRef>.yaml.
// It backs local runs and fixtures.
type FileProvider struct {
	id  string
	dir string
}

type fileCatalog struct {
	Releases []yaml.Node `yaml:"releases"`
}

// NewFileProvider creates a file-backed provider.
func NewFileProvider(id, dir string) *FileProvider {
	if id == "" {
		id = "file"
	}
	return &FileProvider{id: id, dir: dir}
}

// ID implements Fetcher.
func (p *FileProvider) ID() string { return p.id }

// Fetch implements Fetcher. A missing catalog file is an AuthError: the
// credential reference does not resolve to an account.
func (p *FileProvider) Fetch(ctx context.Context, credentialRef string) (*FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Provider: p.id, Err: err}
	}
	if credentialRef == "" || strings.ContainsAny(credentialRef, `/\`) || strings.Contains(credentialRef, "..") {
		return nil, &AuthError{Provider: p.id, Reason: "invalid credential reference"}
	}

	path := filepath.Join(p.dir, credentialRef+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &AuthError{Provider: p.id, Reason: "no catalog for credential " + credentialRef}
		}
		return nil, &FetchError{Provider: p.id, Err: eris.Wrapf(err, "read %s", path)}
	}

	var cat fileCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, &FetchError{Provider: p.id, Err: eris.Wrapf(err, "parse %s", path)}
	}

	items, skipped := decodeYAMLItems(p.id, cat.Releases)
	releases, invalid := toReleaseRefs(p.id, items)
	return &FetchResult{
		Releases:  releases,
		FetchedAt: time.Now().UTC(),
		Skipped:   skipped + invalid,
	}, nil
}
