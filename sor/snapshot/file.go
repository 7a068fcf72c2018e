package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	getter "github.com/hashicorp/go-getter"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// fetchTimeout bounds a remote snapshot download.
const fetchTimeout = 120 * time.Second

// FileProvider serves a snapshot document read from a local file or fetched
// with go-getter (http, s3, gcs, git). The format follows the extension:
// .json, .toml, .yaml or .yml.
type FileProvider struct {
	src     string
	workDir string

	mu      sync.RWMutex
	records []PoolRecord
}

// NewFileProvider loads src once. workDir receives remote downloads and may be
// empty for local files.
func NewFileProvider(ctx context.Context, src, workDir string) (*FileProvider, error) {
	p := &FileProvider{src: src, workDir: workDir}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload fetches and decodes the source again.
func (p *FileProvider) Reload(ctx context.Context) error {
	path, err := p.fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotProvider, err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrSnapshotProvider, path, err)
	}
	doc, err := Decode(body, formatOf(p.src))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSnapshotProvider, p.src, err)
	}

	p.mu.Lock()
	p.records = doc.Pools
	p.mu.Unlock()
	log.Info().Str("src", p.src).Int("pools", len(doc.Pools)).Msg("Snapshot loaded")
	return nil
}

func (p *FileProvider) GetPools(ctx context.Context, q Query) ([]PoolRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotProvider, err)
	}
	p.mu.RLock()
	records := p.records
	p.mu.RUnlock()
	return Filter(records, q), nil
}

// fetch returns a local path for the source, downloading it when it is not a local file.
func (p *FileProvider) fetch(ctx context.Context) (string, error) {
	if info, err := os.Stat(p.src); err == nil && !info.IsDir() {
		return p.src, nil
	}
	if p.workDir == "" {
		return "", fmt.Errorf("%s is not a local file and no work dir is configured", p.src)
	}
	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	dst := filepath.Join(p.workDir, "snapshot"+formatOf(p.src))
	client := getter.Client{
		Ctx:  ctx,
		Src:  p.src,
		Dst:  dst,
		Mode: getter.ClientModeFile,
	}
	log.Debug().Str("src", p.src).Str("dst", dst).Msg("Downloading snapshot")
	if err := client.Get(); err != nil {
		return "", fmt.Errorf("failed to download snapshot: %w", err)
	}
	return dst, nil
}

// formatOf returns the lower case extension of a source, ignoring go-getter
// query parameters.
func formatOf(src string) string {
	if i := strings.IndexByte(src, '?'); i >= 0 {
		src = src[:i]
	}
	return strings.ToLower(filepath.Ext(src))
}

// Decode parses a snapshot document in the given format (".json", ".toml", ".yaml", ".yml").
func Decode(body []byte, format string) (Document, error) {
	var doc Document
	var err error
	switch format {
	case ".json":
		err = json.Unmarshal(body, &doc)
	case ".toml":
		err = toml.Unmarshal(body, &doc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(body, &doc)
	default:
		return Document{}, fmt.Errorf("unsupported snapshot format %q", format)
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return doc, nil
}
