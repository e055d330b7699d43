package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/utils"
)

// ManifestPattern matches manifest files below the widgets directory
const ManifestPattern = "**/widget.{yaml,yml,json,toml}"

// DefaultEntry is the payload file used when a manifest names none
const DefaultEntry = "widget.js"

// Loader discovers widgets on disk and registers them
type Loader struct {
	catalog *Catalog
	fsys    fs.FS
	root    string
	logger  *zap.Logger
}

// NewLoader creates a loader rooted at dir
func NewLoader(catalog *Catalog, dir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		catalog: catalog,
		fsys:    os.DirFS(dir),
		root:    dir,
		logger:  logger.Named("loader"),
	}
}

// Load registers every widget found that is not registered yet. A missing
// directory is not an error; individual broken widgets are logged and
// counted.
func (l *Loader) Load() (loaded, failed int, err error) {
	if _, statErr := os.Stat(l.root); errors.Is(statErr, fs.ErrNotExist) {
		l.logger.Warn("Widgets directory not found", zap.String("dir", l.root))
		return 0, 0, nil
	}

	matches, err := doublestar.Glob(l.fsys, ManifestPattern)
	if err != nil {
		return 0, 0, fmt.Errorf("scan widgets: %w", err)
	}

	for _, p := range matches {
		w, err := l.LoadFile(p)
		if err == nil {
			err = l.catalog.Register(w)
		}
		if errors.Is(err, ErrAlreadyExists) {
			// Registered by an earlier scan; manifests are immutable once placed
			l.logger.Debug("Widget already registered", zap.String("path", p))
			continue
		}
		if err != nil {
			l.logger.Warn("Failed to load widget", zap.String("path", p), zap.Error(err))
			failed++
			continue
		}
		loaded++
	}

	l.logger.Info("Widgets loaded", zap.Int("loaded", loaded), zap.Int("failed", failed))
	return loaded, failed, nil
}

// LoadFile reads one manifest (a slash path relative to the root) and its
// render payload
func (l *Loader) LoadFile(manifestPath string) (*types.Widget, error) {
	data, err := fs.ReadFile(l.fsys, manifestPath)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data, path.Ext(manifestPath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", manifestPath, err)
	}

	entry := m.Entry
	if entry == "" {
		entry = DefaultEntry
	}
	if !fs.ValidPath(entry) || strings.Contains(entry, "..") {
		return nil, fmt.Errorf("%w: entry %q escapes the widget directory", ErrInvalidManifest, entry)
	}
	payloadPath := path.Join(path.Dir(manifestPath), entry)
	info, err := fs.Stat(l.fsys, payloadPath)
	if err != nil {
		return nil, fmt.Errorf("render payload: %w", err)
	}
	if info.Size() > utils.MaxPayloadSize {
		return nil, fmt.Errorf("%w: render payload is %d bytes", ErrInvalidManifest, info.Size())
	}
	payload, err := fs.ReadFile(l.fsys, payloadPath)
	if err != nil {
		return nil, fmt.Errorf("render payload: %w", err)
	}

	return &types.Widget{Manifest: *m, Payload: string(payload)}, nil
}

// ParseManifest decodes a manifest according to its file extension
func ParseManifest(data []byte, ext string) (*types.Manifest, error) {
	if err := utils.ValidateSize(data, utils.MaxMessageSize, "manifest"); err != nil {
		return nil, err
	}

	var m types.Manifest
	var err error
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &m)
	case "json":
		err = sonic.Unmarshal(data, &m)
	case "toml":
		err = toml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return &m, nil
}
