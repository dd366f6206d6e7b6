package voice

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
	"github.com/J3rah/talkai-monorepo-sub002/internal/tier"
)

//go:embed catalog.toml
var embeddedCatalog []byte

// ErrInvalidCatalog reports a fallback catalog that cannot guarantee a
// selectable voice.
var ErrInvalidCatalog = errors.New("invalid voice catalog")

type catalogFile struct {
	Groups []Group `toml:"group"`
}

// ParseCatalog decodes TOML catalog data. The catalog must contain a voice
// at the lowest tier and every voice needs a provider config id.
func ParseCatalog(data []byte) ([]Group, error) {
	var f catalogFile
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v", ErrInvalidCatalog, undecoded)
	}

	hasLowest := false
	for gi, g := range f.Groups {
		for ci, c := range g.Configurations {
			if c.ID == "" || c.ProviderConfigID == "" {
				return nil, fmt.Errorf("%w: group %d voice %d needs id and provider_config_id", ErrInvalidCatalog, gi, ci)
			}
			if c.Tier != g.Tier {
				f.Groups[gi].Configurations[ci].Tier = g.Tier
			}
		}
		if g.Tier == tier.Lowest && len(g.Configurations) > 0 {
			hasLowest = true
		}
	}
	if !hasLowest {
		return nil, fmt.Errorf("%w: no %s voice", ErrInvalidCatalog, tier.Lowest)
	}
	return f.Groups, nil
}

// MustEmbedded returns the compiled-in fallback catalog.
func MustEmbedded() []Group {
	groups, err := ParseCatalog(embeddedCatalog)
	if err != nil {
		panic(err)
	}
	return groups
}

// Catalog holds the current fallback groups. Reads are lock-free.
type Catalog struct {
	groups atomic.Pointer[[]Group]
	path   string
	logger *logging.Logger
}

// NewCatalog starts from the embedded catalog and, when path is set,
// replaces it with the file's contents.
func NewCatalog(path string, logger *logging.Logger) (*Catalog, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Catalog{path: path, logger: logger}
	groups := MustEmbedded()
	c.groups.Store(&groups)

	if path != "" {
		if err := c.Reload(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Groups returns the current fallback groups.
func (c *Catalog) Groups() []Group {
	return *c.groups.Load()
}

// Reload re-reads the override file. On error the previous catalog stays.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("reading voice catalog %s: %w", c.path, err)
	}
	groups, err := ParseCatalog(data)
	if err != nil {
		return fmt.Errorf("parsing voice catalog %s: %w", c.path, err)
	}
	c.groups.Store(&groups)
	return nil
}

// Watch reloads the override file whenever it changes, until ctx is done.
// The parent directory is watched so editors that replace the file work.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		return errors.New("no catalog file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", c.path, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(c.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				if err := c.Reload(); err != nil {
					c.logger.Warn(ctx, "voice catalog reload failed, keeping previous", zap.Error(err))
					continue
				}
				c.logger.Info(ctx, "voice catalog reloaded", zap.Int("voices", countConfigurations(c.Groups())))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn(ctx, "voice catalog watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
