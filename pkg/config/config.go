// Package config defines Context, the fully-enumerated configuration
// surface spec §6 lists, and binds it to cobra/viper flags the way the
// teacher's cmd/matchlock subcommands bind theirs (Flags()... followed
// by viper.BindPFlag, one key per "<command>.<flag>").
package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/objectstore"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/repo"
)

// TierConfig is the per-tier configuration group spec §6 names.
type TierConfig struct {
	MaxSize        int64
	MaxElements    int
	Hysteresis     float64
	EagerWriteback bool
}

// ThumbnailPolicy is the thumbnail-policy configuration group spec §6
// names. DefaultWidth/DefaultHeight/DefaultFormat and the Equalise/
// LiquidResize/Sharpen defaults are for the (out-of-scope) HTTP surface
// to fall back on when a caller's request omits them before rendering a
// Name; the cache core always receives a fully-specified Name and never
// reads them. Only LiquidCutinRatio reaches the core, via RepoOptions.
type ThumbnailPolicy struct {
	DefaultWidth     int
	DefaultHeight    int
	DefaultFormat    string
	Equalise         bool
	LiquidResize     bool
	Sharpen          bool
	LiquidCutinRatio float64
}

// NamePolicy is the name-policy configuration group spec §6 names.
type NamePolicy struct {
	CanonicalFormatUsed bool
	CanonicalFormat     string
}

// Context is the fully-enumerated configuration surface: every group
// spec §6's "Configuration (enumerated)" paragraph lists, plus the
// error budget spec §7's expansion introduces.
type Context struct {
	Memory      TierConfig
	LocalFile   TierConfig
	RemoteCache TierConfig
	RemoteStore TierConfig

	LocalFileCachePath  string
	LocalFileInitialise bool

	RemoteCacheContainer string
	RemoteStoreContainer string
	Credentials          string
	URLLifetime          time.Duration
	URLLifetimeSlack     time.Duration
	URLKey               string
	URLMethod            string
	InitialiseStore      bool

	Thumbnail ThumbnailPolicy
	Name      NamePolicy

	ErrorBudget int64
}

// BindFlags registers every configuration flag on cmd and binds each to
// its viper key, grounded on the teacher's one-flag-one-BindPFlag
// convention (cmd_run.go, cmd_list.go). prefix namespaces the viper
// keys (e.g. "serve") so multiple commands could share flag names
// without collision.
func BindFlags(cmd *cobra.Command, prefix string) {
	f := cmd.Flags()

	f.Int64("memory-max-size", 0, "Memory tier max size in bytes (0 = unbounded)")
	f.Int("memory-max-elements", 0, "Memory tier max element count (0 = unbounded)")
	f.Float64("memory-hysteresis", 0.8, "Memory tier eviction hysteresis fraction")
	f.Bool("memory-eager-writeback", false, "Memory tier writes back synchronously on add")

	f.Int64("local-file-max-size", 0, "Local-file tier max size in bytes (0 = unbounded)")
	f.Int("local-file-max-elements", 0, "Local-file tier max element count (0 = unbounded)")
	f.Float64("local-file-hysteresis", 0.8, "Local-file tier eviction hysteresis fraction")
	f.Bool("local-file-eager-writeback", true, "Local-file tier writes back synchronously on add")
	f.String("local-file-cache-path", "", "Local-file tier cache directory")
	f.Bool("local-file-initialise", false, "Wipe the local-file cache directory at startup instead of scanning it")

	f.Int64("remote-cache-max-size", 0, "Remote-cache tier max size in bytes (0 = unbounded)")
	f.Int("remote-cache-max-elements", 0, "Remote-cache tier max element count (0 = unbounded)")
	f.Float64("remote-cache-hysteresis", 0.8, "Remote-cache tier eviction hysteresis fraction")
	f.Bool("remote-cache-eager-writeback", false, "Remote-cache tier writes back synchronously on add")
	f.String("remote-cache-container", "", "Remote-cache container/bucket name")

	f.Int64("remote-store-max-size", 0, "Remote-store tier max size in bytes (0 = unbounded)")
	f.Int("remote-store-max-elements", 0, "Remote-store tier max element count (0 = unbounded)")
	f.String("remote-store-container", "", "Remote-store container/bucket name")

	f.Bool("remote-initialise", false, "Passed to repo.Options as RemoteCacheInitialise/RemoteStoreInitialise; Master does not act on it, and the remote tiers always scan their containers at startup")
	f.String("credentials", "", "Path to remote store credentials")
	f.Duration("url-lifetime", time.Hour, "Signed URL lifetime")
	f.Duration("url-lifetime-slack", 30*time.Minute, "Extra retention margin added beyond url-lifetime")
	f.String("url-key", "", "Signing credential identifier")
	f.String("url-method", string(objectstore.SignMethodGet), "Signed URL HTTP method (GET or PUT)")

	f.Int("thumbnail-default-width", 200, "Default thumbnail width when a request omits one")
	f.Int("thumbnail-default-height", 200, "Default thumbnail height when a request omits one")
	f.String("thumbnail-default-format", "jpg", "Default thumbnail format when a request omits one")
	f.Bool("thumbnail-equalise", false, "Apply histogram equalisation to thumbnails by default")
	f.Bool("thumbnail-liquid-resize", false, "Apply liquid rescale to thumbnails by default")
	f.Bool("thumbnail-sharpen", false, "Apply unsharp mask to thumbnails by default")
	f.Float64("thumbnail-liquid-cutin-ratio", 2.0, "Aspect-ratio threshold beyond which liquid rescale activates")

	f.Bool("name-canonical-format-used", false, "Rewrite derived names to a single canonical format")
	f.String("name-canonical-format", "jpg", "Canonical format used when name-canonical-format-used is set")

	f.Int64("error-budget", 0, "Recoverable errors tolerated before the core reports degraded (0 = disabled)")

	for _, name := range []string{
		"memory-max-size", "memory-max-elements", "memory-hysteresis", "memory-eager-writeback",
		"local-file-max-size", "local-file-max-elements", "local-file-hysteresis", "local-file-eager-writeback",
		"local-file-cache-path", "local-file-initialise",
		"remote-cache-max-size", "remote-cache-max-elements", "remote-cache-hysteresis", "remote-cache-eager-writeback",
		"remote-cache-container",
		"remote-store-max-size", "remote-store-max-elements", "remote-store-container",
		"remote-initialise",
		"credentials", "url-lifetime", "url-lifetime-slack", "url-key", "url-method",
		"thumbnail-default-width", "thumbnail-default-height", "thumbnail-default-format",
		"thumbnail-equalise", "thumbnail-liquid-resize", "thumbnail-sharpen", "thumbnail-liquid-cutin-ratio",
		"name-canonical-format-used", "name-canonical-format",
		"error-budget",
	} {
		viper.BindPFlag(prefix+"."+name, f.Lookup(name))
	}
}

// Load reads Context back out of viper under prefix, mirroring BindFlags'
// key layout.
func Load(prefix string) *Context {
	key := func(name string) string { return prefix + "." + name }
	return &Context{
		Memory: TierConfig{
			MaxSize:        viper.GetInt64(key("memory-max-size")),
			MaxElements:    viper.GetInt(key("memory-max-elements")),
			Hysteresis:     viper.GetFloat64(key("memory-hysteresis")),
			EagerWriteback: viper.GetBool(key("memory-eager-writeback")),
		},
		LocalFile: TierConfig{
			MaxSize:        viper.GetInt64(key("local-file-max-size")),
			MaxElements:    viper.GetInt(key("local-file-max-elements")),
			Hysteresis:     viper.GetFloat64(key("local-file-hysteresis")),
			EagerWriteback: viper.GetBool(key("local-file-eager-writeback")),
		},
		RemoteCache: TierConfig{
			MaxSize:        viper.GetInt64(key("remote-cache-max-size")),
			MaxElements:    viper.GetInt(key("remote-cache-max-elements")),
			Hysteresis:     viper.GetFloat64(key("remote-cache-hysteresis")),
			EagerWriteback: viper.GetBool(key("remote-cache-eager-writeback")),
		},
		RemoteStore: TierConfig{
			MaxSize:     viper.GetInt64(key("remote-store-max-size")),
			MaxElements: viper.GetInt(key("remote-store-max-elements")),
		},

		LocalFileCachePath:  viper.GetString(key("local-file-cache-path")),
		LocalFileInitialise: viper.GetBool(key("local-file-initialise")),

		RemoteCacheContainer: viper.GetString(key("remote-cache-container")),
		RemoteStoreContainer: viper.GetString(key("remote-store-container")),
		Credentials:          viper.GetString(key("credentials")),
		URLLifetime:          viper.GetDuration(key("url-lifetime")),
		URLLifetimeSlack:     viper.GetDuration(key("url-lifetime-slack")),
		URLKey:               viper.GetString(key("url-key")),
		URLMethod:            viper.GetString(key("url-method")),
		InitialiseStore:      viper.GetBool(key("remote-initialise")),

		Thumbnail: ThumbnailPolicy{
			DefaultWidth:     viper.GetInt(key("thumbnail-default-width")),
			DefaultHeight:    viper.GetInt(key("thumbnail-default-height")),
			DefaultFormat:    viper.GetString(key("thumbnail-default-format")),
			Equalise:         viper.GetBool(key("thumbnail-equalise")),
			LiquidResize:     viper.GetBool(key("thumbnail-liquid-resize")),
			Sharpen:          viper.GetBool(key("thumbnail-sharpen")),
			LiquidCutinRatio: viper.GetFloat64(key("thumbnail-liquid-cutin-ratio")),
		},
		Name: NamePolicy{
			CanonicalFormatUsed: viper.GetBool(key("name-canonical-format-used")),
			CanonicalFormat:     viper.GetString(key("name-canonical-format")),
		},

		ErrorBudget: viper.GetInt64(key("error-budget")),
	}
}

// RepoOptions translates Context into repo.Options, leaving Backend,
// Store and Logger for the caller to fill in (they are collaborators
// config does not construct).
func (c *Context) RepoOptions() repo.Options {
	return repo.Options{
		Memory: repo.TierConfig{
			SizeMax:        c.Memory.MaxSize,
			CountMax:       c.Memory.MaxElements,
			Hysteresis:     c.Memory.Hysteresis,
			EagerWriteback: c.Memory.EagerWriteback,
		},
		LocalFile: repo.TierConfig{
			SizeMax:        c.LocalFile.MaxSize,
			CountMax:       c.LocalFile.MaxElements,
			Hysteresis:     c.LocalFile.Hysteresis,
			EagerWriteback: c.LocalFile.EagerWriteback,
		},
		RemoteCache: repo.TierConfig{
			SizeMax:        c.RemoteCache.MaxSize,
			CountMax:       c.RemoteCache.MaxElements,
			Hysteresis:     c.RemoteCache.Hysteresis,
			EagerWriteback: c.RemoteCache.EagerWriteback,
		},
		RemoteStore: repo.TierConfig{
			SizeMax:  c.RemoteStore.MaxSize,
			CountMax: c.RemoteStore.MaxElements,
		},

		LocalFileCachePath:  c.LocalFileCachePath,
		LocalFileInitialise: c.LocalFileInitialise,

		RemoteCacheContainer:  c.RemoteCacheContainer,
		RemoteCacheInitialise: c.InitialiseStore,
		RemoteStoreContainer:  c.RemoteStoreContainer,
		RemoteStoreInitialise: c.InitialiseStore,

		URLLifetime:      c.URLLifetime,
		URLLifetimeSlack: c.URLLifetimeSlack,
		URLKey:           c.URLKey,
		URLMethod:        objectstore.SignMethod(c.URLMethod),

		ThumbnailPolicy: artifact.ThumbnailPolicy{
			LiquidCutinRatio: c.Thumbnail.LiquidCutinRatio,
		},

		ErrorBudget: c.ErrorBudget,
	}
}
