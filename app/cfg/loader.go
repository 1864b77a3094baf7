package cfg

import (
	"cmp"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Site configuration
	SiteDomain string `long:"site-domain" env:"SITE_DOMAIN" default:"localhost:8080" description:"Public domain of the site"`
	HTTPS      bool   `long:"https" env:"HTTPS" description:"Generate https:// absolute URLs"`
	SecretKey  string `long:"secret-key" env:"SECRET_KEY" description:"Secret used for sessions, cache signatures and feed tokens (required)" required:"true"`
	LangCode   string `long:"lang-code" env:"LANG_CODE" default:"en-us" description:"Default language code"`
	TimeZone   string `long:"time-zone" env:"TIME_ZONE" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Europe/Athens)"`
	SitesFile  string `long:"sites-file" env:"SITES_FILE" description:"YAML file listing the sites served by this instance"`

	// Storage configuration
	DatabaseURL string `long:"database-url" env:"DATABASE_URL" default:"sqlite:///db.sqlite3" description:"Database URL (sqlite:///path or a plain file path)"`
	EmailURL    string `long:"email-url" env:"EMAIL_URL" default:"console://" description:"Email transport URL"`
	RedisURL    string `long:"redis-url" env:"REDIS_URL" description:"Redis URL for cache and throttling (in-memory when empty)"`
	MediaRoot   string `long:"media-root" env:"MEDIA_ROOT" default:"./media" description:"Directory holding uploaded media"`
	MediaURL    string `long:"media-url" env:"MEDIA_URL" default:"/media/" description:"URL prefix for media files"`
	UseCDN      string `long:"use-cdn" env:"USE_CDN" description:"CDN used to rewrite media URLs (statically, photon)"`
	S3Endpoint  string `long:"s3-endpoint" env:"S3_ENDPOINT" description:"Object store endpoint; media is stored on disk when empty"`
	S3AccessKey string `long:"s3-access-key" env:"S3_ACCESS_KEY" description:"Object store access key"`
	S3SecretKey string `long:"s3-secret-key" env:"S3_SECRET_KEY" description:"Object store secret key"`
	S3Bucket    string `long:"s3-bucket" env:"S3_BUCKET" default:"media" description:"Object store bucket"`
	S3UseSSL    bool   `long:"s3-use-ssl" env:"S3_USE_SSL" description:"Use TLS for the object store"`

	// Reader configuration
	AllowDownloads bool  `long:"allow-dls" env:"ALLOW_DLS" description:"Allow chapter downloads as CBZ"`
	MaxReleases    int   `long:"max-releases" env:"MAX_RELEASES" default:"20" description:"Maximum number of items in feeds"`
	MaxChapters    int   `long:"max-chapters" env:"MAX_CHAPTERS" default:"0" description:"Maximum number of chapters listed per series (0 = all)"`
	MaxUploadSize  int64 `long:"max-upload-size" env:"MAX_UPLOAD_SIZE" default:"104857600" description:"Maximum chapter archive size in bytes"`
	EnableV1API    bool  `long:"enable-v1-api" env:"ENABLE_V1_API" description:"Serve the deprecated v1 API"`

	// HTTP configuration
	Port          string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	ThrottleAnon  int    `long:"throttle-anon" env:"THROTTLE_ANON" default:"100" description:"Requests per minute allowed for anonymous clients"`
	GetTimeout    int    `long:"get-timeout" env:"GET_TIMEOUT" default:"30" description:"Deadline for read requests in seconds"`
	UploadTimeout int    `long:"upload-timeout" env:"UPLOAD_TIMEOUT" default:"300" description:"Deadline for write requests in seconds"`

	// Background tasks
	WorkerCount       int `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers"`
	SchedulerInterval int `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Scheduler interval in seconds"`

	Debug bool `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// Load parses flags and environment variables into the global configuration.
// It returns nil, nil when help was requested.
func Load() (*Cfg, error) {
	return LoadArgs(nil)
}

// LoadArgs is Load with an explicit argument list; nil means os.Args.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := fromRaw(raw)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.TimeZone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.TimeZone, "error", err)
	}

	globalCfg = cfg

	return cfg, nil
}

func fromRaw(raw rawCfg) *Cfg {
	mediaURL := raw.MediaURL
	if !strings.HasSuffix(mediaURL, "/") {
		mediaURL += "/"
	}

	return &Cfg{
		SiteDomain:        raw.SiteDomain,
		HTTPS:             raw.HTTPS,
		SecretKey:         raw.SecretKey,
		LangCode:          raw.LangCode,
		TimeZone:          raw.TimeZone,
		SitesFile:         raw.SitesFile,
		DatabaseURL:       raw.DatabaseURL,
		EmailURL:          raw.EmailURL,
		RedisURL:          raw.RedisURL,
		MediaRoot:         raw.MediaRoot,
		MediaURL:          mediaURL,
		UseCDN:            strings.ToLower(raw.UseCDN),
		S3Endpoint:        raw.S3Endpoint,
		S3AccessKey:       raw.S3AccessKey,
		S3SecretKey:       raw.S3SecretKey,
		S3Bucket:          raw.S3Bucket,
		S3UseSSL:          raw.S3UseSSL,
		AllowDownloads:    raw.AllowDownloads,
		MaxReleases:       raw.MaxReleases,
		MaxChapters:       raw.MaxChapters,
		MaxUploadSize:     raw.MaxUploadSize,
		EnableV1API:       raw.EnableV1API,
		Port:              raw.Port,
		ThrottleAnon:      raw.ThrottleAnon,
		GetTimeout:        time.Duration(raw.GetTimeout) * time.Second,
		UploadTimeout:     time.Duration(raw.UploadTimeout) * time.Second,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}
}

func (c *Cfg) validate() error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return fmt.Errorf("secret key is required")
	}
	if c.MaxReleases < 1 {
		return fmt.Errorf("max releases must be at least 1")
	}
	if c.MaxChapters < 0 {
		return fmt.Errorf("max chapters must be non-negative")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	switch c.UseCDN {
	case "", "statically", "photon":
	default:
		return fmt.Errorf("unsupported CDN: %s", c.UseCDN)
	}
	return nil
}

// Set replaces the global configuration. Intended for tests and tools
// that build a Cfg by hand.
func Set(c *Cfg) {
	globalCfg = c
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			slog.Debug("Timezone configured", "timezone", timezone)
		}
	}
	return nil
}
