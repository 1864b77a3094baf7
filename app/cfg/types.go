package cfg

import "time"

type Cfg struct {
	// Site configuration
	SiteDomain string
	HTTPS      bool
	SecretKey  string
	LangCode   string
	TimeZone   string
	SitesFile  string

	// Storage configuration
	DatabaseURL string
	EmailURL    string
	RedisURL    string
	MediaRoot   string
	MediaURL    string
	UseCDN      string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	// Reader configuration
	AllowDownloads bool
	MaxReleases    int
	MaxChapters    int
	MaxUploadSize  int64
	EnableV1API    bool

	// HTTP configuration
	Port          string
	ThrottleAnon  int
	GetTimeout    time.Duration
	UploadTimeout time.Duration

	// Background tasks
	WorkerCount       int
	SchedulerInterval int

	// Application metadata
	Debug   bool
	Version string
}

// BaseURL returns the absolute origin of the site, without a trailing slash.
func (c *Cfg) BaseURL() string {
	scheme := "http"
	if c.HTTPS {
		scheme = "https"
	}
	return scheme + "://" + c.SiteDomain
}

// Site is one entry of the sites file.
type Site struct {
	ID     int64  `yaml:"id"`
	Domain string `yaml:"domain"`
	Name   string `yaml:"name"`
}
