package blob

import (
	"strings"
)

// Resolver turns blob paths into public URLs, optionally through a CDN.
type Resolver struct {
	mediaURL string
	domain   string
	cdn      string
}

func NewResolver(mediaURL, domain, cdn string) *Resolver {
	if !strings.HasSuffix(mediaURL, "/") {
		mediaURL += "/"
	}
	return &Resolver{mediaURL: mediaURL, domain: domain, cdn: cdn}
}

// URL returns the public URL of p. Empty paths stay empty.
func (r *Resolver) URL(p string) string {
	if p == "" {
		return ""
	}
	local := r.mediaURL + strings.TrimPrefix(p, "/")
	if strings.Contains(r.mediaURL, "://") {
		return local
	}

	switch r.cdn {
	case "statically":
		return "https://cdn.statically.io/img/" + r.domain + local
	case "photon":
		return "https://i0.wp.com/" + r.domain + local
	}
	return local
}

// Absolute returns URL(p) as an absolute URL using base for local paths.
func (r *Resolver) Absolute(base, p string) string {
	u := r.URL(p)
	if u == "" || strings.Contains(u, "://") {
		return u
	}
	return strings.TrimSuffix(base, "/") + u
}

// MediaURL returns the configured URL prefix for media.
func (r *Resolver) MediaURL() string {
	return r.mediaURL
}
