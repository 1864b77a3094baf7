package cfg

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultSiteID is the id used when no sites file is configured.
const DefaultSiteID int64 = 1

type sitesFile struct {
	Sites []Site `yaml:"sites"`
}

// Sites keeps the list of sites served by this instance. The list can be
// reloaded from disk while requests are being served.
type Sites struct {
	path     string
	fallback Site
	sites    []Site
	mu       sync.RWMutex
}

func NewSites(path, domain string) *Sites {
	return &Sites{
		path:     path,
		fallback: Site{ID: DefaultSiteID, Domain: domain, Name: domain},
	}
}

// Load reads the sites file. A missing path leaves only the fallback site.
func (s *Sites) Load() error {
	if s.path == "" {
		s.set(nil)
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.set(nil)
			return nil
		}
		return fmt.Errorf("failed to read sites file: %w", err)
	}

	var parsed sitesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse sites file: %w", err)
	}

	if err := validateSites(parsed.Sites); err != nil {
		return fmt.Errorf("invalid sites file %s: %w", s.path, err)
	}

	s.set(parsed.Sites)
	slog.Debug("Sites loaded", "path", s.path, "count", len(parsed.Sites))

	return nil
}

func (s *Sites) set(sites []Site) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites = sites
}

// All returns the configured sites, or the fallback site when none are configured.
func (s *Sites) All() []Site {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.sites) == 0 {
		return []Site{s.fallback}
	}
	sitesCopy := make([]Site, len(s.sites))
	copy(sitesCopy, s.sites)
	return sitesCopy
}

// ForHost returns the site whose domain matches host, or the first site.
func (s *Sites) ForHost(host string) Site {
	all := s.All()
	for _, site := range all {
		if strings.EqualFold(site.Domain, host) {
			return site
		}
	}
	return all[0]
}

// Path returns the sites file path.
func (s *Sites) Path() string {
	return s.path
}

func validateSites(sites []Site) error {
	seen := make(map[int64]bool, len(sites))
	for i, site := range sites {
		if site.ID <= 0 {
			return fmt.Errorf("site at index %d must have a positive id", i)
		}
		if site.Domain == "" {
			return fmt.Errorf("site at index %d must have a domain", i)
		}
		if seen[site.ID] {
			return fmt.Errorf("duplicate site id %d", site.ID)
		}
		seen[site.ID] = true
	}
	return nil
}

// IDs returns the ids of all configured sites.
func (s *Sites) IDs() []int64 {
	all := s.All()
	ids := make([]int64, len(all))
	for i, site := range all {
		ids[i] = site.ID
	}
	return ids
}
