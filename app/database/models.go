package database

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var slugPattern = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)

// ValidSlug reports whether s can be used as a series slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

type Series struct {
	ID          int64
	Slug        string
	Title       string
	Description string
	Cover       string
	Status      string
	Kind        string
	Rating      float64
	Licensed    bool
	Format      string
	ManagerID   *int64
	Created     time.Time
	Modified    time.Time

	Authors    []Author
	Artists    []Artist
	Categories []Category
	Aliases    []string
}

// Completed reports whether the series is in a terminal state.
func (s *Series) Completed() bool {
	return s.Status == StatusCompleted || s.Status == StatusCanceled
}

type Chapter struct {
	ID        int64
	SeriesID  int64
	Title     string
	Number    float64
	Volume    *int64
	Final     bool
	Published time.Time
	Modified  time.Time
	Views     int64
	Cover     string

	Groups []Group
	// Series is set by queries that join the owning series.
	Series *Series
}

// VolumeKey returns the volume used in paths and URLs, 0 when there is none.
func (c *Chapter) VolumeKey() int64 {
	if c.Volume == nil {
		return 0
	}
	return *c.Volume
}

// NumberString formats the chapter number the way it appears in paths and titles.
func (c *Chapter) NumberString() string {
	return FormatNumber(c.Number)
}

// Name renders the chapter name using the series format template.
// Supported placeholders: {series}, {title}, {volume}, {number}, {date}.
func (c *Chapter) Name(format, seriesTitle string) string {
	if format == "" {
		format = DefaultChapterFormat
	}
	volume := ""
	if c.Volume != nil {
		volume = strconv.FormatInt(*c.Volume, 10)
	} else {
		format = strings.ReplaceAll(format, "Vol. {volume}, ", "")
	}
	r := strings.NewReplacer(
		"{series}", seriesTitle,
		"{title}", c.Title,
		"{volume}", volume,
		"{number}", c.NumberString(),
		"{date}", c.Published.Format("2006-01-02"),
	)
	name := r.Replace(format)
	if c.Title == "" {
		name = strings.TrimRight(name, " :-")
	}
	return strings.TrimSpace(name)
}

// IsPublished reports whether the chapter is visible to anonymous readers at now.
func (c *Chapter) IsPublished(now time.Time) bool {
	return !c.Published.After(now)
}

const DefaultChapterFormat = "Vol. {volume}, Ch. {number}: {title}"

// FormatNumber renders a chapter number with the shortest exact representation ("0", "0.5", "12").
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// NormalizeVolume maps volume 0 to nil; both mean "no volume".
func NormalizeVolume(v *int64) *int64 {
	if v == nil || *v == 0 {
		return nil
	}
	return v
}

type Page struct {
	ID        int64
	ChapterID int64
	Number    int
	Image     string
	Height    int
	Width     int
	Mime      string
	Position  string
	Spread    bool
}

type Group struct {
	ID          int64
	Name        string
	Website     string
	Description string
	Email       string
	Discord     string
	Twitter     string
	Reddit      string
	IRC         string
	Logo        string

	Members []Role
}

type Member struct {
	ID      int64
	Name    string
	Twitter string
	Discord string
	IRC     string
	Reddit  string
}

type Role struct {
	MemberID   int64
	MemberName string
	GroupID    int64
	Role       string
}

// Person is a credited author or artist.
type Person struct {
	ID      int64
	Name    string
	Aliases []string
}

type Author Person

type Artist Person

type Category struct {
	Name        string
	Description string
}

type Alias struct {
	ID       int64
	Kind     AliasKind
	ObjectID int64
	Name     string
}

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsStaff      bool
	IsSuperuser  bool
	IsScanlator  bool
	Created      time.Time
}

type UserProfile struct {
	ID     int64
	UserID int64
	Bio    string
	Avatar string
	Token  string
}

type APIKey struct {
	UserID  int64
	Key     string
	Created time.Time
}

type Bookmark struct {
	UserID   int64
	SeriesID int64
	Created  time.Time
}

type Redirect struct {
	ID      int64
	SiteID  int64
	OldPath string
	NewPath string
}

type Upload struct {
	ID        string
	ChapterID int64
	Path      string
	Size      int64
	Created   time.Time
}
