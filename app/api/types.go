package api

import (
	"strconv"
	"time"

	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/reconcile"
)

// SeriesView is the JSON representation of a series.
type SeriesView struct {
	ID          int64         `json:"id"`
	Slug        string        `json:"slug"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Cover       string        `json:"cover,omitempty"`
	Status      string        `json:"status"`
	Kind        string        `json:"kind"`
	Rating      float64       `json:"rating"`
	Licensed    bool          `json:"licensed"`
	URL         string        `json:"url"`
	Authors     []string      `json:"authors"`
	Artists     []string      `json:"artists"`
	Categories  []string      `json:"categories"`
	Aliases     []string      `json:"aliases"`
	Created     time.Time     `json:"created"`
	Modified    time.Time     `json:"modified"`
	Chapters    []ChapterView `json:"chapters,omitempty"`
}

type GroupRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type ChapterView struct {
	ID        int64      `json:"id"`
	Series    string     `json:"series"`
	Title     string     `json:"title"`
	Name      string     `json:"full_title"`
	Number    float64    `json:"number"`
	Volume    *int64     `json:"volume"`
	Final     bool       `json:"final"`
	Published time.Time  `json:"published"`
	Modified  time.Time  `json:"modified"`
	Views     int64      `json:"views"`
	URL       string     `json:"url"`
	Cover     string     `json:"cover,omitempty"`
	Download  string     `json:"download,omitempty"`
	Groups    []GroupRef `json:"groups"`
}

type PageView struct {
	ID      int64  `json:"id"`
	Chapter int64  `json:"chapter"`
	Number  int    `json:"number"`
	Image   string `json:"image"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Type    string `json:"type"`
	Spread  bool   `json:"spread"`
}

type RoleView struct {
	Member string `json:"member"`
	Role   string `json:"role"`
}

type GroupView struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Website     string     `json:"website,omitempty"`
	Description string     `json:"description,omitempty"`
	Discord     string     `json:"discord,omitempty"`
	Twitter     string     `json:"twitter,omitempty"`
	Reddit      string     `json:"reddit,omitempty"`
	IRC         string     `json:"irc,omitempty"`
	Logo        string     `json:"logo,omitempty"`
	Members     []RoleView `json:"members"`
}

type PersonView struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

type CategoryView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type UserView struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	Staff     bool   `json:"staff"`
	Scanlator bool   `json:"scanlator"`
}

type ProfileView struct {
	Username string `json:"username"`
	Bio      string `json:"bio"`
	Avatar   string `json:"avatar,omitempty"`
}

// PageList is a paginated response.
type PageList[T any] struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Last    bool `json:"last"`
	Results []T  `json:"results"`
}

func (h *Handler) seriesView(s *database.Series) SeriesView {
	v := SeriesView{
		ID:          s.ID,
		Slug:        s.Slug,
		Title:       s.Title,
		Description: s.Description,
		Cover:       h.URLs.URL(s.Cover),
		Status:      s.Status,
		Kind:        s.Kind,
		Rating:      s.Rating,
		Licensed:    s.Licensed,
		URL:         reconcile.SeriesPath(s.Slug),
		Authors:     []string{},
		Artists:     []string{},
		Categories:  []string{},
		Aliases:     s.Aliases,
		Created:     s.Created,
		Modified:    s.Modified,
	}
	for _, a := range s.Authors {
		v.Authors = append(v.Authors, a.Name)
	}
	for _, a := range s.Artists {
		v.Artists = append(v.Artists, a.Name)
	}
	for _, c := range s.Categories {
		v.Categories = append(v.Categories, c.Name)
	}
	if v.Aliases == nil {
		v.Aliases = []string{}
	}
	return v
}

func (h *Handler) chapterView(c *database.Chapter) ChapterView {
	v := ChapterView{
		ID:        c.ID,
		Title:     c.Title,
		Number:    c.Number,
		Volume:    c.Volume,
		Final:     c.Final,
		Published: c.Published,
		Modified:  c.Modified,
		Views:     c.Views,
		Cover:     h.URLs.URL(c.Cover),
		Groups:    []GroupRef{},
	}
	if c.Series != nil {
		v.Series = c.Series.Slug
		v.Name = c.Name(c.Series.Format, c.Series.Title)
		v.URL = reconcile.ChapterPath(c.Series.Slug, c.VolumeKey(), c.NumberString())
		if h.Config.AllowDownloads {
			v.Download = downloadPath(c)
		}
	}
	for _, g := range c.Groups {
		v.Groups = append(v.Groups, GroupRef{ID: g.ID, Name: g.Name})
	}
	return v
}

func downloadPath(c *database.Chapter) string {
	return "/reader/" + c.Series.Slug + "/" + strconv.FormatInt(c.VolumeKey(), 10) + "/" + c.NumberString() + ".cbz"
}

func (h *Handler) pageView(p *database.Page) PageView {
	return PageView{
		ID:      p.ID,
		Chapter: p.ChapterID,
		Number:  p.Number,
		Image:   h.URLs.URL(p.Image),
		Width:   p.Width,
		Height:  p.Height,
		Type:    p.Mime,
		Spread:  p.Spread,
	}
}

func (h *Handler) groupView(g *database.Group) GroupView {
	v := GroupView{
		ID:          g.ID,
		Name:        g.Name,
		Website:     g.Website,
		Description: g.Description,
		Discord:     g.Discord,
		Twitter:     g.Twitter,
		Reddit:      g.Reddit,
		IRC:         g.IRC,
		Logo:        h.URLs.URL(g.Logo),
		Members:     []RoleView{},
	}
	for _, r := range g.Members {
		v.Members = append(v.Members, RoleView{Member: r.MemberName, Role: r.Role})
	}
	return v
}

func personView(p database.Person) PersonView {
	v := PersonView{ID: p.ID, Name: p.Name, Aliases: p.Aliases}
	if v.Aliases == nil {
		v.Aliases = []string{}
	}
	return v
}

func userView(u *database.User) UserView {
	return UserView{ID: u.ID, Username: u.Username, Email: u.Email, Staff: u.IsStaff || u.IsSuperuser, Scanlator: u.IsScanlator}
}
