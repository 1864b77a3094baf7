package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/manga-reader/app/auth"
	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/cache"
	"github.com/lysyi3m/manga-reader/app/database"
)

type peopleRepo func(database.Querier) *database.PeopleRepository

func (h *Handler) ListPeople(repo peopleRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		people, err := repo(h.DB).List(c.Request.Context(), c.Query("name"))
		if err != nil {
			h.fail(c, err)
			return
		}
		views := make([]PersonView, 0, len(people))
		for _, p := range people {
			views = append(views, personView(p))
		}
		c.JSON(http.StatusOK, views)
	}
}

func (h *Handler) GetPerson(repo peopleRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			h.fail(c, err)
			return
		}
		p, err := repo(h.DB).Get(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, personView(*p))
	}
}

// PersonInput is the body of author and artist create requests.
type PersonInput struct {
	Name    string   `json:"name" binding:"required"`
	Aliases []string `json:"aliases"`
}

func (h *Handler) CreatePerson(repo peopleRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in PersonInput
		if err := c.ShouldBindJSON(&in); err != nil {
			h.fail(c, BadRequest(err.Error()))
			return
		}
		p := &database.Person{Name: strings.TrimSpace(in.Name)}
		ctx := c.Request.Context()
		people := repo(h.DB)
		if err := people.Create(ctx, p); err != nil {
			h.fail(c, err)
			return
		}
		if len(in.Aliases) > 0 {
			if err := database.NewAliasRepository(h.DB).Set(ctx, people.Kind(), p.ID, in.Aliases); err != nil {
				h.fail(c, err)
				return
			}
		}
		created, err := people.Get(ctx, p.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, personView(*created))
	}
}

func (h *Handler) ListCategories(c *gin.Context) {
	categories, err := database.NewCategoryRepository(h.DB).List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	views := make([]CategoryView, 0, len(categories))
	for _, cat := range categories {
		views = append(views, CategoryView{Name: cat.Name, Description: cat.Description})
	}
	c.JSON(http.StatusOK, views)
}

// GroupInput is the body of group create and update requests.
type GroupInput struct {
	Name        *string `json:"name"`
	Website     *string `json:"website"`
	Description *string `json:"description"`
	Email       *string `json:"email"`
	Discord     *string `json:"discord"`
	Twitter     *string `json:"twitter"`
	Reddit      *string `json:"reddit"`
	IRC         *string `json:"irc"`
}

func (in GroupInput) apply(g *database.Group) error {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&g.Name, in.Name)
	set(&g.Website, in.Website)
	set(&g.Description, in.Description)
	set(&g.Email, in.Email)
	set(&g.Discord, in.Discord)
	set(&g.Twitter, in.Twitter)
	set(&g.Reddit, in.Reddit)
	set(&g.IRC, in.IRC)
	if g.Name == "" {
		return BadRequest("name is required")
	}
	return nil
}

func (h *Handler) ListGroups(c *gin.Context) {
	groups, err := database.NewGroupRepository(h.DB).List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	views := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, h.groupView(g))
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) loadGroup(ctx context.Context, id int64) (*GroupView, error) {
	return cache.Remember(ctx, h.Cache, cache.GroupKey(id), readerTTL, func(ctx context.Context) (*GroupView, error) {
		repo := database.NewGroupRepository(h.DB)
		g, err := repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if g.Members, err = repo.Roles(ctx, id); err != nil {
			return nil, err
		}
		v := h.groupView(g)
		return &v, nil
	})
}

func (h *Handler) GetGroup(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	view, err := h.loadGroup(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) CreateGroup(c *gin.Context) {
	var in GroupInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, BadRequest(err.Error()))
		return
	}
	g := &database.Group{}
	if err := in.apply(g); err != nil {
		h.fail(c, err)
		return
	}
	if err := database.NewGroupRepository(h.DB).Create(c.Request.Context(), g); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.groupView(g))
}

func (h *Handler) UpdateGroup(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var in GroupInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, BadRequest(err.Error()))
		return
	}

	ctx := c.Request.Context()
	repo := database.NewGroupRepository(h.DB)
	g, err := repo.Get(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := in.apply(g); err != nil {
		h.fail(c, err)
		return
	}
	if err := repo.Update(ctx, g); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Cache.GroupChanged(ctx, id); err != nil {
		h.fail(c, err)
		return
	}

	view, err := h.loadGroup(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) UploadGroupLogo(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	repo := database.NewGroupRepository(h.DB)
	g, err := repo.Get(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}

	logo, err := h.putImage(c, func(ext string) string { return blob.GroupLogoPath(id, ext) })
	if err != nil {
		h.fail(c, err)
		return
	}
	previous := g.Logo
	g.Logo = logo
	if err := repo.Update(ctx, g); err != nil {
		h.fail(c, err)
		return
	}
	if previous != "" && previous != logo {
		_ = h.Blobs.Delete(ctx, previous)
	}
	if err := h.Cache.GroupChanged(ctx, id); err != nil {
		h.fail(c, err)
		return
	}

	view, err := h.loadGroup(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) ListBookmarks(c *gin.Context) {
	series, err := database.NewSeriesRepository(h.DB).BookmarkedBy(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	views := make([]SeriesView, 0, len(series))
	for _, s := range series {
		views = append(views, h.seriesView(s))
	}
	c.JSON(http.StatusOK, views)
}

// BookmarkInput names the series to bookmark.
type BookmarkInput struct {
	Series string `json:"series" binding:"required"`
}

func (h *Handler) AddBookmark(c *gin.Context) {
	var in BookmarkInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, BadRequest(err.Error()))
		return
	}
	h.changeBookmark(c, in.Series, http.StatusCreated, func(ctx context.Context, repo *database.BookmarkRepository, userID, seriesID int64) error {
		return repo.Add(ctx, userID, seriesID)
	})
}

func (h *Handler) RemoveBookmark(c *gin.Context) {
	h.changeBookmark(c, c.Param("slug"), http.StatusNoContent, func(ctx context.Context, repo *database.BookmarkRepository, userID, seriesID int64) error {
		return repo.Remove(ctx, userID, seriesID)
	})
}

func (h *Handler) changeBookmark(c *gin.Context, slug string, status int,
	change func(context.Context, *database.BookmarkRepository, int64, int64) error) {
	ctx := c.Request.Context()
	user := currentUser(c)
	s, err := database.NewSeriesRepository(h.DB).GetBySlug(ctx, slug)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := change(ctx, database.NewBookmarkRepository(h.DB), user.ID, s.ID); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Cache.BookmarksChanged(ctx, user.ID); err != nil {
		h.fail(c, err)
		return
	}
	if status == http.StatusNoContent {
		c.Status(status)
		return
	}
	c.JSON(status, h.seriesView(s))
}

// GetToken returns the feed token and API key of the caller.
func (h *Handler) GetToken(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)
	users := database.NewUserRepository(h.DB)
	profile, err := users.Profile(ctx, user.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	key, err := users.APIKey(ctx, user.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.tokenBody(c, profile.Token, key.Key))
}

func (h *Handler) tokenBody(c *gin.Context, token, apiKey string) gin.H {
	return gin.H{
		"token":    token,
		"api_key":  apiKey,
		"feed_url": h.baseURL(c) + "/user/bookmarks.atom?token=" + token,
	}
}

// RotateToken replaces the feed token, or the API key when kind is "api".
func (h *Handler) RotateToken(c *gin.Context) {
	var in struct {
		Kind string `json:"kind"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			h.fail(c, BadRequest(err.Error()))
			return
		}
	}

	ctx := c.Request.Context()
	user := currentUser(c)
	switch in.Kind {
	case "", "feed":
		if _, err := h.Auth.RotateFeedToken(ctx, user); err != nil {
			h.fail(c, err)
			return
		}
		if err := h.Cache.BookmarksChanged(ctx, user.ID); err != nil {
			h.fail(c, err)
			return
		}
	case "api":
		if _, err := h.Auth.RotateAPIKey(ctx, user); err != nil {
			h.fail(c, err)
			return
		}
	default:
		h.fail(c, BadRequest("invalid kind: "+in.Kind))
		return
	}
	h.GetToken(c)
}

func (h *Handler) GetProfile(c *gin.Context) {
	user := currentUser(c)
	profile, err := database.NewUserRepository(h.DB).Profile(c.Request.Context(), user.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ProfileView{Username: user.Username, Bio: profile.Bio, Avatar: h.URLs.URL(profile.Avatar)})
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var in struct {
		Bio *string `json:"bio"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, BadRequest(err.Error()))
		return
	}

	ctx := c.Request.Context()
	users := database.NewUserRepository(h.DB)
	profile, err := users.Profile(ctx, currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if in.Bio != nil {
		profile.Bio = *in.Bio
	}
	if err := users.UpdateProfile(ctx, profile); err != nil {
		h.fail(c, err)
		return
	}
	h.GetProfile(c)
}

func (h *Handler) UploadAvatar(c *gin.Context) {
	ctx := c.Request.Context()
	users := database.NewUserRepository(h.DB)
	profile, err := users.Profile(ctx, currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}

	avatar, err := h.putImage(c, func(ext string) string { return blob.AvatarPath(profile.ID, ext) })
	if err != nil {
		h.fail(c, err)
		return
	}
	previous := profile.Avatar
	profile.Avatar = avatar
	if err := users.UpdateProfile(ctx, profile); err != nil {
		h.fail(c, err)
		return
	}
	if previous != "" && previous != avatar {
		_ = h.Blobs.Delete(ctx, previous)
	}
	h.GetProfile(c)
}

// LoginInput is the body of login requests.
type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login checks a username and password and sets the session cookie.
func (h *Handler) Login(c *gin.Context) {
	var in LoginInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, BadRequest(err.Error()))
		return
	}
	user, err := h.Auth.Login(c.Request.Context(), in.Username, in.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	token, expires, err := h.Auth.Sessions().Sign(user.ID, user.Username)
	if err != nil {
		h.fail(c, err)
		return
	}
	maxAge := int(h.Auth.Sessions().Duration().Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookie, token, maxAge, "/", "", h.Config.HTTPS, true)
	c.JSON(http.StatusOK, gin.H{"user": userView(user), "expires": expires})
}

func (h *Handler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookie, "", -1, "/", "", h.Config.HTTPS, true)
	c.Status(http.StatusNoContent)
}
