package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"aicompare/internal/gateway"
	"aicompare/internal/metrics"
	"aicompare/internal/models"
	"aicompare/internal/ratelimit"
	"aicompare/internal/service/account"
	"aicompare/internal/service/dispatch"
	"aicompare/internal/service/history"
	"aicompare/internal/session"
)

const recentQueryLimit = 10

// QueryRunner executes one prompt against the configured models. The dispatch
// service implements it; tests substitute a stub.
type QueryRunner interface {
	Run(ctx context.Context, identity models.Identity, rawQuery string) (*dispatch.Result, error)
}

// Handler wires the HTTP surface to the services behind it.
type Handler struct {
	accounts *account.Service
	sessions *session.Service
	history  *history.Service
	runner   QueryRunner
	limiter  *ratelimit.Limiter
	appTitle string
}

func NewHandler(accounts *account.Service, sessions *session.Service, hist *history.Service, runner QueryRunner, limiter *ratelimit.Limiter, appTitle string) *Handler {
	return &Handler{
		accounts: accounts,
		sessions: sessions,
		history:  hist,
		runner:   runner,
		limiter:  limiter,
		appTitle: appTitle,
	}
}

// RegisterRoutes attaches every route to the router and installs the
// embedded page templates.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(loadTemplates())

	router.GET("/", h.index)
	router.GET("/signup", h.signupPage)
	router.POST("/signup", h.signup)
	router.GET("/login", h.loginPage)
	router.POST("/login", h.login)
	router.GET("/logout", h.logout)

	authed := router.Group("/", session.RequireAuth())
	authed.GET("/profile", h.profilePage)
	authed.POST("/profile", h.updateProfile)

	router.POST("/query", h.rateLimit(), h.runQuery)
	router.GET("/query/:id", h.getQuery)

	router.GET("/instructions", h.staticPage("instructions.html"))
	router.GET("/about", h.staticPage("about.html"))
	router.GET("/roadmap", h.staticPage("roadmap.html"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	// Register the app metrics before the first scrape.
	metrics.Global()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (h *Handler) index(c *gin.Context) {
	data := gin.H{"Title": h.appTitle, "IsAuthenticated": false}
	if identity, ok := session.IdentityFromContext(c); ok {
		data["IsAuthenticated"] = true
		records, err := h.history.ListRecent(c.Request.Context(), identity.UserID, recentQueryLimit)
		if err != nil {
			log.Error().Err(err).Msg("list recent queries")
		} else {
			data["Queries"] = records
		}
	}
	c.HTML(http.StatusOK, "index.html", data)
}

func (h *Handler) signupPage(c *gin.Context) {
	if _, ok := session.IdentityFromContext(c); ok {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.HTML(http.StatusOK, "signup.html", gin.H{"Title": h.appTitle})
}

func (h *Handler) signup(c *gin.Context) {
	user, err := h.accounts.CreateUser(
		c.Request.Context(),
		c.PostForm("email"),
		c.PostForm("password"),
		c.PostForm("firstName"),
		c.PostForm("lastName"),
	)
	if err != nil {
		c.HTML(http.StatusOK, "signup.html", gin.H{
			"Title": h.appTitle,
			"Error": signupMessage(err),
		})
		return
	}
	h.startSession(c, user)
}

func (h *Handler) loginPage(c *gin.Context) {
	if _, ok := session.IdentityFromContext(c); ok {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.HTML(http.StatusOK, "login.html", gin.H{"Title": h.appTitle})
}

func (h *Handler) login(c *gin.Context) {
	user, err := h.accounts.VerifyLogin(c.Request.Context(), c.PostForm("email"), c.PostForm("password"))
	if err != nil {
		if !errors.Is(err, account.ErrInvalidCredentials) {
			log.Error().Err(err).Msg("verify login")
		}
		c.HTML(http.StatusOK, "login.html", gin.H{
			"Title": h.appTitle,
			"Error": "Invalid email or password",
		})
		return
	}
	h.startSession(c, user)
}

func (h *Handler) logout(c *gin.Context) {
	if cookieValue, err := c.Cookie(session.CookieName); err == nil && cookieValue != "" {
		if err := h.sessions.End(c.Request.Context(), cookieValue); err != nil {
			log.Error().Err(err).Msg("end session")
		}
	}
	h.setSessionCookie(c, "", -1)
	c.Redirect(http.StatusFound, "/login")
}

func (h *Handler) profilePage(c *gin.Context) {
	identity, _ := session.IdentityFromContext(c)
	user, err := h.accounts.GetUser(c.Request.Context(), identity.UserID)
	if err != nil {
		log.Error().Err(err).Msg("load profile")
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.HTML(http.StatusOK, "profile.html", gin.H{"Title": h.appTitle, "User": user})
}

func (h *Handler) updateProfile(c *gin.Context) {
	identity, _ := session.IdentityFromContext(c)
	upd := account.ProfileUpdate{
		Email:           c.PostForm("email"),
		FirstName:       c.PostForm("firstName"),
		LastName:        c.PostForm("lastName"),
		CurrentPassword: c.PostForm("currentPassword"),
		NewPassword:     c.PostForm("newPassword"),
	}

	user, err := h.accounts.UpdateProfile(c.Request.Context(), identity.UserID, upd)
	if err != nil {
		current, loadErr := h.accounts.GetUser(c.Request.Context(), identity.UserID)
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("load profile")
			c.Redirect(http.StatusFound, "/")
			return
		}
		c.HTML(http.StatusOK, "profile.html", gin.H{
			"Title": h.appTitle,
			"User":  current,
			"Error": profileMessage(err),
		})
		return
	}

	// The session row carries a snapshot of the identity; re-issue it so the
	// new name and email take effect immediately.
	if cookieValue, cookieErr := c.Cookie(session.CookieName); cookieErr == nil && cookieValue != "" {
		if err := h.sessions.End(c.Request.Context(), cookieValue); err != nil {
			log.Error().Err(err).Msg("end session")
		}
	}
	value, err := h.sessions.Start(c.Request.Context(), user)
	if err != nil {
		log.Error().Err(err).Msg("restart session")
		c.Redirect(http.StatusFound, "/login")
		return
	}
	h.setSessionCookie(c, value, int(h.sessions.TTL().Seconds()))

	c.HTML(http.StatusOK, "profile.html", gin.H{
		"Title":   h.appTitle,
		"User":    user,
		"Success": "Profile updated",
	})
}

func (h *Handler) runQuery(c *gin.Context) {
	var req struct {
		Query string `json:"query" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Query is required"})
		return
	}

	identity, _ := session.IdentityFromContext(c)
	result, err := h.runner.Run(c.Request.Context(), identity, req.Query)
	if err != nil {
		status, msg := queryErrorResponse(err)
		log.Error().Err(err).Int("status", status).Msg("query failed")
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"responses":  result.Responses,
		"comparison": result.Comparison,
	})
}

func (h *Handler) getQuery(c *gin.Context) {
	identity, ok := session.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authentication required"})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Query not found"})
		return
	}

	rec, err := h.history.GetByID(c.Request.Context(), identity.UserID, id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Query not found"})
			return
		}
		log.Error().Err(err).Msg("get query")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Something went wrong"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "query": rec})
}

func (h *Handler) staticPage(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, name, gin.H{"Title": h.appTitle})
	}
}

// startSession issues the session cookie and sends the user home.
func (h *Handler) startSession(c *gin.Context, user *models.User) {
	value, err := h.sessions.Start(c.Request.Context(), user)
	if err != nil {
		log.Error().Err(err).Msg("start session")
		c.HTML(http.StatusOK, "login.html", gin.H{
			"Title": h.appTitle,
			"Error": "Something went wrong, please try again",
		})
		return
	}
	h.setSessionCookie(c, value, int(h.sessions.TTL().Seconds()))
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(session.CookieName, value, maxAge, "/", "", gin.Mode() == gin.ReleaseMode, true)
}

func signupMessage(err error) string {
	if errors.Is(err, account.ErrDuplicateEmail) {
		return "An account with this email already exists"
	}
	return err.Error()
}

func profileMessage(err error) string {
	switch {
	case errors.Is(err, account.ErrWrongPassword):
		return "Current password is incorrect"
	case errors.Is(err, account.ErrDuplicateEmail):
		return "An account with this email already exists"
	default:
		return err.Error()
	}
}

// queryErrorResponse maps gateway failures to client-facing responses without
// leaking upstream detail.
func queryErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized, "The AI service rejected our credentials. Please contact the site operator."
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests, "The AI service is rate limiting requests. Please try again shortly."
	case errors.Is(err, gateway.ErrBadRequest):
		return http.StatusBadRequest, "The AI service could not process this query."
	default:
		return http.StatusInternalServerError, "Something went wrong processing your query."
	}
}
