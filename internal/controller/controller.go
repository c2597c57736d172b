package controller

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"taskhub/internal/auth"
	"taskhub/internal/cache"
	"taskhub/internal/config"
	"taskhub/internal/database"
	"taskhub/internal/events"
	"taskhub/internal/models"
	"taskhub/internal/repository"
)

// listGroup collapses concurrent cache-miss list queries into one DB hit.
// After every broadcast all connected clients refetch both collections at
// once; without this the push channel turns each mutation into a stampede.
var listGroup singleflight.Group

// Controller carries the handlers' dependencies. One instance serves all
// requests.
type Controller struct {
	store *repository.Store
	hub   *events.Hub
}

func New(store *repository.Store, hub *events.Hub) *Controller {
	return &Controller{store: store, hub: hub}
}

// Health returns 200 if the process is alive. Used by load balancers.
func (ct *Controller) Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Ready returns 200 if the database (and Redis, when configured) is
// reachable. Used by K8s readiness probes.
func (ct *Controller) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	cfg := config.Get()
	if cfg.RedisURL != "" && cache.Client(ctx) == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
		return
	}
	db := database.DB(ctx)
	if db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
		return
	}
	if err := db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database ping failed"})
		return
	}
	c.String(http.StatusOK, "OK")
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// currentUser resolves the authenticated user set by the session
// middleware. A session whose account no longer exists is treated as
// unauthenticated and the cookie is dropped.
func (ct *Controller) currentUser(c *gin.Context) (models.User, bool) {
	uid := c.GetString("user_id")
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return models.User{}, false
	}
	u, err := ct.store.GetUser(c.Request.Context(), uid)
	if errors.Is(err, repository.ErrNotFound) {
		clearSession(c)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return models.User{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return models.User{}, false
	}
	return u, true
}

func setSession(c *gin.Context, userID string) (string, error) {
	cfg := config.Get()
	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	token, err := auth.MintSession(cfg.SecretKey, userID, ttl)
	if err != nil {
		return "", err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookie, token, int(ttl.Seconds()), "/", "", false, true)
	return token, nil
}

func clearSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookie, "", -1, "/", "", false, true)
}

// dueDateLayouts are accepted on task create/update, most specific first.
// Clients send RFC 3339; the two shorter forms keep curl and the datetime
// form inputs usable.
var dueDateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// parseDueDate turns a request value into a due timestamp. Empty means no
// due date; an unparseable value is an error rather than stored garbage.
func parseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errors.New("unrecognized due date format")
}
