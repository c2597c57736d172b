package controller

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"taskhub/internal/auth"
	"taskhub/internal/cache"
	"taskhub/internal/models"
	"taskhub/internal/repository"
	"taskhub/pkg/logger"
)

// credentials binds both form posts (the web login) and JSON bodies (API
// clients).
type credentials struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Register creates an account and signs it in. The first account ever
// created becomes the admin. The session token is set as a cookie and
// echoed in the body for clients that authenticate with the
// Authorization header instead.
func (ct *Controller) Register(c *gin.Context) {
	ctx := c.Request.Context()
	var creds credentials
	if err := c.ShouldBind(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	creds.Username = strings.TrimSpace(creds.Username)
	if len(creds.Username) < 3 || len(creds.Password) < 4 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username or password too short."})
		return
	}

	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		logger.Error(ctx, "Password hash failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register"})
		return
	}

	user, err := ct.store.CreateUser(ctx, creds.Username, hash)
	if errors.Is(err, repository.ErrUsernameTaken) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username already taken."})
		return
	}
	if err != nil {
		logger.Error(ctx, "Create user failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register"})
		return
	}

	token, err := setSession(c, user.ID)
	if err != nil {
		logger.Error(ctx, "Mint session failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register"})
		return
	}
	cache.InvalidateUsers(ctx)
	// New accounts must reach the assignee pickers of everyone already
	// connected.
	ct.hub.Broadcast(ctx, models.EventInfo, fmt.Sprintf("User %q joined", user.Username),
		map[string]any{"user_id": user.ID})
	logger.Info(ctx, "User registered", "user_id", user.ID, "username", user.Username, "is_admin", user.IsAdmin)
	c.JSON(http.StatusOK, gin.H{"user": user, "token": token})
}

// Login verifies credentials and issues a session.
func (ct *Controller) Login(c *gin.Context) {
	ctx := c.Request.Context()
	var creds credentials
	if err := c.ShouldBind(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	creds.Username = strings.TrimSpace(creds.Username)

	user, err := ct.store.GetUserByUsername(ctx, creds.Username)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !auth.CheckPassword(user.PasswordHash, creds.Password)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid credentials."})
		return
	}
	if err != nil {
		logger.Error(ctx, "Login lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log in"})
		return
	}

	token, err := setSession(c, user.ID)
	if err != nil {
		logger.Error(ctx, "Mint session failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log in"})
		return
	}
	logger.Info(ctx, "User logged in", "user_id", user.ID, "username", user.Username)
	c.JSON(http.StatusOK, gin.H{"user": user, "token": token})
}

// Logout drops the session cookie.
func (ct *Controller) Logout(c *gin.Context) {
	clearSession(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Me returns the authenticated user.
func (ct *Controller) Me(c *gin.Context) {
	user, ok := ct.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
