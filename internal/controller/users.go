package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"taskhub/internal/cache"
	"taskhub/internal/models"
	"taskhub/internal/repository"
	"taskhub/pkg/logger"
)

// ListUsers returns every account, oldest first (cache-first as raw bytes;
// concurrent misses collapse into one query).
func (ct *Controller) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()
	if b, ok := cache.GetRawUsers(ctx); ok {
		c.Data(http.StatusOK, "application/json", b)
		return
	}
	v, err, _ := listGroup.Do("users", func() (interface{}, error) {
		users, err := ct.store.ListUsers(context.Background())
		if err != nil {
			return nil, err
		}
		if users == nil {
			users = []models.User{}
		}
		return json.Marshal(gin.H{"users": users})
	})
	if err != nil {
		if ctx.Err() != nil || isContextErr(err) {
			return
		}
		logger.Error(ctx, "ListUsers repository failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get users"})
		return
	}
	b := v.([]byte)
	c.Data(http.StatusOK, "application/json", b)
	go cache.SetRawUsers(context.Background(), b)
}

// DeleteUser removes an account. Their tasks stay, unassigned. Admins can
// remove anyone; everyone else only themselves. Deleting yourself also ends
// your session.
func (ct *Controller) DeleteUser(c *gin.Context) {
	ctx := c.Request.Context()
	caller, ok := ct.currentUser(c)
	if !ok {
		return
	}
	targetID := c.Param("id")
	if !caller.IsAdmin && caller.ID != targetID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin privileges required."})
		return
	}

	deleted, err := ct.store.DeleteUser(ctx, targetID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found."})
		return
	}
	if err != nil {
		logger.Error(ctx, "Delete user failed", "error", err, "user_id", targetID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}

	if caller.ID == targetID {
		clearSession(c)
	}
	cache.InvalidateUsers(ctx)
	cache.InvalidateTasks(ctx) // their tasks just lost an assignee
	ct.hub.Broadcast(ctx, models.EventUserDeleted,
		fmt.Sprintf("User %q removed", deleted.Username),
		map[string]any{"user_id": deleted.ID})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
