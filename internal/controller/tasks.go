package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"taskhub/internal/cache"
	"taskhub/internal/models"
	"taskhub/internal/repository"
	"taskhub/pkg/logger"
)

// ListTasks returns all tasks, due-soonest first (cache-first as raw bytes;
// concurrent misses collapse into one query).
func (ct *Controller) ListTasks(c *gin.Context) {
	ctx := c.Request.Context()
	if b, ok := cache.GetRawTasks(ctx); ok {
		c.Data(http.StatusOK, "application/json", b)
		return
	}
	v, err, _ := listGroup.Do("tasks", func() (interface{}, error) {
		tasks, err := ct.store.ListTasks(context.Background())
		if err != nil {
			return nil, err
		}
		if tasks == nil {
			tasks = []models.Task{}
		}
		return json.Marshal(gin.H{"tasks": tasks})
	})
	if err != nil {
		if ctx.Err() != nil || isContextErr(err) {
			return
		}
		logger.Error(ctx, "ListTasks repository failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get tasks"})
		return
	}
	b := v.([]byte)
	c.Data(http.StatusOK, "application/json", b)
	go cache.SetRawTasks(context.Background(), b)
}

// CreateTask adds a task and announces it to every connected client.
func (ct *Controller) CreateTask(c *gin.Context) {
	ctx := c.Request.Context()
	var body struct {
		Title          string  `json:"title"`
		AssignedUserID *string `json:"assigned_user_id"`
		DueDate        string  `json:"due_date"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title is required."})
		return
	}
	if body.AssignedUserID != nil && strings.TrimSpace(*body.AssignedUserID) == "" {
		body.AssignedUserID = nil
	}
	due, err := parseDueDate(body.DueDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid due date."})
		return
	}

	task, err := ct.store.CreateTask(ctx, title, body.AssignedUserID, due)
	if errors.Is(err, repository.ErrUnknownAssignee) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Assigned user not found."})
		return
	}
	if err != nil {
		logger.Error(ctx, "Create task failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task"})
		return
	}

	cache.InvalidateTasks(ctx)
	ct.hub.Broadcast(ctx, models.EventCreated, fmt.Sprintf("%q added", task.Title),
		map[string]any{"task_id": task.ID, "assigned_user_id": task.AssignedUserID})
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// UpdateTask applies a partial update. Fields absent from the body stay
// untouched; a null (or empty-string) assignee or due date clears it.
// Completion and assignment changes are announced; title and due date
// edits ride along on the next refetch.
func (ct *Controller) UpdateTask(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var patch repository.TaskPatch
	if v, ok := raw["title"]; ok && !isJSONNull(v) {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		s = strings.TrimSpace(s)
		patch.Title = &s
	}
	if v, ok := raw["completed"]; ok && !isJSONNull(v) {
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		patch.Completed = &b
	}
	if v, ok := raw["assigned_user_id"]; ok {
		patch.AssignSet = true
		if !isJSONNull(v) {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			if s = strings.TrimSpace(s); s != "" {
				patch.AssignedUserID = &s
			}
		}
	}
	if v, ok := raw["due_date"]; ok {
		patch.DueSet = true
		if !isJSONNull(v) {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			due, err := parseDueDate(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid due date."})
				return
			}
			patch.DueDate = due
		}
	}

	task, err := ct.store.UpdateTask(ctx, id, patch)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found."})
		return
	case errors.Is(err, repository.ErrUnknownAssignee):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Assigned user not found."})
		return
	case errors.Is(err, repository.ErrNothingToUpdate):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update."})
		return
	case err != nil:
		logger.Error(ctx, "Update task failed", "error", err, "task_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update task"})
		return
	}

	cache.InvalidateTasks(ctx)
	if patch.Completed != nil {
		kind, verb := models.EventReopened, "reopened"
		if *patch.Completed {
			kind, verb = models.EventCompleted, "completed"
		}
		ct.hub.Broadcast(ctx, kind, fmt.Sprintf("%q %s", task.Title, verb),
			map[string]any{"task_id": task.ID})
	}
	if patch.AssignSet {
		ct.hub.Broadcast(ctx, models.EventAssigned, fmt.Sprintf("%q assigned", task.Title),
			map[string]any{
				"task_id":           task.ID,
				"assigned_user_id":  task.AssignedUserID,
				"assigned_username": task.AssignedUsername,
			})
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// DeleteTask removes a task and announces the removal.
func (ct *Controller) DeleteTask(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	task, err := ct.store.DeleteTask(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found."})
		return
	}
	if err != nil {
		logger.Error(ctx, "Delete task failed", "error", err, "task_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete task"})
		return
	}

	cache.InvalidateTasks(ctx)
	ct.hub.Broadcast(ctx, models.EventDeleted, fmt.Sprintf("%q removed", task.Title),
		map[string]any{"task_id": task.ID})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func isJSONNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
