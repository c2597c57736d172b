package routes

import (
	"github.com/gin-gonic/gin"

	"taskhub/internal/controller"
	"taskhub/internal/middleware"
)

func Router(ct *controller.Controller) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLog())

	// Health for load balancers and K8s probes
	router.GET("/health", ct.Health)
	router.GET("/ready", ct.Ready)

	// Public: no session required
	auth := router.Group("/auth")
	{
		auth.POST("/register", ct.Register)
		auth.POST("/login", ct.Login)
		auth.POST("/logout", ct.Logout)
	}

	// Protected: session required
	api := router.Group("/api")
	api.Use(middleware.SessionAuth())
	{
		api.GET("/me", ct.Me)
		api.GET("/users", ct.ListUsers)
		api.DELETE("/users/:id", ct.DeleteUser)
		api.GET("/tasks", ct.ListTasks)
		api.POST("/tasks", ct.CreateTask)
		api.PATCH("/tasks/:id", ct.UpdateTask)
		api.DELETE("/tasks/:id", ct.DeleteTask)
		api.GET("/events", ct.Events)
	}

	return router
}
