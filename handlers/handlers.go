// Package handlers exposes the lifecycle engine over HTTP under /v1.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/shiftcrew/dispatch_backend/middlewares"
	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/workflow"
	"github.com/sirupsen/logrus"
)

const headerReplayed = "Idempotent-Replayed"

type Handler struct {
	Engine *workflow.Engine
	Logger *logrus.Logger
}

func New(engine *workflow.Engine, logger *logrus.Logger) *Handler {
	return &Handler{Engine: engine, Logger: logger}
}

// Register mounts every route. AuthMiddleware must run before these so the
// actor is on the context.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1", middlewares.RequireActor())

	company := middlewares.RequireActor(models.ActorRoleCompany)
	worker := middlewares.RequireActor(models.ActorRoleWorker)

	inv := v1.Group("/invitations")
	inv.POST("", company, h.createInvitation)
	inv.GET("", h.listInvitations)
	inv.GET("/:id", h.getInvitation)
	inv.GET("/:id/events", h.invitationEvents)
	inv.POST("/:id/respond", worker, h.respondInvitation)
	inv.POST("/:id/cancel", company, h.cancelInvitation)

	jobs := v1.Group("/job-records")
	jobs.POST("", company, h.createDirectJob)
	jobs.GET("", h.listJobRecords)
	jobs.GET("/:id", h.getJobRecord)
	jobs.GET("/:id/events", h.jobRecordEvents)
	jobs.POST("/:id/complete", worker, h.completeJob)
	jobs.POST("/:id/confirm", company, h.confirmJob)
	jobs.POST("/:id/pay", company, h.payJob)
	jobs.POST("/:id/dispute", h.disputeJob)

	v1.GET("/companies/:company_id/job-records/export", company, h.exportJobRecords)
}

func actor(c *gin.Context) models.Actor {
	a, _ := middlewares.ActorFromContext(c.Request.Context())
	return a
}
