package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shiftcrew/dispatch_backend/models"
)

func (h *Handler) createInvitation(c *gin.Context) {
	var input models.NewInvitation
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	inv, err := h.Engine.Invitations.Create(c.Request.Context(), actor(c), &input)
	if err != nil {
		abortWithError(c, h.Logger, "createInvitation", err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *Handler) respondInvitation(c *gin.Context) {
	var input models.InvitationResponse
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	res, err := h.Engine.Invitations.Respond(c.Request.Context(), c.Param("id"), actor(c), &input)
	if err != nil {
		abortWithError(c, h.Logger, "respondInvitation", err)
		return
	}
	if res.Replayed {
		c.Header(headerReplayed, "true")
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) cancelInvitation(c *gin.Context) {
	inv, err := h.Engine.Invitations.Cancel(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		abortWithError(c, h.Logger, "cancelInvitation", err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *Handler) getInvitation(c *gin.Context) {
	inv, err := h.Engine.Invitations.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		abortWithError(c, h.Logger, "getInvitation", err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *Handler) listInvitations(c *gin.Context) {
	var filter models.InvitationFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		bindError(c, err)
		return
	}
	page, err := h.Engine.Invitations.List(c.Request.Context(), actor(c), filter)
	if err != nil {
		abortWithError(c, h.Logger, "listInvitations", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) invitationEvents(c *gin.Context) {
	events, err := h.Engine.Invitations.Events(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		abortWithError(c, h.Logger, "invitationEvents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}
