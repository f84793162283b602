package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/models/reports"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) createDirectJob(c *gin.Context) {
	var input models.NewDirectJob
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	job, err := h.Engine.Jobs.CreateDirect(c.Request.Context(), actor(c), &input)
	if err != nil {
		abortWithError(c, h.Logger, "createDirectJob", err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *Handler) getJobRecord(c *gin.Context) {
	job, err := h.Engine.Jobs.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		abortWithError(c, h.Logger, "getJobRecord", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) listJobRecords(c *gin.Context) {
	var filter models.JobRecordFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		bindError(c, err)
		return
	}
	page, err := h.Engine.Jobs.List(c.Request.Context(), actor(c), filter)
	if err != nil {
		abortWithError(c, h.Logger, "listJobRecords", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) jobRecordEvents(c *gin.Context) {
	events, err := h.Engine.Jobs.Events(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		abortWithError(c, h.Logger, "jobRecordEvents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}

type jobStep func(ctx context.Context, jobId string, a models.Actor) (*models.JobRecord, error)

func (h *Handler) advanceJob(c *gin.Context, funcName string, step jobStep) {
	job, err := step(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		abortWithError(c, h.Logger, funcName, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) completeJob(c *gin.Context) {
	h.advanceJob(c, "completeJob", h.Engine.Jobs.MarkComplete)
}

func (h *Handler) confirmJob(c *gin.Context) {
	h.advanceJob(c, "confirmJob", h.Engine.Jobs.Confirm)
}

func (h *Handler) payJob(c *gin.Context) {
	h.advanceJob(c, "payJob", h.Engine.Jobs.MarkPaid)
}

func (h *Handler) disputeJob(c *gin.Context) {
	var input models.NewDispute
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	h.advanceJob(c, "disputeJob", func(ctx context.Context, jobId string, a models.Actor) (*models.JobRecord, error) {
		return h.Engine.Jobs.Dispute(ctx, jobId, a, &input)
	})
}

func (h *Handler) exportJobRecords(c *gin.Context) {
	companyId := c.Param("company_id")
	status := models.JobRecordStatus(c.Query("status"))
	records, err := h.Engine.Jobs.ListAll(c.Request.Context(), actor(c), companyId, status)
	if err != nil {
		abortWithError(c, h.Logger, "exportJobRecords", err)
		return
	}

	var buf bytes.Buffer
	if err := reports.WriteJobRecordsWorkbook(&buf, records); err != nil {
		abortWithError(c, h.Logger, "exportJobRecords", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "job-records-"+companyId+".xlsx"))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
