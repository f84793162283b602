package reports

import (
	"fmt"
	"io"
	"time"

	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/utils"
	"github.com/xuri/excelize/v2"
)

const JobRecordSheet = "JobRecords"

var jobRecordHeadings = []string{
	"JobId", "ProjectId", "WorkerId", "CompanyId", "InvitationId", "Status",
	"CreatedAt", "CompleteTime", "ConfirmTime", "PaidTime", "DisputeReason",
}

func jobRecordCellValues(job *models.JobRecord) []interface{} {
	return []interface{}{
		job.ID,
		job.ProjectId,
		job.WorkerId,
		job.CompanyId,
		utils.DereferencePtr(job.InvitationId, ""),
		string(job.Status),
		formatTime(&job.CreatedAt),
		formatTime(job.CompleteTime),
		formatTime(job.ConfirmTime),
		formatTime(job.PaidTime),
		utils.DereferencePtr(job.DisputeReason, ""),
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// WriteJobRecordsWorkbook writes one row per job record under a header row.
func WriteJobRecordsWorkbook(w io.Writer, records []*models.JobRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", JobRecordSheet); err != nil {
		return err
	}

	for col, h := range jobRecordHeadings {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(JobRecordSheet, cell, h); err != nil {
			return err
		}
	}

	for i, job := range records {
		for col, v := range jobRecordCellValues(job) {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(JobRecordSheet, cell, v); err != nil {
				return fmt.Errorf("job %s: %w", job.ID, err)
			}
		}
	}

	return f.Write(w)
}
