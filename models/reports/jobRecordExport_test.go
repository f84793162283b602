package reports

import (
	"bytes"
	"testing"
	"time"

	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/xuri/excelize/v2"
)

func TestWriteJobRecordsWorkbook(t *testing.T) {
	inv := "inv-1"
	done := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	records := []*models.JobRecord{
		{ID: "job-1", ProjectId: "P1", WorkerId: "W1", CompanyId: "C1", InvitationId: &inv,
			Status: models.JobRecordStatusCompleted, CreatedAt: done.Add(-time.Hour), CompleteTime: &done},
		{ID: "job-2", ProjectId: "P1", WorkerId: "W2", CompanyId: "C1",
			Status: models.JobRecordStatusAssigned, CreatedAt: done},
	}

	var buf bytes.Buffer
	if err := WriteJobRecordsWorkbook(&buf, records); err != nil {
		t.Fatalf("WriteJobRecordsWorkbook: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(JobRecordSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "JobId" || rows[0][5] != "Status" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "job-1" || rows[1][4] != "inv-1" || rows[1][5] != "completed" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[1][7] != done.Format(time.RFC3339) {
		t.Fatalf("expected complete time %s, got %q", done.Format(time.RFC3339), rows[1][7])
	}
	// Direct assignment has no invitation.
	if rows[2][4] != "" {
		t.Fatalf("expected empty invitation id, got %q", rows[2][4])
	}
}
