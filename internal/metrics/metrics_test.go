package metrics

import (
	"strings"
	"testing"
)

func TestRecordRequestAndExport(t *testing.T) {
	// Record a single request and ensure it appears in the export.
	RecordRequest("GET", "/v1/leads", 200, 42)

	out := Export()
	if !strings.Contains(out, "leadrelay_http_requests_total{method=\"GET\",path=\"/v1/leads\",status=\"200\"}") {
		t.Fatalf("expected HTTP request metric for GET /v1/leads in export, got:\n%s", out)
	}
	if !strings.Contains(out, "leadrelay_http_request_duration_ms_sum") || !strings.Contains(out, "leadrelay_http_request_duration_ms_count") {
		t.Fatalf("expected latency metrics headers in export, got:\n%s", out)
	}
}

func TestRecordIngestMetrics(t *testing.T) {
	RecordLeadIngested("meta", "accepted")
	RecordLeadIngested("meta", "duplicate")
	RecordLeadIngested("google", "rejected")

	out := Export()
	if !strings.Contains(out, "leadrelay_leads_ingested_total{source=\"meta\",outcome=\"accepted\"}") {
		t.Fatalf("expected accepted ingest metric for meta, got:\n%s", out)
	}
	if !strings.Contains(out, "leadrelay_leads_ingested_total{source=\"google\",outcome=\"rejected\"}") {
		t.Fatalf("expected rejected ingest metric for google, got:\n%s", out)
	}
}

func TestRecordJobMetrics(t *testing.T) {
	RecordJobClaimed("sheet_append")
	RecordJobCompleted("sheet_append")
	RecordJobRequeued("crm_push")
	RecordJobFailed("crm_push")
	RecordJobsReclaimed(2)
	RecordRetentionDeleted("jobs", 7)

	out := Export()
	for _, want := range []string{
		"leadrelay_jobs_claimed_total{type=\"sheet_append\"}",
		"leadrelay_jobs_completed_total{type=\"sheet_append\"}",
		"leadrelay_jobs_requeued_total{type=\"crm_push\"}",
		"leadrelay_jobs_failed_total{type=\"crm_push\"}",
		"leadrelay_jobs_reclaimed_total",
		"leadrelay_retention_deleted_total{table=\"jobs\"}",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in export, got:\n%s", want, out)
		}
	}
}
