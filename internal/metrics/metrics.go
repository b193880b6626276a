package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics, in-memory only. Scraped as text
// from GET /metrics.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	leadsIngested = make(map[ingestKey]int64)

	jobsClaimed   = make(map[string]int64)
	jobsCompleted = make(map[string]int64)
	jobsRequeued  = make(map[string]int64)
	jobsFailed    = make(map[string]int64)
	jobsReclaimed int64

	retentionDeleted = make(map[string]int64)
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type ingestKey struct {
	Source  string
	Outcome string
}

// RecordRequest increments the request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordLeadIngested counts one webhook ingestion by source and
// outcome (accepted, duplicate, rejected).
func RecordLeadIngested(source, outcome string) {
	mu.Lock()
	defer mu.Unlock()
	leadsIngested[ingestKey{Source: source, Outcome: outcome}]++
}

// RecordJobClaimed counts one successful claim by job type.
func RecordJobClaimed(jobType string) {
	mu.Lock()
	defer mu.Unlock()
	jobsClaimed[jobType]++
}

// RecordJobCompleted counts one completed delivery by job type.
func RecordJobCompleted(jobType string) {
	mu.Lock()
	defer mu.Unlock()
	jobsCompleted[jobType]++
}

// RecordJobRequeued counts one failed attempt that was scheduled for
// retry.
func RecordJobRequeued(jobType string) {
	mu.Lock()
	defer mu.Unlock()
	jobsRequeued[jobType]++
}

// RecordJobFailed counts one job reaching its terminal failed state.
func RecordJobFailed(jobType string) {
	mu.Lock()
	defer mu.Unlock()
	jobsFailed[jobType]++
}

// RecordJobsReclaimed counts jobs requeued after their processing
// lease expired.
func RecordJobsReclaimed(n int64) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	jobsReclaimed += n
}

// RecordRetentionDeleted counts rows deleted by TTL cleanup, keyed by
// table ("jobs" or "leads").
func RecordRetentionDeleted(table string, n int64) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionDeleted[table] += n
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP leadrelay_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE leadrelay_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		fmt.Fprintf(&b, "leadrelay_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP leadrelay_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE leadrelay_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP leadrelay_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE leadrelay_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "leadrelay_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "leadrelay_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP leadrelay_leads_ingested_total Webhook ingestions by source and outcome\n")
	b.WriteString("# TYPE leadrelay_leads_ingested_total counter\n")

	var ingestKeys []ingestKey
	for k := range leadsIngested {
		ingestKeys = append(ingestKeys, k)
	}
	sort.Slice(ingestKeys, func(i, j int) bool {
		if ingestKeys[i].Source != ingestKeys[j].Source {
			return ingestKeys[i].Source < ingestKeys[j].Source
		}
		return ingestKeys[i].Outcome < ingestKeys[j].Outcome
	})

	for _, k := range ingestKeys {
		fmt.Fprintf(&b, "leadrelay_leads_ingested_total{source=\"%s\",outcome=\"%s\"} %d\n",
			k.Source, k.Outcome, leadsIngested[k])
	}

	writeTyped := func(name, help string, m map[string]int64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
		var types []string
		for t := range m {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(&b, "%s{type=\"%s\"} %d\n", name, t, m[t])
		}
	}

	writeTyped("leadrelay_jobs_claimed_total", "Jobs claimed by workers", jobsClaimed)
	writeTyped("leadrelay_jobs_completed_total", "Jobs delivered successfully", jobsCompleted)
	writeTyped("leadrelay_jobs_requeued_total", "Failed attempts scheduled for retry", jobsRequeued)
	writeTyped("leadrelay_jobs_failed_total", "Jobs that exhausted their attempts", jobsFailed)

	b.WriteString("# HELP leadrelay_jobs_reclaimed_total Jobs requeued after lease expiry\n")
	b.WriteString("# TYPE leadrelay_jobs_reclaimed_total counter\n")
	fmt.Fprintf(&b, "leadrelay_jobs_reclaimed_total %d\n", jobsReclaimed)

	b.WriteString("# HELP leadrelay_retention_deleted_total Rows deleted by TTL cleanup\n")
	b.WriteString("# TYPE leadrelay_retention_deleted_total counter\n")
	var tables []string
	for t := range retentionDeleted {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Fprintf(&b, "leadrelay_retention_deleted_total{table=\"%s\"} %d\n", t, retentionDeleted[t])
	}

	return b.String()
}
