package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/halcyonai/agentstore/pkg/tenant"
)

// summaryScanLimit bounds how many recent audit entries a summary reads. The
// audit log has no time index, so older entries fall out of the summary once
// the log outgrows this window.
const summaryScanLimit = 1000

const topEntries = 10

// FrequencyCount pairs a name with how often it appeared.
type FrequencyCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summary aggregates usage over a time window.
type Summary struct {
	OrganizationID       string           `json:"organization_id"`
	TeamID               string           `json:"team_id,omitempty"`
	Start                time.Time        `json:"start"`
	End                  time.Time        `json:"end"`
	TotalEvents          int              `json:"total_events"`
	SuccessfulEvents     int              `json:"successful_events"`
	FailedEvents         int              `json:"failed_events"`
	DeniedEvents         int              `json:"denied_events"`
	TopUsers             []FrequencyCount `json:"top_users"`
	TopOperations        []FrequencyCount `json:"top_operations"`
	TotalBytesUploaded   int64            `json:"total_bytes_uploaded"`
	TotalBytesDownloaded int64            `json:"total_bytes_downloaded"`
}

// GetUsageSummary aggregates recent audit entries for an organization within
// [start, end], optionally restricted to one team. Upload bytes come from
// upload and dataset-create events, download bytes from download events.
func (t *Tracker) GetUsageSummary(ctx context.Context, orgID, teamID string, start, end time.Time) (*Summary, error) {
	entries, err := t.store.GetAuditLogs(ctx, orgID, summaryScanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entries for summary: %w", err)
	}

	summary := &Summary{
		OrganizationID: orgID,
		TeamID:         teamID,
		Start:          start,
		End:            end,
	}
	userCounts := make(map[string]int)
	operationCounts := make(map[string]int)

	for _, entry := range entries {
		if entry.Timestamp.Before(start) || entry.Timestamp.After(end) {
			continue
		}
		if teamID != "" && entry.TeamID != teamID {
			continue
		}

		summary.TotalEvents++
		switch entry.Result {
		case tenant.AuditResultSuccess:
			summary.SuccessfulEvents++
		case tenant.AuditResultDenied:
			summary.DeniedEvents++
		default:
			summary.FailedEvents++
		}
		if entry.UserID != "" {
			userCounts[entry.UserID]++
		}
		operationCounts[entry.Action]++

		size := sizeBytesOf(entry.Metadata)
		switch entry.Action {
		case OpUpload, OpDatasetCreate:
			summary.TotalBytesUploaded += size
		case OpDownload:
			summary.TotalBytesDownloaded += size
		}
	}

	summary.TopUsers = topCounts(userCounts)
	summary.TopOperations = topCounts(operationCounts)
	return summary, nil
}

// sizeBytesOf reads the size_bytes metadata value. Entries loaded back from
// JSON carry numbers as float64.
func sizeBytesOf(metadata map[string]interface{}) int64 {
	raw, ok := metadata["size_bytes"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func topCounts(counts map[string]int) []FrequencyCount {
	out := make([]FrequencyCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, FrequencyCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > topEntries {
		out = out[:topEntries]
	}
	return out
}
