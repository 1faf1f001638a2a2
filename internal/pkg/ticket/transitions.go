package ticket

import (
	"time"

	"github.com/Smadaqk5/hotspotconfig/app/models"
)

// usageResult is the outcome of applying one usage increment.
type usageResult struct {
	TimeUsedSeconds int64
	DataUsedMB      int64
	Status          string
}

// applyUsage computes the post-increment counters and status. Counters are
// monotonic; the increment that reaches the plan limit clamps to the limit
// and forces expired.
func applyUsage(t *models.Ticket, plan *models.Plan, seconds, megabytes int64) usageResult {
	out := usageResult{
		TimeUsedSeconds: t.TimeUsedSeconds + seconds,
		DataUsedMB:      t.DataUsedMB + megabytes,
		Status:          t.Status,
	}

	switch {
	case plan.Kind == models.PlanKindData && plan.DataLimitMB > 0 && out.DataUsedMB >= int64(plan.DataLimitMB):
		out.DataUsedMB = int64(plan.DataLimitMB)
		out.Status = models.TicketStatusExpired
	case plan.IsTimeBased() && plan.DurationMinutes > 0 && out.TimeUsedSeconds >= int64(plan.DurationMinutes)*60:
		out.TimeUsedSeconds = int64(plan.DurationMinutes) * 60
		out.Status = models.TicketStatusExpired
	}
	return out
}

// activationDecision describes what Activate should do with a ticket.
type activationDecision int

const (
	activationApply activationDecision = iota
	activationNoop
	activationDeviceMismatch
	activationNotUsable
)

// decideActivation evaluates the activation state machine: active tickets
// transition to used, re-activation from the bound device is a no-op, a
// second device is rejected, and terminal or time-expired tickets are
// unusable.
func decideActivation(t *models.Ticket, mac string, now time.Time) activationDecision {
	if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
		return activationNotUsable
	}
	switch t.Status {
	case models.TicketStatusActive:
		return activationApply
	case models.TicketStatusUsed:
		if t.DeviceMAC == mac {
			return activationNoop
		}
		return activationDeviceMismatch
	default:
		return activationNotUsable
	}
}
