package ticket

import (
	"errors"
	"strings"
	"time"

	"github.com/Smadaqk5/hotspotconfig/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrTicketNotFound is a lookup miss; webhook paths log and ignore it,
	// direct queries map it to 404.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrDeviceMismatch rejects activation of a used ticket from a second
	// device.
	ErrDeviceMismatch = errors.New("ticket already bound to another device")

	// ErrTicketNotUsable covers expired and cancelled tickets.
	ErrTicketNotUsable = errors.New("ticket is expired or cancelled")
)

// Lifecycle governs voucher state transitions. Every transition locks the
// ticket row first; the state machine only ever moves forward.
type Lifecycle struct {
	db *gorm.DB
}

func NewLifecycle(db *gorm.DB) *Lifecycle {
	return &Lifecycle{db: db}
}

// Activate handles a network attach for a voucher code. Activating an
// already-used ticket from the same device is a no-op; a different device is
// rejected. For time-based plans sold without a preset expiry the window
// starts counting here.
func (l *Lifecycle) Activate(code, deviceMAC string, now time.Time) (*models.Ticket, error) {
	mac := normalizeMAC(deviceMAC)
	var out models.Ticket

	err := l.db.Transaction(func(tx *gorm.DB) error {
		var t models.Ticket
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ?", code).First(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTicketNotFound
		}
		if err != nil {
			return err
		}

		switch decideActivation(&t, mac, now) {
		case activationNoop:
			out = t
			return nil
		case activationDeviceMismatch:
			return ErrDeviceMismatch
		case activationNotUsable:
			if !t.IsTerminal() {
				// Past expiry but the sweep has not caught it yet;
				// expire in place.
				if err := tx.Model(&t).Update("status", models.TicketStatusExpired).Error; err != nil {
					return err
				}
			}
			return ErrTicketNotUsable
		}

		updates := map[string]interface{}{
			"status":       models.TicketStatusUsed,
			"device_mac":   mac,
			"activated_at": now,
		}
		if t.ExpiresAt == nil {
			var plan models.Plan
			if err := tx.First(&plan, t.PlanID).Error; err != nil {
				return err
			}
			if plan.IsTimeBased() && plan.DurationMinutes > 0 {
				updates["expires_at"] = now.Add(plan.Duration())
			}
		}
		if err := tx.Model(&t).Updates(updates).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", t.ID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordUsage applies monotonic usage increments under the row lock and
// writes the clamped counters and any forced expiry in a single UPDATE.
func (l *Lifecycle) RecordUsage(ticketID string, seconds, megabytes int64, now time.Time) (*models.Ticket, error) {
	_ = now
	if seconds < 0 || megabytes < 0 {
		return nil, errors.New("usage increments must be non-negative")
	}

	var out models.Ticket
	err := l.db.Transaction(func(tx *gorm.DB) error {
		var t models.Ticket
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", ticketID).First(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTicketNotFound
		}
		if err != nil {
			return err
		}
		if t.IsTerminal() {
			return ErrTicketNotUsable
		}

		var plan models.Plan
		if err := tx.First(&plan, t.PlanID).Error; err != nil {
			return err
		}

		result := applyUsage(&t, &plan, seconds, megabytes)
		if err := tx.Model(&t).Updates(map[string]interface{}{
			"time_used_seconds": result.TimeUsedSeconds,
			"data_used_mb":      result.DataUsedMB,
			"status":            result.Status,
		}).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", t.ID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel is the explicit administrative transition. Terminal tickets are left
// alone.
func (l *Lifecycle) Cancel(ticketID string) error {
	res := l.db.Model(&models.Ticket{}).
		Where("id = ? AND status IN ?", ticketID, []string{models.TicketStatusActive, models.TicketStatusUsed}).
		Update("status", models.TicketStatusCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := l.db.Model(&models.Ticket{}).Where("id = ?", ticketID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrTicketNotFound
		}
		return ErrTicketNotUsable
	}
	return nil
}

// FindByCode looks a voucher up for display.
func (l *Lifecycle) FindByCode(code string) (*models.Ticket, error) {
	var t models.Ticket
	err := l.db.Where("code = ?", code).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SweepExpired moves every ticket past its wall-clock expiry to expired.
// Only forward transitions; safe to run concurrently with activations since
// the UPDATE is conditional on the current status.
func (l *Lifecycle) SweepExpired(now time.Time) (int64, error) {
	res := l.db.Model(&models.Ticket{}).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at < ?",
			[]string{models.TicketStatusActive, models.TicketStatusUsed}, now).
		Update("status", models.TicketStatusExpired)
	return res.RowsAffected, res.Error
}

func normalizeMAC(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}
