// Package preference decides whether a send to a known recipient is
// permitted right now. CanSend is a pure function of the stored
// preferences, the notification type, the channel, and the clock.
package preference

import (
	"time"

	"github.com/coverly/courier/internal/db"
)

// CanSend evaluates the recipient's preferences in order: explicit
// channel enablement, per-type opt-outs, then quiet hours. A recipient
// with no stored preferences is opted in to everything.
func CanSend(prefs *db.RecipientPreferences, typeCode, channel string, now time.Time) bool {
	if prefs == nil {
		return true
	}

	if len(prefs.Channels) > 0 && !contains(prefs.Channels, channel) {
		return false
	}

	if contains(prefs.OptOuts, typeCode) {
		return false
	}

	if inQuietHours(prefs.QuietHoursStart, prefs.QuietHoursEnd, now) {
		return false
	}

	return true
}

// inQuietHours checks whether the local time of day falls inside the
// configured window, boundaries inclusive. A window whose start is after
// its end wraps past midnight (e.g. 22:00-08:00 blocks late evening and
// early morning).
func inQuietHours(start, end string, now time.Time) bool {
	if start == "" || end == "" {
		return false
	}

	hhmm := now.Format("15:04")
	if start <= end {
		return start <= hhmm && hhmm <= end
	}
	return hhmm >= start || hhmm <= end
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
