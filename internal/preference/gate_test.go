package preference

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coverly/courier/internal/db"
)

func at(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", "2026-03-10 "+hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCanSendNoPreferences(t *testing.T) {
	if !CanSend(nil, "policy_renewal_7d", db.ChannelEmail, at("12:00")) {
		t.Error("nil preferences should default to opt-in")
	}
}

func TestCanSendChannelEnablement(t *testing.T) {
	prefs := &db.RecipientPreferences{
		RecipientID: uuid.New(),
		Channels:    []string{db.ChannelEmail, db.ChannelChat},
	}

	if CanSend(prefs, "policy_renewal_7d", db.ChannelText, at("12:00")) {
		t.Error("text excluded from channel set should be blocked")
	}
	if !CanSend(prefs, "policy_renewal_7d", db.ChannelEmail, at("12:00")) {
		t.Error("email in channel set should be allowed")
	}
}

// Channel exclusion wins regardless of opt-outs or quiet hours.
func TestCanSendChannelExclusionIsAbsolute(t *testing.T) {
	prefs := &db.RecipientPreferences{
		RecipientID:     uuid.New(),
		Channels:        []string{db.ChannelEmail},
		OptOuts:         []string{"marketing"},
		QuietHoursStart: "00:00",
		QuietHoursEnd:   "23:59",
	}

	for _, hhmm := range []string{"00:00", "08:30", "12:00", "23:59"} {
		if CanSend(prefs, "policy_renewal_7d", db.ChannelText, at(hhmm)) {
			t.Errorf("text should be blocked at %s when channels exclude it", hhmm)
		}
	}
}

func TestCanSendOptOut(t *testing.T) {
	prefs := &db.RecipientPreferences{
		RecipientID: uuid.New(),
		OptOuts:     []string{"marketing", "quote_followup"},
	}

	if CanSend(prefs, "quote_followup", db.ChannelEmail, at("12:00")) {
		t.Error("opted-out type should be blocked")
	}
	if !CanSend(prefs, "claim_update", db.ChannelEmail, at("12:00")) {
		t.Error("non-opted-out type should be allowed")
	}
}

func TestCanSendQuietHours(t *testing.T) {
	prefs := &db.RecipientPreferences{
		RecipientID:     uuid.New(),
		QuietHoursStart: "09:00",
		QuietHoursEnd:   "17:00",
	}

	tests := []struct {
		time string
		want bool
	}{
		{"10:00", false}, // inside the window
		{"20:00", true},  // outside
		{"09:00", false}, // start boundary is inclusive
		{"17:00", false}, // end boundary is inclusive
		{"08:59", true},
		{"17:01", true},
	}

	for _, tt := range tests {
		t.Run(tt.time, func(t *testing.T) {
			if got := CanSend(prefs, "claim_update", db.ChannelEmail, at(tt.time)); got != tt.want {
				t.Errorf("CanSend at %s = %v, want %v", tt.time, got, tt.want)
			}
		})
	}
}

func TestCanSendWrappingQuietHours(t *testing.T) {
	prefs := &db.RecipientPreferences{
		RecipientID:     uuid.New(),
		QuietHoursStart: "22:00",
		QuietHoursEnd:   "08:00",
	}

	tests := []struct {
		time string
		want bool
	}{
		{"23:00", false}, // late evening is inside the wrapped window
		{"03:00", false}, // early morning is inside
		{"08:00", false}, // end boundary inclusive
		{"22:00", false}, // start boundary inclusive
		{"12:00", true},
		{"21:59", true},
		{"08:01", true},
	}

	for _, tt := range tests {
		t.Run(tt.time, func(t *testing.T) {
			if got := CanSend(prefs, "claim_update", db.ChannelEmail, at(tt.time)); got != tt.want {
				t.Errorf("CanSend at %s = %v, want %v", tt.time, got, tt.want)
			}
		})
	}
}

func TestCanSendNoQuietHoursConfigured(t *testing.T) {
	prefs := &db.RecipientPreferences{RecipientID: uuid.New()}

	if !CanSend(prefs, "claim_update", db.ChannelEmail, at("03:00")) {
		t.Error("no quiet hours configured should allow any time")
	}
}
