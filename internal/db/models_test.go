package db

import "testing"

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		name    string
		current string
		next    string
		want    bool
	}{
		{"pending_to_sent", StatusPending, StatusSent, true},
		{"sent_to_delivered", StatusSent, StatusDelivered, true},
		{"delivered_to_read", StatusDelivered, StatusRead, true},
		{"pending_to_delivered", StatusPending, StatusDelivered, true},
		{"pending_to_read", StatusPending, StatusRead, true},
		{"read_to_delivered", StatusRead, StatusDelivered, false},
		{"delivered_to_sent", StatusDelivered, StatusSent, false},
		{"delivered_to_delivered", StatusDelivered, StatusDelivered, false},
		{"read_to_read", StatusRead, StatusRead, false},
		{"failed_to_delivered", StatusFailed, StatusDelivered, true},
		{"failed_to_sent", StatusFailed, StatusSent, false},
		{"unknown_current", "bogus", StatusSent, false},
		{"unknown_next", StatusPending, "bogus", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanAdvance(tt.current, tt.next); got != tt.want {
				t.Errorf("CanAdvance(%s, %s) = %v, want %v", tt.current, tt.next, got, tt.want)
			}
		})
	}
}

func TestCanFail(t *testing.T) {
	tests := []struct {
		current string
		want    bool
	}{
		{StatusPending, true},
		{StatusSent, true},
		{StatusDelivered, false},
		{StatusRead, false},
		{StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.current, func(t *testing.T) {
			if got := CanFail(tt.current); got != tt.want {
				t.Errorf("CanFail(%s) = %v, want %v", tt.current, got, tt.want)
			}
		})
	}
}

func TestIsTerminalSuccess(t *testing.T) {
	if IsTerminalSuccess(StatusSent) {
		t.Error("sent is not a terminal success")
	}
	if !IsTerminalSuccess(StatusDelivered) || !IsTerminalSuccess(StatusRead) {
		t.Error("delivered and read are terminal successes")
	}
}

func TestValidChannel(t *testing.T) {
	for _, ch := range []string{ChannelChat, ChannelEmail, ChannelText, ChannelPush} {
		if !ValidChannel(ch) {
			t.Errorf("ValidChannel(%s) = false, want true", ch)
		}
	}
	if ValidChannel("carrier_pigeon") {
		t.Error("ValidChannel(carrier_pigeon) = true, want false")
	}
}
