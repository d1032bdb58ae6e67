package session

import "testing"

func TestHideTimerWanted(t *testing.T) {
	tests := []struct {
		name    string
		phase   Phase
		err     bool
		visible bool
		want    bool
	}{
		{"playing_visible", PhasePlaying, false, true, true},
		{"playing_hidden", PhasePlaying, false, false, false},
		{"playing_with_error", PhasePlaying, true, true, false},
		{"paused", PhasePaused, false, true, false},
		{"buffering", PhaseBuffering, false, true, false},
		{"ready", PhaseReady, false, true, false},
		{"error", PhaseError, true, true, false},
		{"idle", PhaseIdle, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hideTimerWanted(tt.phase, tt.err, tt.visible); got != tt.want {
				t.Errorf("hideTimerWanted(%s, %v, %v) = %v, want %v", tt.phase, tt.err, tt.visible, got, tt.want)
			}
		})
	}
}
