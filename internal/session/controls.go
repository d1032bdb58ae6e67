package session

import "time"

// DefaultHideDelay is how long controls stay visible while playing.
const DefaultHideDelay = 3 * time.Second

// hideTimerWanted reports whether the auto-hide timer should be running.
// It is derived from state alone and can be recomputed at any time.
func hideTimerWanted(phase Phase, errorPresent, controlsVisible bool) bool {
	return phase == PhasePlaying && !errorPresent && controlsVisible
}

// syncControls reconciles the hide timer with the state after a mutation.
// prev is the playback phase before the mutation; interacted is set when the
// user touched the controls, which stops a running timer and starts it again
// with the full delay.
func (o *Orchestrator) syncControls(prev Phase) {
	cur := o.playback.State()
	interacted := o.interacted
	o.interacted = false

	if cur.Phase != prev && (cur.Phase == PhasePlaying || cur.IsError()) {
		o.controlsVisible = true
	}

	if prev == PhasePlaying && cur.Phase != PhasePlaying {
		o.controlsVisible = true
		o.stopHideTimer()
		o.emit(Event{Kind: EventStopControlsTimer})
		return
	}

	want := hideTimerWanted(cur.Phase, cur.IsError(), o.controlsVisible)
	switch {
	case want && o.timerArmed && interacted:
		// interaction cancels the running countdown and starts a fresh one
		o.stopHideTimer()
		o.emit(Event{Kind: EventStopControlsTimer})
		o.armHideTimer()
		o.emit(Event{Kind: EventStartControlsTimer, Delay: o.opts.HideDelay})
	case want && !o.timerArmed:
		o.armHideTimer()
		o.emit(Event{Kind: EventStartControlsTimer, Delay: o.opts.HideDelay})
	case !want && o.timerArmed:
		o.stopHideTimer()
		o.emit(Event{Kind: EventStopControlsTimer})
	}
}

func (o *Orchestrator) armHideTimer() {
	o.stopHideTimer()
	o.hideSeq++
	seq := o.hideSeq
	o.hideTimer = time.AfterFunc(o.opts.HideDelay, func() {
		o.schedule(func() { o.onHideTimer(seq) })
	})
	o.timerArmed = true
}

func (o *Orchestrator) stopHideTimer() {
	if o.hideTimer != nil {
		o.hideTimer.Stop()
		o.hideTimer = nil
	}
	o.timerArmed = false
}

// onHideTimer hides the controls unless a comment load is in flight, in which
// case the timer is silently re-armed.
func (o *Orchestrator) onHideTimer(seq uint64) {
	if seq != o.hideSeq || !o.timerArmed {
		return
	}
	if o.feed.Busy() {
		o.hideTimer = time.AfterFunc(o.opts.HideDelay, func() {
			o.schedule(func() { o.onHideTimer(seq) })
		})
		return
	}
	o.hideTimer = nil
	o.timerArmed = false
	o.controlsVisible = false
}
