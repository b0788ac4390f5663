package app

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// phase names what a paused room was waiting on.
type phase int

const (
	phaseNone phase = iota
	phaseQuestion
	phaseResults
)

// roomTimers holds every scheduled callback of one room. Each field is armed
// by exactly one transition and cleared by the transition that supersedes it.
type roomTimers struct {
	countdown   clockwork.Timer
	question    clockwork.Timer
	results     clockwork.Timer
	closure     clockwork.Timer
	disconnects map[string]clockwork.Timer

	// deadline of whichever of question/results is pending, used to pause.
	deadline time.Time
}

func stopTimer(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (t *roomTimers) stopDisconnect(playerID string) {
	if timer, ok := t.disconnects[playerID]; ok {
		timer.Stop()
		delete(t.disconnects, playerID)
	}
}

// stopRound clears the question and results timers.
func (t *roomTimers) stopRound() {
	stopTimer(&t.question)
	stopTimer(&t.results)
	t.deadline = time.Time{}
}

// stopAll clears every timer of the room.
func (t *roomTimers) stopAll() {
	stopTimer(&t.countdown)
	t.stopRound()
	stopTimer(&t.closure)
	for id := range t.disconnects {
		t.stopDisconnect(id)
	}
}
