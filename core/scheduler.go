package core

// Timer represents a scheduled background event. Soft timers run in the
// cooperative background context, never from an interrupt.
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// ScheduleTimer adds a timer to the schedule
func ScheduleTimer(t *Timer) {
	state := DisableInterrupts()
	insertTimer(t)
	RestoreInterrupts(state)
}

// CancelTimer removes t from the schedule if it is queued
func CancelTimer(t *Timer) {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)

	if timerList == t {
		timerList = t.Next
		t.Next = nil
		return
	}
	for cur := timerList; cur != nil; cur = cur.Next {
		if cur.Next == t {
			cur.Next = t.Next
			t.Next = nil
			return
		}
	}
}

// ResetTimers drops every scheduled timer
func ResetTimers() {
	state := DisableInterrupts()
	timerList = nil
	RestoreInterrupts(state)
}

// insertTimer inserts a timer in sorted order by WakeTime.
// Wraparound-safe: compares the signed difference against currentTime.
func insertTimer(t *Timer) {
	if timerList == nil || before(t.WakeTime, timerList.WakeTime) {
		t.Next = timerList
		timerList = t
		return
	}

	current := timerList
	for current.Next != nil && !before(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

func before(a, b uint32) bool {
	return int32(a-b) < 0
}

// popDue unlinks the first timer that is due, or returns nil
func popDue() *Timer {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)

	if timerList == nil || before(currentTime, timerList.WakeTime) {
		return nil
	}
	t := timerList
	timerList = t.Next
	t.Next = nil
	return t
}

// TimerDispatch processes due timers. Handlers run with interrupts enabled;
// only the list manipulation is inside a critical section.
func TimerDispatch() {
	for {
		timer := popDue()
		if timer == nil {
			return
		}
		if timer.Handler(timer) == SF_RESCHEDULE {
			ScheduleTimer(timer)
		}
	}
}

// PendingTimers returns the number of scheduled timers
func PendingTimers() int {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)

	n := 0
	for cur := timerList; cur != nil; cur = cur.Next {
		n++
	}
	return n
}
