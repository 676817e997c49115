package engine

import "github.com/petrijr/orchestra/pkg/api"

// event names a transition request.
type event string

const (
	evEnqueue  event = "enqueue"
	evStart    event = "start"
	evComplete event = "complete"
	evFail     event = "fail"
	evPause    event = "pause"
	evResume   event = "resume"
	evCancel   event = "cancel"
)

type transition struct {
	from api.State
	ev   event
}

// taskTransitions is the task state machine. Tasks never record paused or
// cancelled; they derive both from their process.
var taskTransitions = map[transition]api.State{
	{api.StateInitial, evEnqueue}:     api.StateEnqueued,
	{api.StateInitial, evStart}:       api.StateProcessing,
	{api.StateEnqueued, evStart}:      api.StateProcessing,
	{api.StateProcessing, evComplete}: api.StateCompleted,
	{api.StateProcessing, evFail}:     api.StateFailed,
}

// processTransitions extends the task machine with the administrative
// pause, resume and cancel events.
var processTransitions = map[transition]api.State{
	{api.StateInitial, evEnqueue}:     api.StateEnqueued,
	{api.StateInitial, evStart}:       api.StateProcessing,
	{api.StateEnqueued, evStart}:      api.StateProcessing,
	{api.StateProcessing, evComplete}: api.StateCompleted,
	{api.StateProcessing, evFail}:     api.StateFailed,
	{api.StatePaused, evFail}:         api.StateFailed,

	{api.StateInitial, evPause}:    api.StatePaused,
	{api.StateEnqueued, evPause}:   api.StatePaused,
	{api.StateProcessing, evPause}: api.StatePaused,
	{api.StatePaused, evResume}:    api.StateProcessing,

	{api.StateInitial, evCancel}:    api.StateCancelled,
	{api.StateEnqueued, evCancel}:   api.StateCancelled,
	{api.StateProcessing, evCancel}: api.StateCancelled,
	{api.StatePaused, evCancel}:     api.StateCancelled,
}

func lookup(table map[transition]api.State, from api.State, ev event) (api.State, bool) {
	to, ok := table[transition{from: from, ev: ev}]
	return to, ok
}

// stateRank orders states along the lifecycle. Hydrate uses it to refuse
// moving an entity backwards.
func stateRank(s api.State) int {
	switch s {
	case api.StateInitial:
		return 0
	case api.StateEnqueued:
		return 1
	case api.StateProcessing, api.StatePaused:
		return 2
	default:
		return 3
	}
}

func canHydrate(from, to api.State) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	return stateRank(to) >= stateRank(from)
}
