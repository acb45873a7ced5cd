package executor

import (
	"time"

	"github.com/LPM-HMS/cosmos2/cosmos/signalbus"
)

func (l *Loop) publishTask(id, from, to string) {
	if l.Bus == nil {
		return
	}
	l.Bus.Publish(signalbus.Event{Type: signalbus.TaskStatusChanged, EntityID: id, OldStatus: from, NewStatus: to, OccurredAt: time.Now()})
}

func (l *Loop) publishStage(id, from, to string) {
	if l.Bus == nil {
		return
	}
	l.Bus.Publish(signalbus.Event{Type: signalbus.StageStatusChanged, EntityID: id, OldStatus: from, NewStatus: to, OccurredAt: time.Now()})
}

func (l *Loop) publishExecution(id, from, to string) {
	if l.Bus == nil {
		return
	}
	l.Bus.Publish(signalbus.Event{Type: signalbus.ExecutionStatusChanged, EntityID: id, OldStatus: from, NewStatus: to, OccurredAt: time.Now()})
}
