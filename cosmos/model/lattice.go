package model

// StageLUB computes a Stage's status as the least upper bound of its
// child Tasks' statuses, per spec §4.6:
//
//   - any running, none failed            -> running
//   - any running and any failed          -> running_but_failed
//   - all successful                      -> successful
//   - none running, any failed+must_succeed -> failed
//   - all killed                          -> killed
//
// A task that is `failed` with must_succeed=false is not counted as a
// "failed" task for this lattice: it is treated as successful for
// dependency and status-propagation purposes (spec §4.6 "Failure
// propagation").
func StageLUB(tasks []*Task) StageStatus {
	if len(tasks) == 0 {
		return StageNoAttempt
	}

	var (
		anyRunning       bool
		anyFailedMust    bool
		allSuccessful    = true
		allKilled        = true
		allTerminalOrNA  = true
		anyAttempted     bool
	)

	for _, t := range tasks {
		effective := effectiveStatus(t)

		if effective != TaskSuccessful {
			allSuccessful = false
		}
		if effective != TaskKilled {
			allKilled = false
		}

		switch t.Status {
		case TaskWaiting, TaskSubmitted:
			anyRunning = true
			anyAttempted = true
			allTerminalOrNA = false
		case TaskFailed:
			anyAttempted = true
			if t.MustSucceed {
				anyFailedMust = true
			}
		case TaskSuccessful, TaskKilled:
			anyAttempted = true
		case TaskNoAttempt:
			allTerminalOrNA = allTerminalOrNA && true
		}
	}

	if !anyAttempted {
		return StageNoAttempt
	}
	if allSuccessful {
		return StageSuccessful
	}
	if allKilled {
		return StageKilled
	}
	if anyRunning && anyFailedMust {
		return StageRunningButFailed
	}
	if anyRunning {
		return StageRunning
	}
	if !anyRunning && anyFailedMust && allTerminalOrNA {
		return StageFailed
	}
	if anyFailedMust {
		return StageFailed
	}
	return StageRunning
}

// effectiveStatus treats a must_succeed=false failed Task as successful,
// matching spec §4.6's dependency-resolution rule.
func effectiveStatus(t *Task) TaskStatus {
	if t.Status == TaskFailed && !t.MustSucceed {
		return TaskSuccessful
	}
	return t.Status
}

// ExecutionLUB mirrors the Stage lattice one level up, with
// running_but_failed renamed to failed_but_running.
func ExecutionLUB(stages []*Stage) ExecutionStatus {
	if len(stages) == 0 {
		return ExecutionNoAttempt
	}

	var (
		anyRunning      bool
		anyFailed       bool
		allSuccessful   = true
		allKilled       = true
		anyAttempted    bool
	)

	for _, s := range stages {
		if s.Status != StageSuccessful {
			allSuccessful = false
		}
		if s.Status != StageKilled {
			allKilled = false
		}
		switch s.Status {
		case StageRunning, StageRunningButFailed:
			anyRunning = true
			anyAttempted = true
		case StageFailed:
			anyAttempted = true
			anyFailed = true
		case StageSuccessful, StageKilled:
			anyAttempted = true
		}
	}

	if !anyAttempted {
		return ExecutionNoAttempt
	}
	if allSuccessful {
		return ExecutionSuccessful
	}
	if allKilled {
		return ExecutionKilled
	}
	if anyRunning && anyFailed {
		return ExecutionFailedButRunning
	}
	if anyRunning {
		return ExecutionRunning
	}
	if anyFailed {
		return ExecutionFailed
	}
	return ExecutionRunning
}
