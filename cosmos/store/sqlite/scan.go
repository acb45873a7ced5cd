package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
)

// row is satisfied by both *sql.Row and *sql.Rows, letting the Get*/List*
// scan helpers share one implementation.
type row interface {
	Scan(dest ...any) error
}

func scanExecution(r row, id string) (*model.Execution, error) {
	e, err := scanExecutionRows(r)
	if err == sql.ErrNoRows {
		return nil, &cosmoserrors.NotFoundError{Resource: "execution", ID: id}
	}
	return e, err
}

func scanExecutionRows(r row) (*model.Execution, error) {
	var e model.Execution
	var status string
	var createdAt string
	var startedAt, finishedAt sql.NullString
	if err := r.Scan(&e.ID, &e.Name, &e.OutputDir, &status, &createdAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	e.Status = model.ExecutionStatus(status)
	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	e.CreatedAt = created
	e.StartedAt = parseNullTime(startedAt)
	e.FinishedAt = parseNullTime(finishedAt)
	return &e, nil
}

func scanStage(r row, id string) (*model.Stage, error) {
	st, err := scanStageRows(r)
	if err == sql.ErrNoRows {
		return nil, &cosmoserrors.NotFoundError{Resource: "stage", ID: id}
	}
	return st, err
}

func scanStageRows(r row) (*model.Stage, error) {
	var st model.Stage
	var status, taskIDs string
	if err := r.Scan(&st.ID, &st.ExecutionID, &st.Name, &status, &taskIDs); err != nil {
		return nil, err
	}
	st.Status = model.StageStatus(status)
	if err := json.Unmarshal([]byte(taskIDs), &st.TaskIDs); err != nil {
		return nil, fmt.Errorf("unmarshal task_ids: %w", err)
	}
	return &st, nil
}

func scanTask(r row, id string) (*model.Task, error) {
	t, err := scanTaskRows(r)
	if err == sql.ErrNoRows {
		return nil, &cosmoserrors.NotFoundError{Resource: "task", ID: id}
	}
	return t, err
}

func scanTaskRows(r row) (*model.Task, error) {
	var t model.Task
	var tags, env, parentIDs, inputs, outputFileIDs string
	var status, drm, drmJobID, toolName, settings sql.NullString
	var memReq, cpuReq, timeReq sql.NullInt64
	var mustSucceed, noop int

	if err := r.Scan(&t.ID, &t.StageID, &tags, &toolName, &settings, &memReq, &cpuReq, &timeReq, &mustSucceed, &noop, &drm,
		&t.MaxAttempts, &t.Attempt, &status, &t.OutputDir, &env, &parentIDs, &inputs, &outputFileIDs, &drmJobID); err != nil {
		return nil, err
	}

	t.ToolName = toolName.String
	if settings.Valid && settings.String != "" && settings.String != "null" {
		if err := json.Unmarshal([]byte(settings.String), &t.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}

	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(env), &t.Env); err != nil {
		return nil, fmt.Errorf("unmarshal env: %w", err)
	}
	if err := json.Unmarshal([]byte(parentIDs), &t.ParentIDs); err != nil {
		return nil, fmt.Errorf("unmarshal parent_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(inputs), &t.Inputs); err != nil {
		return nil, fmt.Errorf("unmarshal inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(outputFileIDs), &t.OutputFileIDs); err != nil {
		return nil, fmt.Errorf("unmarshal output_file_ids: %w", err)
	}

	t.MemReq = nullInt64ToPtr(memReq)
	t.CPUReq = nullInt64ToPtr(cpuReq)
	t.TimeReq = nullInt64ToPtr(timeReq)
	t.MustSucceed = mustSucceed != 0
	t.NOOP = noop != 0
	t.DRM = drm.String
	t.Status = model.TaskStatus(status.String)
	t.DRMJobID = drmJobID.String
	return &t, nil
}

func scanTaskFile(r row, id string) (*model.TaskFile, error) {
	f, err := scanTaskFileRows(r)
	if err == sql.ErrNoRows {
		return nil, &cosmoserrors.NotFoundError{Resource: "taskfile", ID: id}
	}
	return f, err
}

func scanTaskFileRows(r row) (*model.TaskFile, error) {
	var f model.TaskFile
	var persist, demoted int
	if err := r.Scan(&f.ID, &f.Name, &f.Format, &f.Path, &persist, &f.ProducerTaskID, &demoted); err != nil {
		return nil, err
	}
	f.Persist = persist != 0
	f.Demoted = demoted != 0
	return &f, nil
}

func checkUpdated(res sql.Result, err error, resource, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &cosmoserrors.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

// formatTime converts a *time.Time to an RFC3339 string or nil.
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// nullString returns nil if string is empty, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt64ToPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
