package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/signalworks/intelgraph/internal/core/domain"
)

// EnqueueTask adds one harvested item to the task queue.
func (db *DB) EnqueueTask(ctx context.Context, task *domain.Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO tasks (id, task_type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		task.ID, string(task.TaskType), payload)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}

	return nil
}

// FetchPendingTasks returns up to limit tasks in FIFO order. Tasks stay in
// the queue until DeleteTasks removes them at end of run.
func (db *DB) FetchPendingTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, task_type, payload, created_at
		FROM tasks
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task

	for rows.Next() {
		var (
			task    domain.Task
			payload []byte
		)

		if err := rows.Scan(&task.ID, &task.TaskType, &payload, &task.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}

		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			db.Logger.Warn().Err(err).Str("task_id", task.ID).Msg("malformed task payload, skipping")

			continue
		}

		tasks = append(tasks, task)
	}

	return tasks, rows.Err() //nolint:wrapcheck
}

// DeleteTasks removes completed tasks from the queue.
func (db *DB) DeleteTasks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if _, err := db.Pool.Exec(ctx, `DELETE FROM tasks WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}

	return nil
}

// CountPendingTasks reports the queue backlog.
func (db *DB) CountPendingTasks(ctx context.Context) (int64, error) {
	var count int64
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}

	return count, nil
}
