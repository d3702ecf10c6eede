// Package todo implements the todo_list native tool on the shared SQLite
// database.
package todo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown list id.
var ErrNotFound = errors.New("to-do list not found")

// Task is one step of a list.
type Task struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// List is a stored to-do list.
type List struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Tasks       []Task    `json:"tasks"`
	Context     []string  `json:"context,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summary is the lookup view of a list.
type Summary struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Done        int    `json:"done"`
	Total       int    `json:"total"`
}

// Store persists lists in the todo_lists table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps db and creates the table if needed.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS todo_lists (
		id          TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		tasks       TEXT NOT NULL,
		context     TEXT NOT NULL DEFAULT '[]',
		updated_at  INTEGER NOT NULL
	);`)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize todo schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Create stores a new list of tasks.
func (s *Store) Create(ctx context.Context, description string, tasks []string) (List, error) {
	if len(tasks) == 0 {
		return List{}, fmt.Errorf("a list needs at least one task")
	}
	l := List{ID: uuid.NewString(), Description: description}
	for _, t := range tasks {
		l.Tasks = append(l.Tasks, Task{Text: t})
	}
	if err := s.save(ctx, s.db, &l); err != nil {
		return List{}, err
	}
	return l, nil
}

// Load returns the list with id.
func (s *Store) Load(ctx context.Context, id string) (List, error) {
	return s.load(ctx, s.db, id)
}

// Complete marks the tasks at indices done and records note, if any.
func (s *Store) Complete(ctx context.Context, id string, indices []int, note string) (List, error) {
	return s.update(ctx, id, func(l *List) error {
		for _, i := range indices {
			if i < 0 || i >= len(l.Tasks) {
				return fmt.Errorf("task index %d is out of range", i)
			}
			l.Tasks[i].Completed = true
		}
		if note != "" {
			l.Context = append(l.Context, note)
		}
		return nil
	})
}

// Add appends tasks to the list.
func (s *Store) Add(ctx context.Context, id string, tasks []string) (List, error) {
	return s.update(ctx, id, func(l *List) error {
		if len(tasks) == 0 {
			return fmt.Errorf("no tasks to add")
		}
		for _, t := range tasks {
			l.Tasks = append(l.Tasks, Task{Text: t})
		}
		return nil
	})
}

// Remove deletes the tasks at indices. Indices refer to the list before the
// call.
func (s *Store) Remove(ctx context.Context, id string, indices []int) (List, error) {
	return s.update(ctx, id, func(l *List) error {
		drop := make(map[int]bool, len(indices))
		for _, i := range indices {
			if i < 0 || i >= len(l.Tasks) {
				return fmt.Errorf("task index %d is out of range", i)
			}
			drop[i] = true
		}
		kept := l.Tasks[:0]
		for i, t := range l.Tasks {
			if !drop[i] {
				kept = append(kept, t)
			}
		}
		l.Tasks = kept
		return nil
	})
}

// Lookup summarizes every list, most recently updated first.
func (s *Store) Lookup(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, description, tasks FROM todo_lists ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list to-do lists: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		var raw string
		if err := rows.Scan(&sum.ID, &sum.Description, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan to-do list: %w", err)
		}
		var tasks []Task
		if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
			return nil, fmt.Errorf("corrupt tasks for %s: %w", sum.ID, err)
		}
		sum.Total = len(tasks)
		for _, t := range tasks {
			if t.Completed {
				sum.Done++
			}
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) update(ctx context.Context, id string, fn func(*List) error) (List, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return List{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	l, err := s.load(ctx, tx, id)
	if err != nil {
		return List{}, err
	}
	if err := fn(&l); err != nil {
		return List{}, err
	}
	if err := s.save(ctx, tx, &l); err != nil {
		return List{}, err
	}
	if err := tx.Commit(); err != nil {
		return List{}, fmt.Errorf("failed to commit: %w", err)
	}
	return l, nil
}

func (s *Store) load(ctx context.Context, q querier, id string) (List, error) {
	var l List
	var tasks, notes string
	var updated int64
	err := q.QueryRowContext(ctx, `SELECT id, description, tasks, context, updated_at FROM todo_lists WHERE id = ?`, id).
		Scan(&l.ID, &l.Description, &tasks, &notes, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return List{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return List{}, fmt.Errorf("failed to read to-do list %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(tasks), &l.Tasks); err != nil {
		return List{}, fmt.Errorf("corrupt tasks for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(notes), &l.Context); err != nil {
		return List{}, fmt.Errorf("corrupt context for %s: %w", id, err)
	}
	l.UpdatedAt = time.UnixMilli(updated)
	return l, nil
}

func (s *Store) save(ctx context.Context, q querier, l *List) error {
	if l.Tasks == nil {
		l.Tasks = []Task{}
	}
	tasks, err := json.Marshal(l.Tasks)
	if err != nil {
		return err
	}
	notes, err := json.Marshal(l.Context)
	if err != nil {
		return err
	}
	if l.Context == nil {
		notes = []byte("[]")
	}
	l.UpdatedAt = s.now()
	_, err = q.ExecContext(ctx, `
		INSERT INTO todo_lists (id, description, tasks, context, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET description = excluded.description, tasks = excluded.tasks,
			context = excluded.context, updated_at = excluded.updated_at`,
		l.ID, l.Description, string(tasks), string(notes), l.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save to-do list %s: %w", l.ID, err)
	}
	return nil
}
