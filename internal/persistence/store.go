package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/taskloop/internal/board"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a project, task or agent does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyClaimed is returned when another loop won the claim for a task.
	ErrAlreadyClaimed = errors.New("task already claimed")
	// ErrNotClaimable is returned when a task's state does not allow a claim.
	ErrNotClaimable = board.ErrNotClaimable
	// ErrDependencyCycle is returned when a dependency edge would close a cycle.
	ErrDependencyCycle = board.ErrDependencyCycle
)

// Store defines the persistence interface for projects, tasks, agents and the
// per-task iteration log.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *board.Project) error
	GetProject(ctx context.Context, id int64) (*board.Project, error)
	ListProjects(ctx context.Context) ([]*board.Project, error)
	UpdateProject(ctx context.Context, p *board.Project) error
	DeleteProject(ctx context.Context, id int64) error
	RecomputeProject(ctx context.Context, id int64) (board.ProjectStatus, error)

	// Tasks
	CreateTask(ctx context.Context, t *board.Task) error
	GetTask(ctx context.Context, id int64) (*board.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*board.Task, error)
	UpdateTaskDetails(ctx context.Context, id int64, upd TaskUpdate) (*board.Task, error)
	SetDependency(ctx context.Context, taskID int64, dep *int64) error
	ClaimTask(ctx context.Context, id int64) (*board.Task, error)
	ApplyTransition(ctx context.Context, id int64, tr board.Transition, maxReviewAttempts int) (*board.Task, board.TransitionResult, error)
	MarkFailed(ctx context.Context, id int64) error
	OverrideStatus(ctx context.Context, id int64, status board.Status) (*board.Task, error)
	QueueCandidates(ctx context.Context, queue board.Queue) ([]*board.Task, error)
	CreateGeneratedTasks(ctx context.Context, projectID int64, plan []PlannedTask) ([]*board.Task, error)
	AddSubtasks(ctx context.Context, parentID int64, subtasks []PlannedTask) ([]*board.Task, error)

	// Agents
	CreateAgent(ctx context.Context, a *board.Agent) error
	GetAgent(ctx context.Context, id int64) (*board.Agent, error)
	ListAgents(ctx context.Context) ([]*board.Agent, error)
	UpdateAgentConfig(ctx context.Context, id int64, active bool, queues []board.Queue) error
	EditAgent(ctx context.Context, id int64, name string, role board.Role, provider string) error
	DeleteAgent(ctx context.Context, id int64) error

	// Iteration log
	RecordIteration(ctx context.Context, it *board.Iteration) error
	ListIterations(ctx context.Context, taskID int64) ([]*board.Iteration, error)

	// Lifecycle
	Close() error
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dsnParams enables WAL, foreign keys and a busy timeout on every pooled
// connection, and makes every transaction BEGIN IMMEDIATE so read-then-write
// sequences hold the write lock from their first statement.
const dsnParams = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?%s", dbPath, dsnParams))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)

	return open(ctx, db)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each call gets
// its own database, so parallel tests do not see each other's rows.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_txlock=immediate", uuid.NewString())
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	// A single connection keeps the database alive and serializes access.
	db.SetMaxOpenConns(1)

	return open(ctx, db)
}

func open(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in an immediate transaction and commits when it returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
