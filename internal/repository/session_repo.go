package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/workspace-dashboard/backend/internal/model"
)

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 50

const sessionColumns = `id, shell, pid, workspace_root, cwd, status, exit_code, recording_path, preview_line, remote_addr, created_at, updated_at`

// SessionRepository provides data access for terminal session records.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session into the database.
func (r *SessionRepository) Create(ctx context.Context, session *model.TerminalSession) error {
	if !session.Status.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidStatus, session.Status)
	}

	query := `
		INSERT INTO terminal_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.Shell,
		session.PID,
		session.WorkspaceRoot,
		nullString(session.Cwd),
		session.Status,
		session.ExitCode,
		nullString(session.RecordingPath),
		nullString(session.PreviewLine),
		nullString(session.RemoteAddr),
		session.CreatedAt.UTC(),
		session.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.TerminalSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM terminal_sessions WHERE id = ?`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// List returns the most recent sessions, newest first.
func (r *SessionRepository) List(ctx context.Context, limit int) ([]*model.TerminalSession, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + sessionColumns + ` FROM terminal_sessions ORDER BY created_at DESC, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*model.TerminalSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// Delete removes a session from the database.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM terminal_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return requireRow(result)
}

// UpdateStatus records a status change and, for exits, the exit code.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status model.SessionStatus, exitCode *int) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidStatus, status)
	}
	return r.update(ctx, id, "status = ?, exit_code = ?", status, exitCode)
}

// UpdateCwd records the latest working directory label.
func (r *SessionRepository) UpdateCwd(ctx context.Context, id string, cwd string) error {
	return r.update(ctx, id, "cwd = ?", cwd)
}

// UpdatePreviewLine stores the last line of visible output.
func (r *SessionRepository) UpdatePreviewLine(ctx context.Context, id string, line string) error {
	return r.update(ctx, id, "preview_line = ?", line)
}

// update sets assignments plus updated_at on one row. assignments is a
// fixed SQL fragment, never caller input.
func (r *SessionRepository) update(ctx context.Context, id, assignments string, args ...any) error {
	query := "UPDATE terminal_sessions SET " + assignments + ", updated_at = ? WHERE id = ?"
	args = append(args, time.Now().UTC(), id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return requireRow(result)
}

// CountByStatus returns the number of sessions with status.
func (r *SessionRepository) CountByStatus(ctx context.Context, status model.SessionStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM terminal_sessions WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// MarkOrphaned flags records left running by a previous server process.
// Their shells died with that process.
func (r *SessionRepository) MarkOrphaned(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE terminal_sessions SET status = ?, updated_at = ? WHERE status = ?`,
		model.SessionStatusClosed, time.Now().UTC(), model.SessionStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to mark orphaned sessions: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.TerminalSession, error) {
	session := &model.TerminalSession{}
	var (
		pid           sql.NullInt64
		cwd           sql.NullString
		exitCode      sql.NullInt64
		recordingPath sql.NullString
		previewLine   sql.NullString
		remoteAddr    sql.NullString
	)

	err := row.Scan(
		&session.ID,
		&session.Shell,
		&pid,
		&session.WorkspaceRoot,
		&cwd,
		&session.Status,
		&exitCode,
		&recordingPath,
		&previewLine,
		&remoteAddr,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if pid.Valid {
		p := int(pid.Int64)
		session.PID = &p
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		session.ExitCode = &code
	}
	session.Cwd = cwd.String
	session.RecordingPath = recordingPath.String
	session.HasRecording = recordingPath.String != ""
	session.PreviewLine = previewLine.String
	session.RemoteAddr = remoteAddr.String

	return session, nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
