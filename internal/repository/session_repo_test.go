package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workspace-dashboard/backend/internal/db"
	"github.com/workspace-dashboard/backend/internal/model"
)

func newRepo(t *testing.T) *SessionRepository {
	t.Helper()
	testDB, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })
	return NewSessionRepository(testDB)
}

func newSession(createdAt time.Time) *model.TerminalSession {
	pid := 4242
	return &model.TerminalSession{
		ID:            uuid.NewString(),
		Shell:         "/bin/bash",
		PID:           &pid,
		WorkspaceRoot: "/home/user/ws",
		Cwd:           "~",
		Status:        model.SessionStatusRunning,
		RemoteAddr:    "127.0.0.1:5555",
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func TestSessionLifecycle(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	s := newSession(time.Now())
	require.NoError(t, repo.Create(ctx, s))

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "/bin/bash", got.Shell)
	require.NotNil(t, got.PID)
	assert.Equal(t, 4242, *got.PID)
	assert.Nil(t, got.ExitCode)
	assert.False(t, got.HasRecording)
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt))

	require.NoError(t, repo.UpdateCwd(ctx, s.ID, "~/sub"))
	require.NoError(t, repo.UpdatePreviewLine(ctx, s.ID, "$ ls"))
	code := 3
	require.NoError(t, repo.UpdateStatus(ctx, s.ID, model.SessionStatusExited, &code))

	got, err = repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "~/sub", got.Cwd)
	assert.Equal(t, "$ ls", got.PreviewLine)
	assert.Equal(t, model.SessionStatusExited, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 3, *got.ExitCode)

	require.NoError(t, repo.Delete(ctx, s.ID))
	_, err = repo.GetByID(ctx, s.ID)
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestMissingSession(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "nope"), model.ErrSessionNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "nope", model.SessionStatusClosed, nil), model.ErrSessionNotFound)
	assert.ErrorIs(t, repo.UpdateCwd(ctx, "nope", "~"), model.ErrSessionNotFound)
	assert.ErrorIs(t, repo.UpdatePreviewLine(ctx, "nope", "$"), model.ErrSessionNotFound)
}

func TestRejectsUnknownStatus(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	s := newSession(time.Now())
	s.Status = "paused"
	assert.ErrorIs(t, repo.Create(ctx, s), model.ErrInvalidStatus)

	s.Status = model.SessionStatusRunning
	require.NoError(t, repo.Create(ctx, s))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, s.ID, "", nil), model.ErrInvalidStatus)
}

func TestListNewestFirst(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		s := newSession(base.Add(time.Duration(i) * time.Minute))
		require.NoError(t, repo.Create(ctx, s))
		ids = append(ids, s.ID)
	}

	all, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, ids[4], all[0].ID)
	assert.Equal(t, ids[0], all[4].ID)

	two, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, ids[3], two[1].ID)
}

func TestListEmpty(t *testing.T) {
	repo := newRepo(t)
	sessions, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)
}

func TestCountAndMarkOrphaned(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newSession(time.Now())))
	}
	done := newSession(time.Now())
	done.Status = model.SessionStatusExited
	require.NoError(t, repo.Create(ctx, done))

	n, err := repo.CountByStatus(ctx, model.SessionStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	marked, err := repo.MarkOrphaned(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, marked)

	n, err = repo.CountByStatus(ctx, model.SessionStatusRunning)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = repo.CountByStatus(ctx, model.SessionStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSessionRecordRoundTripProperty(t *testing.T) {
	testDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	defer testDB.Close()
	repo := NewSessionRepository(testDB)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	statuses := gen.OneConstOf(
		model.SessionStatusExited,
		model.SessionStatusClosed,
		model.SessionStatusFailed,
	)

	properties.Property("stored sessions read back unchanged", prop.ForAll(
		func(shell, cwd, recording string, status model.SessionStatus, code int) bool {
			s := newSession(time.Now())
			s.Shell = shell
			s.Cwd = cwd
			s.RecordingPath = recording
			if err := repo.Create(ctx, s); err != nil {
				t.Logf("create: %v", err)
				return false
			}
			defer repo.Delete(ctx, s.ID)

			if err := repo.UpdateStatus(ctx, s.ID, status, &code); err != nil {
				return false
			}

			got, err := repo.GetByID(ctx, s.ID)
			if err != nil {
				return false
			}
			return got.Shell == shell &&
				got.Cwd == cwd &&
				got.RecordingPath == recording &&
				got.HasRecording == (recording != "") &&
				got.Status == status &&
				got.ExitCode != nil && *got.ExitCode == code
		},
		gen.AlphaString(),
		gen.Identifier(),
		gen.AlphaString(),
		statuses,
		gen.IntRange(-1, 255),
	))

	properties.TestingRun(t)
}
