package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/notification"
	"github.com/cuongbtq/flytwo-backend/internal/realtime"
	"github.com/cuongbtq/flytwo-backend/shared/logger"
)

// --- Fakes ---

type fakeJobs struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]domain.Job
	updates int
	getErr  error
	saveErr error
}

func newFakeJobs(jobs ...domain.Job) *fakeJobs {
	f := &fakeJobs{jobs: map[uuid.UUID]domain.Job{}}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobs) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &j, nil
}

func (f *fakeJobs) UpdateJobState(ctx context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.updates++
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeJobs) get(id uuid.UUID) domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

type progressPush struct {
	group string
	p     Progress
}

type recordingPusher struct {
	mu     sync.Mutex
	pushes []progressPush
	err    error
}

func (r *recordingPusher) PublishToGroup(ctx context.Context, group, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event == realtime.EventJobProgress {
		r.pushes = append(r.pushes, progressPush{group: group, p: payload.(Progress)})
	}
	return r.err
}

func (r *recordingPusher) all() []progressPush {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progressPush(nil), r.pushes...)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Create(ctx context.Context, req notification.CreateRequest, creatorUserID string, creatorCompanyID *uuid.UUID) (*domain.Notification, error) {
	args := m.Called(ctx, req, creatorUserID, creatorCompanyID)
	n, _ := args.Get(0).(*domain.Notification)
	return n, args.Error(1)
}

// --- Helpers ---

var (
	fixedNow = time.Date(2025, 12, 13, 13, 0, 0, 0, time.UTC)
	company  = uuid.MustParse("1d2c3b4a-0000-4000-8000-000000000001")
)

func queuedJob() domain.Job {
	return domain.Job{
		ID:              uuid.New(),
		CompanyID:       company,
		CreatedByUserID: "creator",
		ReportKey:       domain.ReportKeyProducts,
		Format:          domain.JobFormatPDF,
		Status:          domain.JobStatusQueued,
		CreatedAt:       fixedNow.Add(-time.Hour),
	}
}

func newTestApplier(jobs *fakeJobs) (*Applier, *recordingPusher, *mockNotifier) {
	pusher := &recordingPusher{}
	notifier := new(mockNotifier)
	a := NewApplier(jobs, pusher, notifier, logger.NewNop())
	a.now = func() time.Time { return fixedNow }
	return a, pusher, notifier
}

// --- Progress ---

func TestApply_ProgressStartsJob(t *testing.T) {
	job := queuedJob()
	jobs := newFakeJobs(job)
	a, pusher, notifier := newTestApplier(jobs)

	at := fixedNow.Add(-time.Minute)
	err := a.Apply(context.Background(), Event{
		Type:          TypeProgress,
		JobID:         job.ID,
		Current:       ptr(3),
		Total:         ptr(10),
		Message:       ptr("rendering"),
		OccurredAtUTC: &at,
	})
	require.NoError(t, err)

	saved := jobs.get(job.ID)
	assert.Equal(t, domain.JobStatusProcessing, saved.Status)
	require.NotNil(t, saved.StartedAt)
	assert.Equal(t, fixedNow, *saved.StartedAt)
	assert.Equal(t, at, *saved.LastProgressAt)
	assert.Equal(t, 3, *saved.ProgressCurrent)
	assert.Equal(t, 10, *saved.ProgressTotal)

	pushes := pusher.all()
	require.Len(t, pushes, 1)
	assert.Equal(t, "user:creator", pushes[0].group)
	assert.Equal(t, domain.JobStatusProcessing, pushes[0].p.Status)
	assert.Equal(t, 30, *pushes[0].p.Percent)
	assert.Equal(t, "rendering", *pushes[0].p.Message)
	assert.Equal(t, at, pushes[0].p.OccurredAtUTC)
	notifier.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApply_ProgressKeepsFieldsPerField(t *testing.T) {
	job := queuedJob()
	job.Status = domain.JobStatusProcessing
	started := fixedNow.Add(-10 * time.Minute)
	job.StartedAt = &started
	job.ProgressCurrent = ptr(2)
	job.ProgressTotal = ptr(8)
	job.ErrorMessage = ptr("transient")
	jobs := newFakeJobs(job)
	a, pusher, _ := newTestApplier(jobs)

	require.NoError(t, a.Apply(context.Background(), Event{Type: TypeProgress, JobID: job.ID, Current: ptr(4)}))

	saved := jobs.get(job.ID)
	assert.Equal(t, started, *saved.StartedAt, "started_at is set once")
	assert.Equal(t, 4, *saved.ProgressCurrent)
	assert.Equal(t, 8, *saved.ProgressTotal, "total kept when event omits it")
	assert.Nil(t, saved.ErrorMessage)
	assert.Equal(t, fixedNow, *saved.LastProgressAt, "defaults to now")

	p := pusher.all()[0].p
	assert.Equal(t, 4, *p.Current)
	assert.Equal(t, 8, *p.Total)
	assert.Equal(t, 50, *p.Percent)
}

func TestApply_ProgressOnTerminalJobOnlyPushes(t *testing.T) {
	job := queuedJob()
	job.Status = domain.JobStatusCompleted
	job.ProgressCurrent = ptr(10)
	job.ProgressTotal = ptr(10)
	jobs := newFakeJobs(job)
	a, pusher, _ := newTestApplier(jobs)

	require.NoError(t, a.Apply(context.Background(), Event{Type: TypeProgress, JobID: job.ID, Current: ptr(1)}))

	assert.Zero(t, jobs.updates)
	assert.Equal(t, domain.JobStatusCompleted, jobs.get(job.ID).Status)
	require.Len(t, pusher.all(), 1)
}

func TestApply_ActingUserFromEvent(t *testing.T) {
	job := queuedJob()
	jobs := newFakeJobs(job)
	a, pusher, _ := newTestApplier(jobs)

	require.NoError(t, a.Apply(context.Background(), Event{Type: TypeProgress, JobID: job.ID, UserID: ptr("operator")}))
	require.NoError(t, a.Apply(context.Background(), Event{Type: TypeProgress, JobID: job.ID, UserID: ptr("  ")}))

	pushes := pusher.all()
	require.Len(t, pushes, 2)
	assert.Equal(t, "user:operator", pushes[0].group)
	assert.Equal(t, "user:creator", pushes[1].group, "blank user falls back to the creator")
}

// --- Completed ---

func TestApply_Completed(t *testing.T) {
	job := queuedJob()
	job.Status = domain.JobStatusProcessing
	job.ProgressCurrent = ptr(7)
	job.ProgressTotal = ptr(9)
	job.ErrorMessage = ptr("old")
	jobs := newFakeJobs(job)
	a, pusher, notifier := newTestApplier(jobs)

	expires := fixedNow.Add(24 * time.Hour)
	notifier.On("Create", mock.Anything, mock.MatchedBy(func(req notification.CreateRequest) bool {
		return req.Scope == domain.ScopeUser &&
			*req.TargetUserID == "creator" &&
			req.Title == "Report completed" &&
			req.Message == "Your report 'products' has completed. Download: https://files/out.pdf" &&
			*req.Category == "Reports" &&
			*req.Severity == 0
	}), "creator", &company).Return(&domain.Notification{}, nil).Once()

	require.NoError(t, a.Apply(context.Background(), Event{
		Type:               TypeCompleted,
		JobID:              job.ID,
		OutputBucket:       ptr("reports"),
		OutputKey:          ptr("out.pdf"),
		OutputURL:          ptr("https://files/out.pdf"),
		OutputExpiresAtUTC: &expires,
	}))

	saved := jobs.get(job.ID)
	assert.Equal(t, domain.JobStatusCompleted, saved.Status)
	assert.Equal(t, fixedNow, *saved.CompletedAt)
	assert.Equal(t, *saved.CompletedAt, *saved.LastProgressAt)
	assert.Equal(t, 9, *saved.ProgressCurrent, "current snaps to the known total")
	assert.Equal(t, 9, *saved.ProgressTotal)
	assert.Equal(t, "reports", *saved.OutputBucket)
	assert.Equal(t, "out.pdf", *saved.OutputKey)
	assert.Equal(t, expires, *saved.OutputExpiresAt)
	assert.Nil(t, saved.ErrorMessage)

	p := pusher.all()[0].p
	assert.Equal(t, domain.JobStatusCompleted, p.Status)
	assert.Equal(t, "https://files/out.pdf", *p.OutputURL)
	assert.Equal(t, 9, *p.Current, "push falls back to the saved job value")
	assert.Equal(t, 100, *p.Percent)
	notifier.AssertExpectations(t)
}

func TestApply_CompletedCurrentFallbacks(t *testing.T) {
	tests := []struct {
		name                 string
		jobCurrent, jobTotal *int
		evCurrent, evTotal   *int
		wantCurrent          *int
		wantTotal            *int
	}{
		{name: "event total wins", jobCurrent: ptr(1), jobTotal: ptr(5), evCurrent: ptr(3), evTotal: ptr(6), wantCurrent: ptr(6), wantTotal: ptr(6)},
		{name: "job total next", jobCurrent: ptr(1), jobTotal: ptr(5), evCurrent: ptr(3), wantCurrent: ptr(5), wantTotal: ptr(5)},
		{name: "event current without totals", jobCurrent: ptr(1), evCurrent: ptr(3), wantCurrent: ptr(3)},
		{name: "job current last", jobCurrent: ptr(1), wantCurrent: ptr(1)},
		{name: "nothing known"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := queuedJob()
			job.ProgressCurrent = tt.jobCurrent
			job.ProgressTotal = tt.jobTotal
			jobs := newFakeJobs(job)
			a, _, notifier := newTestApplier(jobs)
			notifier.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&domain.Notification{}, nil)

			require.NoError(t, a.Apply(context.Background(), Event{
				Type: TypeCompleted, JobID: job.ID, Current: tt.evCurrent, Total: tt.evTotal,
			}))

			saved := jobs.get(job.ID)
			assert.Equal(t, tt.wantCurrent, saved.ProgressCurrent)
			assert.Equal(t, tt.wantTotal, saved.ProgressTotal)
		})
	}
}

func TestApply_CompletedWithoutURL(t *testing.T) {
	job := queuedJob()
	jobs := newFakeJobs(job)
	a, _, notifier := newTestApplier(jobs)
	notifier.On("Create", mock.Anything, mock.MatchedBy(func(req notification.CreateRequest) bool {
		return req.Message == "Your report 'products' has completed."
	}), "creator", mock.Anything).Return(&domain.Notification{}, nil).Once()

	require.NoError(t, a.Apply(context.Background(), Event{Type: TypeCompleted, JobID: job.ID}))
	notifier.AssertExpectations(t)
}

func TestApply_CompletedTwiceIsPushOnly(t *testing.T) {
	job := queuedJob()
	jobs := newFakeJobs(job)
	a, pusher, notifier := newTestApplier(jobs)
	notifier.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&domain.Notification{}, nil).Once()

	ev := Event{Type: TypeCompleted, JobID: job.ID, OutputURL: ptr("https://files/a.pdf")}
	require.NoError(t, a.Apply(context.Background(), ev))
	first := jobs.get(job.ID)

	ev.OutputURL = ptr("https://files/b.pdf")
	require.NoError(t, a.Apply(context.Background(), ev))

	assert.Equal(t, 1, jobs.updates)
	assert.Equal(t, first, jobs.get(job.ID))
	assert.Len(t, pusher.all(), 2)
	notifier.AssertNumberOfCalls(t, "Create", 1)
}

// --- Failed ---

func TestApply_Failed(t *testing.T) {
	job := queuedJob()
	job.Status = domain.JobStatusProcessing
	jobs := newFakeJobs(job)
	a, pusher, notifier := newTestApplier(jobs)

	notifier.On("Create", mock.Anything, mock.MatchedBy(func(req notification.CreateRequest) bool {
		return req.Title == "Report failed" &&
			req.Message == "Failed to generate report 'products': disk full" &&
			*req.Severity == 2 &&
			*req.TargetUserID == "operator"
	}), "operator", &company).Return(&domain.Notification{}, nil).Once()

	at := fixedNow.Add(-time.Second)
	require.NoError(t, a.Apply(context.Background(), Event{
		Type:          TypeFailed,
		JobID:         job.ID,
		UserID:        ptr("operator"),
		ErrorMessage:  ptr("disk full"),
		OccurredAtUTC: &at,
	}))

	saved := jobs.get(job.ID)
	assert.Equal(t, domain.JobStatusFailed, saved.Status)
	assert.Equal(t, at, *saved.CompletedAt)
	assert.Equal(t, at, *saved.LastProgressAt)
	assert.Equal(t, "disk full", *saved.ErrorMessage)

	p := pusher.all()[0]
	assert.Equal(t, "user:operator", p.group)
	assert.Equal(t, "disk full", *p.p.ErrorMessage)
	notifier.AssertExpectations(t)
}

func TestApply_FailedDefaultsError(t *testing.T) {
	job := queuedJob()
	jobs := newFakeJobs(job)
	a, _, notifier := newTestApplier(jobs)
	notifier.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&domain.Notification{}, nil)

	require.NoError(t, a.Apply(context.Background(), Event{Type: TypeFailed, JobID: job.ID}))
	assert.Equal(t, "Unknown error", *jobs.get(job.ID).ErrorMessage)
}

func TestApply_FailedTwiceIsPushOnly(t *testing.T) {
	job := queuedJob()
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = ptr("first")
	jobs := newFakeJobs(job)
	a, pusher, notifier := newTestApplier(jobs)

	require.NoError(t, a.Apply(context.Background(), Event{Type: TypeFailed, JobID: job.ID, ErrorMessage: ptr("second")}))

	assert.Zero(t, jobs.updates)
	assert.Equal(t, "first", *jobs.get(job.ID).ErrorMessage)
	assert.Len(t, pusher.all(), 1)
	notifier.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// --- Errors ---

func TestApply_UnknownJobIsDropped(t *testing.T) {
	a, pusher, _ := newTestApplier(newFakeJobs())

	err := a.Apply(context.Background(), Event{Type: TypeProgress, JobID: uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, pusher.all())
}

func TestApply_StoreErrors(t *testing.T) {
	job := queuedJob()

	jobs := newFakeJobs(job)
	jobs.getErr = errors.New("db down")
	a, _, _ := newTestApplier(jobs)
	err := a.Apply(context.Background(), Event{Type: TypeProgress, JobID: job.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load job")

	jobs = newFakeJobs(job)
	jobs.saveErr = errors.New("db down")
	a, pusher, _ := newTestApplier(jobs)
	err = a.Apply(context.Background(), Event{Type: TypeProgress, JobID: job.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save job")
	assert.Empty(t, pusher.all(), "nothing is pushed for an unsaved change")
}

func TestApply_PushAndNotifyFailuresAreSwallowed(t *testing.T) {
	job := queuedJob()
	jobs := newFakeJobs(job)
	a, pusher, notifier := newTestApplier(jobs)
	pusher.err = errors.New("redis down")
	notifier.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.Rejection("target user belongs to another company"))

	require.NoError(t, a.Apply(context.Background(), Event{Type: TypeCompleted, JobID: job.ID}))
	assert.Equal(t, domain.JobStatusCompleted, jobs.get(job.ID).Status)
}

func TestApply_TerminalStatusNeverChanges(t *testing.T) {
	tests := []struct {
		name   string
		status domain.JobStatus
		event  Type
	}{
		{name: "completed then failed", status: domain.JobStatusCompleted, event: TypeFailed},
		{name: "failed then completed", status: domain.JobStatusFailed, event: TypeCompleted},
		{name: "failed then progress", status: domain.JobStatusFailed, event: TypeProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := queuedJob()
			job.Status = tt.status
			jobs := newFakeJobs(job)
			a, pusher, notifier := newTestApplier(jobs)

			require.NoError(t, a.Apply(context.Background(), Event{Type: tt.event, JobID: job.ID}))

			assert.Equal(t, tt.status, jobs.get(job.ID).Status)
			assert.Zero(t, jobs.updates)
			require.Len(t, pusher.all(), 1)
			assert.Equal(t, tt.status, pusher.all()[0].p.Status)
			notifier.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}
