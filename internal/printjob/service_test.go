package printjob

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/shared/logger"
)

// --- Fakes ---

type listCall struct {
	companyID  uuid.UUID
	onlyActive bool
	category   *string
	limit      int
}

type fakeStore struct {
	jobs      map[uuid.UUID]domain.Job
	outbox    []domain.OutboxMessage
	createErr error
	products  []domain.Product
	lists     []listCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[uuid.UUID]domain.Job{}}
}

func (f *fakeStore) CreateJobWithOutbox(ctx context.Context, job *domain.Job, msg *domain.OutboxMessage) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.jobs[job.ID] = *job
	f.outbox = append(f.outbox, *msg)
	return nil
}

func (f *fakeStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &j, nil
}

func (f *fakeStore) ListProducts(ctx context.Context, companyID uuid.UUID, onlyActive bool, category *string, limit int) ([]domain.Product, error) {
	f.lists = append(f.lists, listCall{companyID: companyID, onlyActive: onlyActive, category: category, limit: limit})
	return f.products, nil
}

type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) Presign(ctx context.Context, bucket, key string) (string, time.Time, error) {
	args := m.Called(ctx, bucket, key)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

// --- Helpers ---

var (
	fixedNow = time.Date(2025, 12, 13, 9, 30, 0, 0, time.UTC)
	companyA = uuid.MustParse("5a5a5a5a-0000-4000-8000-00000000000a")
	companyB = uuid.MustParse("5a5a5a5a-0000-4000-8000-00000000000b")
)

func ptr[T any](v T) *T { return &v }

func newTestService(signer URLSigner) (*Service, *fakeStore) {
	store := newFakeStore()
	s := NewService(store, signer, logger.NewNop())
	s.now = func() time.Time { return fixedNow }
	return s, store
}

// --- Create ---

func TestCreate_WritesJobAndOutbox(t *testing.T) {
	s, store := newTestService(nil)

	job, err := s.Create(context.Background(), "alice", companyA, CreateRequest{
		ReportKey:  "  Weather-Forecast ",
		Format:     "PDF",
		Parameters: json.RawMessage(`{ "days" : 7 }`),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ReportKeyWeatherForecast, job.ReportKey)
	assert.Equal(t, domain.JobFormatPDF, job.Format)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, companyA, job.CompanyID)
	assert.Equal(t, "alice", job.CreatedByUserID)
	require.NotNil(t, job.ParametersJSON)
	assert.Equal(t, `{"days":7}`, *job.ParametersJSON)
	assert.Equal(t, fixedNow, job.CreatedAt)

	require.Len(t, store.outbox, 1)
	msg := store.outbox[0]
	assert.Equal(t, domain.MessageTypePrintJobQueued, msg.Type)
	assert.Equal(t, fixedNow, msg.OccurredAt)
	assert.JSONEq(t, `{
		"messageType": "print.job.queued.v1",
		"jobId": "`+job.ID.String()+`",
		"occurredAtUtc": "2025-12-13T09:30:00Z"
	}`, msg.PayloadJSON)
}

func TestCreate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		company uuid.UUID
		req     CreateRequest
		wantErr error
	}{
		{name: "blank user", userID: " ", company: companyA, req: CreateRequest{ReportKey: "products", Format: "pdf"}, wantErr: domain.ErrMissingIdentity},
		{name: "no company", userID: "alice", company: uuid.Nil, req: CreateRequest{ReportKey: "products", Format: "pdf"}, wantErr: domain.ErrMissingIdentity},
		{name: "unknown key", userID: "alice", company: companyA, req: CreateRequest{ReportKey: "payroll", Format: "pdf"}, wantErr: domain.ErrUnknownReportKey},
		{name: "bad format", userID: "alice", company: companyA, req: CreateRequest{ReportKey: "products", Format: "docx"}, wantErr: domain.ErrInvalidParameters},
		{name: "days too high", userID: "alice", company: companyA, req: CreateRequest{ReportKey: "weather-forecast", Format: "pdf", Parameters: json.RawMessage(`{"days":31}`)}, wantErr: domain.ErrInvalidParameters},
		{name: "days not a number", userID: "alice", company: companyA, req: CreateRequest{ReportKey: "weather-forecast", Format: "pdf", Parameters: json.RawMessage(`{"days":"soon"}`)}, wantErr: domain.ErrInvalidParameters},
		{name: "days fractional", userID: "alice", company: companyA, req: CreateRequest{ReportKey: "weather-forecast", Format: "pdf", Parameters: json.RawMessage(`{"days":2.5}`)}, wantErr: domain.ErrInvalidParameters},
		{name: "onlyActive not boolean", userID: "alice", company: companyA, req: CreateRequest{ReportKey: "products", Format: "xlsx", Parameters: json.RawMessage(`{"onlyActive":"maybe"}`)}, wantErr: domain.ErrInvalidParameters},
		{name: "category too long", userID: "alice", company: companyA, req: CreateRequest{ReportKey: "products", Format: "xlsx", Parameters: json.RawMessage(`{"category":"` + longCategory + `"}`)}, wantErr: domain.ErrInvalidParameters},
		{name: "parameters not an object", userID: "alice", company: companyA, req: CreateRequest{ReportKey: "products", Format: "xlsx", Parameters: json.RawMessage(`[1,2]`)}, wantErr: domain.ErrInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newTestService(nil)
			job, err := s.Create(context.Background(), tt.userID, tt.company, tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, job)
			assert.Empty(t, store.jobs)
			assert.Empty(t, store.outbox)
		})
	}
}

var longCategory = string(func() []rune {
	r := make([]rune, 101)
	for i := range r {
		r[i] = 'é'
	}
	return r
}())

func TestCreate_AcceptsLooseParameterTypes(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		params string
	}{
		{name: "days as string", key: "weather-forecast", params: `{"days":"12"}`},
		{name: "onlyActive as string", key: "products", params: `{"onlyActive":"False"}`},
		{name: "category at limit", key: "products", params: `{"category":"` + longCategory[:100*len("é")] + `"}`},
		{name: "unrelated keys", key: "products", params: `{"days":999}`},
		{name: "null parameters", key: "products", params: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestService(nil)
			_, err := s.Create(context.Background(), "alice", companyA, CreateRequest{
				ReportKey: tt.key, Format: "pdf", Parameters: json.RawMessage(tt.params),
			})
			require.NoError(t, err)
		})
	}
}

func TestCreate_StoreFailure(t *testing.T) {
	s, store := newTestService(nil)
	store.createErr = errors.New("tx aborted")

	_, err := s.Create(context.Background(), "alice", companyA, CreateRequest{ReportKey: "products", Format: "pdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create print job")
}

// --- GetJob ---

func seedJob(store *fakeStore, creator string, company uuid.UUID) domain.Job {
	job := domain.Job{
		ID:              uuid.New(),
		CompanyID:       company,
		CreatedByUserID: creator,
		ReportKey:       domain.ReportKeyProducts,
		Format:          domain.JobFormatPDF,
		Status:          domain.JobStatusQueued,
		CreatedAt:       fixedNow,
	}
	store.jobs[job.ID] = job
	return job
}

func TestGetJob_Scoping(t *testing.T) {
	s, store := newTestService(nil)
	job := seedJob(store, "alice", companyA)
	ctx := context.Background()

	tests := []struct {
		name    string
		id      uuid.UUID
		user    string
		company uuid.UUID
		admin   bool
		found   bool
	}{
		{name: "creator", id: job.ID, user: "alice", company: companyA, found: true},
		{name: "admin of same company", id: job.ID, user: "boss", company: companyA, admin: true, found: true},
		{name: "colleague", id: job.ID, user: "andy", company: companyA},
		{name: "other tenant admin", id: job.ID, user: "root", company: companyB, admin: true},
		{name: "creator with wrong tenant", id: job.ID, user: "alice", company: companyB},
		{name: "unknown job", id: uuid.New(), user: "alice", company: companyA},
		{name: "empty id", id: uuid.Nil, user: "alice", company: companyA},
		{name: "blank user", id: job.ID, user: "", company: companyA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetJob(ctx, tt.id, tt.user, tt.company, tt.admin)
			if !tt.found {
				require.ErrorIs(t, err, domain.ErrJobNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, job.ID, got.ID)
		})
	}
}

func TestGetJob_RefreshesExpiredURL(t *testing.T) {
	signer := new(mockSigner)
	s, store := newTestService(signer)
	job := seedJob(store, "alice", companyA)
	job.Status = domain.JobStatusCompleted
	job.OutputBucket = ptr("reports")
	job.OutputKey = ptr("jobs/1/products.pdf")
	job.OutputURL = ptr("https://old")
	job.OutputExpiresAt = ptr(fixedNow.Add(-time.Minute))
	store.jobs[job.ID] = job

	fresh := fixedNow.Add(24 * time.Hour)
	signer.On("Presign", mock.Anything, "reports", "jobs/1/products.pdf").Return("https://fresh", fresh, nil).Once()

	got, err := s.GetJob(context.Background(), job.ID, "alice", companyA, false)
	require.NoError(t, err)
	assert.Equal(t, "https://fresh", *got.OutputURL)
	assert.Equal(t, fresh, *got.OutputExpiresAt)

	assert.Equal(t, "https://old", *store.jobs[job.ID].OutputURL, "stored row is not mutated")
	signer.AssertExpectations(t)
}

func TestGetJob_KeepsValidOrUnsignableURL(t *testing.T) {
	signer := new(mockSigner)
	s, store := newTestService(signer)

	valid := seedJob(store, "alice", companyA)
	valid.OutputBucket = ptr("reports")
	valid.OutputKey = ptr("a.pdf")
	valid.OutputURL = ptr("https://still-good")
	valid.OutputExpiresAt = ptr(fixedNow.Add(time.Hour))
	store.jobs[valid.ID] = valid

	noKey := seedJob(store, "alice", companyA)
	noKey.OutputURL = ptr("https://external")
	noKey.OutputExpiresAt = ptr(fixedNow.Add(-time.Hour))
	store.jobs[noKey.ID] = noKey

	got, err := s.GetJob(context.Background(), valid.ID, "alice", companyA, false)
	require.NoError(t, err)
	assert.Equal(t, "https://still-good", *got.OutputURL)

	got, err = s.GetJob(context.Background(), noKey.ID, "alice", companyA, false)
	require.NoError(t, err)
	assert.Equal(t, "https://external", *got.OutputURL)

	signer.AssertNotCalled(t, "Presign", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetJob_PresignFailureKeepsStoredURL(t *testing.T) {
	signer := new(mockSigner)
	s, store := newTestService(signer)
	job := seedJob(store, "alice", companyA)
	job.OutputBucket = ptr("reports")
	job.OutputKey = ptr("a.pdf")
	job.OutputURL = ptr("https://old")
	store.jobs[job.ID] = job

	signer.On("Presign", mock.Anything, "reports", "a.pdf").Return("", time.Time{}, errors.New("no credentials"))

	got, err := s.GetJob(context.Background(), job.ID, "alice", companyA, false)
	require.NoError(t, err)
	assert.Equal(t, "https://old", *got.OutputURL)
}

// --- Work items ---

func TestGetWorkItem_WeatherForecast(t *testing.T) {
	s, store := newTestService(nil)
	s.rng = func(n int) int { return n - 1 }

	job := seedJob(store, "alice", companyA)
	job.ReportKey = domain.ReportKeyWeatherForecast
	job.ParametersJSON = ptr(`{"days":"3"}`)
	store.jobs[job.ID] = job

	item, err := s.GetWorkItem(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, item.JobID)
	assert.Equal(t, companyA, item.CompanyID)
	assert.JSONEq(t, `{"days":"3"}`, string(item.Parameters))

	data, ok := item.Data.(forecastData)
	require.True(t, ok)
	require.Len(t, data.WeatherForecastList, 3)

	first := data.WeatherForecastList[0]
	assert.Equal(t, "2025-12-14", first.Date)
	assert.Equal(t, 54, first.TemperatureC)
	assert.Equal(t, 32+int(float64(first.TemperatureC)/0.5556), first.TemperatureF)
	assert.Equal(t, "Scorching", first.Summary)
}

func TestGetWorkItem_WeatherForecastDefaultsToFiveDays(t *testing.T) {
	s, store := newTestService(nil)
	job := seedJob(store, "alice", companyA)
	job.ReportKey = domain.ReportKeyWeatherForecast
	store.jobs[job.ID] = job

	item, err := s.GetWorkItem(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, item.Data.(forecastData).WeatherForecastList, 5)
	assert.Nil(t, item.Parameters)
}

func TestGetWorkItem_ProductsScopedToJobCompany(t *testing.T) {
	s, store := newTestService(nil)
	store.products = []domain.Product{{ID: uuid.New(), CompanyID: companyB, Name: "Widget"}}

	job := seedJob(store, "alice", companyB)
	job.ParametersJSON = ptr(`{"onlyActive":false,"category":"  Tools "}`)
	store.jobs[job.ID] = job

	item, err := s.GetWorkItem(context.Background(), job.ID)
	require.NoError(t, err)

	require.Len(t, store.lists, 1)
	call := store.lists[0]
	assert.Equal(t, companyB, call.companyID)
	assert.False(t, call.onlyActive)
	require.NotNil(t, call.category)
	assert.Equal(t, "Tools", *call.category)
	assert.Equal(t, 1000, call.limit)
	assert.Len(t, item.Data.(productsData).Products, 1)
}

func TestGetWorkItem_ProductsDefaults(t *testing.T) {
	s, store := newTestService(nil)
	job := seedJob(store, "alice", companyA)

	_, err := s.GetWorkItem(context.Background(), job.ID)
	require.NoError(t, err)

	require.Len(t, store.lists, 1)
	assert.True(t, store.lists[0].onlyActive)
	assert.Nil(t, store.lists[0].category)
}

func TestGetWorkItem_NotFound(t *testing.T) {
	s, _ := newTestService(nil)

	_, err := s.GetWorkItem(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = s.GetWorkItem(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestNormalizeReportKey(t *testing.T) {
	key, err := NormalizeReportKey(" PRODUCTS ")
	require.NoError(t, err)
	assert.Equal(t, "products", key)

	_, err = NormalizeReportKey("")
	assert.ErrorIs(t, err, domain.ErrUnknownReportKey)
}
