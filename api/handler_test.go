package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raushankrgupta/tryon-orchestrator/ledger"
	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/raushankrgupta/tryon-orchestrator/tryon"
	"github.com/raushankrgupta/tryon-orchestrator/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

type stubProvider struct {
	submitErr error
	report    models.StatusReport
}

func (p *stubProvider) Submit(context.Context, models.TryOnRequest) (string, error) {
	if p.submitErr != nil {
		return "", p.submitErr
	}
	return "prov-1", nil
}

func (p *stubProvider) CheckStatus(context.Context, string) (models.StatusReport, error) {
	return p.report, nil
}

type stubUsers map[string]models.User

func (u stubUsers) FindByEmail(_ context.Context, email string) (models.User, error) {
	user, ok := u[email]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

type stubGallery struct {
	items []models.PreviewItem
}

func (g *stubGallery) List(_ context.Context, userID string, page, limit int) ([]models.PreviewItem, int64, error) {
	var mine []models.PreviewItem
	for _, item := range g.items {
		if item.UserID == userID {
			mine = append(mine, item)
		}
	}
	total := int64(len(mine))
	start := min((page-1)*limit, len(mine))
	end := min(start+limit, len(mine))
	return mine[start:end], total, nil
}

type testServer struct {
	mux      *http.ServeMux
	ledger   *ledger.Ledger
	orch     *tryon.Orchestrator
	provider *stubProvider
}

func newTestServer(t *testing.T, balances map[string]int64, users stubUsers, gallery *stubGallery) *testServer {
	t.Helper()
	logger := utils.DiscardLogger()

	l := ledger.New(ledger.NewMemoryStore(balances), nil, logger)
	provider := &stubProvider{report: models.StatusReport{Status: models.ProviderPending}}
	results, err := tryon.NewResultHandler(&tryon.MemoryPreviewCollection{}, nil, "", logger)
	require.NoError(t, err)
	compensation := tryon.NewCompensationManager(l, nil, nil, logger)
	orch := tryon.New(tryon.Config{
		Pricing:      tryon.DefaultPricing(),
		PollInterval: time.Hour,
		Retention:    time.Minute,
	}, l, provider, results, compensation, nil, nil, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 0)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	if gallery == nil {
		gallery = &stubGallery{}
	}
	h := NewHandler(Deps{
		TryOns:    orch,
		Balances:  l,
		Gallery:   gallery,
		Users:     users,
		Pricing:   tryon.DefaultPricing(),
		JWTSecret: testSecret,
		Logger:    logger,
	})
	mux := http.NewServeMux()
	h.Register(mux)

	return &testServer{mux: mux, ledger: l, orch: orch, provider: provider}
}

func (s *testServer) do(t *testing.T, method, target, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if userID != "" {
		token, err := utils.GenerateToken(testSecret, userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func tryOnBody() TryOnRequest {
	return TryOnRequest{
		Kind:         models.KindImage,
		ProductID:    "product-1",
		UserImage:    "https://cdn.example.com/me.jpg",
		SubjectMedia: "https://cdn.example.com/shirt.jpg",
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, map[string]int64{"u1": 100}, nil, nil)

	rec := s.do(t, http.MethodGet, "/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/balance", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartTryOn_AcceptedAndDebited(t *testing.T) {
	s := newTestServer(t, map[string]int64{"u1": 100}, nil, nil)

	rec := s.do(t, http.MethodPost, "/try-on", "u1", tryOnBody())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp TryOnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, int64(25), resp.Cost)

	balance, err := s.ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(75), balance)

	status := s.do(t, http.MethodGet, "/try-on/status?id="+resp.TaskID, "u1", nil)
	require.Equal(t, http.StatusOK, status.Code)
	var task models.TryOnTask
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &task))
	assert.Equal(t, "prov-1", task.ProviderTaskID)

	other := s.do(t, http.MethodGet, "/try-on/status?id="+resp.TaskID, "u2", nil)
	assert.Equal(t, http.StatusNotFound, other.Code)
}

func TestStartTryOn_InsufficientFunds(t *testing.T) {
	s := newTestServer(t, map[string]int64{"u1": 20}, nil, nil)

	rec := s.do(t, http.MethodPost, "/try-on", "u1", tryOnBody())
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestStartTryOn_RefusedDuringShutdown(t *testing.T) {
	s := newTestServer(t, map[string]int64{"u1": 100}, nil, nil)
	require.NoError(t, s.orch.Shutdown(context.Background()))

	rec := s.do(t, http.MethodPost, "/try-on", "u1", tryOnBody())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	balance, err := s.ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestStartTryOn_InvalidRequest(t *testing.T) {
	s := newTestServer(t, map[string]int64{"u1": 100}, nil, nil)

	body := tryOnBody()
	body.UserImage = ""
	rec := s.do(t, http.MethodPost, "/try-on", "u1", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = tryOnBody()
	body.Kind = "hologram"
	rec = s.do(t, http.MethodPost, "/try-on", "u1", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartTryOn_SubmissionFailureIsRefunded(t *testing.T) {
	s := newTestServer(t, map[string]int64{"u1": 30}, nil, nil)
	s.provider.submitErr = errors.New("provider unavailable")

	rec := s.do(t, http.MethodPost, "/try-on", "u1", tryOnBody())
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, true, decode(t, rec)["refunded"])

	balance, err := s.ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}

func TestCancelTryOn(t *testing.T) {
	s := newTestServer(t, map[string]int64{"u1": 100}, nil, nil)

	rec := s.do(t, http.MethodPost, "/try-on", "u1", tryOnBody())
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp TryOnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	cancelRec := s.do(t, http.MethodPost, "/try-on/cancel?id="+resp.TaskID, "u1", nil)
	require.Equal(t, http.StatusOK, cancelRec.Code)

	task, ok := s.orch.Task(resp.TaskID)
	require.True(t, ok)
	assert.True(t, task.Canceled)

	missing := s.do(t, http.MethodPost, "/try-on/cancel?id=nope", "u1", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestBalanceHandler(t *testing.T) {
	s := newTestServer(t, map[string]int64{"u1": 100}, nil, nil)

	rec := s.do(t, http.MethodGet, "/balance", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(100), body["balance"])
	assert.Equal(t, map[string]interface{}{"image": float64(25), "video": float64(60)}, body["prices"])

	rec = s.do(t, http.MethodGet, "/balance", "ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGalleryHandler_Paginates(t *testing.T) {
	gallery := &stubGallery{}
	for i := 0; i < 3; i++ {
		gallery.items = append(gallery.items, models.PreviewItem{
			UserID: "u1",
			TaskID: "task",
			Media:  []string{"https://v3.fal.media/a.png"},
		})
	}
	gallery.items = append(gallery.items, models.PreviewItem{UserID: "u2"})
	s := newTestServer(t, map[string]int64{"u1": 100}, nil, gallery)

	rec := s.do(t, http.MethodGet, "/gallery?page=2&limit=2", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp GalleryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Total)
	assert.Equal(t, 2, resp.TotalPages)
	assert.Equal(t, 2, resp.CurrentPage)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, []string{"https://v3.fal.media/a.png"}, resp.Items[0].Media)
}

func TestLoginHandler(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)
	id := primitive.NewObjectID()
	users := stubUsers{
		"a@example.com": {ID: id, Email: "a@example.com", Password: string(hash), Status: "active"},
		"p@example.com": {ID: primitive.NewObjectID(), Email: "p@example.com", Password: string(hash), Status: "pending"},
	}
	s := newTestServer(t, map[string]int64{}, users, nil)

	rec := s.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "a@example.com", Password: "hunter22"})
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decode(t, rec)["token"].(string)
	userID, err := utils.ValidateToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, id.Hex(), userID)
	assert.NotContains(t, rec.Body.String(), string(hash))

	rec = s.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "a@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "nobody@example.com", Password: "hunter22"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "p@example.com", Password: "hunter22"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
