package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"QRKot/internal/matcher"
	"QRKot/internal/model"
	"QRKot/internal/repository"
)

const testSecret = "test-secret"

// mockProjects реализует ProjectService через функции-поля
type mockProjects struct {
	CreateFn func(name, description string, fullAmount int64) (*model.CharityProject, error)
	UpdateFn func(id int, upd model.ProjectUpdate) (*model.CharityProject, error)
	DeleteFn func(id int) (*model.CharityProject, error)
	ListFn   func() ([]model.CharityProject, error)
	ReportFn func() ([]model.ProjectCompletion, error)
}

func (m *mockProjects) Create(_ context.Context, name, description string, fullAmount int64) (*model.CharityProject, error) {
	return m.CreateFn(name, description, fullAmount)
}
func (m *mockProjects) Update(_ context.Context, id int, upd model.ProjectUpdate) (*model.CharityProject, error) {
	return m.UpdateFn(id, upd)
}
func (m *mockProjects) Delete(_ context.Context, id int) (*model.CharityProject, error) {
	return m.DeleteFn(id)
}
func (m *mockProjects) List(_ context.Context) ([]model.CharityProject, error) {
	return m.ListFn()
}
func (m *mockProjects) Report(_ context.Context) ([]model.ProjectCompletion, error) {
	return m.ReportFn()
}

// mockDonations реализует DonationService через функции-поля
type mockDonations struct {
	CreateFn     func(userID int, fullAmount int64, comment *string) (*model.Donation, error)
	ListFn       func() ([]model.Donation, error)
	ListByUserFn func(userID int) ([]model.Donation, error)
}

func (m *mockDonations) Create(_ context.Context, userID int, fullAmount int64, comment *string) (*model.Donation, error) {
	return m.CreateFn(userID, fullAmount, comment)
}
func (m *mockDonations) List(_ context.Context) ([]model.Donation, error) {
	return m.ListFn()
}
func (m *mockDonations) ListByUser(_ context.Context, userID int) ([]model.Donation, error) {
	return m.ListByUserFn(userID)
}

func newRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func newTestHandler(p *mockProjects, d *mockDonations) (*Handler, *bytes.Buffer) {
	var logs bytes.Buffer
	return NewHandler(p, d, NewAuthenticator(testSecret), zerolog.New(&logs)), &logs
}

// signToken выпускает токен для пользователя id
func signToken(t *testing.T, id int, superuser bool) string {
	t.Helper()
	claims := Claims{
		IsSuperuser: superuser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(id),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func do(t *testing.T, r http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestListProjects_Public(t *testing.T) {
	p := &mockProjects{ListFn: func() ([]model.CharityProject, error) {
		return []model.CharityProject{{ID: 1, Name: "A", Description: "d", FundingState: model.FundingState{FullAmount: 100, InvestedAmount: 60}}}, nil
	}}
	h, _ := newTestHandler(p, &mockDonations{})
	rec := do(t, newRouter(h), http.MethodGet, "/charity_project/", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, float64(60), got[0]["invested_amount"])
	require.Equal(t, false, got[0]["fully_invested"])
}

func TestCreateProject(t *testing.T) {
	p := &mockProjects{CreateFn: func(name, description string, fullAmount int64) (*model.CharityProject, error) {
		require.Equal(t, "Котики", name)
		require.Equal(t, "корм", description)
		require.Equal(t, int64(100), fullAmount)
		return &model.CharityProject{ID: 5, Name: name, Description: description, FundingState: model.FundingState{FullAmount: fullAmount}}, nil
	}}
	h, _ := newTestHandler(p, &mockDonations{})
	r := newRouter(h)
	body := `{"name":"Котики","description":"корм","full_amount":100}`

	// без токена
	rec := do(t, r, http.MethodPost, "/charity_project/", body, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, errCodeUnauthorized, decodeError(t, rec).Code)

	// обычный пользователь
	rec = do(t, r, http.MethodPost, "/charity_project/", body, signToken(t, 2, false))
	require.Equal(t, http.StatusForbidden, rec.Code)

	// суперпользователь
	rec = do(t, r, http.MethodPost, "/charity_project/", body, signToken(t, 1, true))
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.CharityProject
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 5, got.ID)
}

func TestCreateProject_BadBody(t *testing.T) {
	h, _ := newTestHandler(&mockProjects{}, &mockDonations{})
	r := newRouter(h)
	token := signToken(t, 1, true)

	rec := do(t, r, http.MethodPost, "/charity_project/", `{"name":`, token)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// лишние поля запрещены
	rec = do(t, r, http.MethodPost, "/charity_project/", `{"name":"A","description":"d","full_amount":1,"invested_amount":1}`, token)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateProject_ValidationError(t *testing.T) {
	p := &mockProjects{CreateFn: func(string, string, int64) (*model.CharityProject, error) {
		return nil, model.ErrNameTaken
	}}
	h, _ := newTestHandler(p, &mockDonations{})
	rec := do(t, newRouter(h), http.MethodPost, "/charity_project/", `{"name":"A","description":"d","full_amount":1}`, signToken(t, 1, true))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	require.Equal(t, errCodeInvalid, resp.Code)
	require.Equal(t, model.ErrNameTaken.Message, resp.Message)
	require.Equal(t, map[string]interface{}{"reason": "name_taken"}, resp.Details)
}

func TestUpdateProject(t *testing.T) {
	p := &mockProjects{UpdateFn: func(id int, upd model.ProjectUpdate) (*model.CharityProject, error) {
		switch id {
		case 1:
			require.Nil(t, upd.Name)
			require.Equal(t, int64(60), *upd.FullAmount)
			return &model.CharityProject{ID: 1, FundingState: model.FundingState{FullAmount: 60, InvestedAmount: 60, FullyInvested: true}}, nil
		case 2:
			return nil, model.ErrAmountBelowInvested
		default:
			return nil, repository.ErrNotFound
		}
	}}
	h, _ := newTestHandler(p, &mockDonations{})
	r := newRouter(h)
	token := signToken(t, 1, true)

	rec := do(t, r, http.MethodPatch, "/charity_project/1", `{"full_amount":60}`, token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"fully_invested":true`)

	rec = do(t, r, http.MethodPatch, "/charity_project/2", `{"full_amount":50}`, token)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, map[string]interface{}{"reason": "amount_below_invested"}, decodeError(t, rec).Details)

	rec = do(t, r, http.MethodPatch, "/charity_project/3", `{"name":"X"}`, token)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, errCodeNotFound, decodeError(t, rec).Code)

	// нечисловой id не совпадает с маршрутом
	rec = do(t, r, http.MethodPatch, "/charity_project/abc", `{"name":"X"}`, token)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteProject(t *testing.T) {
	p := &mockProjects{DeleteFn: func(id int) (*model.CharityProject, error) {
		if id == 1 {
			return &model.CharityProject{ID: 1, Name: "A"}, nil
		}
		return nil, model.ErrProjectHasInvestments
	}}
	h, _ := newTestHandler(p, &mockDonations{})
	r := newRouter(h)
	token := signToken(t, 1, true)

	rec := do(t, r, http.MethodDelete, "/charity_project/1", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"A"`)

	rec = do(t, r, http.MethodDelete, "/charity_project/2", "", token)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, map[string]interface{}{"reason": "project_has_investments"}, decodeError(t, rec).Details)
}

func TestProjectsReport_SuperuserOnly(t *testing.T) {
	p := &mockProjects{ReportFn: func() ([]model.ProjectCompletion, error) {
		return []model.ProjectCompletion{{ID: 1, Name: "A", Description: "d", CompletionSeconds: 3600}}, nil
	}}
	h, _ := newTestHandler(p, &mockDonations{})
	r := newRouter(h)

	rec := do(t, r, http.MethodGet, "/charity_project/report", "", signToken(t, 2, false))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, r, http.MethodGet, "/charity_project/report", "", signToken(t, 1, true))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"completion_rate":3600`)
}

func TestCreateDonation_UsesTokenUser(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := &mockDonations{CreateFn: func(userID int, fullAmount int64, comment *string) (*model.Donation, error) {
		require.Equal(t, 42, userID)
		require.Equal(t, int64(50), fullAmount)
		require.Equal(t, "на корм", *comment)
		return &model.Donation{ID: 9, UserID: userID, Comment: comment,
			FundingState: model.FundingState{FullAmount: fullAmount, InvestedAmount: 50, FullyInvested: true, CreateDate: created, CloseDate: &created}}, nil
	}}
	h, _ := newTestHandler(&mockProjects{}, d)
	rec := do(t, newRouter(h), http.MethodPost, "/donation/", `{"full_amount":50,"comment":"на корм"}`, signToken(t, 42, false))

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, float64(9), got["id"])
	// сокращённое представление не раскрывает распределение
	require.NotContains(t, got, "invested_amount")
	require.NotContains(t, got, "user_id")
}

func TestDonationLists(t *testing.T) {
	d := &mockDonations{
		ListFn: func() ([]model.Donation, error) {
			return []model.Donation{{ID: 1, UserID: 1}, {ID: 2, UserID: 2}}, nil
		},
		ListByUserFn: func(userID int) ([]model.Donation, error) {
			require.Equal(t, 2, userID)
			return []model.Donation{{ID: 2, UserID: 2, FundingState: model.FundingState{FullAmount: 10, InvestedAmount: 10}}}, nil
		},
	}
	h, _ := newTestHandler(&mockProjects{}, d)
	r := newRouter(h)

	rec := do(t, r, http.MethodGet, "/donation/", "", signToken(t, 2, false))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, r, http.MethodGet, "/donation/", "", signToken(t, 1, true))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"user_id":2`)

	rec = do(t, r, http.MethodGet, "/donation/my", "", signToken(t, 2, false))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "invested_amount")
	require.Contains(t, rec.Body.String(), `"full_amount":10`)

	rec = do(t, r, http.MethodGet, "/donation/my", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInternalErrors(t *testing.T) {
	p := &mockProjects{ListFn: func() ([]model.CharityProject, error) {
		return nil, errors.New("db is down")
	}}
	d := &mockDonations{CreateFn: func(int, int64, *string) (*model.Donation, error) {
		return nil, errors.Join(matcher.ErrConservationViolation, errors.New("moved=1"))
	}}
	h, logs := newTestHandler(p, d)
	r := newRouter(h)

	rec := do(t, r, http.MethodGet, "/charity_project/", "", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal error", decodeError(t, rec).Message)
	require.Contains(t, logs.String(), "db is down")

	rec = do(t, r, http.MethodPost, "/donation/", `{"full_amount":1}`, signToken(t, 1, false))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "moved")
}

func TestHealthAndReadiness(t *testing.T) {
	h, _ := newTestHandler(&mockProjects{}, &mockDonations{})
	r := newRouter(h)

	rec := do(t, r, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	h.AddReadinessCheck("postgres", func(context.Context) error { return nil })
	rec = do(t, r, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	h.AddReadinessCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	rec = do(t, r, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, map[string]interface{}{"redis": "connection refused"}, decodeError(t, rec).Details)
}
