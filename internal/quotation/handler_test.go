package quotation

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotedesk/quotedesk/internal/shared"
)

func newQuotationRouter(fx *serviceFixture) chi.Router {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), fx.svc, nil)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		sess := &shared.Session{ID: "test-session"}
		sess.SetUser(userID)
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCreateEndpointAllocatesNumber(t *testing.T) {
	fx := newServiceFixture(time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC))
	router := newQuotationRouter(fx)

	rr := doJSON(t, router, http.MethodPost, "/quotations", singleItemRequest(), "7")
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp struct {
		ID          int64  `json:"id"`
		QuotationNo string `json:"quotation_no"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotZero(t, resp.ID)
	assert.Equal(t, "QT/2526/AR/001", resp.QuotationNo)
}

func TestCreateEndpointRequiresSession(t *testing.T) {
	fx := newServiceFixture(time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC))
	router := newQuotationRouter(fx)

	rr := doJSON(t, router, http.MethodPost, "/quotations", singleItemRequest(), "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, fx.repo.quotations)
}

func TestCreateEndpointRejectsMissingItems(t *testing.T) {
	fx := newServiceFixture(time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC))
	router := newQuotationRouter(fx)

	req := singleItemRequest()
	req.Items = nil
	rr := doJSON(t, router, http.MethodPost, "/quotations", req, "7")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPreviewEndpointReturnsNumber(t *testing.T) {
	now := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	fx := newServiceFixture(now)
	seedOpenQuotation(fx.repo, "QT/2526/AR/007", now, 30, StatusPending)
	router := newQuotationRouter(fx)

	rr := doJSON(t, router, http.MethodGet, "/quotations/next-number", nil, "7")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "QT/2526/AR/008", resp["quotation_no"])
}

func TestShowEndpointNotFound(t *testing.T) {
	fx := newServiceFixture(time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC))
	router := newQuotationRouter(fx)

	rr := doJSON(t, router, http.MethodGet, "/quotations/42", nil, "7")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/problem+json")
}

func TestDecideEndpointConflictOnDecided(t *testing.T) {
	now := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	fx := newServiceFixture(now)
	src := seedOpenQuotation(fx.repo, "QT/2526/AR/001", now, 30, StatusWon)
	router := newQuotationRouter(fx)

	rr := doJSON(t, router, http.MethodPost, "/quotations/1/decision",
		DecideRequest{Decision: DecisionLost}, "7")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, StatusWon, fx.repo.quotations[src.ID].Status)
}

func TestReissueEndpointConflictOnUnexpired(t *testing.T) {
	now := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	fx := newServiceFixture(now)
	seedOpenQuotation(fx.repo, "QT/2526/AR/001", now, 30, StatusPending)
	router := newQuotationRouter(fx)

	rr := doJSON(t, router, http.MethodPost, "/quotations/1/reissue", ReissueRequest{}, "7")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Len(t, fx.repo.quotations, 1)
}

func TestListEndpointAnnotatesValidity(t *testing.T) {
	now := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	fx := newServiceFixture(now)
	seedOpenQuotation(fx.repo, "QT/2526/AR/001",
		time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC), 30, StatusPending)
	router := newQuotationRouter(fx)

	rr := doJSON(t, router, http.MethodGet, "/quotations?status=pending", nil, "7")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Quotations []ListedQuotation `json:"quotations"`
		Total      int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Quotations, 1)
	assert.Equal(t, ValidityExpired, resp.Quotations[0].Validity.State)
}

func TestSummaryEndpoint(t *testing.T) {
	now := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	fx := newServiceFixture(now)
	seedOpenQuotation(fx.repo, "QT/2526/AR/001", now, 30, StatusDraft)
	seedOpenQuotation(fx.repo, "QT/2526/AR/002", now, 30, StatusWon)
	router := newQuotationRouter(fx)

	rr := doJSON(t, router, http.MethodGet, "/quotations/summary", nil, "7")
	require.Equal(t, http.StatusOK, rr.Code)

	var sum Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Draft)
	assert.Equal(t, 1, sum.Won)
	assert.InDelta(t, 10030.0, sum.OpenValue, 1e-9)
}
