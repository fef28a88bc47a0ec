package controllers

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamcatuk/vy-numbers/internal/admin"
	"github.com/lamcatuk/vy-numbers/internal/reservations"
	"github.com/lamcatuk/vy-numbers/internal/slots"
	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/enums"
	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
	"github.com/lamcatuk/vy-numbers/pkg/pagination"
)

type stubAdminService struct {
	admin.Service

	list       *slots.ListResult
	listInput  admin.ListInput
	imported   string
	editID     string
	editInput  admin.EditInput
	bulkAction admin.BulkAction
	bulkBlob   string
	resetWith  string
	err        error
}

func (s *stubAdminService) List(_ context.Context, in admin.ListInput) (*slots.ListResult, error) {
	s.listInput = in
	return s.list, s.err
}

func (s *stubAdminService) Import(_ context.Context, r io.Reader) (*admin.ImportReport, error) {
	b, _ := io.ReadAll(r)
	s.imported = string(b)
	return &admin.ImportReport{Rows: 1, Applied: 1, Skipped: []string{}, Duplicates: []admin.RowIssue{}, Invalid: []admin.RowIssue{}}, s.err
}

func (s *stubAdminService) Edit(_ context.Context, id string, in admin.EditInput) (*admin.EditResult, error) {
	s.editID = id
	s.editInput = in
	if s.err != nil {
		return nil, s.err
	}
	return &admin.EditResult{ID: id, Status: enums.SlotStatusSold, PasswordSet: in.Password != ""}, nil
}

func (s *stubAdminService) Bulk(_ context.Context, action admin.BulkAction, blob string) (*admin.BulkOutcome, error) {
	s.bulkAction = action
	s.bulkBlob = blob
	return &admin.BulkOutcome{BulkResult: reservations.BulkResult{Requested: 2, Applied: []string{"0001"}, Skipped: []string{"0002"}}, Invalid: []string{}}, s.err
}

func (s *stubAdminService) Reset(_ context.Context, confirm string) (int64, error) {
	s.resetWith = confirm
	if confirm != admin.ResetConfirmation {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "type RESET to confirm the reset")
	}
	return 9999, nil
}

func (s *stubAdminService) Reserve(context.Context, string) (bool, error) { return true, s.err }

func adminRouter(svc admin.Service) http.Handler {
	r := chi.NewRouter()
	r.Get("/numbers", AdminListNumbers(svc, nil))
	r.Post("/numbers/bulk", AdminBulkNumbers(svc, nil))
	r.Post("/numbers/import", AdminImportNumbers(svc, nil))
	r.Post("/numbers/reset", AdminResetNumbers(svc, nil))
	r.Post("/numbers/{num}/reserve", AdminReserveNumber(svc, nil))
	r.Patch("/numbers/{num}", AdminEditNumber(svc, nil))
	return r
}

func TestAdminListHidesPasswordHash(t *testing.T) {
	sold := models.Slot{Num: "0042", Status: enums.SlotStatusSold, UpdatedAt: time.Now()}
	sold.Attributes.Nickname = "The Answer"
	sold.Attributes.PasswordHash = "$argon2id$secret"
	svc := &stubAdminService{list: &slots.ListResult{
		Slots: []models.Slot{sold},
		Page:  pagination.NewPage(pagination.Params{Page: 1, PageSize: 100}, 1),
	}}

	rec := httptest.NewRecorder()
	adminRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/numbers?status=sold&search=42&page=1&page_size=100", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "argon2id")

	var body slotListResponse
	decodeData(t, rec, &body)
	require.Len(t, body.Numbers, 1)
	assert.True(t, body.Numbers[0].PasswordSet)
	assert.Equal(t, "The Answer", body.Numbers[0].Attributes.Nickname)
	assert.Equal(t, admin.ListInput{Status: "sold", Search: "42", Page: 1, PageSize: 100}, svc.listInput)
}

func TestAdminListRejectsBadPaging(t *testing.T) {
	rec := httptest.NewRecorder()
	adminRouter(&stubAdminService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/numbers?page=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminBulkValidatesAction(t *testing.T) {
	svc := &stubAdminService{}

	rec := httptest.NewRecorder()
	adminRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/numbers/bulk", strings.NewReader(`{"action":"sell","numbers":"1 2"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	adminRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/numbers/bulk", strings.NewReader(`{"action":"reserve","numbers":"1, 2"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, admin.BulkReserve, svc.bulkAction)
	assert.Equal(t, "1, 2", svc.bulkBlob)
}

func TestAdminImportAcceptsRawAndMultipart(t *testing.T) {
	csvBody := "number,association,nickname,category,country,significance\n0001,a,b,c,d,e\n"

	svc := &stubAdminService{}
	req := httptest.NewRequest(http.MethodPost, "/numbers/import", strings.NewReader(csvBody))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	adminRouter(svc).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, csvBody, svc.imported)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "numbers.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte(csvBody))
	require.NoError(t, mw.Close())

	svc = &stubAdminService{}
	req = httptest.NewRequest(http.MethodPost, "/numbers/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	adminRouter(svc).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, csvBody, svc.imported)
}

func TestAdminEditPassesInput(t *testing.T) {
	svc := &stubAdminService{}
	body := `{"status":"sold","order_ref":"WC-1","owner_ref":"7","password":"longenough","attributes":{"nickname":"Seven"}}`

	rec := httptest.NewRecorder()
	adminRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/numbers/0007", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0007", svc.editID)
	assert.Equal(t, "WC-1", svc.editInput.OrderRef)
	require.NotNil(t, svc.editInput.Attributes)
	assert.Equal(t, "Seven", svc.editInput.Attributes.Nickname)

	var res admin.EditResult
	decodeData(t, rec, &res)
	assert.True(t, res.PasswordSet)
}

func TestAdminEditMapsConflict(t *testing.T) {
	svc := &stubAdminService{err: pkgerrors.New(pkgerrors.CodeConflict, "Number changed while it was being edited. Reload and try again.")}
	rec := httptest.NewRecorder()
	adminRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/numbers/0007", strings.NewReader(`{"status":"available"}`)))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), decodeErrorCode(t, rec))
}

func TestAdminEditRejectsUnknownStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	adminRouter(&stubAdminService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/numbers/0007", strings.NewReader(`{"status":"gone"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminResetNeedsConfirmation(t *testing.T) {
	svc := &stubAdminService{}

	rec := httptest.NewRecorder()
	adminRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/numbers/reset", strings.NewReader(`{"confirm":"yes"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	adminRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/numbers/reset", strings.NewReader(`{"confirm":"RESET"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int64
	decodeData(t, rec, &body)
	assert.Equal(t, int64(9999), body["reset"])
}

func TestAdminReserveNumber(t *testing.T) {
	rec := httptest.NewRecorder()
	adminRouter(&stubAdminService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/numbers/0003/reserve", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body toggleResponse
	decodeData(t, rec, &body)
	assert.Equal(t, toggleResponse{Number: "0003", Applied: true}, body)
}
