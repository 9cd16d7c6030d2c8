package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/imoveis/internal/config"
	"github.com/JonMunkholm/imoveis/internal/core"
	"github.com/JonMunkholm/imoveis/internal/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService records the last call and returns canned results.
type fakeService struct {
	err error

	created   core.RecordInput
	updatedID string
	deletedID string
	cascade   bool
	actor     core.Actor
	filter    core.RecordFilter
	auditOpts core.AuditLogOptions
	audited   []core.AuditLogParams

	record    core.Record
	hierarchy core.Hierarchy
	resolved  *int32
}

func (f *fakeService) CreateRecord(ctx context.Context, in core.RecordInput) (core.CreateResult, error) {
	f.created = in
	f.actor = core.ActorFromContext(ctx)
	if f.err != nil {
		return core.CreateResult{}, f.err
	}
	return core.CreateResult{ID: "8b7f0c52-0000-4000-8000-000000000001"}, nil
}

func (f *fakeService) UpdateRecord(ctx context.Context, id string, in core.RecordInput) error {
	f.updatedID = id
	f.actor = core.ActorFromContext(ctx)
	return f.err
}

func (f *fakeService) DeleteRecord(ctx context.Context, id string, cascade bool) (core.DeleteResult, error) {
	f.deletedID = id
	f.cascade = cascade
	if f.err != nil {
		return core.DeleteResult{}, f.err
	}
	return core.DeleteResult{RecordID: id, DeletedCounts: map[string]int64{"properties": 2, "property_documents": 3}}, nil
}

func (f *fakeService) GetRecord(ctx context.Context, id string) (core.Record, error) {
	return f.record, f.err
}

func (f *fakeService) ListRecords(ctx context.Context, flt core.RecordFilter) ([]core.RecordSummary, error) {
	f.filter = flt
	return nil, f.err
}

func (f *fakeService) GetHierarchy(ctx context.Context, id string) (core.Hierarchy, error) {
	return f.hierarchy, f.err
}

func (f *fakeService) ResolveReference(ctx context.Context, category, name string) (*int32, error) {
	return f.resolved, f.err
}

func (f *fakeService) ListReferences(ctx context.Context, category string) ([]core.ReferenceEntry, error) {
	return []core.ReferenceEntry{{ID: 1, Name: "Residencial"}}, f.err
}

func (f *fakeService) DiscoverDependents(ctx context.Context) ([]core.Dependent, error) {
	return []core.Dependent{{Table: "property_documents", Columns: []string{"property_id"}, Auxiliary: true}}, f.err
}

func (f *fakeService) AuditLog(ctx context.Context, opts core.AuditLogOptions) ([]core.AuditEntry, error) {
	f.auditOpts = opts
	return nil, f.err
}

func (f *fakeService) RecordAudit(ctx context.Context, params core.AuditLogParams) {
	f.audited = append(f.audited, params)
}

type fakeDatabase struct {
	pingErr      error
	reconfigErr  error
	reconfigured *database.Settings
}

func (d *fakeDatabase) Ping(ctx context.Context) error { return d.pingErr }
func (d *fakeDatabase) DatabaseName() string           { return "imoveis" }
func (d *fakeDatabase) Reconfigure(ctx context.Context, s database.Settings) error {
	d.reconfigured = &s
	return d.reconfigErr
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{RequestTimeout: 5 * time.Second},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

func newTestServer(t *testing.T, svc *fakeService, db *fakeDatabase, cfg *config.Config) *Server {
	t.Helper()
	s := NewServer(svc, db, cfg)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func do(s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestCreateRecord(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, &fakeDatabase{}, testConfig())

	rec := do(s, http.MethodPost, "/api/records", `{"matricula":"M-001","area":"12,5","purpose":"Comercial"}`,
		HeaderActorID, "u-1", HeaderActorName, "Ana")

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/api/records/8b7f0c52-0000-4000-8000-000000000001", rec.Header().Get("Location"))
	require.NotNil(t, svc.created.Matricula)
	assert.Equal(t, "M-001", *svc.created.Matricula)
	assert.Equal(t, core.Actor{ID: "u-1", Name: "Ana"}, svc.actor)
}

func TestCreateRecord_InvalidBody(t *testing.T) {
	s := newTestServer(t, &fakeService{}, &fakeDatabase{}, testConfig())

	rec := do(s, http.MethodPost, "/api/records", `{"matricula":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REQ002", decodeBody(t, rec)["code"])
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		kind   core.ErrorKind
		status int
		code   string
	}{
		{core.KindValidation, http.StatusBadRequest, "VAL001"},
		{core.KindInvalidReference, http.StatusUnprocessableEntity, "REC002"},
		{core.KindNotFound, http.StatusNotFound, "REC004"},
		{core.KindDuplicateKey, http.StatusConflict, "REC001"},
		{core.KindConflictHasChildren, http.StatusConflict, "REC003"},
		{core.KindIntegrityViolation, http.StatusInternalServerError, "DB001"},
		{core.KindStorageUnavailable, http.StatusServiceUnavailable, "DB004"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := &fakeService{err: &core.Error{Kind: tt.kind, Message: "boom"}}
			s := newTestServer(t, svc, &fakeDatabase{}, testConfig())

			rec := do(s, http.MethodPut, "/api/records/abc", `{}`)

			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, string(tt.kind), body["kind"])
		})
	}
}

func TestErrorResponse_HidesStorageDetails(t *testing.T) {
	svc := &fakeService{err: errors.New("pq: relation properties is broken at 10.0.0.5")}
	s := newTestServer(t, svc, &fakeDatabase{}, testConfig())

	rec := do(s, http.MethodGet, "/api/records/abc", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestDeleteRecord_ConflictListsChildren(t *testing.T) {
	child := core.ChildSummary{ID: uuid.MustParse("00000000-0000-4000-8000-000000000002"), Matricula: "M-002"}
	svc := &fakeService{err: &core.Error{
		Kind:     core.KindConflictHasChildren,
		Message:  "record has 1 child record(s); cascade required",
		Children: []core.ChildSummary{child},
	}}
	s := newTestServer(t, svc, &fakeDatabase{}, testConfig())

	rec := do(s, http.MethodDelete, "/api/records/00000000-0000-4000-8000-000000000001", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, svc.cascade)
	body := decodeBody(t, rec)
	children, ok := body["children"].([]any)
	require.True(t, ok)
	require.Len(t, children, 1)
	assert.Equal(t, "M-002", children[0].(map[string]any)["matricula"])
}

func TestDeleteRecord_Cascade(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, &fakeDatabase{}, testConfig())

	rec := do(s, http.MethodDelete, "/api/records/rid?cascade=true", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.cascade)
	assert.Equal(t, "rid", svc.deletedID)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(5), body["total"])

	rec = do(s, http.MethodDelete, "/api/records/rid?cascade=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRecords_Filters(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, &fakeDatabase{}, testConfig())

	rec := do(s, http.MethodGet, "/api/records?matricula=M-&principal=true&limit=20&offset=40", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.RecordFilter{MatriculaPrefix: "M-", PrincipalOnly: true, Limit: 20, Offset: 40}, svc.filter)
	body := decodeBody(t, rec)
	assert.Equal(t, []any{}, body["records"])
}

func TestRecordAudit(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, &fakeDatabase{}, testConfig())

	rec := do(s, http.MethodGet, "/api/records/rid/audit?action=record_delete", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rid", svc.auditOpts.RecordID)
	assert.Equal(t, core.ActionRecordDelete, svc.auditOpts.Action)
	assert.Equal(t, core.DefaultAuditLimit, svc.auditOpts.Limit)
}

func TestResolveReference(t *testing.T) {
	id := int32(7)
	s := newTestServer(t, &fakeService{resolved: &id}, &fakeDatabase{}, testConfig())

	rec := do(s, http.MethodGet, "/api/references/building_use/resolve?name=+Residencial+", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(7), body["id"])
	assert.Equal(t, "Residencial", body["name"])

	s = newTestServer(t, &fakeService{}, &fakeDatabase{}, testConfig())
	rec = do(s, http.MethodGet, "/api/references/purpose/resolve?name=", "")
	assert.Nil(t, decodeBody(t, rec)["id"])
}

func TestDependents(t *testing.T) {
	s := newTestServer(t, &fakeService{}, &fakeDatabase{}, testConfig())

	rec := do(s, http.MethodGet, "/api/schema/dependents", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, core.RecordsTable, body["table"])
	assert.Len(t, body["dependents"], 1)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeService{}, &fakeDatabase{}, testConfig())
	rec := do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "imoveis", decodeBody(t, rec)["database"])

	s = newTestServer(t, &fakeService{}, &fakeDatabase{pingErr: errors.New("down")}, testConfig())
	rec = do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeService{}, &fakeDatabase{}, testConfig())
	rec := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	cfg := testConfig()
	cfg.Metrics.Enabled = false
	s = newTestServer(t, &fakeService{}, &fakeDatabase{}, cfg)
	rec = do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret-key"}}
	s := newTestServer(t, &fakeService{}, &fakeDatabase{}, cfg)

	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodGet, "/api/records", "").Code)
	assert.Equal(t, http.StatusForbidden, do(s, http.MethodGet, "/api/records", "", "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/records", "", "X-API-Key", "secret-key").Code)

	// Health stays public for probes.
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/healthz", "").Code)
}

func TestRequireActor(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireActor = true
	s := newTestServer(t, &fakeService{}, &fakeDatabase{}, cfg)

	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodPost, "/api/records", `{}`).Code)
	assert.Equal(t, http.StatusCreated, do(s, http.MethodPost, "/api/records", `{}`, HeaderActorID, "u-1").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/records", "").Code)
}

func TestReconnect(t *testing.T) {
	cfg := testConfig()
	s := newTestServer(t, &fakeService{}, &fakeDatabase{}, cfg)
	rec := do(s, http.MethodPost, "/api/admin/database/reconnect", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "admin API disabled by default")

	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k"}, EnableAdminAPI: true}
	svc := &fakeService{}
	db := &fakeDatabase{}
	s = newTestServer(t, svc, db, cfg)

	rec = do(s, http.MethodPost, "/api/admin/database/reconnect", `{"maxConns":8}`, "X-API-Key", "k")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, db.reconfigured)
	assert.Equal(t, 8, db.reconfigured.MaxConns)
	require.Len(t, svc.audited, 1)
	assert.Equal(t, core.ActionDatabaseReconnect, svc.audited[0].Action)

	rec = do(s, http.MethodPost, "/api/admin/database/reconnect", "", "X-API-Key", "k")
	assert.Equal(t, http.StatusOK, rec.Code, "empty body is a plain reconnect")

	db.reconfigErr = errors.New("dial tcp: refused")
	rec = do(s, http.MethodPost, "/api/admin/database/reconnect", "", "X-API-Key", "k")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Len(t, svc.audited, 2)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	s := newTestServer(t, &fakeService{}, &fakeDatabase{}, cfg)

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodGet, "/healthz", "").Code)
}
