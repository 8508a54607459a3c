package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"foodlab/internal/adapters/export"
	"foodlab/internal/adapters/modules"
	"foodlab/internal/backup"
	"foodlab/internal/blob"
	"foodlab/internal/core"
	"foodlab/internal/infra/persistence/memory"
)

func clock() time.Time { return time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC) }

type harness struct {
	srv  *Server
	reg  *core.Registry
	bus  *core.Bus
	prom *core.PrometheusRecorder
}

func newHarness(t *testing.T, loader export.Loader) *harness {
	t.Helper()
	reg := core.NewRegistry(memory.NewStore(), core.WithClock(clock))
	bus := core.NewBus()
	agg := core.NewAggregationService(reg, nil, core.WithClock(clock))
	agg.Start(context.Background(), bus)
	t.Cleanup(agg.Stop)

	var mods []*modules.Module
	for _, c := range []core.Category{core.CategoryTableware, core.CategoryPesticide, core.CategoryOil, core.CategoryLeanMeat} {
		m, err := modules.New(reg, bus, modules.Config{Category: c})
		require.NoError(t, err)
		mods = append(mods, m)
	}
	imp, err := modules.NewImport(reg, bus, modules.Config{Category: core.CategoryPathogen})
	require.NoError(t, err)

	store := blob.NewMemory()
	prom := core.NewPrometheusRecorder()
	audit := export.NewAuditLog(nil, 0)
	if loader == nil {
		loader = export.Static(export.Capabilities{
			Rasterizer: export.SummaryRasterizer{Source: func(ctx context.Context) core.Summary { return agg.Compute(ctx, core.AllDates()) }},
			Assembler:  export.PDFAssembler{},
		})
	}
	exp := export.NewExporter(loader, store, export.WithClock(clock), export.WithAudit(audit), export.WithMetrics(prom), export.WithTitle("一食堂日报"))
	exp.Load(context.Background())
	require.NoError(t, exp.Wait(context.Background()))
	t.Cleanup(func() { _ = exp.Close() })

	srv, err := New(Services{
		Bus:         bus,
		Modules:     mods,
		Import:      imp,
		Aggregation: agg,
		Exporter:    exp,
		Audit:       audit,
		Backup:      backup.New(reg, bus, store, backup.WithClock(clock), backup.WithMetrics(prom)),
		Metrics:     prom.Handler(),
	}, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return &harness{srv: srv, reg: reg, bus: bus, prom: prom}
}

func (h *harness) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type submitResponse struct {
	Notice modules.Notice `json:"notice"`
	Table  modules.Table  `json:"table"`
}

func TestSubmitFormAndJSON(t *testing.T) {
	h := newHarness(t, nil)

	form := url.Values{
		"testDate":  {"2024-05-06"},
		"canteen":   {"一食堂"},
		"loc[]":     {"碗", "盘"},
		"rlu[]":     {"12", "40"},
		"result[]":  {"合格", "不合格"},
		"inspector": {"王"},
	}
	rec := h.do(t, http.MethodPost, "/api/categories/tableware/records", bytes.NewBufferString(form.Encode()), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[submitResponse](t, rec)
	require.Equal(t, modules.LevelSuccess, resp.Notice.Level)
	require.Len(t, resp.Table.Rows, 2)
	require.Equal(t, 2, resp.Table.Rows[0].Cells[0].RowSpan)

	rec = h.do(t, http.MethodPost, "/api/categories/pesticide/records",
		bytes.NewBufferString(`{"testDate":"2024-05-06","canteen":"二食堂","vegetableType":"菠菜","result":"不合格"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/dashboard?filter=day&day=2024-05-06", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[core.Summary](t, rec)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 0, summary.Stat(core.CategoryPesticide).PassRate)
	require.NotEmpty(t, summary.Alerts)
}

func TestSubmitRejectsImportOnlyAndUnknown(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/api/categories/pathogen/records", bytes.NewBufferString(`{"sampleId":"S1"}`), "application/json")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, modules.MsgImportOnly, decode[submitResponse](t, rec).Notice.Message)

	rec = h.do(t, http.MethodGet, "/api/categories/water/records", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/dashboard?filter=week", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteAndClick(t *testing.T) {
	h := newHarness(t, nil)
	st, err := h.reg.Store(core.CategoryOil)
	require.NoError(t, err)
	rec, err := st.Save(context.Background(), map[string]any{"testDate": "2024-05-06", "result": "合格"})
	require.NoError(t, err)

	resp := h.do(t, http.MethodPost, "/api/categories/oil/click", bytes.NewBufferString(`{"marker":"delete","id":"`+rec.IDString()+`"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, modules.LevelConfirm, decode[submitResponse](t, resp).Notice.Level)
	require.Len(t, st.All(context.Background()), 1)

	resp = h.do(t, http.MethodPost, "/api/categories/oil/click", bytes.NewBufferString(`{"marker":"edit","id":"1"}`), "application/json")
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = h.do(t, http.MethodDelete, "/api/categories/oil/records/"+rec.IDString(), nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, modules.MsgDeleted, decode[submitResponse](t, resp).Notice.Message)
	require.Empty(t, st.All(context.Background()))

	resp = h.do(t, http.MethodDelete, "/api/categories/oil/records/"+rec.IDString(), nil, "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	require.Equal(t, modules.MsgNotFound, decode[submitResponse](t, resp).Notice.Message)
}

func multipartFile(t *testing.T, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestImportPathogenFile(t *testing.T) {
	h := newHarness(t, nil)
	body, ct := multipartFile(t, "results.json", []byte(`[{"sampleId":"S1","testDate":"2024-05-06","positiveDetails":[{"pathogen":"沙门氏菌","ct":25}]},{"sampleId":"S2"}]`))
	rec := h.do(t, http.MethodPost, "/api/categories/pathogen/import", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "成功导入 2 条记录", decode[submitResponse](t, rec).Notice.Message)

	body, ct = multipartFile(t, "results.csv", []byte(`a,b`))
	rec = h.do(t, http.MethodPost, "/api/categories/pathogen/import", body, ct)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, modules.MsgImportFormat, decode[submitResponse](t, rec).Notice.Message)

	body, ct = multipartFile(t, "oil.json", []byte(`[]`))
	rec = h.do(t, http.MethodPost, "/api/categories/oil/import", body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportDownloadsPDFAndAudits(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/api/exports?title=日报", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
	require.Equal(t, "reports/日报_2024-05-06.pdf", rec.Header().Get("X-Report-Key"))

	rec = h.do(t, http.MethodPost, "/api/exports", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "reports/一食堂日报_2024-05-06.pdf", rec.Header().Get("X-Report-Key"))

	rec = h.do(t, http.MethodGet, "/api/exports/audit", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decode[struct {
		Entries []export.AuditEntry `json:"entries"`
	}](t, rec)
	require.Len(t, audit.Entries, 2)
	require.Equal(t, export.StatusSucceeded, audit.Entries[0].Status)

	rec = h.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "export")

	rec = h.do(t, http.MethodGet, "/debug/vars", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "memstats")
}

func TestExportNotReady(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, nil)
	slow := export.NewExporter(func(ctx context.Context) (export.Capabilities, error) {
		<-block
		return export.Capabilities{}, context.Canceled
	}, blob.NewMemory())
	slow.Load(context.Background())
	t.Cleanup(func() {
		close(block)
		_ = slow.Close()
	})
	h.srv.svc.Exporter = slow
	rec := h.do(t, http.MethodPost, "/api/exports", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, export.MsgNotReady, decode[modules.Notice](t, rec).Message)
}

func TestBackupAndRestore(t *testing.T) {
	h := newHarness(t, nil)
	st, err := h.reg.Store(core.CategoryLeanMeat)
	require.NoError(t, err)
	_, err = st.Save(context.Background(), map[string]any{"result": "合格"})
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/api/backup", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "backups/lab_backup_2024-05-06.json", rec.Header().Get("X-Backup-Key"))
	doc := rec.Body.Bytes()

	require.NoError(t, st.Replace(context.Background(), nil))
	body, ct := multipartFile(t, "lab_backup.json", doc)
	rec = h.do(t, http.MethodPost, "/api/restore", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, st.All(context.Background()), 1)

	rec = h.do(t, http.MethodPost, "/api/restore", bytes.NewBufferString(`[]`), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, backup.MsgInvalidFormat, decode[submitResponse](t, rec).Notice.Message)

	rec = h.do(t, http.MethodGet, "/api/backups", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "lab_backup_2024-05-06.json")
}

func TestPages(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `id="dashboard-capture-area"`)
	require.Contains(t, rec.Body.String(), "card_pesticide_count")
	require.Contains(t, rec.Body.String(), "<h1>一食堂日报</h1>")

	rec = h.do(t, http.MethodGet, "/categories/tableware", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `id="tablewareRecords"`)
	require.Contains(t, rec.Body.String(), modules.MsgNoData)

	rec = h.do(t, http.MethodGet, "/api/categories", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"importDriven":true`)
}

func TestWebsocketStreamsChangeEvents(t *testing.T) {
	h := newHarness(t, nil)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.srv.Hub().Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	h.bus.Publish(core.ChangeEvent{Category: core.CategoryOil, Action: core.ActionSave, Count: 1})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev core.ChangeEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, core.CategoryOil, ev.Category)
	require.Equal(t, core.ActionSave, ev.Action)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Services{})
	require.Error(t, err)
}
