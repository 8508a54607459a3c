package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"foodlab/internal/adapters/export"
	"foodlab/internal/adapters/modules"
	"foodlab/internal/backup"
	"foodlab/internal/core"
)

// maxUpload bounds import and restore payloads.
const maxUpload = 32 << 20

type navItem struct {
	Category core.Category
	Title    string
}

type categoryInfo struct {
	Category     core.Category `json:"category"`
	Title        string        `json:"title"`
	ImportDriven bool          `json:"importDriven"`
	MultiPoint   bool          `json:"multiPoint"`
	Headers      []string      `json:"headers"`
}

type noticeResponse struct {
	Notice modules.Notice `json:"notice"`
	Table  *modules.Table `json:"table,omitempty"`
	Report any            `json:"report,omitempty"`
}

func statusOf(n modules.Notice) int {
	if n.Level == modules.LevelError {
		return http.StatusUnprocessableEntity
	}
	return http.StatusOK
}

func (s *Server) module(c *gin.Context) (*modules.Module, bool) {
	cat, err := core.ParseCategory(c.Param("category"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	m, ok := s.modules[cat]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("category %s not served", cat)})
		return nil, false
	}
	return m, true
}

func (s *Server) nav() []navItem {
	var out []navItem
	for _, cat := range core.Categories() {
		if m, ok := s.modules[cat]; ok {
			out = append(out, navItem{Category: cat, Title: m.Descriptor().Title})
		}
	}
	return out
}

func pageRequest(c *gin.Context) modules.PageRequest {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("perPage", strconv.Itoa(modules.DefaultPerPage)))
	return modules.PageRequest{Page: page, PerPage: perPage, Order: c.DefaultQuery("order", modules.SortDesc)}
}

func (s *Server) listCategories(c *gin.Context) {
	out := make([]categoryInfo, 0, len(s.modules))
	for _, cat := range core.Categories() {
		m, ok := s.modules[cat]
		if !ok {
			continue
		}
		d := m.Descriptor()
		out = append(out, categoryInfo{
			Category:     cat,
			Title:        d.Title,
			ImportDriven: d.ImportDriven,
			MultiPoint:   d.SubEntryField != "",
			Headers:      m.Render(c.Request.Context()).Headers,
		})
	}
	c.JSON(http.StatusOK, gin.H{"categories": out})
}

func (s *Server) listRecords(c *gin.Context) {
	m, ok := s.module(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m.RenderPage(c.Request.Context(), pageRequest(c)))
}

func (s *Server) submitRecords(c *gin.Context) {
	m, ok := s.module(c)
	if !ok {
		return
	}
	var fields map[string]any
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		if err := c.ShouldBindJSON(&fields); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		form, err := formValues(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		fields = modules.FieldsFromForm(m.Descriptor(), form)
	}
	notice, table := m.HandleSubmit(c.Request.Context(), fields)
	c.JSON(statusOf(notice), noticeResponse{Notice: notice, Table: &table})
}

func formValues(c *gin.Context) (url.Values, error) {
	if strings.HasPrefix(c.ContentType(), gin.MIMEMultipartPOSTForm) {
		mf, err := c.MultipartForm()
		if err != nil {
			return nil, err
		}
		return url.Values(mf.Value), nil
	}
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	return c.Request.PostForm, nil
}

// deleteRecord is the confirmed delete; the browser asks before calling it.
func (s *Server) deleteRecord(c *gin.Context) {
	m, ok := s.module(c)
	if !ok {
		return
	}
	notice, table := m.HandleClick(c.Request.Context(), modules.ClickEvent{
		Marker:    modules.DeleteMarker,
		ID:        c.Param("id"),
		Confirmed: true,
	})
	status := statusOf(notice)
	if notice.Message == modules.MsgNotFound {
		status = http.StatusNotFound
	}
	c.JSON(status, noticeResponse{Notice: notice, Table: &table})
}

func (s *Server) click(c *gin.Context) {
	m, ok := s.module(c)
	if !ok {
		return
	}
	var ev modules.ClickEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	notice, table := m.HandleClick(c.Request.Context(), ev)
	if notice.Level == "" {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(statusOf(notice), noticeResponse{Notice: notice, Table: &table})
}

func (s *Server) importFile(c *gin.Context) {
	m, ok := s.module(c)
	if !ok {
		return
	}
	if s.svc.Import == nil || s.svc.Import.Module != m {
		c.JSON(http.StatusBadRequest, modules.Notice{Level: modules.LevelError, Message: modules.MsgImportOnly})
		return
	}
	name, payload, err := upload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	notice, report := s.svc.Import.HandleImport(c.Request.Context(), name, payload)
	table := m.Render(c.Request.Context())
	c.JSON(statusOf(notice), noticeResponse{Notice: notice, Table: &table, Report: report})
}

// upload reads the multipart "file" field.
func upload(c *gin.Context) (string, []byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("file field required: %w", err)
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, err
	}
	defer f.Close()
	payload, err := io.ReadAll(io.LimitReader(f, maxUpload))
	if err != nil {
		return "", nil, err
	}
	return fh.Filename, payload, nil
}

func (s *Server) filter(c *gin.Context) (core.DateFilter, error) {
	return core.ParseFilter(c.Query("filter"), c.Query("day"), c.Query("month"), c.Query("start"), c.Query("end"), s.now())
}

func (s *Server) dashboard(c *gin.Context) {
	f, err := s.filter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.svc.Aggregation.Compute(c.Request.Context(), f))
}

// setFilter changes the filter driving the live display.
func (s *Server) setFilter(c *gin.Context) {
	f, err := s.filter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.svc.Aggregation.SetFilter(c.Request.Context(), f))
}

func (s *Server) exportReport(c *gin.Context) {
	if s.svc.Exporter == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "export not configured"})
		return
	}
	notice, art := s.svc.Exporter.HandleExport(c.Request.Context(), c.Query("title"))
	switch {
	case notice.Level == modules.LevelSuccess:
		c.Header("X-Report-Key", art.Key)
		c.Header("X-Report-Pages", strconv.Itoa(art.Pages))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(art.Filename)))
		c.Data(http.StatusOK, "application/pdf", art.Data)
	case notice.Message == export.MsgNotReady:
		c.JSON(http.StatusServiceUnavailable, notice)
	default:
		c.JSON(http.StatusInternalServerError, notice)
	}
}

func (s *Server) exportAudit(c *gin.Context) {
	if s.svc.Audit == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "audit not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": s.svc.Audit.Entries()})
}

func (s *Server) backup(c *gin.Context) {
	if s.svc.Backup == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "backup not configured"})
		return
	}
	notice, res := s.svc.Backup.HandleBackup(c.Request.Context())
	if notice.Level != modules.LevelSuccess {
		c.JSON(http.StatusInternalServerError, notice)
		return
	}
	c.Header("X-Backup-Key", res.Key)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	c.Data(http.StatusOK, "application/json", res.Data)
}

func (s *Server) listBackups(c *gin.Context) {
	if s.svc.Backup == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "backup not configured"})
		return
	}
	list, err := s.svc.Backup.List(c.Request.Context())
	if err != nil {
		s.log.Error("list backups", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": backup.MsgFailed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": list})
}

// restore accepts a multipart "file" field or a raw JSON body.
func (s *Server) restore(c *gin.Context) {
	if s.svc.Backup == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "backup not configured"})
		return
	}
	var payload []byte
	var err error
	if strings.HasPrefix(c.ContentType(), gin.MIMEMultipartPOSTForm) {
		_, payload, err = upload(c)
	} else {
		payload, err = io.ReadAll(io.LimitReader(c.Request.Body, maxUpload))
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	notice, report := s.svc.Backup.HandleRestore(c.Request.Context(), payload)
	switch {
	case notice.Level == modules.LevelSuccess:
		c.JSON(http.StatusOK, noticeResponse{Notice: notice, Report: report})
	case notice.Message == backup.MsgInvalidFormat:
		c.JSON(http.StatusBadRequest, noticeResponse{Notice: notice})
	default:
		c.JSON(http.StatusInternalServerError, noticeResponse{Notice: notice})
	}
}

func (s *Server) dashboardPage(c *gin.Context) {
	summary := s.svc.Aggregation.Last()
	if summary.GeneratedAt.IsZero() {
		summary = s.svc.Aggregation.Refresh(c.Request.Context())
	}
	title := export.DefaultTitle
	if s.svc.Exporter != nil {
		title = s.svc.Exporter.Title()
	}
	c.HTML(http.StatusOK, "dashboard", gin.H{
		"Title":   title,
		"Nav":     s.nav(),
		"Summary": summary,
	})
}

func (s *Server) categoryPage(c *gin.Context) {
	m, ok := s.module(c)
	if !ok {
		return
	}
	c.HTML(http.StatusOK, "category", gin.H{
		"Title":    m.Descriptor().Title,
		"Category": m.Descriptor().Category,
		"Nav":      s.nav(),
		"Table":    m.RenderPage(c.Request.Context(), pageRequest(c)),
	})
}
