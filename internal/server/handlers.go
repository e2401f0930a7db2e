package server

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/medwatch/internal/index"
	"github.com/mohammad-safakhou/medwatch/internal/pipeline"
	"github.com/mohammad-safakhou/medwatch/internal/snapshot"
	"github.com/mohammad-safakhou/medwatch/internal/store"
	"github.com/mohammad-safakhou/medwatch/models"
)

// Runner triggers one full ingestion run.
type Runner interface {
	Run(ctx context.Context) (models.Snapshot, error)
}

// Handler serves the dashboard API on top of the current snapshot.
type Handler struct {
	Pipeline  Runner
	Snapshots *snapshot.Store
	Index     *index.Index
	Runs      *store.Store
	Logger    *log.Logger
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/refresh", h.refresh)
	g.GET("/news", h.news)
	g.GET("/export", h.export)
	g.GET("/search", h.search)
	g.GET("/runs", h.runs)
}

// refresh triggers an ingestion run and blocks until it completes. A run
// already in flight yields 409 rather than queueing a second one.
func (h *Handler) refresh(c echo.Context) error {
	snap, err := h.Pipeline.Run(c.Request().Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			return echo.NewHTTPError(http.StatusConflict, "a run is already in progress")
		}
		return err
	}
	if err := h.Index.Rebuild(snap); err != nil {
		h.Logger.Printf("index rebuild after refresh: %v", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"generated_at": snap.GeneratedAt,
		"records":      len(snap.Records),
	})
}

// news returns the current snapshot, optionally filtered by publication date
// range (inclusive) and by company name substring.
func (h *Handler) news(c echo.Context) error {
	snap, err := h.Snapshots.Load()
	if err != nil {
		return err
	}

	filtered, err := filterRecords(snap.Records, c.QueryParam("start_date"), c.QueryParam("end_date"), c.QueryParam("company"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"generated_at": snap.GeneratedAt,
		"records":      filtered,
	})
}

// export streams the current snapshot as a downloadable file. format=json
// returns the raw snapshot; format=csv flattens one row per article.
func (h *Handler) export(c echo.Context) error {
	snap, err := h.Snapshots.Load()
	if err != nil {
		return err
	}

	switch format := c.QueryParam("format"); format {
	case "", "json":
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="medtech_news.json"`)
		return c.JSON(http.StatusOK, snap)
	case "csv":
		c.Response().Header().Set(echo.HeaderContentType, "text/csv")
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="medtech_news.csv"`)
		c.Response().WriteHeader(http.StatusOK)
		return writeCSV(c.Response(), snap.Records)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be csv or json")
	}
}

// search runs a full-text query over the indexed snapshot.
func (h *Handler) search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	k, _ := strconv.Atoi(c.QueryParam("k"))
	hits, err := h.Index.Search(q, k)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"query": q, "hits": hits})
}

// runs lists recent ingestion-run history when postgres is configured.
func (h *Handler) runs(c echo.Context) error {
	if h.Runs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run history not configured")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := h.Runs.RecentRuns(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

const dateLayout = "2006-01-02"

func filterRecords(records []models.ArticleRecord, startRaw, endRaw, company string) ([]models.ArticleRecord, error) {
	var start, end time.Time
	if startRaw != "" {
		t, err := time.Parse(dateLayout, startRaw)
		if err != nil {
			return nil, errors.New("start_date must be YYYY-MM-DD")
		}
		start = t
	}
	if endRaw != "" {
		t, err := time.Parse(dateLayout, endRaw)
		if err != nil {
			return nil, errors.New("end_date must be YYYY-MM-DD")
		}
		// inclusive upper bound
		end = t.Add(24 * time.Hour)
	}
	company = strings.ToLower(strings.TrimSpace(company))

	filtered := []models.ArticleRecord{}
	for _, rec := range records {
		pub := rec.Reference.PublishedAt
		if !start.IsZero() && pub.Before(start) {
			continue
		}
		if !end.IsZero() && !pub.Before(end) {
			continue
		}
		if company != "" && !mentionsCompany(rec, company) {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered, nil
}

func mentionsCompany(rec models.ArticleRecord, company string) bool {
	for _, org := range rec.Entities[models.CategoryOrg] {
		if strings.Contains(strings.ToLower(org), company) {
			return true
		}
	}
	for _, org := range rec.EmergingCompanies {
		if strings.Contains(strings.ToLower(org), company) {
			return true
		}
	}
	return false
}

var csvHeader = []string{
	"title", "link", "source", "published_at",
	"persons", "organizations", "money", "dates", "locations",
	"quotes", "emerging_companies",
}

func writeCSV(w io.Writer, records []models.ArticleRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, rec := range records {
		quotes := make([]string, 0, len(rec.Quotes))
		for _, q := range rec.Quotes {
			quotes = append(quotes, q.Speaker+": "+q.Text)
		}
		row := []string{
			rec.Reference.Title,
			rec.Reference.Link,
			rec.Reference.Source,
			rec.Reference.PublishedAt.Format(time.RFC3339),
			strings.Join(rec.Entities[models.CategoryPerson], "; "),
			strings.Join(rec.Entities[models.CategoryOrg], "; "),
			strings.Join(rec.Entities[models.CategoryMoney], "; "),
			strings.Join(rec.Entities[models.CategoryDate], "; "),
			strings.Join(rec.Entities[models.CategoryGPE], "; "),
			strings.Join(quotes, " | "),
			strings.Join(rec.EmergingCompanies, "; "),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
