package printjob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
)

const (
	defaultForecastDays = 5
	maxForecastDays     = 30
	maxCategoryLength   = 100
	maxProductRows      = 1000
)

var reportKeys = []string{domain.ReportKeyWeatherForecast, domain.ReportKeyProducts}

var forecastSummaries = []string{
	"Freezing", "Bracing", "Chilly", "Cool", "Mild", "Warm", "Balmy", "Hot", "Sweltering", "Scorching",
}

func defaultRand(n int) int { return rand.IntN(n) }

// ReportKeys lists the accepted report keys.
func ReportKeys() []string { return slices.Clone(reportKeys) }

// NormalizeReportKey trims and lowercases key and checks it against the
// allow-list.
func NormalizeReportKey(key string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if !slices.Contains(reportKeys, k) {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownReportKey, key)
	}
	return k, nil
}

// validateParameters checks the per-report parameter rules and returns the
// compacted JSON to store, or nil when there are none.
func validateParameters(key string, raw json.RawMessage) (*string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	params, err := decodeParameters(trimmed)
	if err != nil {
		return nil, err
	}

	switch key {
	case domain.ReportKeyWeatherForecast:
		if tok, ok := params["days"]; ok {
			days, ok := intToken(tok)
			if !ok || days < 1 || days > maxForecastDays {
				return nil, domain.InvalidParameters("days must be an integer between 1 and %d", maxForecastDays)
			}
		}
	case domain.ReportKeyProducts:
		if tok, ok := params["onlyActive"]; ok {
			if _, ok := boolToken(tok); !ok {
				return nil, domain.InvalidParameters("onlyActive must be a boolean")
			}
		}
		if tok, ok := params["category"]; ok && utf8.RuneCountInString(textToken(tok)) > maxCategoryLength {
			return nil, domain.InvalidParameters("category must not exceed %d characters", maxCategoryLength)
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, domain.InvalidParameters("parameters must be a JSON object")
	}
	s := buf.String()
	return &s, nil
}

func decodeParameters(raw []byte) (map[string]json.RawMessage, error) {
	var params map[string]json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, domain.InvalidParameters("parameters must be a JSON object")
	}
	return params, nil
}

// intToken accepts a JSON integer or a string holding one.
func intToken(tok json.RawMessage) (int, bool) {
	var n int
	if err := json.Unmarshal(tok, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(tok, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// boolToken accepts a JSON boolean or the strings "true"/"false" in any case.
func boolToken(tok json.RawMessage) (bool, bool) {
	var b bool
	if err := json.Unmarshal(tok, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(tok, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// textToken returns a string token's value, or the raw JSON of anything else.
func textToken(tok json.RawMessage) string {
	var s string
	if err := json.Unmarshal(tok, &s); err == nil {
		return s
	}
	if string(tok) == "null" {
		return ""
	}
	return string(tok)
}

// WorkItem is what a worker needs to render a job.
type WorkItem struct {
	JobID           uuid.UUID        `json:"jobId"`
	CompanyID       uuid.UUID        `json:"companyId"`
	CreatedByUserID string           `json:"createdByUserId"`
	ReportKey       string           `json:"reportKey"`
	Format          domain.JobFormat `json:"format"`
	Parameters      json.RawMessage  `json:"parameters"`
	Data            any              `json:"data"`
}

// Forecast is one row of the weather-forecast report.
type Forecast struct {
	Date         string `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	TemperatureF int    `json:"temperatureF"`
	Summary      string `json:"summary"`
}

type forecastData struct {
	WeatherForecastList []Forecast `json:"weatherForecastList"`
}

type productsData struct {
	Products []domain.Product `json:"products"`
}

// GetWorkItem returns the job parameters and report dataset. The dataset is
// always scoped to the job's own company.
func (s *Service) GetWorkItem(ctx context.Context, id uuid.UUID) (*WorkItem, error) {
	if id == uuid.Nil {
		return nil, domain.ErrJobNotFound
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	var params map[string]json.RawMessage
	var rawParams json.RawMessage
	if job.ParametersJSON != nil && strings.TrimSpace(*job.ParametersJSON) != "" {
		rawParams = json.RawMessage(*job.ParametersJSON)
		if params, err = decodeParameters(rawParams); err != nil {
			return nil, fmt.Errorf("stored parameters of job %s: %w", job.ID, err)
		}
	}

	var data any
	switch job.ReportKey {
	case domain.ReportKeyWeatherForecast:
		data = forecastData{WeatherForecastList: s.forecast(params)}
	case domain.ReportKeyProducts:
		onlyActive := true
		if tok, ok := params["onlyActive"]; ok {
			if b, ok := boolToken(tok); ok {
				onlyActive = b
			}
		}
		var category *string
		if tok, ok := params["category"]; ok {
			if c := strings.TrimSpace(textToken(tok)); c != "" {
				category = &c
			}
		}
		products, err := s.store.ListProducts(ctx, job.CompanyID, onlyActive, category, maxProductRows)
		if err != nil {
			return nil, err
		}
		data = productsData{Products: products}
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownReportKey, job.ReportKey)
	}

	return &WorkItem{
		JobID:           job.ID,
		CompanyID:       job.CompanyID,
		CreatedByUserID: job.CreatedByUserID,
		ReportKey:       job.ReportKey,
		Format:          job.Format,
		Parameters:      rawParams,
		Data:            data,
	}, nil
}

func (s *Service) forecast(params map[string]json.RawMessage) []Forecast {
	days := defaultForecastDays
	if tok, ok := params["days"]; ok {
		if n, ok := intToken(tok); ok {
			days = max(1, min(maxForecastDays, n))
		}
	}

	today := s.now()
	items := make([]Forecast, days)
	for i := range items {
		c := s.rng(75) - 20
		items[i] = Forecast{
			Date:         today.AddDate(0, 0, i+1).Format("2006-01-02"),
			TemperatureC: c,
			TemperatureF: 32 + int(float64(c)/0.5556),
			Summary:      forecastSummaries[s.rng(len(forecastSummaries))],
		}
	}
	return items
}
