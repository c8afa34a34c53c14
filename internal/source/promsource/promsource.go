// Package promsource reads daily namespace peak usage from Prometheus.
package promsource

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/api"
	apiv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/edvin/quotausage/internal/model"
)

const (
	cpuPeakQuery = `max_over_time(sum(irate(container_cpu_usage_seconds_total{namespace=%s,container!="",container!="POD"}[5m]))[1d:5m])`
	memPeakQuery = `max_over_time(sum(container_memory_working_set_bytes{namespace=%s,container!="",container!="POD"})[1d:5m])`
)

// Source queries a Prometheus server for the peak CPU (cores) and working
// set memory (bytes) of a namespace over one day.
type Source struct {
	api    apiv1.API
	loc    *time.Location
	logger zerolog.Logger
}

// New connects to the Prometheus HTTP API at address. Day boundaries are
// taken in loc. A nil rt uses the client's default transport.
func New(address string, rt http.RoundTripper, loc *time.Location, logger zerolog.Logger) (*Source, error) {
	cfg := api.Config{Address: address, RoundTripper: api.DefaultRoundTripper}
	if rt != nil {
		cfg.RoundTripper = rt
	}
	c, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	return NewWithAPI(apiv1.NewAPI(c), loc, logger), nil
}

func NewWithAPI(a apiv1.API, loc *time.Location, logger zerolog.Logger) *Source {
	if loc == nil {
		loc = time.UTC
	}
	return &Source{
		api:    a,
		loc:    loc,
		logger: logger.With().Str("component", "prometheus-source").Logger(),
	}
}

// QueryDailyPeak evaluates the peak queries at the end of date. A namespace
// without series reports zero usage.
func (s *Source) QueryDailyPeak(ctx context.Context, namespace string, date time.Time) (model.Peak, error) {
	y, m, d := date.Date()
	end := time.Date(y, m, d+1, 0, 0, 0, 0, s.loc)
	ns := strconv.Quote(namespace)

	cpu, err := s.scalar(ctx, fmt.Sprintf(cpuPeakQuery, ns), end)
	if err != nil {
		return model.Peak{}, fmt.Errorf("query cpu peak for %s: %w", namespace, err)
	}
	mem, err := s.scalar(ctx, fmt.Sprintf(memPeakQuery, ns), end)
	if err != nil {
		return model.Peak{}, fmt.Errorf("query memory peak for %s: %w", namespace, err)
	}
	return model.Peak{CPU: cpu, Mem: mem}, nil
}

func (s *Source) scalar(ctx context.Context, query string, ts time.Time) (decimal.Decimal, error) {
	value, warnings, err := s.api.Query(ctx, query, ts)
	if err != nil {
		return decimal.Zero, err
	}
	for _, w := range warnings {
		s.logger.Warn().Str("query", query).Str("warning", w).Msg("prometheus warning")
	}

	vector, ok := value.(prommodel.Vector)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected result type %s", value.Type())
	}
	if len(vector) == 0 {
		return decimal.Zero, nil
	}

	v := float64(vector[0].Value)
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return decimal.Zero, fmt.Errorf("invalid sample value %v", v)
	}
	return decimal.NewFromFloat(v), nil
}
