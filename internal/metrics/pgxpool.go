package metrics

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

type poolGauge struct {
	name string
	help string
	stat func(*pgxpool.Stat) float64
}

var poolGauges = []poolGauge{
	{"acquired_conns", "Number of currently acquired connections in the usage db pool", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }},
	{"idle_conns", "Number of idle connections in the usage db pool", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }},
	{"total_conns", "Total number of connections in the usage db pool", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }},
	{"max_conns", "Maximum number of connections in the usage db pool", func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }},
	{"empty_acquire_total", "Acquires that had to wait for a connection", func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) }},
}

// RegisterPgxPoolMetrics exposes usage db pool statistics on reg. A nil reg
// uses the default registerer.
func RegisterPgxPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, g := range poolGauges {
		stat := g.stat
		c := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "quota_usage_db_pool_" + g.name,
			Help: g.help,
		}, func() float64 {
			return stat(pool.Stat())
		})
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register pool metric %s: %w", g.name, err)
		}
	}
	return nil
}
