package perst

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

// StorageCollector exposes the embedded engine's health as Prometheus
// metrics, complementing the index and query counters. Register it
// with the registry of your choice:
//
//	prometheus.MustRegister(perst.NewStorageCollector(store))
type StorageCollector struct {
	store *Storage
	specs []metricSpec
}

type metricSpec struct {
	desc *prometheus.Desc
	kind prometheus.ValueType
	read func(m *pebble.Metrics) float64
}

func NewStorageCollector(s *Storage) *StorageCollector {
	gauge, counter := prometheus.GaugeValue, prometheus.CounterValue
	mk := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("perst_storage_"+name, help, nil, nil)
	}
	return &StorageCollector{store: s, specs: []metricSpec{
		{mk("compactions_total", "Compactions performed"), counter,
			func(m *pebble.Metrics) float64 { return float64(m.Compact.Count) }},
		{mk("compaction_debt_bytes", "Estimated bytes awaiting compaction"), gauge,
			func(m *pebble.Metrics) float64 { return float64(m.Compact.EstimatedDebt) }},
		{mk("memtable_size_bytes", "Current memtable size"), gauge,
			func(m *pebble.Metrics) float64 { return float64(m.MemTable.Size) }},
		{mk("memtable_count", "Live memtables"), gauge,
			func(m *pebble.Metrics) float64 { return float64(m.MemTable.Count) }},
		{mk("wal_files", "Live WAL files"), gauge,
			func(m *pebble.Metrics) float64 { return float64(m.WAL.Files) }},
		{mk("wal_size_bytes", "Live WAL data"), gauge,
			func(m *pebble.Metrics) float64 { return float64(m.WAL.Size) }},
		{mk("wal_bytes_written_total", "Physical bytes written to the WAL"), counter,
			func(m *pebble.Metrics) float64 { return float64(m.WAL.BytesWritten) }},
		{mk("disk_usage_bytes", "Total disk space used"), gauge,
			func(m *pebble.Metrics) float64 { return float64(m.DiskSpaceUsage()) }},
	}}
}

func (c *StorageCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, s := range c.specs {
		ch <- s.desc
	}
}

func (c *StorageCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.store.db.Metrics()
	for _, s := range c.specs {
		ch <- prometheus.MustNewConstMetric(s.desc, s.kind, s.read(m))
	}
}
