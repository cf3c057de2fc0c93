package models

import "time"

// TrafficStats aggregates one minute of processed traffic
type TrafficStats struct {
	Timestamp      time.Time        `json:"timestamp"`
	WindowDuration int              `json:"window_duration"`
	TotalPackets   int64            `json:"total_packets"`
	TotalBytes     int64            `json:"total_bytes"`
	UniqueSources  int64            `json:"unique_sources"`
	PacketsPerSec  float64          `json:"packets_per_sec"`
	TopSources     []SourceCount    `json:"top_sources"`
	Protocols      map[string]int64 `json:"protocols"`
	Alerts         map[string]int64 `json:"alerts"`
}

// SourceCount is one entry of a top-talkers list
type SourceCount struct {
	Address    string  `json:"ip"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}
