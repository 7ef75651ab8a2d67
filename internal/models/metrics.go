package models

import "time"

// SystemMetrics is a lightweight aggregate snapshot for admin dashboards.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	EnrollmentValidations    uint64    `json:"enrollment_validations"`
	EnrollmentRejections     uint64    `json:"enrollment_rejections"`
	SlotConflictsDetected    uint64    `json:"slot_conflicts_detected"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
