package models

import "time"

// SystemMetrics is an aggregated view of the in-process counters.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	DBQueryCount             uint64    `json:"dbQueryCount"`
	AverageDBQueryDurationMs float64   `json:"averageDbQueryDurationMs"`
	EnrollmentsCreated       uint64    `json:"enrollmentsCreated"`
	PaymentsCreated          uint64    `json:"paymentsCreated"`
	PaymentDecisions         uint64    `json:"paymentDecisions"`
	NotificationsFailed      uint64    `json:"notificationsFailed"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
