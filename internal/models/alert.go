package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertType identifies which detector produced an alert
type AlertType string

const (
	AlertPortScan      AlertType = "PORT_SCAN"
	AlertHighVolume    AlertType = "HIGH_VOLUME"
	AlertSensitiveData AlertType = "SENSITIVE_DATA"
	AlertMLAnomaly     AlertType = "ML_ANOMALY"
	AlertMaliciousIP   AlertType = "KNOWN_MALICIOUS_IP"
)

// AlertTypes lists every alert kind, in a stable order
func AlertTypes() []AlertType {
	return []AlertType{
		AlertPortScan,
		AlertHighVolume,
		AlertSensitiveData,
		AlertMLAnomaly,
		AlertMaliciousIP,
	}
}

// Severity levels
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert represents a detected threat. Alerts are published and forgotten.
type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Address   string    `json:"address,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Evidence, set depending on Type
	Ports  int   `json:"ports,omitempty"`
	Bytes  int64 `json:"bytes,omitempty"`
	Length int   `json:"length,omitempty"`
	Port   int   `json:"port,omitempty"`
}

// NewAlert stamps a fresh alert with an ID and timestamp
func NewAlert(t AlertType, sev Severity, source, address, message string, now time.Time) Alert {
	return Alert{
		ID:        uuid.New().String(),
		Type:      t,
		Severity:  sev,
		Message:   message,
		Source:    source,
		Address:   address,
		Timestamp: now,
	}
}
