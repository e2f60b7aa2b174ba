// Package health provides consumer health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ConsumerHealth contains the health of the supervised consumer.
type ConsumerHealth struct {
	Name               string       `json:"name"`
	Status             SystemStatus `json:"status"`
	State              string       `json:"state"`
	DeadLettersPending int          `json:"dead_letters_pending"`
}

// ComponentHealth is the result of probing one dependency.
type ComponentHealth struct {
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Consumer     ConsumerHealth             `json:"consumer"`
	Components   map[string]ComponentHealth `json:"components,omitempty"`
}

func worst(a, b SystemStatus) SystemStatus {
	rank := func(s SystemStatus) int {
		switch s {
		case StatusCritical:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
