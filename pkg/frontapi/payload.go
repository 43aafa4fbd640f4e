package frontapi

import "github.com/dm-alt/USM-scripts/pkg/models"

// NewWorkloadPayload builds a derived workload job from the observed job's
// parameters. Period, filters and namespace are passed through as raw JSON.
func NewWorkloadPayload(params models.JobParameters, metricNames []string) *models.JobRequest {
	opts := make([]models.MetricOption, 0, len(metricNames))
	for _, name := range metricNames {
		opts = append(opts, models.MetricOption{Name: name, UID: ""})
	}
	return &models.JobRequest{
		Namespace:          params.Namespace,
		ReportType:         ReportTypeWorkload,
		Period:             params.Period,
		Filters:            params.Filters,
		Metrics:            []string{},
		MetricsWithOptions: opts,
	}
}
