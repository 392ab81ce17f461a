package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsNamespace groups all order metrics in CloudWatch.
const MetricsNamespace = "GameStore/Orders"

// Metric is one datapoint to publish.
type Metric struct {
	Name       string
	Value      float64
	Unit       cwtypes.StandardUnit
	Dimensions map[string]string
	Timestamp  time.Time
}

// Metrics publishes datapoints to CloudWatch.
type Metrics struct {
	CW        CloudWatchAPI
	Namespace string
}

func NewMetrics(cw CloudWatchAPI) *Metrics {
	return &Metrics{CW: cw, Namespace: MetricsNamespace}
}

// maxDatumPerCall is the PutMetricData limit on MetricData entries.
const maxDatumPerCall = 1000

// Put sends all metrics, chunked to the per-call limit.
func (m *Metrics) Put(ctx context.Context, metrics []Metric) error {
	data := make([]cwtypes.MetricDatum, 0, len(metrics))
	for _, mt := range metrics {
		d := cwtypes.MetricDatum{
			MetricName: awsString(mt.Name),
			Value:      &mt.Value,
			Unit:       mt.Unit,
		}
		if !mt.Timestamp.IsZero() {
			ts := mt.Timestamp
			d.Timestamp = &ts
		}
		for k, v := range mt.Dimensions {
			d.Dimensions = append(d.Dimensions, cwtypes.Dimension{Name: awsString(k), Value: awsString(v)})
		}
		data = append(data, d)
	}

	for start := 0; start < len(data); start += maxDatumPerCall {
		end := min(start+maxDatumPerCall, len(data))
		_, err := m.CW.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  &m.Namespace,
			MetricData: data[start:end],
		})
		if err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}
