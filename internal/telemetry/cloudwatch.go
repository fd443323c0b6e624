package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"planguard/internal/types"
)

// DefaultNamespace is the CloudWatch namespace used when none is configured.
const DefaultNamespace = "Planguard"

// Metric and dimension names emitted to CloudWatch.
const (
	MetricQuotaDecision  = "QuotaDecision"
	MetricWebhookEvent   = "WebhookEvent"
	MetricGatewayCall    = "GatewayCall"
	MetricAPIRequest     = "APIRequest"
	MetricAPILatency     = "APILatency"
	DimKind              = "Kind"
	DimTier              = "Tier"
	DimResult            = "Result"
	DimEventType         = "EventType"
	DimOutcome           = "Outcome"
	DimDuplicate         = "Duplicate"
	DimOperation         = "Operation"
	DimMethod            = "Method"
	DimRoute             = "Route"
	DimStatus            = "Status"
	cloudWatchPutTimeout = 2 * time.Second
)

// CloudWatchClient abstracts the PutMetricData call for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRecorder emits one datum per event. Failures are logged and
// dropped; metrics never fail a request.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRecorder creates a recorder. An empty namespace uses
// DefaultNamespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{client: client, namespace: namespace, logger: logger}
}

func (c *CloudWatchRecorder) QuotaDecision(kind types.ResourceKind, tier types.PlanTier, allowed bool) {
	c.put(MetricQuotaDecision, 1, cwtypes.StandardUnitCount,
		dim(DimKind, string(kind)),
		dim(DimTier, string(tier)),
		dim(DimResult, decisionLabel(allowed)),
	)
}

func (c *CloudWatchRecorder) WebhookProcessed(gatewayType string, outcome types.ApplyOutcome, alreadyProcessed bool) {
	c.put(MetricWebhookEvent, 1, cwtypes.StandardUnitCount,
		dim(DimEventType, gatewayType),
		dim(DimOutcome, string(outcome)),
		dim(DimDuplicate, strconv.FormatBool(alreadyProcessed)),
	)
}

func (c *CloudWatchRecorder) GatewayCall(operation string, err error) {
	c.put(MetricGatewayCall, 1, cwtypes.StandardUnitCount,
		dim(DimOperation, operation),
		dim(DimResult, resultLabel(err)),
	)
}

// RecordRequest emits request count and latency for the HTTP middleware.
func (c *CloudWatchRecorder) RecordRequest(method, route, status string, duration time.Duration) {
	c.put(MetricAPIRequest, 1, cwtypes.StandardUnitCount,
		dim(DimMethod, method), dim(DimRoute, route), dim(DimStatus, status))
	c.put(MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(DimMethod, method), dim(DimRoute, route))
}

func (c *CloudWatchRecorder) put(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	ctx, cancel := context.WithTimeout(context.Background(), cloudWatchPutTimeout)
	defer cancel()

	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       unit,
			Dimensions: dims,
		}},
	})
	if err != nil {
		c.logger.Error("failed to put metric", "metric", name, "error", err)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
