// Package alerts publishes operational alerts (degraded registry builds,
// rejected registry sources, server-side filter mismatches, schema drift)
// to an SNS topic.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"
	commonaws "ledger-query-workers/internal/common/aws"
	"ledger-query-workers/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"golang.org/x/time/rate"
)

type Kind string

const (
	KindRegistryDegraded Kind = "registry_degraded"
	KindRegistryRejected Kind = "registry_rejected"
	KindFilterMismatch   Kind = "filter_mismatch"
	KindSchemaDrift      Kind = "schema_drift"
)

type Alert struct {
	Kind       Kind              `json:"kind"`
	Subject    string            `json:"subject"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}

// Publisher sends alerts somewhere a human will see them.
type Publisher interface {
	Publish(ctx context.Context, a Alert) error
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Publish(context.Context, Alert) error { return nil }

type snsPublisher interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// SNSPublisher publishes JSON alerts to one topic, at most one per kind per
// MinInterval.
type SNSPublisher struct {
	client      snsPublisher
	topicARN    string
	source      string
	minInterval time.Duration
	logger      logger.Logger

	mu       sync.Mutex
	limiters map[Kind]*rate.Limiter
}

func NewSNSPublisher(client *commonaws.SNSClient, topicARN, source string, minInterval time.Duration, log logger.Logger) *SNSPublisher {
	return &SNSPublisher{
		client:      client,
		topicARN:    topicARN,
		source:      source,
		minInterval: minInterval,
		logger:      log.With(map[string]interface{}{"component": "alerts"}),
		limiters:    map[Kind]*rate.Limiter{},
	}
}

func (p *SNSPublisher) allow(k Kind) bool {
	if p.minInterval <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[k]
	if !ok {
		l = rate.NewLimiter(rate.Every(p.minInterval), 1)
		p.limiters[k] = l
	}
	return l.Allow()
}

func (p *SNSPublisher) Publish(ctx context.Context, a Alert) error {
	if !p.allow(a.Kind) {
		p.logger.Debug("alert suppressed", map[string]interface{}{"kind": string(a.Kind)})
		return nil
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	body, err := json.Marshal(a)
	if err != nil {
		return apperrors.NewAlertPublishFailedError(err)
	}

	subject := a.Subject
	if len(subject) > 100 {
		subject = subject[:100]
	}
	attrs := map[string]types.MessageAttributeValue{
		"kind":   {DataType: aws.String("String"), StringValue: aws.String(string(a.Kind))},
		"source": {DataType: aws.String("String"), StringValue: aws.String(p.source)},
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(p.topicARN),
		Subject:           aws.String(subject),
		Message:           aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		p.logger.Error("alert publish failed", map[string]interface{}{
			"kind":  string(a.Kind),
			"error": err,
		})
		return apperrors.NewAlertPublishFailedError(err)
	}

	p.logger.Info("alert published", map[string]interface{}{
		"kind":      string(a.Kind),
		"messageId": aws.ToString(out.MessageId),
	})
	return nil
}

// Newf builds an alert with a formatted message.
func Newf(kind Kind, subject, format string, args ...interface{}) Alert {
	return Alert{
		Kind:    kind,
		Subject: subject,
		Message: fmt.Sprintf(format, args...),
		At:      time.Now().UTC(),
	}
}

// Recorder keeps alerts in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *Recorder) Publish(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

// Kinds lists recorded alert kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Kind
	}
	return out
}
