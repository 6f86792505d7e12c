package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var consumerLabels = []string{"topic", "consumer_group"}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func durationVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: prometheus.DefBuckets,
	}, labels)
}

var (
	ConsumerMessagesReceived = counterVec("kafka_consumer_messages_received_total",
		"Total number of Kafka messages received (fetched from broker)", consumerLabels...)

	ConsumerMessagesProcessed = counterVec("kafka_consumer_messages_processed_total",
		"Total number of successfully processed Kafka messages", consumerLabels...)

	ConsumerMessagesFailed = counterVec("kafka_consumer_messages_failed_total",
		"Total number of Kafka messages that failed all retries", consumerLabels...)

	ConsumerProcessingDuration = durationVec("kafka_consumer_processing_duration_seconds",
		"Duration of Kafka message processing in seconds, retries included", consumerLabels...)

	ConsumerDLQPublished = counterVec("kafka_consumer_dlq_published_total",
		"Total number of messages published to dead-letter queue", consumerLabels...)

	// ConsumerMessagesDuplicate counts events skipped by IdempotentHandler.
	ConsumerMessagesDuplicate = counterVec("kafka_consumer_messages_duplicate_total",
		"Total number of duplicate Kafka events skipped by idempotency guard", "event_type")

	ProducerMessagesPublished = counterVec("kafka_producer_messages_published_total",
		"Total number of Kafka messages published", "topic")

	ProducerPublishErrors = counterVec("kafka_producer_publish_errors_total",
		"Total number of Kafka publish errors", "topic")

	ProducerPublishDuration = durationVec("kafka_producer_publish_duration_seconds",
		"Duration of Kafka publish operations in seconds", "topic")
)
