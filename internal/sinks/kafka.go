package sinks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logcoreerr"
	"github.com/ssw-oss/logcore/pkg/logevent"
)

// KafkaPartitioning selects how event keys are derived for Kafka's
// partitioner.
type KafkaPartitioning struct {
	Enabled  bool
	Strategy string // "hash", "round-robin", "random"
	KeyField string // a context field name; default "job_id"
}

// KafkaAuth configures SASL authentication.
type KafkaAuth struct {
	Enabled   bool
	Username  string
	Password  string
	Mechanism string // "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"
}

// KafkaConfig configures a KafkaSink, adapted from the teacher's
// types.KafkaSinkConfig onto the logging runtime's own event shape.
type KafkaConfig struct {
	Brokers         []string
	Topic           string
	Compression     string // "gzip", "snappy", "lz4", "zstd", "" (none)
	BatchSize       int
	BatchTimeout    time.Duration
	MaxMessageBytes int
	RetryMax        int
	DialTimeout     time.Duration
	QueueSize       int
	Auth            KafkaAuth
	TLS             TLSConfig
	Partitioning    KafkaPartitioning
}

// KafkaSink batches events and publishes them to a Kafka topic as JSON,
// adapted from the teacher's internal/sinks/kafka_sink.go: same
// async-producer/batch-timer/SCRAM-auth shape, narrowed from
// []*types.LogEntry batches to logevent.Event and the single-item Emit
// contract internal/pipeline.Sink requires.
type KafkaSink struct {
	cfg      KafkaConfig
	logger   *logrus.Logger
	producer sarama.AsyncProducer

	queue      chan logevent.Event
	batch      []logevent.Event
	batchMutex sync.Mutex
	lastSent   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sentCount  int64
	errorCount int64

	produced   *prometheus.CounterVec
	produceErr *prometheus.CounterVec
	batchSize  prometheus.Histogram
}

// NewKafkaSink constructs and connects a KafkaSink. The returned sink is
// not yet consuming; call Start.
func NewKafkaSink(cfg KafkaConfig, logger *logrus.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, logcoreerr.InvalidConfiguration("kafka_sink", "new", "no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, logcoreerr.InvalidConfiguration("kafka_sink", "new", "no topic configured")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 25000
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal

	switch strings.ToLower(cfg.Compression) {
	case "gzip":
		saramaCfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaCfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaCfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaCfg.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaCfg.Producer.Compression = sarama.CompressionNone
	}

	saramaCfg.Producer.Flush.Messages = cfg.BatchSize
	saramaCfg.Producer.Flush.Frequency = cfg.BatchTimeout
	if cfg.MaxMessageBytes > 0 {
		saramaCfg.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	}
	if cfg.RetryMax > 0 {
		saramaCfg.Producer.Retry.Max = cfg.RetryMax
	}
	if cfg.DialTimeout > 0 {
		saramaCfg.Net.DialTimeout = cfg.DialTimeout
		saramaCfg.Net.ReadTimeout = cfg.DialTimeout
		saramaCfg.Net.WriteTimeout = cfg.DialTimeout
	}

	if cfg.Auth.Enabled {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = cfg.Auth.Username
		saramaCfg.Net.SASL.Password = cfg.Auth.Password
		switch strings.ToUpper(cfg.Auth.Mechanism) {
		case "PLAIN":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA256}
			}
		case "SCRAM-SHA-512":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA512}
			}
		}
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := createTLSConfig(cfg.TLS)
		if err != nil {
			return nil, logcoreerr.InvalidConfiguration("kafka_sink", "new", err.Error())
		}
		saramaCfg.Net.TLS.Enable = true
		saramaCfg.Net.TLS.Config = tlsConfig
	}

	switch strings.ToLower(cfg.Partitioning.Strategy) {
	case "round-robin":
		saramaCfg.Producer.Partitioner = sarama.NewRoundRobinPartitioner
	case "random":
		saramaCfg.Producer.Partitioner = sarama.NewRandomPartitioner
	default:
		saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner
	}

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, logcoreerr.InvalidConfiguration("kafka_sink", "new", fmt.Sprintf("failed to create producer: %v", err))
	}

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sink := &KafkaSink{
		cfg:      cfg,
		logger:   logger,
		producer: producer,
		queue:    make(chan logevent.Event, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		produced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "logcore_kafka_messages_produced_total",
			Help: "Events published to Kafka by outcome.",
		}, []string{"topic", "outcome"}),
		produceErr: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "logcore_kafka_producer_errors_total",
			Help: "Kafka producer errors by kind.",
		}, []string{"topic", "kind"}),
		batchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "logcore_kafka_batch_size",
			Help:    "Size of batches flushed to Kafka.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	logger.WithFields(logrus.Fields{
		"brokers":     cfg.Brokers,
		"topic":       cfg.Topic,
		"compression": cfg.Compression,
		"batch_size":  cfg.BatchSize,
	}).Info("kafka sink initialised")

	return sink, nil
}

// Start begins the batching consumer and the producer response handler.
func (ks *KafkaSink) Start() {
	ks.lastSent = time.Now()
	ks.wg.Add(2)
	go ks.processLoop()
	go ks.handleProducerResponses()
}

// Stop drains pending batches and closes the underlying producer.
func (ks *KafkaSink) Stop() error {
	ks.cancel()
	ks.wg.Wait()
	ks.flushBatch()
	if err := ks.producer.Close(); err != nil {
		ks.logger.WithError(err).Error("kafka sink: error closing producer")
		return err
	}
	return nil
}

// Emit enqueues event for batched delivery, implementing
// internal/pipeline.Sink.
func (ks *KafkaSink) Emit(ctx context.Context, event logevent.Event) error {
	select {
	case ks.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		return fmt.Errorf("kafka sink: queue full")
	}
}

func (ks *KafkaSink) processLoop() {
	defer ks.wg.Done()
	ticker := time.NewTicker(ks.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ks.ctx.Done():
			return
		case event := <-ks.queue:
			ks.batchMutex.Lock()
			ks.batch = append(ks.batch, event)
			shouldFlush := len(ks.batch) >= ks.cfg.BatchSize
			ks.batchMutex.Unlock()
			if shouldFlush {
				ks.flushBatch()
			}
		case <-ticker.C:
			ks.flushBatch()
		}
	}
}

func (ks *KafkaSink) flushBatch() {
	ks.batchMutex.Lock()
	if len(ks.batch) == 0 {
		ks.batchMutex.Unlock()
		return
	}
	batch := ks.batch
	ks.batch = make([]logevent.Event, 0, ks.cfg.BatchSize)
	ks.lastSent = time.Now()
	ks.batchMutex.Unlock()

	ks.batchSize.Observe(float64(len(batch)))
	ks.sendBatch(batch)
}

func (ks *KafkaSink) sendBatch(events []logevent.Event) {
	for _, event := range events {
		topic := ks.determineTopic(event)
		value, err := event.ToJSON()
		if err != nil {
			ks.logger.WithError(err).Error("kafka sink: failed to marshal event")
			ks.produceErr.WithLabelValues(topic, "marshal_error").Inc()
			atomic.AddInt64(&ks.errorCount, 1)
			continue
		}

		msg := &sarama.ProducerMessage{
			Topic: topic,
			Value: sarama.StringEncoder(value),
		}
		if key := ks.determinePartitionKey(event); key != "" {
			msg.Key = sarama.StringEncoder(key)
		}

		ks.producer.Input() <- msg
		atomic.AddInt64(&ks.sentCount, 1)
		ks.produced.WithLabelValues(topic, "sent").Inc()
	}
}

func (ks *KafkaSink) handleProducerResponses() {
	defer ks.wg.Done()
	for {
		select {
		case <-ks.ctx.Done():
			return
		case success, ok := <-ks.producer.Successes():
			if !ok {
				return
			}
			ks.produced.WithLabelValues(success.Topic, "delivered").Inc()
		case produceErr, ok := <-ks.producer.Errors():
			if !ok {
				return
			}
			ks.logger.WithError(produceErr.Err).WithField("topic", produceErr.Msg.Topic).Error("kafka sink: failed to produce message")
			ks.produceErr.WithLabelValues(produceErr.Msg.Topic, "produce_error").Inc()
			atomic.AddInt64(&ks.errorCount, 1)
		}
	}
}

// determineTopic routes error/critical events to "<topic>-high-priority" and
// debug events to "<topic>-low-priority"; other levels use the configured
// topic.
func (ks *KafkaSink) determineTopic(event logevent.Event) string {
	switch event.Level {
	case levels.Critical, levels.Error:
		return ks.cfg.Topic + "-high-priority"
	case levels.Debug:
		return ks.cfg.Topic + "-low-priority"
	default:
		return ks.cfg.Topic
	}
}

// determinePartitionKey derives a partition key from the configured
// context field (default job_id) so events from the same job land on the
// same partition and preserve relative order.
func (ks *KafkaSink) determinePartitionKey(event logevent.Event) string {
	if !ks.cfg.Partitioning.Enabled {
		return ""
	}
	field := ks.cfg.Partitioning.KeyField
	if field == "" {
		field = "job_id"
	}
	if v, ok := event.Context.ToMap()[field].(string); ok {
		return v
	}
	return event.Context.JobID
}
