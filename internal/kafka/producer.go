package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/reporthub/backend-go/internal/config"
	"github.com/reporthub/backend-go/internal/logger"
	"github.com/reporthub/backend-go/internal/retrieval"
)

// Producer Kafka生产者，承载检索子系统的三个主题：
// 审计事件、孤儿向量点告警、异步索引请求
type Producer struct {
	producer     sarama.SyncProducer
	auditTopic   string
	orphansTopic string
	indexTopic   string
}

// GetProducerInstance 获取底层sarama producer实例
func (p *Producer) GetProducerInstance() sarama.SyncProducer {
	return p.producer
}

// OrphanEvent 孤儿向量点事件，由对账任务发出
type OrphanEvent struct {
	PointID    string    `json:"point_id"`
	ReportID   uint      `json:"report_id"`
	ChunkIndex int       `json:"chunk_index"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

// IndexRequestMessage 异步索引请求
//
// Action为index时重建报告向量，为delete时清除报告向量。
type IndexRequestMessage struct {
	ReportID   uint   `json:"report_id"`
	Action     string `json:"action"`
	RetryCount int    `json:"retry_count,omitempty"`
}

// 索引请求动作
const (
	IndexActionIndex  = "index"
	IndexActionDelete = "delete"
)

var globalProducer *Producer

// InitProducer 初始化Kafka生产者，未启用时保持空实例
func InitProducer(cfg config.KafkaConfig) error {
	if !cfg.Enabled {
		logger.Info("kafka disabled, producer not started")
		return nil
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 5
	saramaCfg.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return fmt.Errorf("create kafka producer failed: %w", err)
	}

	globalProducer = &Producer{
		producer:     producer,
		auditTopic:   cfg.AuditTopic,
		orphansTopic: cfg.OrphansTopic,
		indexTopic:   cfg.IndexTopic,
	}

	logger.Info("kafka producer started",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("audit_topic", cfg.AuditTopic),
		zap.String("index_topic", cfg.IndexTopic))
	return nil
}

// GetProducer 获取全局生产者实例，未初始化时返回nil
func GetProducer() *Producer {
	return globalProducer
}

// sendJSON 序列化并发送一条消息
func (p *Producer) sendJSON(topic, key string, payload interface{}) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal kafka message failed: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		logger.Error("kafka send failed", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("send kafka message failed: %w", err)
	}

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// PublishAudit 发布检索审计事件
func (p *Producer) PublishAudit(ctx context.Context, event retrieval.AuditEvent) error {
	key := fmt.Sprintf("%s-%d-%d", event.Action, event.EmployeeID, event.ReportID)
	return p.sendJSON(p.auditTopic, key, event)
}

// PublishOrphan 发布孤儿向量点事件
func (p *Producer) PublishOrphan(ctx context.Context, event OrphanEvent) error {
	return p.sendJSON(p.orphansTopic, event.PointID, event)
}

// RequestIndexing 投递异步索引请求
func (p *Producer) RequestIndexing(ctx context.Context, msg IndexRequestMessage) error {
	if msg.Action == "" {
		msg.Action = IndexActionIndex
	}
	key := fmt.Sprintf("%d", msg.ReportID)
	return p.sendJSON(p.indexTopic, key, msg)
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
