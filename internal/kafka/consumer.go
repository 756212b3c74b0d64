package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/reporthub/backend-go/internal/config"
	"github.com/reporthub/backend-go/internal/logger"
)

// Consumer Kafka消费者组，按主题分发到注册的处理器
type Consumer struct {
	consumer sarama.ConsumerGroup
	groupID  string
	topics   []string
	handlers map[string]MessageHandler
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// MessageHandler 消息处理函数，返回错误时消息不标记、等待重投
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

var globalConsumer *Consumer

// InitConsumer 初始化消费者组，注册完处理器后调用Start开始消费
func InitConsumer(cfg config.KafkaConfig, topics []string) error {
	if !cfg.Enabled {
		logger.Info("kafka disabled, consumer not started")
		return nil
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return fmt.Errorf("create kafka consumer group failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	globalConsumer = &Consumer{
		consumer: consumerGroup,
		groupID:  cfg.GroupID,
		topics:   topics,
		handlers: make(map[string]MessageHandler),
		ctx:      ctx,
		cancel:   cancel,
	}

	logger.Info("kafka consumer group created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("group_id", cfg.GroupID),
		zap.Strings("topics", topics))

	return nil
}

// GetConsumer 获取全局消费者实例，未初始化时返回nil
func GetConsumer() *Consumer {
	return globalConsumer
}

// RegisterHandler 注册主题处理器
func (c *Consumer) RegisterHandler(topic string, handler MessageHandler) {
	if c == nil {
		return
	}
	c.handlers[topic] = handler
	logger.Info("kafka handler registered", zap.String("topic", topic))
}

// Start 开始消费。必须在全部RegisterHandler调用之后执行。
func (c *Consumer) Start() {
	if c == nil || c.consumer == nil {
		return
	}

	logger.Info("kafka consumer started", zap.Strings("topics", c.topics))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				logger.Info("kafka consumer stopped")
				return
			default:
				handler := &consumerGroupHandler{handlers: c.handlers}
				if err := c.consumer.Consume(c.ctx, c.topics, handler); err != nil {
					logger.Error("kafka consume failed", zap.Error(err))
					time.Sleep(5 * time.Second)
				}
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			logger.Error("kafka consumer error", zap.Error(err))
		}
	}()
}

// Close 停止消费并关闭连接
func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	if c.consumer != nil {
		return c.consumer.Close()
	}
	return nil
}

// consumerGroupHandler 消费者组会话处理器
type consumerGroupHandler struct {
	handlers map[string]MessageHandler
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 逐条处理消息，处理失败的消息不标记以便重投
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			handler, ok := h.handlers[message.Topic]
			if !ok {
				logger.Warn("no handler for kafka topic", zap.String("topic", message.Topic))
				session.MarkMessage(message, "")
				continue
			}

			if err := handler(context.Background(), message); err != nil {
				logger.Error("kafka message handling failed",
					zap.String("topic", message.Topic),
					zap.Int("partition", int(message.Partition)),
					zap.Int64("offset", message.Offset),
					zap.Error(err))
				continue
			}

			session.MarkMessage(message, "")
			logger.Debug("kafka message handled",
				zap.String("topic", message.Topic),
				zap.Int("partition", int(message.Partition)),
				zap.Int64("offset", message.Offset))

		case <-session.Context().Done():
			return nil
		}
	}
}

// ParseIndexRequestMessage 解析异步索引请求
func ParseIndexRequestMessage(data []byte) (*IndexRequestMessage, error) {
	var msg IndexRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse index request failed: %w", err)
	}
	if msg.ReportID == 0 {
		return nil, fmt.Errorf("index request missing report_id")
	}
	return &msg, nil
}

// RetryMessage 处理失败后进入重试主题的消息包装
type RetryMessage struct {
	OriginalTopic string          `json:"original_topic"`
	OriginalKey   string          `json:"original_key"`
	Data          json.RawMessage `json:"data"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	LastError     string          `json:"last_error,omitempty"`
}

// SendRetryMessage 把消息投递到对应的重试主题
func SendRetryMessage(topic string, key string, data []byte, retryCount, maxRetries int, lastError string) error {
	retryMsg := RetryMessage{
		OriginalTopic: topic,
		OriginalKey:   key,
		Data:          data,
		RetryCount:    retryCount,
		MaxRetries:    maxRetries,
		LastError:     lastError,
	}

	retryData, err := json.Marshal(retryMsg)
	if err != nil {
		return fmt.Errorf("marshal retry message failed: %w", err)
	}

	producer := GetProducer()
	if producer == nil || producer.GetProducerInstance() == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	_, _, err = producer.GetProducerInstance().SendMessage(&sarama.ProducerMessage{
		Topic: fmt.Sprintf("%s.retry", topic),
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(retryData),
	})
	return err
}
