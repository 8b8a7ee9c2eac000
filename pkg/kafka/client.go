// Package kafka provides the ingestion task queue.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"news-rag-go/internal/config"
	"news-rag-go/pkg/database"
	"news-rag-go/pkg/log"
	"news-rag-go/pkg/tasks"
)

// TaskProcessor is any service that can process an article task. It
// decouples the consumer loop from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.ArticleTask) error
}

var producer *kafka.Writer

// InitProducer initializes the Kafka producer.
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka producer initialized")
}

// ProduceArticleTask publishes an article processing task.
func ProduceArticleTask(task tasks.ArticleTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return producer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(task.ArticleID),
			Value: taskBytes,
		},
	)
}

// StartConsumer runs the consumer loop, handing each task to the processor.
// Failed tasks are retried by Kafka until a Redis-counted attempt ceiling is
// reached, after which the offset is committed to unblock the partition.
func StartConsumer(cfg config.KafkaConfig, processor TaskProcessor) {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "news-rag-go-consumer"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka consumer started, listening on topic '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("failed to read message from Kafka", err)
			break
		}

		var task tasks.ArticleTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("failed to decode Kafka message: %v, value: %s", err, string(m.Value))
			// Malformed message, commit so it does not block the queue.
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("failed to commit malformed message: %v", err)
			}
			continue
		}

		log.Infof("processing article task: id=%s title=%q", task.ArticleID, task.Title)
		if err := processor.Process(context.Background(), task); err != nil {
			log.Errorf("article task failed: id=%s error=%v", task.ArticleID, err)
			attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.ArticleID)
			attempts, incErr := database.RDB.Incr(context.Background(), attemptsKey).Result()
			if incErr == nil {
				_ = database.RDB.Expire(context.Background(), attemptsKey, 24*time.Hour).Err()
			}
			if incErr != nil {
				// Redis down: leave the offset alone and let Kafka retry.
				continue
			}
			if attempts >= 3 {
				log.Errorf("article task failed %d times, committing offset to stop retries: id=%s", attempts, task.ArticleID)
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("failed to commit Kafka offset: %v", err)
				}
			}
		} else {
			log.Infof("article task succeeded: id=%s", task.ArticleID)
			_ = database.RDB.Del(context.Background(), fmt.Sprintf("kafka:attempts:%s", task.ArticleID)).Err()
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("failed to commit Kafka offset: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Fatalf("failed to close Kafka consumer: %v", err)
	}
}
