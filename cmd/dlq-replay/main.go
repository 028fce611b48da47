// Команда dlq-replay перечитывает DLQ и возвращает исходные события заказов в основной topic.
// По умолчанию работает в dry-run и только логирует кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
)

const (
	clientID        = "checkout-dlq-replay"
	envKafkaBrokers = "MARKETPLACE_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	eventType   string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (c config) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

// parseConfig читает флаги; брокеры без -brokers берутся из окружения.
func parseConfig(args []string, getenv func(string) string, stderr io.Writer) (config, error) {
	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfg     config
		brokers string
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default $"+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to read")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic to republish into")
	fs.StringVar(&cfg.eventType, "event-type", domain.EventTypeOrderCreated, "only replay this event type, empty for any")
	fs.IntVar(&cfg.limit, "limit", 100, "max DLQ messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish for real instead of dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "start each partition at the last -limit messages")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", 2*time.Second, "stop reading a partition after this long without messages")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envKafkaBrokers)
	}
	cfg.brokers = splitList(brokers)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.eventType = strings.TrimSpace(cfg.eventType)

	var problems []error
	if len(cfg.brokers) == 0 {
		problems = append(problems, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers))
	}
	if cfg.sourceTopic == "" {
		problems = append(problems, errors.New("source-topic is required"))
	}
	if cfg.targetTopic == "" {
		problems = append(problems, errors.New("target-topic is required"))
	}
	if cfg.sourceTopic != "" && cfg.sourceTopic == cfg.targetTopic {
		problems = append(problems, errors.New("source-topic and target-topic must differ"))
	}
	if cfg.limit <= 0 {
		problems = append(problems, errors.New("limit must be > 0"))
	}
	if cfg.idleTimeout <= 0 {
		problems = append(problems, errors.New("idle-timeout must be > 0"))
	}
	if err := errors.Join(problems...); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for item := range strings.SplitSeq(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// connect открывает клиента и consumer; producer нужен только в execute.
var connect = func(cfg config) (*replayer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = clientID
	sc.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create consumer: %w", err), client.Close())
	}

	r := newReplayer(cfg, client, saramaConsumer{consumer}, nil)
	r.closers = []func() error{client.Close, consumer.Close}
	if !cfg.execute {
		return r, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, clientID)
	if err != nil {
		r.close()
		return nil, err
	}
	r.publisher = kafka.NewOutboxPublisher(producer, cfg.targetTopic)
	r.closers = append(r.closers, producer.Close)
	return r, nil
}

func run(ctx context.Context, args []string, getenv func(string) string, stderr io.Writer) error {
	cfg, err := parseConfig(args, getenv, stderr)
	if err != nil {
		return err
	}

	r, err := connect(cfg)
	if err != nil {
		return err
	}
	defer r.close()

	stats, err := r.Run(ctx)
	r.logger.WithFields(log.Fields{
		"mode":      cfg.mode(),
		"processed": stats.processed,
		"replayed":  stats.replayed,
		"skipped":   stats.skipped,
	}).Info("dlq replay finished")
	return err
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.WithError(err).Error("dlq replay failed")
		stop()
		os.Exit(1)
	}
}
