package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/contentpilot/jobs-be/internal/domain"
	"github.com/contentpilot/jobs-be/internal/upstream"
)

// JobStore is the persistence surface the submitter needs.
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	MarkSubmitted(ctx context.Context, jobID, executionID string) error
}

// Upstream starts generation jobs on the external API.
type Upstream interface {
	Submit(ctx context.Context, req *upstream.SubmitRequest) (string, error)
}

// Broker is the queue surface the submitter needs.
type Broker interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	GetChannel() *amqp.Channel
}

// Config holds submitter configuration
type Config struct {
	Logger        *slog.Logger
	Jobs          JobStore
	Upstream      Upstream
	Broker        Broker
	WorkerID      string
	Concurrency   int
	PrefetchCount int
}

// Submitter consumes queued submit messages and hands each pending job to
// the upstream API, recording the execution id it returns.
type Submitter struct {
	logger        *slog.Logger
	jobs          JobStore
	upstream      Upstream
	broker        Broker
	workerID      string
	concurrency   int
	prefetchCount int
	msgChan       chan *submitMessage
	wg            sync.WaitGroup
}

type submitMessage struct {
	JobID       string
	DeliveryTag uint64
}

// NewSubmitter creates a new submitter instance
func NewSubmitter(cfg *Config) *Submitter {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	return &Submitter{
		logger:        cfg.Logger,
		jobs:          cfg.Jobs,
		upstream:      cfg.Upstream,
		broker:        cfg.Broker,
		workerID:      cfg.WorkerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		msgChan:       make(chan *submitMessage),
	}
}

// Run consumes the submit queue until the context is canceled.
func (s *Submitter) Run(ctx context.Context) error {
	deliveries, err := s.setupConsumer()
	if err != nil {
		return err
	}

	s.spawnPool(ctx)

	s.dispatch(ctx, deliveries)

	close(s.msgChan)
	s.wg.Wait()
	s.logger.Info("Submitter stopped", slog.String("worker_id", s.workerID))
	return nil
}

// setupConsumer sets QoS on the channel and starts consuming the queue.
func (s *Submitter) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := s.broker.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	if err := channel.Qos(s.prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := s.broker.Consume(s.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	s.logger.Info("Submit consumer started",
		slog.String("worker_id", s.workerID),
		slog.Int("prefetch_count", s.prefetchCount),
	)

	return deliveries, nil
}

// dispatch parses deliveries and hands them to the worker pool.
func (s *Submitter) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Submit dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				s.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var msg struct {
				JobID string `json:"job_id"`
			}
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				s.logger.Error("Failed to parse submit message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages go to the DLQ, never back on the queue
				s.nack(delivery.DeliveryTag, false)
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				s.logger.Error("Submit message carries invalid job_id",
					slog.String("job_id", msg.JobID),
					slog.String("error", err.Error()),
				)
				s.nack(delivery.DeliveryTag, false)
				continue
			}

			select {
			case s.msgChan <- &submitMessage{JobID: msg.JobID, DeliveryTag: delivery.DeliveryTag}:
			case <-ctx.Done():
				// requeue so another consumer picks it up after shutdown
				s.nack(delivery.DeliveryTag, true)
				return
			}
		}
	}
}

// spawnPool starts the worker goroutines that perform upstream submissions.
func (s *Submitter) spawnPool(ctx context.Context) {
	for i := 0; i < s.concurrency; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx, i)
	}
	s.logger.Info("Submit pool spawned", slog.Int("concurrency", s.concurrency))
}

func (s *Submitter) workerLoop(ctx context.Context, workerNum int) {
	defer s.wg.Done()

	workerName := fmt.Sprintf("%s-%d", s.workerID, workerNum)

	for msg := range s.msgChan {
		err := s.Process(ctx, msg.JobID)
		if err != nil {
			s.logger.Error("Job submission failed",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.String("error", err.Error()),
			)
			s.nack(msg.DeliveryTag, shouldRequeue(err))
			continue
		}

		channel := s.broker.GetChannel()
		if channel == nil {
			s.logger.Error("Failed to get RabbitMQ channel for ACK",
				slog.String("job_id", msg.JobID),
			)
			continue
		}
		if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
			s.logger.Error("Failed to ACK message",
				slog.String("job_id", msg.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
	}
}

// Process submits a single pending job to the upstream API and records the
// execution id. Safe to call again for the same job: a job that already left
// pending is a no-op.
func (s *Submitter) Process(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return fmt.Errorf("job %s not found: %w", jobID, err)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load job %s: %w", jobID, err))
	}

	if job.Status != domain.JobStatusPending {
		// already submitted by a previous delivery, or already terminal
		s.logger.Info("Skipping submit for non-pending job",
			slog.String("job_id", jobID),
			slog.String("status", job.Status),
		)
		return nil
	}

	req := &upstream.SubmitRequest{
		JobID:          job.JobID,
		TargetApproach: job.TargetApproach,
		Payload:        json.RawMessage(job.Payload),
	}
	if job.AvatarPersonaName.Valid {
		req.PersonaName = job.AvatarPersonaName.String
	}

	executionID, err := s.upstream.Submit(ctx, req)
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("upstream submit failed for job %s: %w", jobID, err))
	}

	if err := s.jobs.MarkSubmitted(ctx, jobID, executionID); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			// lost the race with another submitter, already recorded
			s.logger.Warn("Job left pending before submit was recorded",
				slog.String("job_id", jobID),
				slog.String("execution_id", executionID),
			)
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to record submission for job %s: %w", jobID, err))
	}

	return nil
}

// shouldRequeue decides whether a failed delivery goes back on the queue.
func shouldRequeue(err error) bool {
	var retryable *domain.RetryableError
	return errors.As(err, &retryable)
}

func (s *Submitter) nack(tag uint64, requeue bool) {
	channel := s.broker.GetChannel()
	if channel == nil {
		s.logger.Error("Failed to get RabbitMQ channel for NACK")
		return
	}
	if err := channel.Nack(tag, false, requeue); err != nil {
		s.logger.Error("Failed to NACK message",
			slog.String("error", err.Error()),
		)
	}
}
