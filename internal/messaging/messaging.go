package messaging

import (
	"context"
	"time"

	"bnn-backend/pkg/models"
)

const (
	TrainQueue      = "train_queue"
	PredictQueue    = "predict_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type Publisher interface {
	PublishTrainTask(ctx context.Context, payload models.TrainTaskPayload) error

	PublishPredictTask(ctx context.Context, payload models.PredictTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
