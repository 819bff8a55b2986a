package queue

import (
	"context"
	"time"

	"github.com/pocketpay/transferd/pkg/transfer"
)

// Service is a channel-backed work queue with bounded retries. Messages
// that exhaust their retries are reported to the webhook messager and
// dropped; the record itself is failed by the processor.
type Service struct {
	queue      chan transfer.Message
	quit       chan bool
	maxRetries int

	ctx context.Context
	wm  transfer.WebhookMessager
}

type Processor interface {
	Process(transfer.Message) error
}

func NewService(maxRetries, buffer int, ctx context.Context, wm transfer.WebhookMessager) *Service {
	return &Service{
		queue:      make(chan transfer.Message, buffer),
		quit:       make(chan bool),
		maxRetries: maxRetries,
		ctx:        ctx,
		wm:         wm,
	}
}

func (s *Service) Enqueue(message transfer.Message) {
	s.queue <- message
}

func (s *Service) Close() {
	s.quit <- true
}

func (s *Service) Start(p Processor) error {
	for {
		select {
		case message := <-s.queue:
			// it is up to the processor to handle the message type
			err := p.Process(message)
			if err != nil {
				// requeue until retries are exhausted
				if message.RetryCount < s.maxRetries {
					message.RetryCount++

					// back off and requeue off the consumer goroutine; a
					// blocking send from the only receiver would deadlock
					// once the buffer is full
					go func(m transfer.Message) {
						time.Sleep(time.Duration(m.RetryCount) * time.Second)

						s.queue <- m
					}(message)

					continue
				}

				s.wm.NotifyError(s.ctx, err)
			}
		case <-s.quit:
			return nil
		}
	}
}
