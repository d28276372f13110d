package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/versatilecz/evac/internal/logging"
)

// SendTimeout bounds a single delivery
const SendTimeout = 30 * time.Second

// Dispatcher drains pending jobs outside the state lock
type Dispatcher struct {
	notifier Notifier
	log      *logrus.Entry
}

// NewDispatcher creates a dispatcher delivering through n
func NewDispatcher(n Notifier) *Dispatcher {
	return &Dispatcher{notifier: n, log: logging.Component("notify")}
}

// Run delivers job batches until ctx is done or jobs is closed. Each batch
// is delivered on its own goroutine so a slow target does not hold back
// later alarms. Delivery errors are logged and never retried here.
func (d *Dispatcher) Run(ctx context.Context, jobs <-chan []Job) error {
	var g errgroup.Group
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-jobs:
			if !ok {
				return nil
			}
			g.Go(func() error {
				for _, job := range batch {
					d.deliver(ctx, job)
				}
				return nil
			})
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, SendTimeout)
	defer cancel()

	log := d.log.WithField("contact", job.Contact.Name).WithField("subject", job.Message.Subject)
	if err := d.notifier.Notify(ctx, job.Contact, job.Message); err != nil {
		log.WithError(err).Error("Notification failed")
		return
	}
	log.Info("Notification sent")
}
