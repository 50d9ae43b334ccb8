package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pixel-hosting/dtr/internal/metrics"
	"github.com/pixel-hosting/dtr/internal/model"
	"github.com/pixel-hosting/dtr/internal/publish"
)

// Dispatcher fans one event out to every destination universe. Deliveries
// are independent: a failed universe never stops the others, and the report
// carries the per-universe outcome either way. Delivery is at-least-once and
// not transactional across universes.
type Dispatcher struct {
	publisher   publish.Publisher
	concurrency int
	timeout     time.Duration
}

type Options struct {
	// Concurrency bounds parallel publishes for one event. Defaults to 8.
	Concurrency int
	// Timeout bounds each publish call. Defaults to 10s.
	Timeout time.Duration
}

func NewDispatcher(p publish.Publisher, opts Options) *Dispatcher {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{publisher: p, concurrency: concurrency, timeout: timeout}
}

// Broadcast publishes the event to every universe and returns when all
// attempts have finished. Events belonging to one action must be broadcast
// sequentially by the caller; universes within one event run in parallel.
func (d *Dispatcher) Broadcast(ctx context.Context, ev model.Event, universeIDs []string) model.DeliveryReport {
	report := model.DeliveryReport{Deliveries: make([]model.Delivery, len(universeIDs))}

	payload, err := json.Marshal(ev)
	if err != nil {
		for i, id := range universeIDs {
			report.Deliveries[i] = model.Delivery{UniverseID: id, Err: err}
		}
		return report
	}

	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for i, id := range universeIDs {
		g.Go(func() error {
			// Workers always return nil: one failed universe must not
			// cancel its siblings.
			report.Deliveries[i] = model.Delivery{UniverseID: id, Err: d.send(ctx, ev, id, payload)}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (d *Dispatcher) send(ctx context.Context, ev model.Event, universeID string, payload []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.publisher.Publish(pubCtx, universeID, payload)
	status := "ok"
	if err != nil {
		status = "error"
		log.Printf("event=publish_failed universe_id=%s event_type=%s user_id=%s err=%q", universeID, ev.Type, ev.UserID, err.Error())
	}
	metrics.PublishTotal.WithLabelValues(universeID, status).Inc()
	metrics.PublishLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return err
}
