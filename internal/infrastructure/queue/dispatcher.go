package queue

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gigmarket/identity/internal/api/metrics"
	"github.com/gigmarket/identity/internal/core/domain"
	"github.com/gigmarket/identity/internal/infrastructure/mail"
)

const (
	defaultWorkers      = 4
	channelBuffer       = 256
	defaultDrainTimeout = 10 * time.Second
)

// ErrQueueFull is returned by Deliver when the owning worker's channel has no room.
var ErrQueueFull = errors.New("mail queue full")

type job struct {
	id       string
	delivery domain.ResetDelivery
}

// Options tunes a Dispatcher.
type Options struct {
	Workers  int
	Rate     float64 // sends per second across all workers; <= 0 means unlimited
	ResetURL string
	// DrainTimeout bounds how long queued mail is still sent after shutdown
	// begins. Defaults to defaultDrainTimeout.
	DrainTimeout time.Duration
}

// Dispatcher routes reset mails to a fixed set of workers using consistent
// hashing on the recipient, so mails for one address go out in the order they
// were issued and the newest token always arrives last.
type Dispatcher struct {
	workers  []chan job
	sender   mail.Sender
	limiter  *rate.Limiter
	resetURL string
	drain    time.Duration
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. If opts.Workers <= 0, defaultWorkers is used.
func NewDispatcher(sender mail.Sender, opts Options, log zerolog.Logger) *Dispatcher {
	n := opts.Workers
	if n <= 0 {
		n = defaultWorkers
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	d := &Dispatcher{
		workers:  make([]chan job, n),
		sender:   sender,
		limiter:  rate.NewLimiter(limit, 1),
		resetURL: opts.ResetURL,
		drain:    drain,
		log:      log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan job, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. When ctx is cancelled each worker
// sends what is already queued, within DrainTimeout, and then stops.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver queues a reset mail on the worker owning its recipient. It never
// blocks: a full channel drops the mail and returns ErrQueueFull.
func (d *Dispatcher) Deliver(_ context.Context, rd domain.ResetDelivery) error {
	idx := d.shardIndex(rd.Email)
	j := job{id: uuid.NewString(), delivery: rd}

	select {
	case d.workers[idx] <- j:
		metrics.MailQueueDepth.WithLabelValues(strconv.Itoa(idx)).Inc()
		return nil
	default:
		metrics.MailDeliveriesTotal.WithLabelValues("dropped").Inc()
		d.log.Warn().Int("worker_id", idx).Msg("mail queue full, dropping reset mail")
		return ErrQueueFull
	}
}

// shardIndex maps a recipient deterministically to a worker index.
func (d *Dispatcher) shardIndex(email string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(domain.NormalizeEmail(email)))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan job) {
	defer d.wg.Done()
	workerID := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			d.drainWorker(ctx, id, ch, nil)
			return
		case j := <-ch:
			metrics.MailQueueDepth.WithLabelValues(workerID).Dec()
			if !d.send(ctx, id, j) {
				d.drainWorker(ctx, id, ch, &j)
				return
			}
		}
	}
}

// drainWorker sends pending, then everything left in ch, under a deadline
// detached from the cancelled ctx. Mail still queued past the deadline is
// counted as dropped.
func (d *Dispatcher) drainWorker(ctx context.Context, id int, ch <-chan job, pending *job) {
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.drain)
	defer cancel()

	workerID := strconv.Itoa(id)
	sent, dropped := 0, 0
	handle := func(j job) {
		if d.send(drainCtx, id, j) {
			sent++
			return
		}
		dropped++
		metrics.MailDeliveriesTotal.WithLabelValues("dropped").Inc()
	}

	if pending != nil {
		handle(*pending)
	}
	for {
		select {
		case j := <-ch:
			metrics.MailQueueDepth.WithLabelValues(workerID).Dec()
			handle(j)
		default:
			if sent+dropped > 0 {
				d.log.Info().Int("worker_id", id).Int("sent", sent).Int("dropped", dropped).Msg("mail queue drained")
			}
			return
		}
	}
}

// send delivers one job. It returns false only when ctx ended before the
// mail could go out; render and transport errors are final and return true.
func (d *Dispatcher) send(ctx context.Context, workerID int, j job) bool {
	log := d.log.With().Str("job_id", j.id).Int("worker_id", workerID).Logger()

	if err := d.limiter.Wait(ctx); err != nil {
		return false
	}

	msg, err := mail.ResetMessage(d.resetURL, j.delivery)
	if err != nil {
		metrics.MailDeliveriesTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("render reset mail failed")
		return true
	}

	start := time.Now()
	err = d.sender.Send(ctx, msg)
	metrics.MailSendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		metrics.MailDeliveriesTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("reset mail send failed")
		return true
	}
	metrics.MailDeliveriesTotal.WithLabelValues("sent").Inc()
	log.Debug().Msg("reset mail sent")
	return true
}
