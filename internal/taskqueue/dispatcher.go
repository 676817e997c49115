package taskqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/petrijr/orchestra/pkg/api"
)

// Dispatcher turns engine requests into queue items. Requests naming a
// routed queue go to that queue; everything else goes to the default one.
type Dispatcher struct {
	def    Queue
	routes map[string]Queue
	now    func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRoute sends requests for the named queue to q.
func WithRoute(name string, q Queue) DispatcherOption {
	return func(d *Dispatcher) {
		d.routes[name] = q
	}
}

// NewDispatcher returns a Dispatcher that enqueues on def by default.
func NewDispatcher(def Queue, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{def: def, routes: map[string]Queue{}, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ api.Queue = (*Dispatcher)(nil)

func (d *Dispatcher) route(name string) Queue {
	if q, ok := d.routes[name]; ok {
		return q
	}
	return d.def
}

func (d *Dispatcher) push(ctx context.Context, it Item) error {
	it.ID = uuid.NewString()
	it.EnqueuedAt = d.now()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		it.Trace = carrier
	}
	return d.route(it.Queue).Enqueue(ctx, it)
}

func (d *Dispatcher) EnqueueTask(ctx context.Context, req api.TaskRequest) error {
	return d.push(ctx, Item{
		Type:        ItemTask,
		UUID:        req.TaskUUID,
		ProcessUUID: req.ProcessUUID,
		Queue:       req.Queue,
		Redrive:     req.Redrive,
	})
}

func (d *Dispatcher) EnqueueJob(ctx context.Context, req api.JobRequest) error {
	return d.push(ctx, Item{
		Type:  ItemJob,
		UUID:  req.TaskUUID,
		Job:     req.Job,
		Args:    req.Args,
		Queue:   req.Queue,
		Redrive: req.Redrive,
	})
}

func (d *Dispatcher) EnqueueProcess(ctx context.Context, req api.ProcessRequest) error {
	return d.push(ctx, Item{
		Type:  ItemProcess,
		UUID:  req.ProcessUUID,
		Queue: req.Queue,
	})
}

// TraceContext returns ctx carrying the trace context propagated with it.
func TraceContext(ctx context.Context, it *Item) context.Context {
	if len(it.Trace) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(it.Trace))
}
