package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ruteri/safe-forge/interfaces"
	"github.com/ruteri/safe-forge/metrics"
	"github.com/ruteri/safe-forge/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ interfaces.Forge = (*Registry)(nil)

const (
	DefaultEventPageSize = 100
	MaxEventPageSize     = 1000

	// DefaultArchiveTimeout bounds each archive call. Registration holds
	// the write lock while it archives.
	DefaultArchiveTimeout = 30 * time.Second
)

// Options carries the optional collaborators of a Registry.
type Options struct {
	// Archive receives template code before a registration commits and
	// deployment data after a generation commits. Nil disables archiving.
	Archive interfaces.StorageBackend
	// ArchiveTimeout defaults to DefaultArchiveTimeout.
	ArchiveTimeout time.Duration
	// Sink receives committed generation events. Nil disables publishing.
	Sink   interfaces.EventSink
	Log    *slog.Logger
	Tracer trace.Tracer
	// Now defaults to time.Now.
	Now func() time.Time
}

// Registry serializes every mutation behind one lock. Each mutation
// validates, persists, and only then updates memory.
type Registry struct {
	mu sync.RWMutex

	store          interfaces.StateStore
	archive        interfaces.StorageBackend
	archiveTimeout time.Duration
	sink           interfaces.EventSink
	log            *slog.Logger
	tracer         trace.Tracer
	now            func() time.Time

	admins        map[interfaces.Principal]interfaces.Admin
	adminOrder    []interfaces.Principal
	templates     map[interfaces.TemplateName]*interfaces.Template
	templateOrder []interfaces.TemplateName
	events        []interfaces.GenerationEvent
	nextEventID   uint64
	seq           uint64
}

// NewRegistry loads the persisted state from store.
func NewRegistry(ctx context.Context, store interfaces.StateStore, opts Options) (*Registry, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.NoopTracer()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ArchiveTimeout <= 0 {
		opts.ArchiveTimeout = DefaultArchiveTimeout
	}

	r := &Registry{
		store:       store,
		archive:        opts.Archive,
		archiveTimeout: opts.ArchiveTimeout,
		sink:           opts.Sink,
		log:            opts.Log,
		tracer:         opts.Tracer,
		now:            opts.Now,
		admins:         make(map[interfaces.Principal]interfaces.Admin),
		templates:      make(map[interfaces.TemplateName]*interfaces.Template),
		nextEventID:    1,
	}

	snapshot, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if err := r.restore(snapshot); err != nil {
		return nil, err
	}

	r.log.Info("Registry state loaded",
		slog.Int("admins", len(r.adminOrder)),
		slog.Int("templates", len(r.templateOrder)),
		slog.Int("events", len(r.events)))

	return r, nil
}

func (r *Registry) restore(snapshot *interfaces.Snapshot) error {
	if snapshot == nil {
		return nil
	}

	admins := append([]interfaces.Admin(nil), snapshot.Admins...)
	sort.Slice(admins, func(i, j int) bool { return admins[i].Seq < admins[j].Seq })
	for _, a := range admins {
		if _, dup := r.admins[a.Principal]; dup {
			return fmt.Errorf("corrupt state: duplicate admin %s", a.Principal)
		}
		r.admins[a.Principal] = a
		r.adminOrder = append(r.adminOrder, a.Principal)
		r.bumpSeq(a.Seq)
	}

	templates := append([]interfaces.Template(nil), snapshot.Templates...)
	sort.Slice(templates, func(i, j int) bool { return templates[i].Seq < templates[j].Seq })
	for _, t := range templates {
		if _, dup := r.templates[t.Name]; dup {
			return fmt.Errorf("corrupt state: duplicate template %q", t.Name)
		}
		tc := t.Clone()
		r.templates[t.Name] = &tc
		r.templateOrder = append(r.templateOrder, t.Name)
		r.bumpSeq(t.Seq)
		r.bumpSeq(t.ApprovedSeq)
	}

	events := append([]interfaces.GenerationEvent(nil), snapshot.Events...)
	sort.Slice(events, func(i, j int) bool { return events[i].EventID < events[j].EventID })
	var last uint64
	for _, e := range events {
		if e.EventID <= last {
			return fmt.Errorf("corrupt state: event id %d not strictly increasing", e.EventID)
		}
		if _, ok := r.templates[e.TemplateName]; !ok {
			return fmt.Errorf("corrupt state: event %d references unknown template %q", e.EventID, e.TemplateName)
		}
		last = e.EventID
		r.events = append(r.events, e.Clone())
	}
	r.nextEventID = last + 1

	return nil
}

func (r *Registry) bumpSeq(seq uint64) {
	if seq > r.seq {
		r.seq = seq
	}
}

// observe starts a span for operation and returns a function that ends it,
// recording the outcome in metrics.
func (r *Registry) observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("forge.outcome", metrics.Outcome(err)))
		}
		span.End()
		metrics.RecordOperation(operation, err, time.Since(start))
	}
}

func principalAttr(key string, p interfaces.Principal) attribute.KeyValue {
	return attribute.String(key, p.String())
}
