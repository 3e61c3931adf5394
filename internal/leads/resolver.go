package leads

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tecbrilho/erika-relay/pkg/logging"
)

var tracer = otel.Tracer("erika.internal.leads")

// Resolver finds or creates the lead for a phone number.
type Resolver interface {
	ResolveOrCreate(ctx context.Context, req ResolveRequest) (Ref, error)
}

// LockingResolver serialises resolution per phone number so concurrent
// deliveries from one customer do not create duplicate leads.
type LockingResolver struct {
	next        Resolver
	locker      Locker
	wait        time.Duration
	callTimeout time.Duration
	logger      *logging.Logger
}

// NewLockingResolver wraps next with a per-phone lease. If the lease cannot be
// taken within wait, resolution proceeds without it.
func NewLockingResolver(next Resolver, locker Locker, wait time.Duration, logger *logging.Logger) *LockingResolver {
	if next == nil {
		panic("leads: resolver cannot be nil")
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LockingResolver{next: next, locker: locker, wait: wait, logger: logger}
}

// WithCallTimeout bounds the wrapped resolution separately from the lease
// wait, so time spent queued behind another delivery does not eat into it.
func (r *LockingResolver) WithCallTimeout(d time.Duration) *LockingResolver {
	r.callTimeout = d
	return r
}

// Budget is the longest ResolveOrCreate can take: the lease wait plus the
// call timeout.
func (r *LockingResolver) Budget() time.Duration {
	return r.wait + r.callTimeout
}

func (r *LockingResolver) ResolveOrCreate(ctx context.Context, req ResolveRequest) (Ref, error) {
	if err := req.Validate(); err != nil {
		return Ref{}, err
	}
	ctx, span := tracer.Start(ctx, "leads.resolve")
	defer span.End()

	waitCtx, cancel := context.WithTimeout(ctx, r.wait)
	release, err := r.locker.Acquire(waitCtx, req.Phone)
	cancel()
	switch {
	case err == nil:
		defer release()
	case ctx.Err() != nil:
		return Ref{}, ctx.Err()
	case errors.Is(err, ErrLeaseTimeout):
		r.logger.Warn("lead lease wait timed out, resolving without lease", "phone", logging.MaskPhone(req.Phone))
	default:
		r.logger.Warn("lead lease unavailable, resolving without lease", "error", err, "phone", logging.MaskPhone(req.Phone))
	}

	callCtx := ctx
	if r.callTimeout > 0 {
		var cancelCall context.CancelFunc
		callCtx, cancelCall = context.WithTimeout(ctx, r.callTimeout)
		defer cancelCall()
	}
	ref, err := r.next.ResolveOrCreate(callCtx, req)
	if err != nil {
		span.RecordError(err)
		return Ref{}, err
	}
	span.SetAttributes(
		attribute.Int64("erika.lead_id", ref.LeadID),
		attribute.Bool("erika.lead_created", ref.Created),
	)
	return ref, nil
}
