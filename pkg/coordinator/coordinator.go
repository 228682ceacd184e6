package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/telekom/authcoord/pkg/metrics"
)

const tracerName = "github.com/telekom/authcoord/pkg/coordinator"

// Coordinator owns one Provider and is safe for concurrent use.
type Coordinator struct {
	cfg      Config
	provider Provider

	presentation atomic.Int32
	interactive  *semaphore.Weighted

	log    *zap.SugaredLogger
	sink   DiagnosticSink
	tracer trace.Tracer
	now    func() time.Time
}

// Option customizes a Coordinator at construction.
type Option func(*Coordinator)

// WithLogger sets the logger for coordinator events. Provider diagnostics go
// to the same logger unless WithDiagnosticSink is used.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDiagnosticSink routes provider diagnostics to sink after redaction.
func WithDiagnosticSink(sink DiagnosticSink) Option {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithClock overrides the time source used for duration metrics.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New validates cfg and builds a Coordinator around provider. It performs no
// network I/O. A provider implementing DiagnosticsRegistrar gets a redacting
// callback registered.
func New(cfg Config, provider Provider, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, configError("provider is required")
	}
	cfg.Scopes = cloneScopes(cfg.Scopes)

	c := &Coordinator{
		cfg:         cfg,
		provider:    provider,
		interactive: semaphore.NewWeighted(1),
		log:         zap.NewNop().Sugar(),
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
	}
	c.presentation.Store(int32(cfg.Presentation))
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = NewZapSink(c.log.With("component", "provider"))
	}
	if registrar, ok := provider.(DiagnosticsRegistrar); ok {
		registrar.RegisterDiagnostics(Redacting(c.sink))
	}

	c.log.Debugw("Token coordinator created",
		"scopeCount", len(cfg.Scopes),
		"presentation", cfg.Presentation.String(),
		"interactivePolicy", cfg.InteractivePolicy.String(),
	)
	return c, nil
}

// Scopes returns a copy of the configured default scopes.
func (c *Coordinator) Scopes() []string {
	return cloneScopes(c.cfg.Scopes)
}

// ClientID returns the configured client identifier.
func (c *Coordinator) ClientID() string {
	return c.cfg.ClientID
}

// Presentation returns the current presentation mode.
func (c *Coordinator) Presentation() PresentationMode {
	return PresentationMode(c.presentation.Load())
}

// SetPresentation switches between embedded and system view for subsequent
// interactive calls. A call already in flight keeps the mode it started with.
func (c *Coordinator) SetPresentation(mode PresentationMode) error {
	if !mode.valid() {
		return configError(fmt.Sprintf("unsupported presentation mode %s", mode))
	}
	c.presentation.Store(int32(mode))
	return nil
}

// Accounts lists the provider's cached accounts.
func (c *Coordinator) Accounts(ctx context.Context) ([]Account, error) {
	accounts, err := c.provider.Accounts(ctx)
	if err != nil {
		return nil, classify(ctx, "list accounts", err)
	}
	return accounts, nil
}

// AcquireSilent acquires a token for scopes without user interaction, using
// the first cached account. It returns an error matching
// ErrInteractionRequired when no account is cached or the provider needs the
// user; escalating is up to the caller.
func (c *Coordinator) AcquireSilent(ctx context.Context, scopes []string) (*TokenResult, error) {
	const op = "acquire token silently"
	ctx, span := c.tracer.Start(ctx, "coordinator.AcquireSilent",
		trace.WithAttributes(attribute.Int("auth.scopes.count", len(scopes))))
	defer span.End()
	log := c.log.With("op", op, "correlationID", uuid.NewString())
	start := c.now()

	result, err := c.acquireSilent(ctx, op, scopes, log)
	c.record(span, log, metrics.PathSilent, start, err)
	return result, err
}

func (c *Coordinator) acquireSilent(ctx context.Context, op string, scopes []string, log *zap.SugaredLogger) (*TokenResult, error) {
	if err := checkScopes(op, scopes); err != nil {
		return nil, err
	}
	accounts, err := c.provider.Accounts(ctx)
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	account, ok := selectAccount(accounts)
	if !ok {
		log.Debugw("No cached account, silent acquisition skipped")
		return nil, &Error{Kind: KindInteractionRequired, Op: op, Detail: "no cached account"}
	}
	log.Debugw("Selected cached account", "accountCount", len(accounts))

	result, err := c.provider.AcquireTokenSilent(ctx, cloneScopes(scopes), account)
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	return result, nil
}

// AcquireInteractive runs a user-facing flow on the configured parent window.
// At most one interactive call is in flight; what happens to a concurrent
// second call depends on the InteractivePolicy.
func (c *Coordinator) AcquireInteractive(ctx context.Context, scopes []string) (*TokenResult, error) {
	const op = "acquire token interactively"
	mode := c.Presentation()
	ctx, span := c.tracer.Start(ctx, "coordinator.AcquireInteractive",
		trace.WithAttributes(
			attribute.Int("auth.scopes.count", len(scopes)),
			attribute.String("auth.presentation", mode.String()),
		))
	defer span.End()
	log := c.log.With("op", op, "correlationID", uuid.NewString(), "presentation", mode.String())
	start := c.now()

	result, err := c.acquireInteractive(ctx, op, scopes, mode, log)
	c.record(span, log, metrics.PathInteractive, start, err)
	return result, err
}

func (c *Coordinator) acquireInteractive(ctx context.Context, op string, scopes []string, mode PresentationMode, log *zap.SugaredLogger) (*TokenResult, error) {
	if err := checkScopes(op, scopes); err != nil {
		return nil, err
	}
	parent := c.cfg.ParentWindow
	if parent == nil || !parent.Foreground() {
		return nil, &Error{Kind: KindNoParentWindow, Op: op, Detail: "interactive flows need a foreground window"}
	}

	release, err := c.enterInteractive(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	req := InteractiveRequest{
		Scopes:       cloneScopes(scopes),
		Presentation: mode,
		ParentWindow: parent,
	}
	switch mode {
	case PresentationSystemView:
		req.SystemView = c.cfg.SystemView
	case PresentationEmbedded:
		// Embedded surfaces are drawn by the parent window itself.
	}
	log.Infow("Starting interactive authentication")

	result, err := c.provider.AcquireTokenInteractive(ctx, req)
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	return result, nil
}

func (c *Coordinator) enterInteractive(ctx context.Context, op string) (func(), error) {
	switch c.cfg.InteractivePolicy {
	case InteractiveQueue:
		if err := c.interactive.Acquire(ctx, 1); err != nil {
			return nil, &Error{Kind: KindCanceled, Op: op, Detail: "waiting for running interactive flow", Err: err}
		}
	default:
		if !c.interactive.TryAcquire(1) {
			return nil, &Error{Kind: KindInteractionInProgress, Op: op}
		}
	}
	metrics.InteractiveInFlight.Inc()
	return func() {
		metrics.InteractiveInFlight.Dec()
		c.interactive.Release(1)
	}, nil
}

// SignOut removes every cached account from the provider. A failure on one
// account does not stop removal of the others; all failures are returned
// together as a KindPartialSignOut error. Only the local cache is cleared:
// tokens held elsewhere, for example by a device management agent, survive.
func (c *Coordinator) SignOut(ctx context.Context) error {
	const op = "sign out"
	ctx, span := c.tracer.Start(ctx, "coordinator.SignOut")
	defer span.End()
	log := c.log.With("op", op, "correlationID", uuid.NewString())

	err := c.signOut(ctx, op, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
		log.Warnw("Sign-out incomplete", "kind", KindOf(err).String(), "error", err)
	}
	return err
}

func (c *Coordinator) signOut(ctx context.Context, op string, log *zap.SugaredLogger) error {
	accounts, err := c.provider.Accounts(ctx)
	if err != nil {
		return classify(ctx, op, err)
	}

	var failures []AccountFailure
	canceled := func(processed int, err error) error {
		return &Error{
			Kind:     KindCanceled,
			Op:       op,
			Detail:   fmt.Sprintf("%d of %d accounts processed", processed, len(accounts)),
			Err:      err,
			Failures: failures,
		}
	}
	for i, account := range accounts {
		if err := ctx.Err(); err != nil {
			return canceled(i, err)
		}
		if err := c.provider.RemoveAccount(ctx, account); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return canceled(i, ctxErr)
			}
			metrics.SignOutRemovals.WithLabelValues("failed").Inc()
			log.Debugw("Failed to remove cached account", "index", i, "error", err)
			failures = append(failures, AccountFailure{Account: account, Err: err})
			continue
		}
		metrics.SignOutRemovals.WithLabelValues("removed").Inc()
	}
	log.Infow("Removed cached accounts", "removed", len(accounts)-len(failures), "failed", len(failures))

	if len(failures) > 0 {
		return &Error{
			Kind:     KindPartialSignOut,
			Op:       op,
			Detail:   fmt.Sprintf("%d of %d accounts could not be removed", len(failures), len(accounts)),
			Err:      errors.Join(failureErrors(failures)...),
			Failures: failures,
		}
	}
	return nil
}

func (c *Coordinator) record(span trace.Span, log *zap.SugaredLogger, path string, start time.Time, err error) {
	outcome := OutcomeOf(nil, err)
	label := outcome.Kind.String()
	if outcome.Kind == OutcomeFailure {
		label = outcome.ErrorKind.String()
	}
	metrics.Acquisitions.WithLabelValues(path, label).Inc()
	metrics.AcquisitionDuration.WithLabelValues(path).Observe(c.now().Sub(start).Seconds())
	span.SetAttributes(attribute.String("auth.outcome", label))

	switch outcome.Kind {
	case OutcomeSuccess:
		log.Debugw("Token acquired")
	case OutcomeInteractionRequired:
		log.Debugw("Interaction required")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, label)
		log.Infow("Token acquisition failed", "kind", label, "error", err)
	}
}

// classify maps a provider error onto the coordinator taxonomy. Context
// errors take precedence so cancellation is never reported as retryable.
func classify(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return &Error{Kind: KindCanceled, Op: op, Err: err}
	case errors.Is(err, ErrInteractionRequired):
		return &Error{Kind: KindInteractionRequired, Op: op, Err: err}
	case errors.Is(err, ErrUserCancelled):
		return &Error{Kind: KindUserCancelled, Op: op, Err: err}
	case errors.Is(err, ErrNoParentWindow):
		return &Error{Kind: KindNoParentWindow, Op: op, Err: err}
	case errors.Is(err, ErrInteractionInProgress):
		return &Error{Kind: KindInteractionInProgress, Op: op, Err: err}
	default:
		return &Error{Kind: KindProviderFailure, Op: op, Err: err}
	}
}

func checkScopes(op string, scopes []string) error {
	if len(scopes) == 0 {
		return &Error{Kind: KindConfiguration, Op: op, Detail: "at least one scope is required"}
	}
	for _, scope := range scopes {
		if strings.TrimSpace(scope) == "" {
			return &Error{Kind: KindConfiguration, Op: op, Detail: "scopes must not be blank"}
		}
	}
	return nil
}

// selectAccount picks the first account in provider order.
func selectAccount(accounts []Account) (Account, bool) {
	if len(accounts) == 0 {
		return Account{}, false
	}
	return accounts[0], true
}

func failureErrors(failures []AccountFailure) []error {
	errs := make([]error, 0, len(failures))
	for _, f := range failures {
		errs = append(errs, fmt.Errorf("account %s: %w", f.Account.ID, f.Err))
	}
	return errs
}

func cloneScopes(scopes []string) []string {
	if scopes == nil {
		return nil
	}
	out := make([]string, len(scopes))
	copy(out, scopes)
	return out
}
