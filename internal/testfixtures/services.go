package testfixtures

import (
	"io"
	"log/slog"
	"time"

	"github.com/example/resource-scheduler/internal/application"
)

// ServiceFactory builds application services whose clock, identifiers and
// logger are deterministic. Dependencies left nil by the caller are filled in.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with a ReferenceTime clock,
// "id" prefixed identifiers and a discarding logger.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Logger == nil {
		factory.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLogger overrides the logger handed to services.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// BookingService returns a BookingService over deps.
func (f *ServiceFactory) BookingService(deps application.BookingServiceDeps) *application.BookingService {
	if deps.IDGenerator == nil {
		deps.IDGenerator = f.IDGenerator.NextFunc()
	}
	if deps.Now == nil {
		deps.Now = f.Clock.NowFunc()
	}
	if deps.Logger == nil {
		deps.Logger = f.Logger
	}
	return application.NewBookingService(deps)
}

// LifecycleService returns a LifecycleService over deps.
func (f *ServiceFactory) LifecycleService(deps application.LifecycleServiceDeps) *application.LifecycleService {
	if deps.Now == nil {
		deps.Now = f.Clock.NowFunc()
	}
	if deps.Logger == nil {
		deps.Logger = f.Logger
	}
	return application.NewLifecycleService(deps)
}

// WaitlistService returns a WaitlistService using the factory's clock,
// identifiers and logger.
func (f *ServiceFactory) WaitlistService(resources application.ResourceCatalog, entries application.WaitlistStore, policy application.RequesterPolicy, notifier application.Notifier) *application.WaitlistService {
	return application.NewWaitlistServiceWithLogger(resources, entries, policy, notifier, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Logger)
}

// FeedService returns a FeedService over deps.
func (f *ServiceFactory) FeedService(deps application.FeedServiceDeps) *application.FeedService {
	if deps.IDGenerator == nil {
		deps.IDGenerator = f.IDGenerator.NextFunc()
	}
	if deps.Now == nil {
		deps.Now = f.Clock.NowFunc()
	}
	if deps.Logger == nil {
		deps.Logger = f.Logger
	}
	return application.NewFeedService(deps)
}
