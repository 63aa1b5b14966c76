package bootstrap

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Application runs a set of services until it is interrupted
type Application struct {
	name string

	// lifecycle manages service start and stop order
	lifecycle *LifecycleManager

	logger *log.Logger

	// ShutdownTimeout bounds the graceful stop
	ShutdownTimeout time.Duration

	// mutex protects running
	mutex   sync.Mutex
	running bool

	// signals that trigger a graceful shutdown
	signals []os.Signal
}

// NewApplication creates an application. A nil logger disables logging.
func NewApplication(name string, logger *log.Logger) *Application {
	return &Application{
		name:            name,
		lifecycle:       NewLifecycleManager(logger),
		logger:          logger,
		ShutdownTimeout: 30 * time.Second,
		signals:         []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
}

// Register adds a service that starts after deps
func (app *Application) Register(service Service, deps ...string) error {
	return app.lifecycle.Register(service, deps...)
}

// LifecycleManager returns the lifecycle manager
func (app *Application) LifecycleManager() *LifecycleManager {
	return app.lifecycle
}

// Run starts every service, then blocks until ctx ends or a shutdown
// signal arrives, then stops every service
func (app *Application) Run(ctx context.Context) error {
	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return fmt.Errorf("application is already running")
	}
	app.running = true
	app.mutex.Unlock()

	defer func() {
		app.mutex.Lock()
		app.running = false
		app.mutex.Unlock()
	}()

	sigCtx, stop := signal.NotifyContext(ctx, app.signals...)
	defer stop()

	if err := app.lifecycle.Start(sigCtx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}
	app.logf("%s running with services %v", app.name, app.lifecycle.Services())

	<-sigCtx.Done()
	if ctx.Err() != nil {
		app.logf("Context cancelled, starting graceful shutdown...")
	} else {
		app.logf("Received shutdown signal, starting graceful shutdown...")
	}

	return app.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown stops every running service
func (app *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, app.ShutdownTimeout)
	defer cancel()

	if err := app.lifecycle.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop services: %w", err)
	}
	return nil
}

// Health reports every service's health
func (app *Application) Health(ctx context.Context) map[string]HealthStatus {
	return app.lifecycle.Health(ctx)
}

func (app *Application) logf(format string, args ...interface{}) {
	if app.logger != nil {
		app.logger.Printf(format, args...)
	}
}

// Runnable is anything with a start/stop pair, such as a config watcher
type Runnable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// Managed adapts a Runnable into a Service whose health follows its
// start and stop calls
func Managed(r Runnable) Service {
	return &managedService{Runnable: r, state: HealthStopped}
}

type managedService struct {
	Runnable

	mutex sync.Mutex
	state HealthState
	err   error
}

func (s *managedService) Start(ctx context.Context) error {
	s.set(HealthStarting, nil)
	if err := s.Runnable.Start(ctx); err != nil {
		s.set(HealthUnhealthy, err)
		return err
	}
	s.set(HealthHealthy, nil)
	return nil
}

func (s *managedService) Stop(ctx context.Context) error {
	err := s.Runnable.Stop(ctx)
	s.set(HealthStopped, err)
	return err
}

func (s *managedService) Health(ctx context.Context) (HealthStatus, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	status := HealthStatus{State: s.state, LastCheck: time.Now()}
	if s.err != nil {
		status.Message = s.err.Error()
	}
	return status, nil
}

func (s *managedService) set(state HealthState, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state, s.err = state, err
}

// FuncService builds a Service from plain functions. Nil functions do
// nothing.
type FuncService struct {
	ServiceName string
	OnStart     func(ctx context.Context) error
	OnStop      func(ctx context.Context) error
}

func (f *FuncService) Name() string {
	return f.ServiceName
}

func (f *FuncService) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f *FuncService) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

func (f *FuncService) Health(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{State: HealthUnknown}, nil
}
