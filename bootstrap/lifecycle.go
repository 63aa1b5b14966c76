package bootstrap

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// LifecycleManager starts services in dependency order and stops them in
// reverse. Services with no ordering constraint between them start in
// registration order.
type LifecycleManager struct {
	// services holds all registered services
	services map[string]Service

	// registered keeps registration order
	registered []string

	// dependencies tracks service dependencies
	dependencies map[string][]string

	// startOrder tracks the order services were started
	startOrder []string

	// mutex protects concurrent access
	mutex sync.RWMutex

	// started indicates if the lifecycle manager has been started
	started bool

	// listeners for lifecycle events
	listeners []func(LifecycleEvent)

	// timeout for service operations
	timeout time.Duration

	logger *log.Logger
}

// NewLifecycleManager creates a new lifecycle manager. A nil logger
// disables logging.
func NewLifecycleManager(logger *log.Logger) *LifecycleManager {
	return &LifecycleManager{
		services:     make(map[string]Service),
		dependencies: make(map[string][]string),
		timeout:      30 * time.Second,
		logger:       logger,
	}
}

// Register registers a service that starts after deps
func (lm *LifecycleManager) Register(service Service, deps ...string) error {
	if service == nil {
		return fmt.Errorf("service cannot be nil")
	}
	name := service.Name()
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return fmt.Errorf("cannot register service %s: lifecycle manager already started", name)
	}
	if _, exists := lm.services[name]; exists {
		return fmt.Errorf("service %s is already registered", name)
	}

	lm.services[name] = service
	lm.registered = append(lm.registered, name)
	lm.dependencies[name] = deps

	lm.broadcastEvent(LifecycleEvent{
		Type:      EventRegistered,
		Service:   name,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"dependencies": deps},
	})

	return nil
}

// Start starts all services in dependency order. If one fails, the
// services already started are stopped again.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return fmt.Errorf("lifecycle manager already started")
	}

	order, err := lm.calculateStartOrder()
	if err != nil {
		return &ApplicationError{Operation: "start", Err: err}
	}

	for _, name := range order {
		service := lm.services[name]

		lm.broadcastEvent(LifecycleEvent{Type: EventStarting, Service: name, Timestamp: time.Now()})

		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := service.Start(startCtx)
		cancel()

		if err != nil {
			lm.broadcastEvent(LifecycleEvent{Type: EventStartFailed, Service: name, Timestamp: time.Now(), Error: err})
			lm.logf("Failed to start %s: %v", name, err)
			lm.stopStarted(context.WithoutCancel(ctx))
			return &ApplicationError{Operation: "start", Service: name, Err: err}
		}

		lm.startOrder = append(lm.startOrder, name)
		lm.broadcastEvent(LifecycleEvent{Type: EventStarted, Service: name, Timestamp: time.Now()})
		lm.logf("Started %s", name)
	}

	lm.started = true
	lm.broadcastEvent(LifecycleEvent{
		Type:      EventLifecycleUp,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"order": order},
	})

	return nil
}

// Stop stops all services in reverse start order. Every service is asked
// to stop; the first failure is returned.
func (lm *LifecycleManager) Stop(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if !lm.started {
		return nil
	}

	err := lm.stopStarted(ctx)
	lm.started = false

	lm.broadcastEvent(LifecycleEvent{Type: EventLifecycleEnd, Timestamp: time.Now()})
	return err
}

// stopStarted stops the started services, newest first. Callers hold the mutex.
func (lm *LifecycleManager) stopStarted(ctx context.Context) error {
	var firstErr error

	for i := len(lm.startOrder) - 1; i >= 0; i-- {
		name := lm.startOrder[i]
		service := lm.services[name]

		lm.broadcastEvent(LifecycleEvent{Type: EventStopping, Service: name, Timestamp: time.Now()})

		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := service.Stop(stopCtx)
		cancel()

		if err != nil {
			if firstErr == nil {
				firstErr = &ApplicationError{Operation: "stop", Service: name, Err: err}
			}
			lm.broadcastEvent(LifecycleEvent{Type: EventStopFailed, Service: name, Timestamp: time.Now(), Error: err})
			lm.logf("Failed to stop %s: %v", name, err)
			continue
		}

		lm.broadcastEvent(LifecycleEvent{Type: EventStopped, Service: name, Timestamp: time.Now()})
		lm.logf("Stopped %s", name)
	}

	lm.startOrder = nil
	return firstErr
}

// Health returns the health status of all services
func (lm *LifecycleManager) Health(ctx context.Context) map[string]HealthStatus {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	health := make(map[string]HealthStatus, len(lm.services))
	for name, service := range lm.services {
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := service.Health(healthCtx)
		cancel()

		if err != nil {
			status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
		}
		if status.LastCheck.IsZero() {
			status.LastCheck = time.Now()
		}
		health[name] = status
	}

	return health
}

// Services returns all registered service names in registration order
func (lm *LifecycleManager) Services() []string {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	return append([]string(nil), lm.registered...)
}

// AddListener adds a lifecycle event listener
func (lm *LifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.listeners = append(lm.listeners, listener)
}

// SetTimeout sets the timeout for each service's Start and Stop
func (lm *LifecycleManager) SetTimeout(timeout time.Duration) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.timeout = timeout
}

// IsStarted returns true if the lifecycle manager has been started
func (lm *LifecycleManager) IsStarted() bool {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	return lm.started
}

// calculateStartOrder sorts services topologically (Kahn's algorithm),
// taking ready services in registration order
func (lm *LifecycleManager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int, len(lm.services))
	dependents := make(map[string][]string, len(lm.services))

	for _, name := range lm.registered {
		for _, dep := range lm.dependencies[name] {
			if _, exists := lm.services[dep]; !exists {
				return nil, fmt.Errorf("dependency %s of service %s is not registered", dep, name)
			}
			dependents[dep] = append(dependents[dep], name)
			inDegree[name]++
		}
	}

	done := make(map[string]bool, len(lm.services))
	result := make([]string, 0, len(lm.services))

	for len(result) < len(lm.registered) {
		progressed := false
		for _, name := range lm.registered {
			if done[name] || inDegree[name] > 0 {
				continue
			}
			done[name] = true
			result = append(result, name)
			for _, dependent := range dependents[name] {
				inDegree[dependent]--
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, fmt.Errorf("circular dependency detected")
		}
	}

	return result, nil
}

// broadcastEvent broadcasts a lifecycle event to all listeners
func (lm *LifecycleManager) broadcastEvent(event LifecycleEvent) {
	for _, listener := range lm.listeners {
		go func(l func(LifecycleEvent)) {
			defer func() {
				if r := recover(); r != nil {
					lm.logf("Lifecycle listener panicked: %v", r)
				}
			}()
			l(event)
		}(listener)
	}
}

func (lm *LifecycleManager) logf(format string, args ...interface{}) {
	if lm.logger != nil {
		lm.logger.Printf(format, args...)
	}
}
