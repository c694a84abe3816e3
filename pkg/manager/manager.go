package manager

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nitzmahone/relay/pkg/events"
	"github.com/nitzmahone/relay/pkg/log"
	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/metrics"
	"github.com/nitzmahone/relay/pkg/pool"
)

const (
	defaultContentWorkers    = 10
	defaultConnectionWorkers = 1

	// contentWorkload is the synthetic workload class for payload generation
	contentWorkload = "content"
)

// Config wires a task manager
type Config struct {
	// Spawner creates workers for every pool the manager builds
	Spawner pool.Spawner

	// Events receives task and worker lifecycle events; may be nil
	Events *events.Bus

	// ContentWorkers caps the content pool (defaults to 10)
	ContentWorkers int

	// ConnectionWorkers caps each per-transport pool (defaults to 1; the
	// single worker is asynchronous and multiplexes its tasks).
	ConnectionWorkers int
}

// Manager is the top-level dispatcher: it classifies incoming tasks, routes
// them to a per-workload pool (creating pools lazily), reassembles results,
// and re-dispatches worker-originated sub-requests to whichever pool can
// serve them, remembering the way back.
type Manager struct {
	spawner           pool.Spawner
	events            *events.Bus
	contentWorkers    int
	connectionWorkers int

	resultQueue chan pool.Result

	mu              sync.Mutex
	runningTasks    map[uuid.UUID]message.Task
	relayedTasks    map[uuid.UUID]*pool.Pool
	poolsByWorktype map[string]*pool.Pool

	logger zerolog.Logger
}

// New builds a manager; pools are created on first use per workload class
func New(cfg Config) *Manager {
	contentWorkers := cfg.ContentWorkers
	if contentWorkers <= 0 {
		contentWorkers = defaultContentWorkers
	}
	connectionWorkers := cfg.ConnectionWorkers
	if connectionWorkers <= 0 {
		connectionWorkers = defaultConnectionWorkers
	}

	return &Manager{
		spawner:           cfg.Spawner,
		events:            cfg.Events,
		contentWorkers:    contentWorkers,
		connectionWorkers: connectionWorkers,
		resultQueue:       make(chan pool.Result, 1024),
		runningTasks:      make(map[uuid.UUID]message.Task),
		relayedTasks:      make(map[uuid.UUID]*pool.Pool),
		poolsByWorktype:   make(map[string]*pool.Pool),
		logger:            log.WithComponent("manager"),
	}
}

// getPoolForTask selects or lazily creates the pool serving a task's
// workload class: content generation is CPU-bound and fans across
// non-concurrent workers, while transport work funnels through one
// asynchronous worker per connection plugin.
func (m *Manager) getPoolForTask(task message.Task) (*pool.Pool, error) {
	var workloadType string
	var maxWorkers int
	var concurrent bool

	switch t := task.(type) {
	case *message.ContentDescriptorRequest:
		workloadType = contentWorkload
		maxWorkers = m.contentWorkers
		concurrent = false
	default:
		req, ok := t.(message.Request)
		if !ok {
			return nil, fmt.Errorf("cannot select a pool for task kind %s", task.Kind())
		}

		connName := req.Options().Plugins[message.PluginConnection]
		if connName == "" {
			return nil, fmt.Errorf("task %s has no connection plugin set", task.TaskID())
		}

		workloadType = "connection-" + connName
		maxWorkers = m.connectionWorkers
		concurrent = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.poolsByWorktype[workloadType]
	if !ok {
		p = pool.New(pool.Config{
			WorkloadType:            workloadType,
			MaxWorkers:              maxWorkers,
			SupportsConcurrentTasks: concurrent,
			Spawner:                 m.spawner,
			Results:                 m.resultQueue,
			Events:                  m.events,
		})
		m.poolsByWorktype[workloadType] = p
	}

	return p, nil
}

// Queue routes a task to its pool. Tracked tasks are owned by the caller:
// their terminal results are handed back from Get rather than re-dispatched.
func (m *Manager) Queue(task message.Task, track bool) error {
	p, err := m.getPoolForTask(task)
	if err != nil {
		return err
	}

	if track {
		m.mu.Lock()
		m.runningTasks[task.TaskID()] = task
		m.mu.Unlock()

		m.events.Publish(events.Event{
			Type:    events.EventTaskQueued,
			Message: fmt.Sprintf("task %s queued to %s", task.TaskID(), p.WorkloadType()),
			Fields:  map[string]string{"task_id": task.TaskID().String(), "workload": p.WorkloadType()},
		})
	}

	p.Queue(task)
	return nil
}

// Get blocks until a caller-originated task completes and returns its
// terminal result. Results for relayed ids are routed back to the pool that
// asked for them; unknown ids are worker sub-requests that get re-dispatched
// to the pool matching their own workload class.
func (m *Manager) Get() (message.Task, bool) {
	m.mu.Lock()
	idle := len(m.runningTasks) == 0
	m.mu.Unlock()
	if idle {
		return nil, false
	}

	for {
		res := <-m.resultQueue
		task := res.Task

		m.mu.Lock()
		if _, owned := m.runningTasks[task.TaskID()]; owned {
			m.mu.Unlock()
			m.observeCompletion(task)
			return task, true
		}

		if relayPool, ok := m.relayedTasks[task.TaskID()]; ok {
			delete(m.relayedTasks, task.TaskID())
			m.mu.Unlock()

			m.logger.Debug().Str("task_id", task.TaskID().String()).Str("pool", relayPool.WorkloadType()).Msg("routing response to originating pool")
			relayPool.Queue(task)
			continue
		}

		originating := m.poolsByWorktype[res.WorkloadType]
		m.relayedTasks[task.TaskID()] = originating
		m.mu.Unlock()

		m.logger.Debug().
			Str("task_id", task.TaskID().String()).
			Str("origin", res.WorkloadType).
			Msg("re-dispatching worker sub-request")
		m.events.Publish(events.Event{
			Type:    events.EventTaskRelayed,
			Message: fmt.Sprintf("sub-request %s from %s re-dispatched", task.TaskID(), res.WorkloadType),
			Fields:  map[string]string{"task_id": task.TaskID().String(), "origin": res.WorkloadType},
		})

		if err := m.Queue(task, false); err != nil {
			m.logger.Error().Err(err).Str("task_id", task.TaskID().String()).Msg("failed to re-dispatch sub-request")

			m.mu.Lock()
			delete(m.relayedTasks, task.TaskID())
			m.mu.Unlock()

			originating.Queue(message.NewTaskFailedResult(task, err.Error(), ""))
		}
	}
}

func (m *Manager) observeCompletion(task message.Task) {
	status := "ok"
	eventType := events.EventTaskCompleted

	switch t := task.(type) {
	case *message.TaskFailedResult:
		status = "error"
		eventType = events.EventTaskFailed
	case *message.TaskResult:
		if t.Failed() {
			status = "failed"
			eventType = events.EventTaskFailed
		}
	}

	metrics.TasksCompleted.WithLabelValues(status).Inc()
	m.events.Publish(events.Event{
		Type:    eventType,
		Message: fmt.Sprintf("task %s completed (%s)", task.TaskID(), status),
		Fields:  map[string]string{"task_id": task.TaskID().String(), "status": status},
	})
}

// GetOriginalTask returns the caller-submitted request matching a result id
func (m *Manager) GetOriginalTask(task message.Task) message.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningTasks[task.TaskID()]
}

// Finish releases a caller-owned task after its result has been consumed
func (m *Manager) Finish(taskID uuid.UUID) {
	m.mu.Lock()
	delete(m.runningTasks, taskID)
	m.mu.Unlock()
}

// Shutdown stops every pool, joining their workers
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pools := make([]*pool.Pool, 0, len(m.poolsByWorktype))
	for _, p := range m.poolsByWorktype {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	for _, p := range pools {
		if err := p.Stop(false); err != nil {
			m.logger.Error().Err(err).Str("workload", p.WorkloadType()).Msg("pool stop failed")
		}
	}
}
