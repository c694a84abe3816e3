package pool

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nitzmahone/relay/pkg/events"
	"github.com/nitzmahone/relay/pkg/log"
	"github.com/nitzmahone/relay/pkg/message"
	"github.com/nitzmahone/relay/pkg/metrics"
)

const queueDepth = 1024

// Response is one (worker, task) pair drained off a worker's result stream
type Response struct {
	WorkerID string
	Task     message.Task
}

// Handle is the controller-side endpoint of one worker
type Handle interface {
	ID() string

	// Send places a task on the worker's input queue
	Send(task message.Task) error

	// Join waits for the worker to exit and its result stream to drain
	Join() error
}

// Spawner creates workers for a workload class. Every frame a spawned
// worker emits is delivered to results as a Response.
type Spawner interface {
	Spawn(workload string, results chan<- Response) (Handle, error)
}

// Result is a pool outcome forwarded to the controller's main result queue
type Result struct {
	WorkloadType string
	Task         message.Task
}

// Config sizes and wires a pool
type Config struct {
	WorkloadType            string
	MaxWorkers              int
	SupportsConcurrentTasks bool
	Spawner                 Spawner
	Results                 chan<- Result
	Events                  *events.Bus
}

// Pool owns the worker fleet for one workload class: lifecycle, queueing,
// concurrency policy, and bidirectional relaying between workers and the
// controller.
type Pool struct {
	workloadType string
	maxWorkers   int
	concurrent   bool
	spawner      Spawner
	results      chan<- Result
	events       *events.Bus

	taskQueue chan message.Task
	idle      *workerStack
	pending   chan Response

	mu             sync.Mutex
	workerByID     map[string]Handle
	workerByTaskID map[uuid.UUID]Handle
	requestedTasks map[uuid.UUID]Handle
	relayedTasks   map[uuid.UUID]Handle

	stopOnce sync.Once
	stopCh   chan struct{}
	taskWG   sync.WaitGroup
	respWG   sync.WaitGroup
	logger   zerolog.Logger
}

// New builds a pool and starts its task and response loops
func New(cfg Config) *Pool {
	p := &Pool{
		workloadType:   cfg.WorkloadType,
		maxWorkers:     cfg.MaxWorkers,
		concurrent:     cfg.SupportsConcurrentTasks,
		spawner:        cfg.Spawner,
		results:        cfg.Results,
		events:         cfg.Events,
		taskQueue:      make(chan message.Task, queueDepth),
		idle:           newWorkerStack(cfg.MaxWorkers),
		pending:        make(chan Response, queueDepth),
		workerByID:     make(map[string]Handle),
		workerByTaskID: make(map[uuid.UUID]Handle),
		requestedTasks: make(map[uuid.UUID]Handle),
		relayedTasks:   make(map[uuid.UUID]Handle),
		stopCh:         make(chan struct{}),
		logger:         log.WithComponent("pool").With().Str("workload", cfg.WorkloadType).Logger(),
	}

	// Pre-seed capacity with empty placeholders; a nil slot means a worker
	// may be spawned on demand.
	for i := 0; i < cfg.MaxWorkers; i++ {
		p.idle.push(nil)
	}

	p.taskWG.Add(1)
	go p.taskLoop()
	p.respWG.Add(1)
	go p.responseLoop()

	p.events.Publish(events.Event{
		Type:    events.EventPoolCreated,
		Message: fmt.Sprintf("pool for workload %s created", cfg.WorkloadType),
		Fields:  map[string]string{"workload": cfg.WorkloadType},
	})

	return p
}

// WorkloadType returns the workload class this pool serves
func (p *Pool) WorkloadType() string {
	return p.workloadType
}

// MaxWorkers returns the pool's worker cap
func (p *Pool) MaxWorkers() int {
	return p.maxWorkers
}

// Queue places a task on the pool's inbound queue
func (p *Pool) Queue(task message.Task) {
	p.logger.Debug().Str("task_id", task.TaskID().String()).Str("kind", string(task.Kind())).Msg("queueing task")
	metrics.TasksQueued.WithLabelValues(p.workloadType).Inc()
	p.taskQueue <- task
}

// taskLoop assigns inbound tasks. A task whose id was previously relayed
// upward is a response to a worker's sub-request and goes straight to that
// worker's input queue; everything else claims an idle worker, spawning one
// when the claimed slot is an empty placeholder.
func (p *Pool) taskLoop() {
	defer p.taskWG.Done()

	for {
		var task message.Task
		select {
		case <-p.stopCh:
			return
		case task = <-p.taskQueue:
		}

		p.mu.Lock()
		relayTo, isRelay := p.relayedTasks[task.TaskID()]
		if isRelay {
			delete(p.relayedTasks, task.TaskID())
		}
		p.mu.Unlock()

		if isRelay {
			p.logger.Debug().Str("task_id", task.TaskID().String()).Msg("delivering relayed response to worker")
			p.sendOrFail(relayTo, task)
			continue
		}

		worker, ok := p.idle.pop(p.stopCh)
		if !ok {
			return
		}

		if worker == nil {
			var err error
			if worker, err = p.spawn(); err != nil {
				p.logger.Error().Err(err).Msg("failed to spawn worker")
				p.idle.push(nil)
				p.results <- Result{p.workloadType, message.NewTaskFailedResult(task, err.Error(), "")}
				continue
			}
		}

		if p.concurrent {
			// Async workers multiplex; hand the slot straight back
			p.idle.push(worker)
		}

		p.logger.Debug().
			Str("task_id", task.TaskID().String()).
			Str("worker_id", worker.ID()).
			Str("kind", string(task.Kind())).
			Msg("assigning task to worker")

		p.mu.Lock()
		p.workerByTaskID[task.TaskID()] = worker
		p.requestedTasks[task.TaskID()] = worker
		p.mu.Unlock()

		p.sendOrFail(worker, task)
	}
}

// sendOrFail delivers a task to a worker's input queue, surfacing delivery
// failure as a failed result for the task.
func (p *Pool) sendOrFail(worker Handle, task message.Task) {
	if err := worker.Send(task); err != nil {
		p.logger.Error().Err(err).Str("worker_id", worker.ID()).Msg("failed to deliver task to worker")

		p.mu.Lock()
		delete(p.requestedTasks, task.TaskID())
		delete(p.workerByTaskID, task.TaskID())
		p.mu.Unlock()

		p.results <- Result{p.workloadType, message.NewTaskFailedResult(task, err.Error(), "")}
	}
}

// responseLoop drains worker result streams. Terminal results for tasks
// this pool originated re-idle their worker and flow upward; anything with
// an unknown id is a worker-originated sub-request that is recorded in
// relayedTasks and forwarded upward for re-dispatch elsewhere.
func (p *Pool) responseLoop() {
	defer p.respWG.Done()

	for resp := range p.pending {
		task := resp.Task

		if sr, ok := task.(*message.ShutdownWorkerResponse); ok {
			p.logger.Debug().Str("worker_id", resp.WorkerID).Str("status", string(sr.Status)).Msg("worker shutdown progress")
			continue
		}

		p.mu.Lock()

		if relayTo, ok := p.relayedTasks[task.TaskID()]; ok {
			// Response loops back through this pool; deliver to the worker
			// that asked. Normally handled in taskLoop, kept here to break
			// relay cycles.
			p.mu.Unlock()
			p.sendOrFail(relayTo, task)
			continue
		}

		if _, ok := p.requestedTasks[task.TaskID()]; ok {
			// Terminal response for a task this pool assigned
			delete(p.requestedTasks, task.TaskID())
			worker := p.workerByTaskID[task.TaskID()]
			delete(p.workerByTaskID, task.TaskID())
			p.mu.Unlock()

			p.logger.Debug().
				Str("task_id", task.TaskID().String()).
				Str("worker_id", resp.WorkerID).
				Msg("task completed")

			if !p.concurrent && worker != nil {
				p.idle.push(worker)
			}

			p.results <- Result{p.workloadType, task}
			continue
		}

		// Spontaneous sub-request: remember which worker wants the
		// response, then let the controller route the new work.
		worker := p.workerByID[resp.WorkerID]
		p.relayedTasks[task.TaskID()] = worker
		p.mu.Unlock()

		p.logger.Debug().
			Str("task_id", task.TaskID().String()).
			Str("worker_id", resp.WorkerID).
			Msg("worker requested new task")
		metrics.TasksRelayed.Inc()

		p.results <- Result{p.workloadType, task}
	}
}

func (p *Pool) spawn() (Handle, error) {
	worker, err := p.spawner.Spawn(p.workloadType, p.pending)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.workerByID[worker.ID()] = worker
	p.mu.Unlock()

	p.logger.Info().Str("worker_id", worker.ID()).Msg("spawned worker")
	metrics.WorkersSpawned.WithLabelValues(p.workloadType).Inc()
	metrics.PoolWorkers.WithLabelValues(p.workloadType).Inc()

	p.events.Publish(events.Event{
		Type:    events.EventWorkerSpawned,
		Message: fmt.Sprintf("worker %s spawned for workload %s", worker.ID(), p.workloadType),
		Fields:  map[string]string{"worker_id": worker.ID(), "workload": p.workloadType},
	})

	return worker, nil
}

// Stop shuts the pool down: every worker receives a shutdown request, both
// loops stop, and every worker process is joined. When drain is false,
// in-flight work is abandoned best-effort; draining first is reserved for
// a future extension.
func (p *Pool) Stop(drain bool) error {
	var joinErr error

	p.stopOnce.Do(func() {
		// Quiesce assignment first so no new worker can spawn behind the
		// shutdown fan-out.
		close(p.stopCh)
		p.taskWG.Wait()

		p.mu.Lock()
		workers := make([]Handle, 0, len(p.workerByID))
		for _, worker := range p.workerByID {
			workers = append(workers, worker)
		}
		p.mu.Unlock()

		for _, worker := range workers {
			if err := worker.Send(message.NewShutdownWorkerRequest()); err != nil {
				p.logger.Warn().Err(err).Str("worker_id", worker.ID()).Msg("failed to send shutdown request")
			}
		}

		p.logger.Debug().Msg("waiting on workers")
		for _, worker := range workers {
			if err := worker.Join(); err != nil {
				p.logger.Error().Err(err).Str("worker_id", worker.ID()).Msg("worker join failed")
				joinErr = err
			}

			metrics.PoolWorkers.WithLabelValues(p.workloadType).Dec()
			p.events.Publish(events.Event{
				Type:    events.EventWorkerExited,
				Message: fmt.Sprintf("worker %s exited", worker.ID()),
				Fields:  map[string]string{"worker_id": worker.ID(), "workload": p.workloadType},
			})
		}

		// All result streams are drained once every worker is joined
		close(p.pending)
		p.respWG.Wait()
		p.logger.Debug().Msg("workers closed")
	})

	return joinErr
}
