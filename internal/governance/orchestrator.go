// Bounded-concurrency tool-invocation fan-out. A tool connector is a
// capability record (name, required permissions, and the function that
// runs) dispatched by map lookup, never by subtyping; the shared
// behavior (governance evaluation, timeout, result shaping) lives in a
// single invocation path.
//
// Admission combines two gates: a semaphore bounding how many tasks run
// at once and a golang.org/x/time/rate token bucket smoothing how fast
// tasks may start, so a large fan-out does not slam every connector in
// the same instant.
package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/kuibu/transparent-company/pkg/signer"
)

// ToolFunc is a connector's simulate_fn: given a request payload it
// returns a response payload or an error.
type ToolFunc func(ctx context.Context, request canonical.Map) (canonical.Map, error)

// Connector is one tool's capability record: a name, the permissions it
// requires, and the function that actually runs. Connector dispatch is
// by map lookup in
// ConnectorRegistry, never by interface subtyping.
type Connector struct {
	Name        string
	Permissions []string
	Fn          ToolFunc
}

// ConnectorRegistry looks up connectors by name.
type ConnectorRegistry map[string]Connector

// Task is one tool invocation request to fan out.
type Task struct {
	TaskID    string
	Connector string
	Action    string
	ActorType signer.ActorType
	Signer    signer.Role
	Request   canonical.Map
	Timeout   time.Duration
}

// TaskResult is the outcome of one dispatched task. Status is always
// "success" or "failed", matching events.ToolInvocationLoggedPayload's
// closed set, so a result can be turned directly into a
// ToolInvocationLogged event by the caller.
type TaskResult struct {
	TaskID     string
	Connector  string
	Action     string
	Status     string
	Response   canonical.Map
	Err        error
	Decision   GovernanceDecision
	DurationMS int64
}

// Orchestrator dispatches tool tasks against a bounded number of
// concurrent slots and enforces governance on every "tool:<connector>.
// <action>" action before running the connector's function. It never
// touches the ledger directly: ledger appends stay single-writer, so
// any appends the caller derives from TaskResult happen serially, after
// Dispatch returns.
type Orchestrator struct {
	engine     *Engine
	connectors ConnectorRegistry
	limiter    *rate.Limiter
	sem        chan struct{}
}

// NewOrchestrator builds an Orchestrator whose fan-out never runs more
// than maxConcurrency tasks at once. maxConcurrency <= 0 is clamped
// to 1.
func NewOrchestrator(engine *Engine, connectors ConnectorRegistry, maxConcurrency int) *Orchestrator {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Orchestrator{
		engine:     engine,
		connectors: connectors,
		limiter:    rate.NewLimiter(rate.Limit(maxConcurrency*10), maxConcurrency),
		sem:        make(chan struct{}, maxConcurrency),
	}
}

// Dispatch runs every task with bounded concurrency and a per-task
// timeout; a timed-out or governance-denied task yields a synthetic
// "failed" TaskResult rather than hanging or aborting the whole batch.
// Results are returned in the same order as tasks.
func (o *Orchestrator) Dispatch(ctx context.Context, tasks []Task) []TaskResult {
	results := make([]TaskResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			o.sem <- struct{}{}
			defer func() { <-o.sem }()
			if err := o.limiter.Wait(ctx); err != nil {
				results[i] = TaskResult{
					TaskID:    task.TaskID,
					Connector: task.Connector,
					Action:    task.Action,
					Status:    "failed",
					Err:       fmt.Errorf("orchestrator: admission cancelled: %w", err),
				}
				return
			}
			results[i] = o.runOne(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, task Task) TaskResult {
	start := time.Now()
	action := fmt.Sprintf("tool:%s.%s", task.Connector, task.Action)

	decision := o.engine.Evaluate(action, task.ActorType, task.Signer, task.Request, canonical.Map{}, nil)
	if !decision.Allowed {
		return TaskResult{
			TaskID:     task.TaskID,
			Connector:  task.Connector,
			Action:     task.Action,
			Status:     "failed",
			Err:        fmt.Errorf("orchestrator: %s", decision.Reason),
			Decision:   decision,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	conn, ok := o.connectors[task.Connector]
	if !ok {
		return TaskResult{
			TaskID:     task.TaskID,
			Connector:  task.Connector,
			Action:     task.Action,
			Status:     "failed",
			Err:        fmt.Errorf("orchestrator: unknown connector %q", task.Connector),
			Decision:   decision,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		resp canonical.Map
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := conn.Fn(taskCtx, task.Request)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case o := <-done:
		status := "success"
		if o.err != nil {
			status = "failed"
		}
		return TaskResult{
			TaskID:     task.TaskID,
			Connector:  task.Connector,
			Action:     task.Action,
			Status:     status,
			Response:   o.resp,
			Err:        o.err,
			Decision:   decision,
			DurationMS: time.Since(start).Milliseconds(),
		}
	case <-taskCtx.Done():
		return TaskResult{
			TaskID:     task.TaskID,
			Connector:  task.Connector,
			Action:     task.Action,
			Status:     "failed",
			Err:        fmt.Errorf("orchestrator: task %s timed out after %s", task.TaskID, timeout),
			Decision:   decision,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}
}
