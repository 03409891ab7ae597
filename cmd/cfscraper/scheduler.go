package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cfscraper"
	"cfscraper/captcha"
)

// TaskResult is the outcome of one batch URL.
type TaskResult struct {
	Worker    string            `json:"worker" yaml:"worker"`
	URL       string            `json:"url" yaml:"url"`
	Status    int               `json:"status,omitempty" yaml:"status,omitempty"`
	Bytes     int               `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Tokens    map[string]string `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	UserAgent string            `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	Success   bool              `json:"success" yaml:"success"`
	Error     error             `json:"-" yaml:"-"`
	ErrorText string            `json:"error,omitempty" yaml:"error,omitempty"`
	Fatal     bool              `json:"-" yaml:"-"`
}

// Job processes one URL with a worker's client.
type Job func(ctx context.Context, client *cfscraper.Client, target string) TaskResult

type Worker struct {
	id     string
	client *cfscraper.Client
	logger cfscraper.Logger
}

type Scheduler struct {
	workers      []*Worker
	workChan     chan string
	resultsChan  chan TaskResult
	wg           sync.WaitGroup
	cfg          cfscraper.Config
	job          Job
	maxRetries   int
	logger       cfscraper.Logger
	staggerDelay time.Duration
	cancel       context.CancelFunc
	done         <-chan struct{}
	fatalOnce    sync.Once
	stopped      atomic.Bool
}

// NewScheduler builds workerCount workers, each with its own client built
// from cfg. Workers share cfg.ProxySelector when one is set.
func NewScheduler(workerCount int, cfg cfscraper.Config, job Job, maxRetries int, staggerDelay time.Duration, logger cfscraper.Logger) (*Scheduler, error) {
	s := &Scheduler{
		workers:      make([]*Worker, workerCount),
		workChan:     make(chan string, workerCount*2),
		resultsChan:  make(chan TaskResult, workerCount*2),
		cfg:          cfg,
		job:          job,
		maxRetries:   max(maxRetries, 1),
		logger:       logger,
		staggerDelay: staggerDelay,
	}

	for i := 0; i < workerCount; i++ {
		worker, err := s.createWorker()
		if err != nil {
			s.closeClients()
			return nil, err
		}
		s.workers[i] = worker
	}

	return s, nil
}

func generateWorkerID() string {
	return uuid.New().String()[:8]
}

func (s *Scheduler) createWorker() (*Worker, error) {
	id := generateWorkerID()
	workerLogger := cfscraper.WithPrefix(s.logger, id)

	client, err := s.newClient(workerLogger)
	if err != nil {
		return nil, err
	}
	workerLogger.Log("Using browser profile: %s", client.Profile().Name)

	return &Worker{
		id:     id,
		client: client,
		logger: workerLogger,
	}, nil
}

func (s *Scheduler) newClient(logger cfscraper.Logger) (*cfscraper.Client, error) {
	cfg := s.cfg
	cfg.Logger = logger
	return cfscraper.NewClient(cfg)
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = ctx.Done()

	for i, worker := range s.workers {
		s.wg.Add(1)
		go s.runWorker(ctx, worker)

		if s.staggerDelay > 0 && i < len(s.workers)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.staggerDelay):
			}
		}
	}
}

func (s *Scheduler) handleFatalError(err error) {
	s.fatalOnce.Do(func() {
		s.stopped.Store(true)
		s.logger.Log("FATAL ERROR: %v - stopping all workers", err)

		if s.cancel != nil {
			s.cancel()
		}

		select {
		case s.resultsChan <- TaskResult{Fatal: true, Error: err, ErrorText: err.Error()}:
		default:
		}
	})
}

func (s *Scheduler) runWorker(ctx context.Context, worker *Worker) {
	defer s.wg.Done()
	defer func() { worker.client.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case target, ok := <-s.workChan:
			if !ok {
				return
			}

			result := s.process(ctx, worker, target)
			if result.Fatal {
				s.handleFatalError(result.Error)
				return
			}

			select {
			case s.resultsChan <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

// process runs the job, rotating the worker's client between retryable
// failures.
func (s *Scheduler) process(ctx context.Context, worker *Worker, target string) TaskResult {
	var result TaskResult
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if s.stopped.Load() {
			break
		}

		worker.logger.Log("Processing: %s", target)
		result = s.job(ctx, worker.client, target)
		result.Worker = worker.id
		result.URL = target

		if result.Error == nil {
			result.Success = true
			return result
		}
		result.ErrorText = result.Error.Error()

		if isBatchFatal(result.Error) {
			result.Fatal = true
			return result
		}
		if !cfscraper.IsRetryableError(result.Error) {
			return result
		}

		worker.logger.Log("Failed (attempt %d/%d): %v, rotating session...", attempt+1, s.maxRetries, result.Error)
		s.resetWorkerSession(worker)
	}
	return result
}

// isBatchFatal reports errors that will fail every remaining URL, such as an
// exhausted captcha balance. Challenge outcomes only fail their own URL.
func isBatchFatal(err error) bool {
	return captcha.IsFatal(err) || cfscraper.ContainsFatalErrorString(err)
}

// resetWorkerSession swaps in a fresh client with a new identity.
func (s *Scheduler) resetWorkerSession(worker *Worker) {
	client, err := s.newClient(worker.logger)
	if err != nil {
		worker.logger.Log("Failed to create new client: %v", err)
		return
	}
	worker.client.Close()
	worker.client = client
	worker.logger.Log("Rotated to browser profile: %s", client.Profile().Name)
}

func (s *Scheduler) closeClients() {
	for _, w := range s.workers {
		if w != nil {
			w.client.Close()
		}
	}
}

// Submit adds a URL to the work queue. It gives up when ctx is done.
func (s *Scheduler) Submit(ctx context.Context, target string) error {
	select {
	case s.workChan <- target:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the workers have been told to stop, either because the
// parent context ended or a worker hit a fatal error. Only valid after Start.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Results returns the results channel for reading task outcomes.
func (s *Scheduler) Results() <-chan TaskResult {
	return s.resultsChan
}

// Close shuts down the scheduler and waits for workers to finish.
func (s *Scheduler) Close() {
	close(s.workChan)
	s.wg.Wait()
	close(s.resultsChan)
}

// WorkerCount returns the number of workers.
func (s *Scheduler) WorkerCount() int {
	return len(s.workers)
}
