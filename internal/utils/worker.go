package utils

import (
	"errors"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	TASK_CHAN_SIZE = 100
)

var ErrPoolFull = errors.New("worker pool task queue full")

// WorkerFunction handles one task. A returned error kills the worker's tomb.
type WorkerFunction = func(t *tomb.Tomb, task any) error

type WorkerPool struct {
	n     int      // number of workers
	tasks chan any // pending tasks
}

func NewWorkerPool(size uint, capacity int) *WorkerPool {
	if size == 0 {
		size = 1
	}
	if capacity <= 0 {
		capacity = TASK_CHAN_SIZE
	}
	return &WorkerPool{
		n:     int(size),
		tasks: make(chan any, capacity),
	}
}

// Setup starts the workers under t. They exit once t is dying.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	for id := 0; id < pool.n; id++ {
		id := id
		t.Go(func() error {
			return pool.worker(t, id, work)
		})
	}
}

// AddTask queues a task without blocking.
func (pool *WorkerPool) AddTask(task any) error {
	select {
	case pool.tasks <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Capacity is the number of tasks the pool can hold before AddTask fails.
func (pool *WorkerPool) Capacity() int {
	return cap(pool.tasks)
}

// Workers wait on tasks in the task queue and action them.
func (pool *WorkerPool) worker(t *tomb.Tomb, id int, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Int("id", id).Msg("worker exiting")
				return err
			}
		}
	}
}
