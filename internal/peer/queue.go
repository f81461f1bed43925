package peer

import "sync"

// taskQueue runs pushed functions one at a time in push order on its own
// goroutine. push never blocks.
type taskQueue struct {
	mu    sync.Mutex
	tasks []func()

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// push reports false once the queue has been stopped.
func (q *taskQueue) push(fn func()) bool {
	q.mu.Lock()
	select {
	case <-q.done:
		q.mu.Unlock()
		return false
	default:
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// stop discards queued tasks. A task already running finishes.
func (q *taskQueue) stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		close(q.done)
		q.tasks = nil
		q.mu.Unlock()
	})
}

func (q *taskQueue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			select {
			case <-q.done:
				q.mu.Unlock()
				return
			default:
			}
			if len(q.tasks) == 0 {
				q.mu.Unlock()
				break
			}
			fn := q.tasks[0]
			q.tasks[0] = nil
			q.tasks = q.tasks[1:]
			q.mu.Unlock()

			fn()
		}
	}
}
