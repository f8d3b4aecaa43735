// Package pool 提供有界的后台任务池，用于吸收调度热路径上的
// 异步写入（使用量自增、last_used 刷新等）。
package pool

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrPoolClosed 池已关闭
	ErrPoolClosed = errors.New("pool is closed")
	// ErrQueueFull 任务队列已满且无法再扩容工作协程
	ErrQueueFull = errors.New("task queue is full")
)

// Task 一个自包含的后台任务；超时与错误处理由任务自身负责。
type Task func()

// Config 任务池配置
type Config struct {
	// 最大工作协程数
	MaxWorkers int `json:"max_workers"`
	// 任务队列容量
	QueueSize int `json:"queue_size"`
	// 空闲工作协程的退出时限（至少保留一个）
	IdleTimeout time.Duration `json:"idle_timeout"`
	// 任务 panic 时的回调
	PanicHandler func(any) `json:"-"`
}

// DefaultConfig 返回适合异步计数写入的默认配置
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  8,
		QueueSize:   256,
		IdleTimeout: 30 * time.Second,
	}
}

// WorkerPool 有界后台任务池。
// 工作协程按需创建、空闲退出；Close 排空队列后返回，
// 因此调用方在 Close 之后能观察到所有已入队任务的效果。
//
// 全部状态由一把互斥锁守护。Submit 持锁完成入队，
// Close 先持锁翻转 closed 再关 channel，二者不会撞上
// 向已关闭 channel 发送的竞态。
type WorkerPool struct {
	queue chan Task

	mu      sync.Mutex
	workers int
	closed  bool

	submitted int64
	completed int64
	rejected  int64

	maxWorkers   int
	idleTimeout  time.Duration
	panicHandler func(any)

	wg sync.WaitGroup
}

// New 创建任务池，非法配置回落到最小可用值
func New(config Config) *WorkerPool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 30 * time.Second
	}
	return &WorkerPool{
		queue:        make(chan Task, config.QueueSize),
		maxWorkers:   config.MaxWorkers,
		idleTimeout:  config.IdleTimeout,
		panicHandler: config.PanicHandler,
	}
}

// Submit 提交任务，从不阻塞调用方。
// 队列有空位就入队，必要时顺手拉起新的工作协程；
// 队列满且协程数已到上限时返回 ErrQueueFull。
func (p *WorkerPool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.submitted++

	select {
	case p.queue <- task:
		if p.workers < p.maxWorkers {
			p.spawnLocked()
		}
		return nil
	default:
	}

	if p.workers >= p.maxWorkers {
		p.rejected++
		return ErrQueueFull
	}

	// 还有扩容余地：先补一个协程腾出队列，再试最后一次
	p.spawnLocked()
	select {
	case p.queue <- task:
		return nil
	default:
		p.rejected++
		return ErrQueueFull
	}
}

// spawnLocked 拉起一个工作协程，调用方必须持有 p.mu
func (p *WorkerPool) spawnLocked() {
	p.workers++
	p.wg.Add(1)
	go p.worker()
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				p.exit()
				return
			}
			p.run(task)
			p.mu.Lock()
			p.completed++
			p.mu.Unlock()
			idle.Reset(p.idleTimeout)

		case <-idle.C:
			// 闲过头就退出，但最后一个协程留到 Close
			p.mu.Lock()
			if p.workers > 1 {
				p.workers--
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			idle.Reset(p.idleTimeout)
		}
	}
}

func (p *WorkerPool) exit() {
	p.mu.Lock()
	p.workers--
	p.mu.Unlock()
}

func (p *WorkerPool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
		}
	}()
	task()
}

// Close 关闭任务池并等待队列中剩余任务全部执行完毕。
// 幂等；之后的 Submit 返回 ErrPoolClosed。
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
}

// Stats 返回任务池的即时统计
func (p *WorkerPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.queue),
		Submitted: p.submitted,
		Completed: p.completed,
		Rejected:  p.rejected,
	}
}

// Stats 任务池统计信息
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
}
