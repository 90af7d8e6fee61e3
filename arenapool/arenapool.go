/*
 * Copyright 2024 gcmalloc Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package arenapool is not part of the allocator core: the core has no
// concurrency of its own (spec §5 pushes serialization to "the calling
// layer"). This package plays that calling layer for benchmarks and
// integration tests, dispatching many goroutines against many Arenas,
// each holding its own lock around a disjoint set of block.Descriptors,
// so the single-owner discipline is exercised under real scheduling
// instead of only asserted in prose. The worker-pool mechanics are
// adapted from the teacher's background goroutine pool.
package arenapool

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwmem/gcmalloc/block"
)

// Option configures a Pool.
type Option struct {
	// MaxIdleWorkers is the max idle workers kept around waiting for
	// tasks; workers above this count exit once idle instead of parking.
	MaxIdleWorkers int

	// WorkerMaxAge bounds how long a worker goroutine stays alive.
	WorkerMaxAge time.Duration

	// TaskChanBuffer sizes the task queue; once full, Go falls back to
	// spawning an unpooled goroutine directly.
	TaskChanBuffer int
}

// DefaultOption returns reasonable defaults for simulating dozens of
// concurrent arenas in a benchmark.
func DefaultOption() *Option {
	return &Option{
		MaxIdleWorkers: 64,
		WorkerMaxAge:   time.Minute,
		TaskChanBuffer: 256,
	}
}

type task struct {
	ctx context.Context
	f   func()
}

// Pool is a small worker pool for dispatching arena-touching work
// across goroutines.
type Pool struct {
	name string

	workers int32
	maxIdle int32
	maxage  int64 // milliseconds

	panicHandler func(ctx context.Context, r interface{})

	tasks     chan task
	unixMilli int64

	createWorker func()
}

// New creates a named worker pool. A nil Option uses DefaultOption.
func New(name string, o *Option) *Pool {
	if o == nil {
		o = DefaultOption()
	}
	p := &Pool{
		name:    name,
		tasks:   make(chan task, o.TaskChanBuffer),
		maxage:  o.WorkerMaxAge.Milliseconds(),
		maxIdle: int32(o.MaxIdleWorkers),
	}
	p.createWorker = func() {
		p.runWorker()
	}
	return p
}

// Go runs f in the background.
func (p *Pool) Go(f func()) {
	p.CtxGo(context.Background(), f)
}

// CtxGo runs f in the background, passing ctx through to the panic
// handler if f panics.
func (p *Pool) CtxGo(ctx context.Context, f func()) {
	select {
	case p.tasks <- task{ctx: ctx, f: f}:
	default:
		go p.runTask(ctx, f)
		return
	}
	if len(p.tasks) == 0 {
		return
	}
	go p.createWorker()
}

// SetPanicHandler overrides the default log.Printf panic reporting.
func (p *Pool) SetPanicHandler(f func(ctx context.Context, r interface{})) {
	p.panicHandler = f
}

func (p *Pool) runTask(ctx context.Context, f func()) {
	defer func(p *Pool, ctx context.Context) {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(ctx, r)
			} else {
				log.Printf("ARENAPOOL: panic in pool: %s: %v: %s", p.name, r, debug.Stack())
			}
		}
	}(p, ctx)
	f()
}

// CurrentWorkers reports the number of live worker goroutines.
func (p *Pool) CurrentWorkers() int {
	return int(atomic.LoadInt32(&p.workers))
}

func (p *Pool) runWorker() {
	id := atomic.AddInt32(&p.workers, 1)
	defer atomic.AddInt32(&p.workers, -1)

	if id > p.maxIdle {
		for {
			select {
			case t := <-p.tasks:
				p.runTask(t.ctx, t.f)
			default:
				return
			}
		}
	}

	createdAt := time.Now().UnixMilli()
	for t := range p.tasks {
		p.runTask(t.ctx, t.f)

		now := atomic.LoadInt64(&p.unixMilli)
		if now == 0 {
			now = time.Now().UnixMilli()
			if atomic.CompareAndSwapInt64(&p.unixMilli, 0, now) {
				go p.runTicker()
			}
		}
		if now-createdAt > p.maxage {
			return
		}
	}
}

var noopTask = task{f: func() {}}

func (p *Pool) runTicker() {
	defer atomic.StoreInt64(&p.unixMilli, 0)

	d := time.Duration(p.maxage) * time.Millisecond / 100
	if d < time.Millisecond {
		d = time.Millisecond
	}

	t := time.NewTicker(d)
	defer t.Stop()

	for now := range t.C {
		if p.CurrentWorkers() == 0 {
			return
		}
		atomic.StoreInt64(&p.unixMilli, now.UnixMilli())
		p.tasks <- noopTask
	}
}

// Arena is the minimal external collaborator spec §1 describes but
// excludes from the core: something that owns a disjoint set of
// block.Descriptors and serializes access to them with its own lock
// (spec §5's "typically by holding a per-arena lock while touching any
// of its blocks").
type Arena struct {
	mu     sync.Mutex
	blocks []*block.Descriptor
}

// NewArena wraps an already-activated set of descriptors in a single lock.
func NewArena(blocks []*block.Descriptor) *Arena {
	return &Arena{blocks: blocks}
}

// Reserve serializes a Reserve call against blockIdx's descriptor.
func (a *Arena) Reserve(blockIdx, pages int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocks[blockIdx].Reserve(pages)
}

// Release serializes a Release call against blockIdx's descriptor.
func (a *Arena) Release(blockIdx, index, pages int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocks[blockIdx].Release(index, pages)
}

// Blocks returns the number of descriptors this arena owns.
func (a *Arena) Blocks() int {
	return len(a.blocks)
}
