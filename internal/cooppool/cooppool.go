// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package cooppool is a cooperative, single-producer-token buffer
// pool: a fixed ring of reusable items is filled by whichever
// goroutine currently holds the producer token (acquired with a CAS,
// released automatically when it runs out of free slots or the
// producer function reports it is done), and drained by any number of
// consumer goroutines calling Get. This is a direct translation of
// jellyfish's jflib::cooperative_pool, replacing its two lock-free
// circular buffers and pthread-free CAS token with Go channels and
// sync/atomic.
package cooppool

import (
	"sync/atomic"
	"time"
)

// Producer fills item in place and reports whether the stream is
// exhausted. A non-nil err also ends the stream; the pool surfaces it
// from the next Get call as a terminal, empty Job.
type Producer[T any] func(item *T) (done bool, err error)

// Pool is a fixed-size ring of reusable T values shared between one
// logical producer (elected cooperatively among callers of Get) and
// any number of consumers.
type Pool[T any] struct {
	items    []T
	free     chan int // slots available for the producer to fill
	ready    chan int // filled slots waiting for a consumer
	produce  Producer[T]
	producer int32 // CAS token: 1 while some goroutine is producing
	closed   int32
	err      atomic.Value
}

// New allocates a pool of size reusable items, each zero-valued until
// first filled by produce.
func New[T any](size int, produce Producer[T]) *Pool[T] {
	p := &Pool[T]{
		items:   make([]T, size),
		free:    make(chan int, size),
		ready:   make(chan int, size),
		produce: produce,
	}
	for i := 0; i < size; i++ {
		p.free <- i
	}
	return p
}

// Size returns the number of buffers in the ring.
func (p *Pool[T]) Size() int { return len(p.items) }

// Job is a borrowed buffer. Callers must call Release exactly once
// when finished reading it, whether or not it is Empty.
type Job[T any] struct {
	pool    *Pool[T]
	idx     int
	empty   bool
	release int32
}

// Empty reports whether the stream ended; if true, Value must not be
// dereferenced.
func (j *Job[T]) Empty() bool { return j.empty }

// Value returns a pointer to the borrowed item.
func (j *Job[T]) Value() *T { return &j.pool.items[j.idx] }

// Release returns the buffer to the producer's free list. Safe to
// call multiple times; only the first call has effect.
func (j *Job[T]) Release() {
	if j.empty {
		return
	}
	if atomic.CompareAndSwapInt32(&j.release, 0, 1) {
		j.pool.free <- j.idx
	}
}

// Err returns the terminal error reported by produce, if any.
func (p *Pool[T]) Err() error {
	if v := p.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Get returns the next filled buffer, producing it itself if no other
// goroutine currently holds the producer token. It blocks until a
// filled buffer is available or the stream is exhausted.
func (p *Pool[T]) Get() *Job[T] {
	iter := 0
	for {
		select {
		case i, ok := <-p.ready:
			if ok {
				return &Job[T]{pool: p, idx: i}
			}
			return &Job[T]{pool: p, empty: true}
		default:
		}

		switch p.becomeProducer() {
		case producerProduced:
			iter = 0
		case producerDone:
			// ready is closed now; go back to drain what it still holds.
			iter = 0
		case producerExists:
			iter = backoff(iter)
		}
	}
}

type producerStatus int

const (
	producerProduced producerStatus = iota
	producerDone
	producerExists
)

func (p *Pool[T]) becomeProducer() producerStatus {
	if !atomic.CompareAndSwapInt32(&p.producer, 0, 1) {
		return producerExists
	}
	defer atomic.StoreInt32(&p.producer, 0)

	if atomic.LoadInt32(&p.closed) != 0 {
		return producerDone
	}

	for {
		var idx int
		select {
		case idx = <-p.free:
		default:
			return producerProduced
		}

		done, err := p.produce(&p.items[idx])
		if err != nil {
			p.err.Store(err)
			done = true
		}
		if done {
			p.free <- idx // this slot carries no data; park it back
			if atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
				close(p.ready)
			}
			return producerDone
		}
		p.ready <- idx
	}
}

// backoff mirrors cooperative_pool.hpp's delay(): the first 16 spins
// are immediate, then each call sleeps about twice as long as the one
// before, from ~1ms up to a cap of ~1s.
func backoff(iter int) int {
	iter++
	if iter < 16 {
		return iter
	}
	shift := 10 - iter + 16
	if shift < 0 {
		shift = 0
	}
	if shift > 10 {
		shift = 10
	}
	time.Sleep(time.Duration((1000000-1)>>uint(shift)) * time.Microsecond)
	return iter
}
