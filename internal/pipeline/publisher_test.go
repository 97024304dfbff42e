package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/smazurov/posenode/internal/events"
)

func fastPublisher(q *FrameQueue, s *memorySink, signal *ShutdownSignal, bus *events.Bus) *Publisher {
	return NewPublisher(PublisherConfig{
		Period:     5 * time.Millisecond,
		PopTimeout: 5 * time.Millisecond,
		DrainGrace: time.Millisecond,
		Tags:       map[string]string{"session": "test"},
	}, q, s, signal, bus, quietLogger())
}

func waitWrites(t *testing.T, s *memorySink, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.wrote:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d writes happened", i, n)
		}
	}
}

func TestPublisherSkipsEmptyFrames(t *testing.T) {
	q := NewFrameQueue(0)
	s := newMemorySink()
	signal := NewShutdownSignal()
	p := fastPublisher(q, s, signal, nil)

	q.Push(frameOf())
	q.Push(frameOf(30))
	q.Push(frameOf())

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()

	waitWrites(t, s, 1)
	time.Sleep(30 * time.Millisecond)
	signal.Trigger(ReasonInterrupt, nil)
	<-done

	recs := s.snapshot()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Measurement != "mmbox_video_pose" || rec.Tags["session"] != "test" || rec.Fields["Person 0"].Score != 30 {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.Time.IsZero() {
		t.Error("record should carry the receipt time")
	}
}

func TestPublisherSinkFailureDoesNotBlockNextCycle(t *testing.T) {
	q := NewFrameQueue(0)
	s := newMemorySink()
	s.failOn = map[int]bool{0: true}
	signal := NewShutdownSignal()
	bus := events.New()
	sinkErrors := make(chan events.SinkErrorEvent, 4)
	defer bus.Subscribe(func(e events.SinkErrorEvent) { sinkErrors <- e })()

	p := fastPublisher(q, s, signal, bus)
	q.Push(frameOf(30))
	q.Push(frameOf(40))

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()

	waitWrites(t, s, 2)
	signal.Trigger(ReasonInterrupt, nil)
	<-done

	if p.Failed() != 1 || p.Written() != 1 {
		t.Errorf("failed=%d written=%d, want 1 and 1", p.Failed(), p.Written())
	}
	recs := s.snapshot()
	if len(recs) != 1 || recs[0].Fields["Person 0"].Score != 40 {
		t.Errorf("records = %+v", recs)
	}

	select {
	case e := <-sinkErrors:
		if e.Error != "influx unavailable" {
			t.Errorf("sink error event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("no sink error event")
	}
}

func TestPublisherDrainsLastFrame(t *testing.T) {
	q := NewFrameQueue(0)
	s := newMemorySink()
	signal := NewShutdownSignal()
	p := NewPublisher(PublisherConfig{Period: time.Hour, DrainGrace: time.Millisecond}, q, s, signal, nil, quietLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()

	q.Push(frameOf(25))
	signal.Trigger(ReasonInterrupt, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
	if recs := s.snapshot(); len(recs) != 1 {
		t.Errorf("drained records = %d, want 1", len(recs))
	}
}

func TestPublisherStopsWithinBound(t *testing.T) {
	q := NewFrameQueue(0)
	s := newMemorySink()
	signal := NewShutdownSignal()
	p := NewPublisher(PublisherConfig{Period: time.Hour, PopTimeout: time.Hour}, q, s, signal, nil, quietLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	signal.Trigger(ReasonRemote, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher ignored the signal")
	}
	if elapsed := time.Since(start); elapsed > DefaultDrainGrace+500*time.Millisecond {
		t.Errorf("publisher took %v to stop", elapsed)
	}
}

func TestPublisherStopsOnContextCancel(t *testing.T) {
	q := NewFrameQueue(0)
	s := newMemorySink()
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPublisher(PublisherConfig{Period: time.Hour, DrainGrace: time.Millisecond}, q, s, NewShutdownSignal(), nil, quietLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	q.Push(frameOf(90))
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop on cancel")
	}
	if len(s.snapshot()) != 1 {
		t.Error("last frame should be written even after cancel")
	}
}

func TestPublisherPopsOnceAfterSignal(t *testing.T) {
	q := NewFrameQueue(0)
	s := newMemorySink()
	signal := NewShutdownSignal()
	p := NewPublisher(PublisherConfig{Period: time.Hour, DrainGrace: 20 * time.Millisecond}, q, s, signal, nil, quietLogger())

	for i := 0; i < 3; i++ {
		q.Push(frameOf(30 + float64(i)))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	before := q.Popped()
	signal.Trigger(ReasonInterrupt, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}

	if pops := q.Popped() - before; pops != 1 {
		t.Errorf("pops after the signal = %d, want 1", pops)
	}
	if q.Len() != 2 {
		t.Errorf("queued frames left = %d, want 2", q.Len())
	}
	recs := s.snapshot()
	if len(recs) != 1 || recs[0].Fields["Person 0"].Score != 30 {
		t.Errorf("records = %+v", recs)
	}
}

func TestPublisherFastLoopStopsPopping(t *testing.T) {
	q := NewFrameQueue(0)
	s := newMemorySink()
	signal := NewShutdownSignal()
	p := fastPublisher(q, s, signal, nil)

	stopPush := make(chan struct{})
	pushed := make(chan struct{})
	go func() {
		defer close(pushed)
		for {
			select {
			case <-stopPush:
				return
			default:
				q.Push(frameOf(50))
				time.Sleep(time.Millisecond)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()

	waitWrites(t, s, 3)
	signal.Trigger(ReasonInterrupt, nil)
	before := q.Popped()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
	close(stopPush)
	<-pushed

	// One pop may already be in progress when the signal fires, plus the drain.
	if pops := q.Popped() - before; pops > 2 {
		t.Errorf("pops after the signal = %d, want at most 2", pops)
	}
}
