package sim

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type tickEvent struct {
	*EventBase
	seq int
}

type wallRecord struct {
	seq  int
	time VTimeInSec
	wall time.Duration
}

type wallRecorder struct {
	mu      sync.Mutex
	start   time.Time
	records []wallRecord
	err     error
}

func (h *wallRecorder) Name() string {
	return "Recorder"
}

func (h *wallRecorder) Handle(e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, wallRecord{
		seq:  e.(tickEvent).seq,
		time: e.Time(),
		wall: time.Since(h.start),
	})

	return h.err
}

func (h *wallRecorder) seqs() []int {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := make([]int, 0, len(h.records))
	for _, r := range h.records {
		s = append(s, r.seq)
	}

	return s
}

var _ = Describe("RealTimeEngine", func() {
	var (
		engine   *RealTimeEngine
		recorder *wallRecorder
	)

	newEngine := func(cfg RealTimeConfig) {
		var err error
		engine, err = NewRealTimeEngine(cfg)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		recorder = &wallRecorder{}
	})

	It("should reject negative config values", func() {
		_, err := NewRealTimeEngine(RealTimeConfig{StopAt: -1})
		Expect(err).To(HaveOccurred())

		_, err = NewRealTimeEngine(RealTimeConfig{MaxSleep: -time.Second})
		Expect(err).To(HaveOccurred())
	})

	It("should not run events before their wall-clock time", func() {
		newEngine(RealTimeConfig{})

		times := []VTimeInSec{0.02, 0.05, 0.08}
		for i, t := range times {
			engine.Schedule(tickEvent{NewEventBase(t, recorder), i})
		}

		recorder.start = time.Now()
		Expect(engine.Run()).To(Succeed())

		Expect(recorder.records).To(HaveLen(3))
		for _, r := range recorder.records {
			scheduled := secondsToDuration(r.time)
			Expect(r.wall).To(BeNumerically(">=", scheduled-time.Millisecond))
			Expect(r.wall).To(BeNumerically("<", scheduled+50*time.Millisecond))
		}
	})

	It("should run same-time events in insertion order", func() {
		newEngine(RealTimeConfig{})

		for i := 0; i < 20; i++ {
			engine.Schedule(tickEvent{NewEventBase(0.01, recorder), i})
		}

		recorder.start = time.Now()
		Expect(engine.Run()).To(Succeed())

		expected := make([]int, 20)
		for i := range expected {
			expected[i] = i
		}
		Expect(recorder.seqs()).To(Equal(expected))
	})

	It("should stop at the stop time and drop later events", func() {
		newEngine(RealTimeConfig{StopAt: 0.05})

		engine.Schedule(tickEvent{NewEventBase(0.01, recorder), 0})
		engine.Schedule(tickEvent{NewEventBase(0.2, recorder), 1})

		recorder.start = time.Now()
		Expect(engine.Run()).To(Succeed())

		Expect(recorder.seqs()).To(Equal([]int{0}))
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(0.05)))
		Expect(engine.queues.empty()).To(BeTrue())
	})

	It("should wait for real-time events until the stop time", func() {
		newEngine(RealTimeConfig{StopAt: 0.2})

		go func() {
			time.Sleep(30 * time.Millisecond)
			for i := 0; i < 5; i++ {
				seq := i
				engine.ScheduleRealtimeNow(func(now VTimeInSec) Event {
					return tickEvent{NewEventBase(now, recorder), seq}
				})
			}
		}()

		recorder.start = time.Now()
		Expect(engine.Run()).To(Succeed())

		Expect(recorder.seqs()).To(Equal([]int{0, 1, 2, 3, 4}))
		Expect(recorder.records[0].time).To(BeNumerically(">=", 0.025))
		Expect(time.Since(recorder.start)).To(
			BeNumerically(">=", 195*time.Millisecond))
	})

	It("should keep waiting for events without a stop time", func() {
		newEngine(RealTimeConfig{WaitForEvents: true})

		go func() {
			time.Sleep(50 * time.Millisecond)
			engine.ScheduleRealtimeNow(func(now VTimeInSec) Event {
				return tickEvent{NewEventBase(now, recorder), 0}
			})

			time.Sleep(30 * time.Millisecond)
			engine.Stop()
		}()

		recorder.start = time.Now()
		Expect(engine.Run()).To(Succeed())

		Expect(recorder.seqs()).To(Equal([]int{0}))
		Expect(recorder.records[0].time).To(BeNumerically(">=", 0.045))
		Expect(time.Since(recorder.start)).To(
			BeNumerically(">=", 75*time.Millisecond))
	})

	It("should return on an empty queue without a stop time", func() {
		newEngine(RealTimeConfig{})

		done := make(chan error, 1)
		go func() { done <- engine.Run() }()

		Eventually(done, 100*time.Millisecond).Should(Receive(BeNil()))
	})

	It("should stamp real-time events with non-decreasing times", func() {
		newEngine(RealTimeConfig{StopAt: 0.1})

		go func() {
			for i := 0; i < 100; i++ {
				seq := i
				engine.ScheduleRealtimeNow(func(now VTimeInSec) Event {
					return tickEvent{NewEventBase(now, recorder), seq}
				})
			}
		}()

		Expect(engine.Run()).To(Succeed())

		last := VTimeInSec(0)
		for i, r := range recorder.records {
			Expect(r.seq).To(Equal(i))
			Expect(r.time).To(BeNumerically(">=", last))
			last = r.time
		}
	})

	It("should be interrupted by Stop", func() {
		newEngine(RealTimeConfig{StopAt: 10})
		engine.Schedule(tickEvent{NewEventBase(5, recorder), 0})

		go func() {
			time.Sleep(20 * time.Millisecond)
			engine.Stop()
			engine.Stop()
		}()

		start := time.Now()
		Expect(engine.Run()).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		Expect(recorder.records).To(BeEmpty())
		Expect(engine.queues.empty()).To(BeTrue())
	})

	It("should be interrupted by context cancellation", func() {
		newEngine(RealTimeConfig{StopAt: 10})

		ctx, cancel := context.WithTimeout(context.Background(),
			20*time.Millisecond)
		defer cancel()

		start := time.Now()
		Expect(engine.RunContext(ctx)).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})

	It("should return fatal handler errors", func() {
		newEngine(RealTimeConfig{})
		recorder.err = Fatal(errors.New("device gone"))

		engine.Schedule(tickEvent{NewEventBase(0, recorder), 0})
		engine.Schedule(tickEvent{NewEventBase(0.01, recorder), 1})

		err := engine.Run()
		Expect(IsFatal(err)).To(BeTrue())
		Expect(recorder.seqs()).To(Equal([]int{0}))
	})

	It("should report event lag through hooks", func() {
		newEngine(RealTimeConfig{})

		var lags []time.Duration
		engine.AcceptHook(HookFunc(func(ctx HookCtx) {
			if ctx.Pos == HookPosEventLag {
				lags = append(lags, ctx.Detail.(time.Duration))
			}
		}))

		engine.Schedule(tickEvent{NewEventBase(0.01, recorder), 0})
		Expect(engine.Run()).To(Succeed())

		Expect(lags).To(HaveLen(1))
		Expect(lags[0]).To(BeNumerically(">=", 0))
	})

	It("should not advance simulated time while paused", func() {
		newEngine(RealTimeConfig{})
		engine.Schedule(tickEvent{NewEventBase(0.03, recorder), 0})

		engine.Pause()
		go func() {
			time.Sleep(50 * time.Millisecond)
			engine.Continue()
		}()

		recorder.start = time.Now()
		Expect(engine.Run()).To(Succeed())

		Expect(recorder.records).To(HaveLen(1))
		Expect(recorder.records[0].wall).To(
			BeNumerically(">=", 75*time.Millisecond))
	})
})
