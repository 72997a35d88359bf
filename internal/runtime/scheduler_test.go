package runtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ocrbench/pipeline/internal/events"
	"github.com/ocrbench/pipeline/internal/lifecycle"
	"github.com/ocrbench/pipeline/internal/runtime"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/internal/store/model"
	"github.com/ocrbench/pipeline/internal/store/storetest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

const (
	stageLayout = "layout_detection"

	insertPageStm = "INSERT INTO pages (id, rel_path, file_hash, status, is_missing) VALUES (%d, '%s', '%s', '%s', false);"
	insertJobStm  = "INSERT INTO pipeline_jobs (stage, entity_id, state) VALUES ('%s', %d, 'queued');"
)

// fakeHandler returns whatever the test configured for the entity.
type fakeHandler struct {
	mu      sync.Mutex
	calls   []int64
	results map[int64]runtime.Result
	errs    map[int64]error
	panics  map[int64]bool
	params  map[int64]json.RawMessage
	block   chan struct{}
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		results: map[int64]runtime.Result{},
		errs:    map[int64]error{},
		panics:  map[int64]bool{},
		params:  map[int64]json.RawMessage{},
	}
}

func (f *fakeHandler) Handle(ctx context.Context, entityID int64, params json.RawMessage) (runtime.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, entityID)
	f.params[entityID] = params
	res, err, p, block := f.results[entityID], f.errs[entityID], f.panics[entityID], f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p {
		panic("boom")
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = runtime.Result{"created": 2}
	}
	return res, nil
}

func (f *fakeHandler) Calls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.calls...)
}

var _ = Describe("scheduler", Ordered, func() {
	var (
		s       store.Store
		gormdb  *gorm.DB
		cleanup func()
		handler *fakeHandler
		log     *events.Log
	)

	newScheduler := func(opts ...runtime.SchedulerOptions) *runtime.Scheduler {
		registry := runtime.NewRegistry()
		registry.MustRegister(stageLayout, handler,
			runtime.WithLabel("layout detection"),
			runtime.WithEntityEvents(string(lifecycle.EventLayoutStarted), string(lifecycle.EventLayoutSucceeded)),
			runtime.WithParamsSchema(`{"type": "object", "properties": {"confidence_threshold": {"type": "number", "minimum": 0, "maximum": 1}}}`),
			runtime.WithCompletionMessage(func(r runtime.Result) string {
				return fmt.Sprintf("Completed layout detection, created %v regions.", r["created"])
			}),
		)
		opts = append([]runtime.SchedulerOptions{runtime.WithTracker(lifecycle.NewPageTracker(s))}, opts...)
		return runtime.NewScheduler(s, registry, log, opts...)
	}

	pageStatus := func(id int64) string {
		page, err := s.Page().Get(context.TODO(), id)
		Expect(err).To(BeNil())
		return page.Status
	}

	eventsOfKind := func(kind string) []model.Event {
		all, err := log.Recent(context.TODO(), 200, 0)
		Expect(err).To(BeNil())
		var out []model.Event
		for _, e := range all {
			if e.Kind == kind {
				out = append(out, e)
			}
		}
		return out
	}

	BeforeAll(func() {
		db, _, c, err := storetest.NewDB()
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		cleanup = c
	})

	AfterAll(func() {
		s.Close()
		cleanup()
	})

	BeforeEach(func() {
		handler = newFakeHandler()
		log = events.NewLog(s)
		for i := 1; i <= 9; i++ {
			Expect(gormdb.Exec(fmt.Sprintf(insertPageStm, i, fmt.Sprintf("page%d.png", i), fmt.Sprintf("h%d", i), "new")).Error).To(BeNil())
		}
	})

	AfterEach(func() {
		storetest.Truncate(gormdb)
	})

	Context("submit", func() {
		It("queues one job for repeated submissions of the same pair", func() {
			sch := newScheduler(runtime.WithEnabled(false))
			params := map[string]any{"confidence_threshold": 0.5, "iou_threshold": 0.5}

			first, queued, err := sch.Submit(context.TODO(), stageLayout, 42, params)
			Expect(err).To(BeNil())
			Expect(queued).To(BeTrue())

			second, queued, err := sch.Submit(context.TODO(), stageLayout, 42, params)
			Expect(err).To(BeNil())
			Expect(queued).To(BeFalse())
			Expect(second.ID).To(Equal(first.ID))

			jobs, err := s.Job().List(context.TODO(), store.NewJobQueryFilter().ByStage(stageLayout).ByEntityID(42), nil)
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(1))
			Expect(eventsOfKind(events.KindJobQueued)).To(HaveLen(1))
		})

		It("absorbs concurrent duplicate submissions", func() {
			sch := newScheduler(runtime.WithEnabled(false))

			var wg sync.WaitGroup
			var mu sync.Mutex
			ids := map[int64]struct{}{}
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					job, _, err := sch.Submit(context.TODO(), stageLayout, 3, nil)
					Expect(err).To(BeNil())
					mu.Lock()
					ids[job.ID] = struct{}{}
					mu.Unlock()
				}()
			}
			wg.Wait()

			Expect(ids).To(HaveLen(1))
			active, err := s.Job().List(context.TODO(), store.NewJobQueryFilter().ByEntityID(3).Active(), nil)
			Expect(err).To(BeNil())
			Expect(active).To(HaveLen(1))
		})

		It("rejects unknown stages and invalid params", func() {
			sch := newScheduler()

			_, _, err := sch.Submit(context.TODO(), "ocr_extraction", 1, nil)
			Expect(errors.Is(err, runtime.ErrUnknownStage)).To(BeTrue())

			_, _, err = sch.Submit(context.TODO(), stageLayout, 1, map[string]any{"confidence_threshold": 3})
			Expect(errors.Is(err, runtime.ErrInvalidParams)).To(BeTrue())

			count, err := s.Job().List(context.TODO(), nil, nil)
			Expect(err).To(BeNil())
			Expect(count).To(BeEmpty())
		})

		It("summarizes bulk submissions", func() {
			sch := newScheduler(runtime.WithEnabled(false))
			_, _, err := sch.Submit(context.TODO(), stageLayout, 2, nil)
			Expect(err).To(BeNil())

			summary, err := sch.SubmitMany(context.TODO(), stageLayout, []int64{1, 2, 3}, func(int64) map[string]any {
				return map[string]any{"trigger": "auto"}
			})
			Expect(err).To(BeNil())
			Expect(summary).To(Equal(runtime.SubmitSummary{Considered: 3, Queued: 2, AlreadyQueuedOrRunning: 1}))
		})
	})

	Context("execution", func() {
		It("completes a job and advances the page", func() {
			sch := newScheduler()
			job, _, err := sch.Submit(context.TODO(), stageLayout, 1, map[string]any{"confidence_threshold": 0.4})
			Expect(err).To(BeNil())

			found, err := sch.RunOnce(context.TODO())
			Expect(err).To(BeNil())
			Expect(found).To(BeTrue())

			done, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(done.State).To(Equal(model.JobStateCompleted))
			Expect(done.Attempts).To(Equal(1))
			Expect(*done.PriorStatus).To(Equal("new"))
			Expect(done.Result).To(HaveKeyWithValue("created", BeNumerically("==", 2)))
			Expect(pageStatus(1)).To(Equal(string(lifecycle.StatusLayoutDetected)))

			var p map[string]any
			Expect(json.Unmarshal(handler.params[1], &p)).To(Succeed())
			Expect(p).To(HaveKeyWithValue("confidence_threshold", 0.4))

			completed := eventsOfKind(events.KindJobCompleted)
			Expect(completed).To(HaveLen(1))
			Expect(completed[0].Message).To(Equal("Completed layout detection, created 2 regions."))
			Expect(completed[0].Data).To(HaveKeyWithValue("job_id", BeNumerically("==", job.ID)))
			Expect(eventsOfKind(events.KindJobStarted)).To(HaveLen(1))
		})

		It("fails a job, keeps the error verbatim and rolls the page back", func() {
			sch := newScheduler()
			handler.errs[7] = errors.New("model unavailable")

			job, _, err := sch.Submit(context.TODO(), stageLayout, 7, map[string]any{})
			Expect(err).To(BeNil())

			found, err := sch.RunOnce(context.TODO())
			Expect(err).To(BeNil())
			Expect(found).To(BeTrue())

			failed, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(failed.State).To(Equal(model.JobStateFailed))
			Expect(*failed.Error).To(Equal("model unavailable"))
			Expect(pageStatus(7)).To(Equal("new"))

			failures := eventsOfKind(events.KindJobFailed)
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].Message).To(Equal("model unavailable"))
			Expect(failures[0].Data).To(HaveKeyWithValue("entity_id", BeNumerically("==", 7)))
			Expect(failures[0].Data).To(HaveKeyWithValue("job_id", BeNumerically("==", job.ID)))
		})

		It("restores the exact prior status on failure", func() {
			Expect(gormdb.Exec("UPDATE pages SET status = 'layout_detected' WHERE id = 4").Error).To(BeNil())
			sch := newScheduler()
			handler.errs[4] = errors.New("model unavailable")

			_, _, err := sch.Submit(context.TODO(), stageLayout, 4, nil)
			Expect(err).To(BeNil())
			_, err = sch.RunOnce(context.TODO())
			Expect(err).To(BeNil())

			Expect(pageStatus(4)).To(Equal("layout_detected"))
		})

		It("contains handler panics", func() {
			sch := newScheduler()
			handler.panics[5] = true

			job, _, err := sch.Submit(context.TODO(), stageLayout, 5, nil)
			Expect(err).To(BeNil())
			_, err = sch.RunOnce(context.TODO())
			Expect(err).To(BeNil())

			failed, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(failed.State).To(Equal(model.JobStateFailed))
			Expect(*failed.Error).To(ContainSubstring("boom"))
			Expect(pageStatus(5)).To(Equal("new"))
		})

		It("fails a job that exceeds its timeout", func() {
			sch := newScheduler(runtime.WithJobTimeout(50 * time.Millisecond))
			handler.block = make(chan struct{})
			defer close(handler.block)

			job, _, err := sch.Submit(context.TODO(), stageLayout, 6, nil)
			Expect(err).To(BeNil())
			_, err = sch.RunOnce(context.TODO())
			Expect(err).To(BeNil())

			failed, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(failed.State).To(Equal(model.JobStateFailed))
			Expect(*failed.Error).To(Equal(context.DeadlineExceeded.Error()))
		})

		It("finishes a manually run job when the caller goes away", func() {
			sch := newScheduler(runtime.WithJobTimeout(300 * time.Millisecond))
			handler.block = make(chan struct{})
			defer close(handler.block)

			job, _, err := sch.Submit(context.TODO(), stageLayout, 2, nil)
			Expect(err).To(BeNil())

			ctx, cancel := context.WithTimeout(context.TODO(), 50*time.Millisecond)
			defer cancel()
			found, err := sch.RunOnce(ctx)
			Expect(err).To(BeNil())
			Expect(found).To(BeTrue())

			failed, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(failed.State).To(Equal(model.JobStateFailed))
			Expect(*failed.Error).To(Equal(context.DeadlineExceeded.Error()))
			Expect(pageStatus(2)).To(Equal("new"))
			Expect(eventsOfKind(events.KindJobFailed)).To(HaveLen(1))

			_, queued, err := sch.Submit(context.TODO(), stageLayout, 2, nil)
			Expect(err).To(BeNil())
			Expect(queued).To(BeTrue())
		})

		It("keeps a reviewer edit made while the job was running", func() {
			sch := newScheduler()
			tracker := lifecycle.NewPageTracker(s)
			handler.errs[8] = errors.New("model unavailable")
			handler.block = make(chan struct{})

			job, _, err := sch.Submit(context.TODO(), stageLayout, 8, nil)
			Expect(err).To(BeNil())

			done := make(chan error, 1)
			go func() {
				_, err := sch.RunOnce(context.TODO())
				done <- err
			}()

			Eventually(func() []int64 { return handler.Calls() }).Should(ContainElement(int64(8)))
			Expect(pageStatus(8)).To(Equal("layout_detecting"))

			status, err := tracker.Apply(context.TODO(), 8, lifecycle.EventLayoutEdited)
			Expect(err).To(BeNil())
			Expect(status).To(Equal(lifecycle.StatusLayoutDetected))

			close(handler.block)
			Eventually(done).Should(Receive(BeNil()))

			failed, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(failed.State).To(Equal(model.JobStateFailed))
			Expect(pageStatus(8)).To(Equal("layout_detected"))
		})

		It("restores the prior status for skipped results", func() {
			sch := newScheduler()
			handler.results[8] = runtime.Skipped("page is missing")

			job, _, err := sch.Submit(context.TODO(), stageLayout, 8, nil)
			Expect(err).To(BeNil())
			_, err = sch.RunOnce(context.TODO())
			Expect(err).To(BeNil())

			done, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(done.State).To(Equal(model.JobStateCompleted))
			Expect(pageStatus(8)).To(Equal("new"))

			completed := eventsOfKind(events.KindJobCompleted)
			Expect(completed).To(HaveLen(1))
			Expect(completed[0].Message).To(Equal("Skipped layout detection: page is missing."))
		})

		It("fails the job when the page cannot start the stage", func() {
			Expect(gormdb.Exec("UPDATE pages SET status = 'layout_reviewed' WHERE id = 9").Error).To(BeNil())
			sch := newScheduler()

			job, _, err := sch.Submit(context.TODO(), stageLayout, 9, nil)
			Expect(err).To(BeNil())
			_, err = sch.RunOnce(context.TODO())
			Expect(err).To(BeNil())

			failed, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(failed.State).To(Equal(model.JobStateFailed))
			Expect(*failed.Error).To(ContainSubstring(lifecycle.ErrIllegalTransition.Error()))
			Expect(handler.Calls()).To(BeEmpty())
			Expect(pageStatus(9)).To(Equal("layout_reviewed"))
		})

		It("fails jobs of unregistered stages", func() {
			Expect(gormdb.Exec(fmt.Sprintf(insertJobStm, "ocr_extraction", 1)).Error).To(BeNil())
			sch := newScheduler()

			found, err := sch.RunOnce(context.TODO())
			Expect(err).To(BeNil())
			Expect(found).To(BeTrue())

			jobs, err := s.Job().List(context.TODO(), store.NewJobQueryFilter().ByStage("ocr_extraction"), nil)
			Expect(err).To(BeNil())
			Expect(jobs[0].State).To(Equal(model.JobStateFailed))
			Expect(*jobs[0].Error).To(Equal("No handler registered for stage 'ocr_extraction'."))
			Expect(pageStatus(1)).To(Equal("new"))
		})

		It("drains the queue in FIFO order", func() {
			sch := newScheduler(runtime.WithEnabled(false))
			for _, id := range []int64{3, 1, 2} {
				_, _, err := sch.Submit(context.TODO(), stageLayout, id, nil)
				Expect(err).To(BeNil())
			}

			n, err := sch.RunPending(context.TODO())
			Expect(err).To(BeNil())
			Expect(n).To(Equal(3))
			Expect(handler.Calls()).To(Equal([]int64{3, 1, 2}))

			found, err := sch.RunOnce(context.TODO())
			Expect(err).To(BeNil())
			Expect(found).To(BeFalse())
		})
	})

	Context("background loop", func() {
		It("leaves jobs queued while disabled and runs them once enabled", func() {
			sch := newScheduler(runtime.WithEnabled(false), runtime.WithPollInterval(20*time.Millisecond))
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = sch.Start(ctx)
			}()
			defer func() {
				cancel()
				<-done
			}()
			Eventually(sch.Running).Should(BeTrue())

			job, queued, err := sch.Submit(context.TODO(), stageLayout, 2, nil)
			Expect(err).To(BeNil())
			Expect(queued).To(BeTrue())
			Expect(eventsOfKind(events.KindJobQueued)).To(HaveLen(1))

			state := func() model.JobState {
				j, err := s.Job().Get(context.TODO(), job.ID)
				Expect(err).To(BeNil())
				return j.State
			}
			Consistently(state, "200ms", "20ms").Should(Equal(model.JobStateQueued))

			Expect(sch.SetEnabled(context.TODO(), true)).To(Succeed())
			Eventually(state, "2s", "20ms").Should(Equal(model.JobStateCompleted))
			Expect(eventsOfKind(events.KindPipelineEnabled)).To(HaveLen(1))
			Expect(pageStatus(2)).To(Equal(string(lifecycle.StatusLayoutDetected)))
		})

		It("ignores a second start and stops with its context", func() {
			sch := newScheduler(runtime.WithPollInterval(20 * time.Millisecond))
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = sch.Start(ctx)
			}()
			Eventually(sch.Running).Should(BeTrue())

			Expect(sch.Start(ctx)).To(Succeed())
			Expect(sch.Running()).To(BeTrue())

			cancel()
			Eventually(done).Should(BeClosed())
			Expect(sch.Running()).To(BeFalse())
		})

		It("records only real gate changes", func() {
			sch := newScheduler()
			Expect(sch.SetEnabled(context.TODO(), true)).To(Succeed())
			Expect(sch.SetEnabled(context.TODO(), false)).To(Succeed())
			Expect(sch.SetEnabled(context.TODO(), false)).To(Succeed())

			Expect(sch.Enabled()).To(BeFalse())
			Expect(eventsOfKind(events.KindPipelineEnabled)).To(BeEmpty())
			Expect(eventsOfKind(events.KindPipelineDisabled)).To(HaveLen(1))
		})

		It("records gate events in the order the gate changed", func() {
			sch := newScheduler(runtime.WithEnabled(false))

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(enabled bool) {
					defer GinkgoRecover()
					defer wg.Done()
					Expect(sch.SetEnabled(context.TODO(), enabled)).To(Succeed())
				}(i%2 == 0)
			}
			wg.Wait()

			all, err := log.Recent(context.TODO(), 200, 0)
			Expect(err).To(BeNil())
			last := ""
			for _, e := range all {
				if e.Kind == events.KindPipelineEnabled || e.Kind == events.KindPipelineDisabled {
					Expect(e.Kind).NotTo(Equal(last))
					last = e.Kind
				}
			}
			if sch.Enabled() {
				Expect(last).To(Equal(events.KindPipelineEnabled))
			} else {
				Expect(last).To(Equal(events.KindPipelineDisabled))
			}
		})
	})
})
