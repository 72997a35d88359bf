package v1alpha1_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/ocrbench/pipeline/internal/activity"
	"github.com/ocrbench/pipeline/internal/config"
	"github.com/ocrbench/pipeline/internal/discovery"
	"github.com/ocrbench/pipeline/internal/events"
	handlers "github.com/ocrbench/pipeline/internal/handlers/v1alpha1"
	"github.com/ocrbench/pipeline/internal/lifecycle"
	"github.com/ocrbench/pipeline/internal/runtime"
	"github.com/ocrbench/pipeline/internal/service"
	"github.com/ocrbench/pipeline/internal/stages"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/internal/store/storetest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

const (
	insertPageStm   = "INSERT INTO pages (id, rel_path, file_hash, status, is_missing) VALUES (%d, '%s', '%s', '%s', %t);"
	insertLayoutStm = "INSERT INTO layouts (id, page_id, class_name, x1, y1, x2, y2, reading_order, source) VALUES (%d, %d, 'Text', 0.1, 0.1, 0.5, 0.5, %d, 'manual');"
)

var _ = Describe("pipeline api", Ordered, func() {
	var (
		s        store.Store
		gormdb   *gorm.DB
		cfg      *config.Config
		cleanup  func()
		eventLog *events.Log
		server   *httptest.Server
		executed []int64
	)

	BeforeAll(func() {
		db, c, cl, err := storetest.NewDB()
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		cfg = c
		cleanup = cl
		Expect(os.MkdirAll(cfg.Discovery.SourceDir, 0o755)).To(Succeed())
	})

	AfterAll(func() {
		s.Close()
		cleanup()
	})

	BeforeEach(func() {
		executed = nil
		eventLog = events.NewLog(s)

		registry := runtime.NewRegistry()
		registry.MustRegister(stages.LayoutDetection,
			runtime.HandlerFunc(func(_ context.Context, id int64, _ json.RawMessage) (runtime.Result, error) {
				executed = append(executed, id)
				return runtime.Result{"created": 0}, nil
			}),
			runtime.WithEntityEvents(string(lifecycle.EventLayoutStarted), string(lifecycle.EventLayoutSucceeded)),
		)
		tracker := lifecycle.NewPageTracker(s)
		scheduler := runtime.NewScheduler(s, registry, eventLog,
			runtime.WithEnabled(false),
			runtime.WithTracker(tracker))

		h := handlers.NewServiceHandler(
			discovery.NewScanner(s, eventLog, nil, "", cfg.Discovery.SourceDir, cfg.Discovery.AllowedExtensions),
			service.NewPageService(s, cfg.Discovery.SourceDir, cfg.Discovery.AllowedExtensions),
			service.NewLayoutService(s, tracker, eventLog),
			service.NewPipelineService(s, scheduler, eventLog),
			service.NewReportService(s),
			activity.NewService(s, eventLog, scheduler, activity.WithHeartbeat(50*time.Millisecond)),
		)
		router := chi.NewRouter()
		router.Route("/api", h.Routes)
		server = httptest.NewServer(router)

		Expect(gormdb.Exec(fmt.Sprintf(insertPageStm, 1, "p1.png", "h1", "new", false)).Error).To(BeNil())
		Expect(gormdb.Exec(fmt.Sprintf(insertPageStm, 2, "p2.png", "h2", "layout_detected", false)).Error).To(BeNil())
		Expect(gormdb.Exec(fmt.Sprintf(insertPageStm, 3, "p3.png", "h3", "layout_reviewed", false)).Error).To(BeNil())
		Expect(gormdb.Exec(fmt.Sprintf(insertLayoutStm, 10, 2, 1)).Error).To(BeNil())
	})

	AfterEach(func() {
		server.Close()
		storetest.Truncate(gormdb)
		entries, _ := os.ReadDir(cfg.Discovery.SourceDir)
		for _, e := range entries {
			_ = os.RemoveAll(filepath.Join(cfg.Discovery.SourceDir, e.Name()))
		}
	})

	call := func(method, path string, body any) (int, map[string]any) {
		var reader io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			Expect(err).To(BeNil())
			reader = bytes.NewReader(raw)
		}
		req, err := http.NewRequest(method, server.URL+path, reader)
		Expect(err).To(BeNil())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := http.DefaultClient.Do(req)
		Expect(err).To(BeNil())
		defer resp.Body.Close()

		out := map[string]any{}
		raw, err := io.ReadAll(resp.Body)
		Expect(err).To(BeNil())
		if len(raw) > 0 {
			Expect(json.Unmarshal(raw, &out)).To(Succeed())
		}
		return resp.StatusCode, out
	}

	Context("pages", func() {
		It("scans the source folder", func() {
			Expect(os.WriteFile(filepath.Join(cfg.Discovery.SourceDir, "p1.png"), []byte("one"), 0o600)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(cfg.Discovery.SourceDir, "fresh.png"), []byte("fresh"), 0o600)).To(Succeed())

			status, body := call(http.MethodPost, "/api/discovery/scan", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["scanned_files"]).To(BeNumerically("==", 2))
			Expect(body["new_pages"]).To(BeNumerically("==", 1))
			Expect(body["missing_marked"]).To(BeNumerically("==", 2))
		})

		It("lists pages filtered by status", func() {
			status, body := call(http.MethodGet, "/api/pages?status=layout_detected", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["count"]).To(BeNumerically("==", 1))
			Expect(body["allowed_extensions"]).To(ContainElement(".png"))
		})

		It("rejects a malformed missing filter", func() {
			status, body := call(http.MethodGet, "/api/pages?missing=perhaps", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(body["message"]).To(ContainSubstring("missing"))
		})

		It("returns page details", func() {
			status, body := call(http.MethodGet, "/api/pages/1", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["image_url"]).To(Equal("/api/pages/1/image"))
			Expect(body["image_exists"]).To(BeFalse())
		})

		It("returns 404 for an unknown page", func() {
			status, body := call(http.MethodGet, "/api/pages/404", nil)
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(body["message"]).To(Equal("page 404 not found"))
		})

		It("returns 400 for a malformed id", func() {
			status, _ := call(http.MethodGet, "/api/pages/abc", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("serves the page image", func() {
			Expect(os.WriteFile(filepath.Join(cfg.Discovery.SourceDir, "p1.png"), []byte("pixels"), 0o600)).To(Succeed())

			resp, err := http.Get(server.URL + "/api/pages/1/image")
			Expect(err).To(BeNil())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			raw, _ := io.ReadAll(resp.Body)
			Expect(string(raw)).To(Equal("pixels"))
		})

		It("returns 404 when the image is gone", func() {
			status, _ := call(http.MethodGet, "/api/pages/2/image", nil)
			Expect(status).To(Equal(http.StatusNotFound))
		})
	})

	Context("layouts", func() {
		It("lists layouts with nested boxes", func() {
			status, body := call(http.MethodGet, "/api/pages/2/layouts", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["count"]).To(BeNumerically("==", 1))

			layouts := body["layouts"].([]any)
			bbox := layouts[0].(map[string]any)["bbox"].(map[string]any)
			Expect(bbox["x2"]).To(BeNumerically("==", 0.5))
		})

		It("creates a manual layout", func() {
			status, body := call(http.MethodPost, "/api/pages/1/layouts", map[string]any{
				"class_name": " Table ",
				"bbox":       map[string]float64{"x1": 0.1, "y1": 0.2, "x2": 0.6, "y2": 0.7},
			})
			Expect(status).To(Equal(http.StatusCreated))
			Expect(body["class_name"]).To(Equal("Table"))
			Expect(body["source"]).To(Equal("manual"))
			Expect(body["reading_order"]).To(BeNumerically("==", 1))

			_, page := call(http.MethodGet, "/api/pages/1", nil)
			Expect(page["page"].(map[string]any)["status"]).To(Equal("layout_detected"))
		})

		It("rejects an inverted box", func() {
			status, body := call(http.MethodPost, "/api/pages/1/layouts", map[string]any{
				"class_name": "Table",
				"bbox":       map[string]float64{"x1": 0.6, "y1": 0.2, "x2": 0.1, "y2": 0.7},
			})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(body["message"]).To(ContainSubstring("x2 > x1"))

			var count int64
			Expect(gormdb.Raw("SELECT COUNT(*) FROM layouts WHERE page_id = 1").Scan(&count).Error).To(BeNil())
			Expect(count).To(BeZero())
		})

		It("rejects an empty body", func() {
			status, _ := call(http.MethodPost, "/api/pages/1/layouts", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("updates and deletes a layout", func() {
			status, body := call(http.MethodPatch, "/api/layouts/10", map[string]any{"class_name": "Caption"})
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["class_name"]).To(Equal("Caption"))

			status, body = call(http.MethodDelete, "/api/layouts/10", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["deleted"]).To(BeTrue())
			Expect(body["layout_id"]).To(BeNumerically("==", 10))

			status, _ = call(http.MethodDelete, "/api/layouts/10", nil)
			Expect(status).To(Equal(http.StatusNotFound))
		})

		It("completes the review of a detected page", func() {
			status, body := call(http.MethodPost, "/api/pages/2/layouts/review-complete", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["status"]).To(Equal("layout_reviewed"))
			Expect(body["layout_count"]).To(BeNumerically("==", 1))
		})

		It("refuses to review a page without layouts", func() {
			status, _ := call(http.MethodPost, "/api/pages/1/layouts/review-complete", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("queues a redetection without a body", func() {
			status, body := call(http.MethodPost, "/api/pages/2/layouts/detect", nil)
			Expect(status).To(Equal(http.StatusAccepted))
			Expect(body["queued"]).To(BeTrue())
			job := body["job"].(map[string]any)
			Expect(job["stage"]).To(Equal(stages.LayoutDetection))
			Expect(job["params"]).To(HaveKeyWithValue("trigger", "manual"))
		})

		It("rejects out of range thresholds", func() {
			status, _ := call(http.MethodPost, "/api/pages/2/layouts/detect", map[string]any{"confidence_threshold": 1.5})
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("refuses to redetect a reviewed page", func() {
			status, _ := call(http.MethodPost, "/api/pages/3/layouts/detect", nil)
			Expect(status).To(Equal(http.StatusConflict))
		})
	})

	Context("pipeline", func() {
		It("submits, lists and drains jobs", func() {
			status, body := call(http.MethodPost, "/api/pipeline/jobs", map[string]any{
				"stage":     stages.LayoutDetection,
				"entity_id": 1,
				"params":    map[string]any{"trigger": "manual"},
			})
			Expect(status).To(Equal(http.StatusAccepted))
			Expect(body["queued"]).To(BeTrue())

			status, body = call(http.MethodPost, "/api/pipeline/jobs", map[string]any{
				"stage":     stages.LayoutDetection,
				"entity_id": 1,
			})
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["queued"]).To(BeFalse())

			status, body = call(http.MethodGet, "/api/pipeline/jobs?state=queued&entity_id=1", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["count"]).To(BeNumerically("==", 1))

			status, body = call(http.MethodPost, "/api/pipeline/run", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["executed"]).To(BeNumerically("==", 1))
			Expect(executed).To(Equal([]int64{1}))

			_, body = call(http.MethodGet, "/api/pipeline/jobs?state=completed", nil)
			Expect(body["count"]).To(BeNumerically("==", 1))
		})

		It("rejects an unknown stage", func() {
			status, body := call(http.MethodPost, "/api/pipeline/jobs", map[string]any{
				"stage":     stages.OCRExtraction,
				"entity_id": 1,
			})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(body["message"]).To(ContainSubstring("unknown stage"))
		})

		It("rejects an unknown job state filter", func() {
			status, _ := call(http.MethodGet, "/api/pipeline/jobs?state=paused", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("toggles background execution", func() {
			status, body := call(http.MethodPut, "/api/pipeline/execution", map[string]any{"enabled": true})
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["enabled"]).To(BeTrue())

			status, body = call(http.MethodGet, "/api/pipeline/execution", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["enabled"]).To(BeTrue())

			status, _ = call(http.MethodPut, "/api/pipeline/execution", map[string]any{})
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("wipes the pipeline state", func() {
			status, body := call(http.MethodPost, "/api/admin/wipe", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["wiped"]).To(BeTrue())

			_, stats := call(http.MethodGet, "/api/stats", nil)
			Expect(stats["total_pages"]).To(BeNumerically("==", 0))
		})
	})

	Context("reports", func() {
		It("reports stats and duplicates", func() {
			status, body := call(http.MethodGet, "/api/stats", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["total_pages"]).To(BeNumerically("==", 3))

			status, body = call(http.MethodGet, "/api/duplicates", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["count"]).To(BeNumerically("==", 0))
		})

		It("exports layouts as a workbook", func() {
			resp, err := http.Get(server.URL + "/api/export/layouts.xlsx")
			Expect(err).To(BeNil())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("application/vnd.openxmlformats"))
			raw, _ := io.ReadAll(resp.Body)
			Expect(raw[:2]).To(Equal([]byte("PK")))
		})
	})

	Context("activity", func() {
		It("returns the snapshot", func() {
			_, err := eventLog.Record(context.TODO(), events.StagePipeline, events.KindJobQueued, "queued", nil)
			Expect(err).To(BeNil())

			status, body := call(http.MethodGet, "/api/pipeline/activity?limit=5", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["execution_enabled"]).To(BeFalse())
			Expect(body["registered_stages"]).To(ContainElement(stages.LayoutDetection))
			Expect(body["recent_events"]).To(HaveLen(1))
		})

		It("streams updates as server-sent events", func() {
			first, err := eventLog.Record(context.TODO(), events.StagePipeline, events.KindJobQueued, "first", nil)
			Expect(err).To(BeNil())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/pipeline/activity/stream", nil)
			Expect(err).To(BeNil())
			req.Header.Set("Last-Event-ID", "0")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).To(BeNil())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			reader := bufio.NewReader(resp.Body)
			nextMessage := func() (string, activity.Update) {
				var id string
				for {
					line, err := reader.ReadString('\n')
					Expect(err).To(BeNil())
					switch {
					case strings.HasPrefix(line, "id: "):
						id = strings.TrimSpace(strings.TrimPrefix(line, "id: "))
					case strings.HasPrefix(line, "data: "):
						var update activity.Update
						Expect(json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &update)).To(Succeed())
						return id, update
					}
				}
			}

			id, initial := nextMessage()
			Expect(id).To(Equal(fmt.Sprint(first.ID)))
			Expect(initial.Snapshot.LastEventID).To(Equal(first.ID))

			second, err := eventLog.Record(context.TODO(), events.StagePipeline, events.KindJobQueued, "second", nil)
			Expect(err).To(BeNil())

			for {
				id, update := nextMessage()
				if len(update.NewEvents) == 0 {
					continue
				}
				Expect(id).To(Equal(fmt.Sprint(second.ID)))
				Expect(update.NewEvents[0].Message).To(Equal("second"))
				break
			}
		})

		It("replays events over a websocket", func() {
			first, err := eventLog.Record(context.TODO(), events.StagePipeline, events.KindJobQueued, "first", nil)
			Expect(err).To(BeNil())
			_, err = eventLog.Record(context.TODO(), events.StagePipeline, events.KindJobQueued, "second", nil)
			Expect(err).To(BeNil())

			url := "ws" + strings.TrimPrefix(server.URL, "http") + fmt.Sprintf("/api/pipeline/activity/ws?since_id=%d", first.ID)
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			Expect(err).To(BeNil())
			defer conn.Close()

			var update activity.Update
			Expect(conn.ReadJSON(&update)).To(Succeed())
			Expect(update.NewEvents).To(HaveLen(1))
			Expect(update.NewEvents[0].Message).To(Equal("second"))
		})
	})
})
