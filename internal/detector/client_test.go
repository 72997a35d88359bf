package detector_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/ocrbench/pipeline/internal/detector"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("detector client", func() {
	var (
		ctx       context.Context
		imagePath string
	)

	BeforeEach(func() {
		ctx = context.Background()
		imagePath = filepath.Join(GinkgoT().TempDir(), "page.png")
		Expect(os.WriteFile(imagePath, []byte("fake png"), 0o600)).To(Succeed())
	})

	Describe("NewClient", func() {
		It("creates client with default settings", func() {
			c := detector.NewClient("http://localhost:9000", "", 0, 0)
			Expect(c).NotTo(BeNil())
		})
	})

	Describe("Detect", func() {
		It("posts the image with thresholds and normalizes the boxes", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/predict"))

				Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
				Expect(r.FormValue("conf")).To(Equal("0.5"))
				Expect(r.FormValue("iou")).To(Equal("0.45"))
				Expect(r.FormValue("imgsz")).To(Equal("1024"))
				Expect(r.FormValue("model")).To(Equal(detector.DefaultModel))

				f, _, err := r.FormFile("image")
				Expect(err).To(BeNil())
				content, err := io.ReadAll(f)
				Expect(err).To(BeNil())
				Expect(string(content)).To(Equal("fake png"))

				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(detector.PredictResponse{
					Width:  200,
					Height: 100,
					Boxes: []detector.RawBox{
						{X1: 20, Y1: 50, X2: 180, Y2: 90, Confidence: 0.8, ClassName: "Text"},
						{X1: 20, Y1: 10, X2: 180, Y2: 20, Confidence: 0.9, ClassName: "Title"},
					},
				})
			}))
			defer server.Close()

			c := detector.NewClient(server.URL, "", 0, 5*time.Second)
			detection, err := c.Detect(ctx, imagePath, detector.Thresholds{Confidence: 0.5})
			Expect(err).To(BeNil())
			Expect(detection.Regions).To(HaveLen(2))
			Expect(detection.Regions[0].ClassName).To(Equal("title"))
			Expect(detection.Regions[0].Y1).To(BeNumerically("~", 0.1, 1e-9))
			Expect(detection.Regions[1].X2).To(BeNumerically("~", 0.9, 1e-9))
			Expect(detection.Thresholds).To(Equal(detector.Thresholds{Confidence: 0.5, IoU: detector.DefaultIoU}))
		})

		It("returns an empty detection when nothing is found", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(detector.PredictResponse{Width: 0, Height: 0})
			}))
			defer server.Close()

			c := detector.NewClient(server.URL, "", 0, 5*time.Second)
			detection, err := c.Detect(ctx, imagePath, detector.Thresholds{})
			Expect(err).To(BeNil())
			Expect(detection.Regions).To(BeEmpty())
		})

		It("fails on a server error", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model unavailable", http.StatusServiceUnavailable)
			}))
			defer server.Close()

			c := detector.NewClient(server.URL, "", 0, 5*time.Second)
			_, err := c.Detect(ctx, imagePath, detector.Thresholds{})
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(ContainSubstring("status 503"))
			Expect(err.Error()).To(ContainSubstring("model unavailable"))
		})

		It("fails when the image is missing", func() {
			c := detector.NewClient("http://127.0.0.1:1", "", 0, time.Second)
			_, err := c.Detect(ctx, filepath.Join(GinkgoT().TempDir(), "absent.png"), detector.Thresholds{})
			Expect(err).To(MatchError("Image file not found on disk."))
		})

		It("fails on an invalid image size", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(detector.PredictResponse{
					Width: 0, Height: 10,
					Boxes: []detector.RawBox{{X1: 0, Y1: 0, X2: 1, Y2: 1}},
				})
			}))
			defer server.Close()

			c := detector.NewClient(server.URL, "", 0, 5*time.Second)
			_, err := c.Detect(ctx, imagePath, detector.Thresholds{})
			Expect(err).To(MatchError("Invalid image size detected for layout inference."))
		})
	})

	Describe("HealthCheck", func() {
		It("reports a healthy server", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			Expect(detector.NewClient(server.URL, "", 0, time.Second).HealthCheck(ctx)).To(Succeed())
		})
	})
})
