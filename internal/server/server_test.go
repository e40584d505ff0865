package server_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/cwbudde/algo-karaoke/dsp/f0"
	"github.com/cwbudde/algo-karaoke/internal/executor"
	"github.com/cwbudde/algo-karaoke/internal/observe"
	"github.com/cwbudde/algo-karaoke/internal/server"
	"github.com/cwbudde/algo-karaoke/internal/stems"
	"github.com/cwbudde/algo-karaoke/internal/stems/stemstest"
)

type upload struct {
	filename string
	content  []byte
	fields   map[string]string
}

func (u upload) request(target string) *http.Request {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	if u.filename != "" {
		fw, err := mw.CreateFormFile("audio_file", u.filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = fw.Write(u.content)
		Expect(err).NotTo(HaveOccurred())
	}

	for k, v := range u.fields {
		Expect(mw.WriteField(k, v)).To(Succeed())
	}

	Expect(mw.Close()).To(Succeed())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return req
}

func decodeJSON(rec *httptest.ResponseRecorder, into interface{}) {
	ExpectWithOffset(1, json.Unmarshal(rec.Body.Bytes(), into)).To(Succeed())
}

func detailOf(rec *httptest.ResponseRecorder) string {
	var body struct {
		Detail string `json:"detail"`
	}
	decodeJSON(rec, &body)

	return body.Detail
}

var _ = Describe("Server", func() {
	var (
		fake     *executor.Fake
		workDir  string
		sepOpts  []stems.Option
		reader   *sdkmetric.ManualReader
		metrics  *observe.Metrics
		handler  http.Handler
		recorder *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		fake = executor.NewFake()
		workDir = tempDir()
		recorder = httptest.NewRecorder()

		reader = sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		DeferCleanup(func() { _ = mp.Shutdown(context.Background()) })

		var err error
		metrics, err = observe.NewMetrics(mp)
		Expect(err).NotTo(HaveOccurred())

		sepOpts = []stems.Option{
			stems.WithWorkDir(workDir),
			stems.WithLogger(&log.Logger{Handler: discard.Default, Level: log.InfoLevel}),
		}
	})

	JustBeforeEach(func() {
		sep := stems.New(fake, append(sepOpts, stems.WithMetrics(metrics))...)
		handler = server.NewApp(server.Config{
			Separator:      sep,
			Metrics:        metrics,
			MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
		}).Handler()
	})

	serve := func(req *http.Request) {
		handler.ServeHTTP(recorder, req)
	}

	Describe("GET /", func() {
		It("describes the service", func() {
			serve(httptest.NewRequest(http.MethodGet, "/", nil))

			Expect(recorder.Code).To(Equal(http.StatusOK))

			var body struct {
				Service   string            `json:"service"`
				Version   string            `json:"version"`
				Endpoints map[string]string `json:"endpoints"`
			}
			decodeJSON(recorder, &body)

			Expect(body.Service).To(Equal("DeMucs Stem Separation API"))
			Expect(body.Version).To(Equal("1.0.0"))
			Expect(body.Endpoints).To(HaveKey("POST /separate"))
			Expect(body.Endpoints).To(HaveKey("GET /health"))
			Expect(body.Endpoints).To(HaveKey("GET /models"))
		})
	})

	Describe("GET /health", func() {
		Context("with demucs installed on an accelerator", func() {
			BeforeEach(func() {
				fake.On("python", stemstest.Demucs())
				sepOpts = append(sepOpts, stems.WithDevice(f0.DeviceAccelerator))
			})

			It("reports healthy", func() {
				serve(httptest.NewRequest(http.MethodGet, "/health", nil))

				Expect(recorder.Code).To(Equal(http.StatusOK))
				Expect(recorder.Body.String()).To(MatchJSON(`{
					"status": "healthy",
					"demucs_available": true,
					"gpu_available": true,
					"model": "htdemucs_ft"
				}`))
			})
		})

		Context("without demucs", func() {
			It("reports unhealthy with a 200", func() {
				serve(httptest.NewRequest(http.MethodGet, "/health", nil))

				Expect(recorder.Code).To(Equal(http.StatusOK))
				Expect(recorder.Body.String()).To(MatchJSON(`{
					"status": "unhealthy",
					"demucs_available": false,
					"gpu_available": false,
					"model": "htdemucs_ft"
				}`))
			})
		})
	})

	Describe("GET /models", func() {
		BeforeEach(func() {
			sepOpts = append(sepOpts, stems.WithModels("htdemucs_ft", "htdemucs"))
		})

		It("lists the models", func() {
			serve(httptest.NewRequest(http.MethodGet, "/models", nil))

			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(recorder.Body.String()).To(MatchJSON(`{
				"available_models": ["htdemucs_ft", "htdemucs"],
				"current_model": "htdemucs_ft"
			}`))
		})
	})

	Describe("GET /metrics", func() {
		It("serves the metrics handler", func() {
			serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(recorder.Body.String()).To(Equal("# metrics\n"))
		})
	})

	Describe("POST /separate", func() {
		Context("when demucs succeeds", func() {
			BeforeEach(func() {
				fake.On("python", stemstest.Demucs("vocals", "drums", "bass", "other"))
			})

			It("returns the stems as a zip attachment and cleans up", func() {
				serve(upload{filename: "track.wav", content: []byte("RIFF")}.request("/separate"))

				Expect(recorder.Code).To(Equal(http.StatusOK))
				Expect(recorder.Header().Get("Content-Disposition")).To(ContainSubstring(`track_stems.zip`))
				Expect(recorder.Header().Get("X-Request-Id")).NotTo(BeEmpty())

				data, err := io.ReadAll(recorder.Body)
				Expect(err).NotTo(HaveOccurred())

				zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
				Expect(err).NotTo(HaveOccurred())

				var names []string
				for _, f := range zr.File {
					names = append(names, f.Name)
				}
				Expect(names).To(ConsistOf("vocals.mp3", "drums.mp3", "bass.mp3", "other.mp3"))

				entries, err := os.ReadDir(workDir)
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(BeEmpty())
			})

			It("forwards model, format and bitrate", func() {
				serve(upload{
					filename: "track.mp3",
					content:  []byte("ID3"),
					fields:   map[string]string{"model": "htdemucs", "bitrate": "192"},
				}.request("/separate?format=mp3"))

				Expect(recorder.Code).To(Equal(http.StatusOK))

				args := fake.Invocations()[0].Args
				Expect(stemstest.ArgAfter(args, "-n")).To(Equal("htdemucs"))
				Expect(stemstest.ArgAfter(args, "--mp3-bitrate")).To(Equal("192"))
			})

			It("rejects a bad bitrate", func() {
				serve(upload{
					filename: "track.mp3",
					content:  []byte("ID3"),
					fields:   map[string]string{"bitrate": "loud"},
				}.request("/separate"))

				Expect(recorder.Code).To(Equal(http.StatusBadRequest))
				Expect(detailOf(recorder)).To(Equal("Invalid bitrate: loud"))
				Expect(fake.Invocations()).To(BeEmpty())
			})
		})

		It("rejects a request without a file", func() {
			serve(upload{fields: map[string]string{"model": "htdemucs"}}.request("/separate"))

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
			Expect(detailOf(recorder)).To(Equal("No file provided"))
		})

		It("rejects unsupported extensions", func() {
			serve(upload{filename: "notes.pdf", content: []byte("%PDF")}.request("/separate"))

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
			Expect(detailOf(recorder)).To(HavePrefix("Unsupported file format: .pdf. Supported: "))
			Expect(fake.Invocations()).To(BeEmpty())
		})

		Context("when demucs fails", func() {
			BeforeEach(func() {
				fake.On("python", stemstest.Failing("boom"))
			})

			It("answers 500 with the failure", func() {
				serve(upload{filename: "track.ogg", content: []byte("OggS")}.request("/separate"))

				Expect(recorder.Code).To(Equal(http.StatusInternalServerError))
				Expect(detailOf(recorder)).To(Equal("Stem separation failed: DeMucs failed: boom"))
			})
		})

		Context("when demucs takes too long", func() {
			BeforeEach(func() {
				fake.On("python", stemstest.Blocking)
				sepOpts = append(sepOpts, stems.WithTimeout(20*time.Millisecond))
			})

			It("answers 504", func() {
				serve(upload{filename: "track.flac", content: []byte("fLaC")}.request("/separate"))

				Expect(recorder.Code).To(Equal(http.StatusGatewayTimeout))
				Expect(detailOf(recorder)).To(Equal("Processing timeout"))
			})
		})
	})

	Describe("Unknown routes", func() {
		It("answers with a JSON detail", func() {
			serve(httptest.NewRequest(http.MethodGet, "/nope", nil))

			Expect(recorder.Code).To(Equal(http.StatusNotFound))
			Expect(detailOf(recorder)).To(Equal("Not Found"))
		})
	})

	Describe("CORS", func() {
		It("allows any origin", func() {
			req := httptest.NewRequest(http.MethodGet, "/models", nil)
			req.Header.Set("Origin", "https://karaoke.example")
			serve(req)

			Expect(recorder.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})
})
