package stems_test

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cwbudde/algo-karaoke/dsp/f0"
	"github.com/cwbudde/algo-karaoke/internal/executor"
	"github.com/cwbudde/algo-karaoke/internal/stems"
	"github.com/cwbudde/algo-karaoke/internal/stems/stemstest"
)

var quiet = &log.Logger{Handler: discard.Default, Level: log.InfoLevel}

func zipEntries(path string) map[string]string {
	r, err := zip.OpenReader(path)
	Expect(err).NotTo(HaveOccurred())
	defer r.Close()

	out := map[string]string{}
	for _, f := range r.File {
		Expect(f.Method).To(Equal(zip.Deflate))

		rc, err := f.Open()
		Expect(err).NotTo(HaveOccurred())
		data, err := io.ReadAll(rc)
		Expect(err).NotTo(HaveOccurred())
		rc.Close()

		out[f.Name] = string(data)
	}

	return out
}

var _ = Describe("Separator", func() {
	var (
		fake      *executor.Fake
		workDir   string
		opts      []stems.Option
		separator *stems.Separator
		request   stems.Request
	)

	BeforeEach(func() {
		fake = executor.NewFake()
		workDir = tempDir()
		opts = []stems.Option{stems.WithWorkDir(workDir), stems.WithLogger(quiet)}
		request = stems.Request{
			Filename: "My Song.flac",
			Audio:    strings.NewReader("not really audio"),
		}
	})

	JustBeforeEach(func() {
		separator = stems.New(fake, opts...)
	})

	workDirEntries := func() []os.DirEntry {
		entries, err := os.ReadDir(workDir)
		Expect(err).NotTo(HaveOccurred())
		return entries
	}

	Describe("Args", func() {
		It("requests mp3 output at the given bitrate on the CPU", func() {
			Expect(separator.Args("htdemucs_ft", stems.FormatMP3, 320, "/tmp/out", "/tmp/input.wav")).To(Equal([]string{
				"-m", "demucs", "--mp3", "--mp3-bitrate", "320", "-n", "htdemucs_ft", "-o", "/tmp/out", "/tmp/input.wav",
			}))
		})

		Context("on an accelerator", func() {
			BeforeEach(func() {
				opts = append(opts, stems.WithDevice(f0.DeviceAccelerator))
			})

			It("adds the cuda device before the input", func() {
				Expect(separator.Args("htdemucs", stems.FormatWAV, 320, "out", "in.mp3")).To(Equal([]string{
					"-m", "demucs", "-n", "htdemucs", "-o", "out", "--device", "cuda", "in.mp3",
				}))
			})
		})
	})

	Describe("Happy path", func() {
		BeforeEach(func() {
			fake.On("python", stemstest.Demucs("vocals", "drums", "bass", "other"))
		})

		It("zips every stem and cleans up on Close", func() {
			archive, err := separator.Separate(context.Background(), request)
			Expect(err).NotTo(HaveOccurred())

			By("Naming the archive after the upload", func() {
				Expect(archive.Name).To(Equal("My Song_stems.zip"))
				Expect(archive.Stems).To(Equal([]string{"bass.mp3", "drums.mp3", "other.mp3", "vocals.mp3"}))
				Expect(archive.Size).To(BeNumerically(">", 0))
			})

			By("Packing the stem contents", func() {
				entries := zipEntries(archive.Path)
				Expect(entries).To(HaveLen(4))
				Expect(entries["vocals.mp3"]).To(Equal("stem vocals"))
			})

			By("Running demucs once inside the temp dir", func() {
				invs := fake.Invocations()
				Expect(invs).To(HaveLen(1))
				Expect(invs[0].Dir).To(HavePrefix(workDir))
				Expect(invs[0].Args[len(invs[0].Args)-1]).To(HaveSuffix("input.flac"))
				Expect(invs[0].Args).To(ContainElements("--mp3-bitrate", "320", "htdemucs_ft"))

				stored, err := os.ReadFile(invs[0].Args[len(invs[0].Args)-1])
				Expect(err).NotTo(HaveOccurred())
				Expect(string(stored)).To(Equal("not really audio"))
			})

			By("Removing the temp dir on Close", func() {
				Expect(workDirEntries()).To(HaveLen(1))
				Expect(archive.Close()).To(Succeed())
				Expect(workDirEntries()).To(BeEmpty())
				Expect(archive.Close()).To(Succeed())
			})
		})

		It("keeps wav stems when wav output is requested", func() {
			request.Format = stems.FormatWAV
			request.Bitrate = 128

			archive, err := separator.Separate(context.Background(), request)
			Expect(err).NotTo(HaveOccurred())
			defer archive.Close()

			Expect(archive.Stems).To(ConsistOf("bass.wav", "drums.wav", "other.wav", "vocals.wav"))
			Expect(fake.Invocations()[0].Args).NotTo(ContainElement("--mp3"))
		})

		It("passes the requested model through", func() {
			request.Model = "htdemucs_6s"

			archive, err := separator.Separate(context.Background(), request)
			Expect(err).NotTo(HaveOccurred())
			defer archive.Close()

			Expect(fake.Invocations()[0].Args).To(ContainElement("htdemucs_6s"))
		})
	})

	Describe("Rejected requests", func() {
		It("refuses unsupported extensions before running anything", func() {
			request.Filename = "notes.txt"

			_, err := separator.Separate(context.Background(), request)
			Expect(errors.Is(err, stems.ErrUnsupportedFormat)).To(BeTrue())
			Expect(err.Error()).To(HavePrefix("Unsupported file format: .txt"))
			Expect(fake.Invocations()).To(BeEmpty())
			Expect(workDirEntries()).To(BeEmpty())
		})

		It("refuses a missing file name", func() {
			request.Filename = ""

			_, err := separator.Separate(context.Background(), request)
			Expect(errors.Is(err, stems.ErrNoFile)).To(BeTrue())
		})

		It("refuses model names that could escape the output dir", func() {
			request.Model = "../etc"

			_, err := separator.Separate(context.Background(), request)
			Expect(errors.Is(err, stems.ErrInvalidRequest)).To(BeTrue())
			Expect(fake.Invocations()).To(BeEmpty())
		})

		It("refuses unknown output formats", func() {
			request.Format = "flac"

			_, err := separator.Separate(context.Background(), request)
			Expect(errors.Is(err, stems.ErrInvalidRequest)).To(BeTrue())
		})
	})

	Describe("Failures", func() {
		It("reports a demucs failure with its output and cleans up", func() {
			fake.On("python", stemstest.Failing("RuntimeError: CUDA out of memory"))

			_, err := separator.Separate(context.Background(), request)
			Expect(errors.Is(err, stems.ErrSeparation)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("CUDA out of memory"))
			Expect(errors.GetAllDetails(err)).To(ContainElement(ContainSubstring("CUDA out of memory")))
			Expect(workDirEntries()).To(BeEmpty())
		})

		It("reports a missing stems directory", func() {
			fake.On("python", stemstest.Silent)

			_, err := separator.Separate(context.Background(), request)
			Expect(errors.Is(err, stems.ErrSeparation)).To(BeTrue())
			Expect(err.Error()).To(Equal("Stems directory not found"))
			Expect(workDirEntries()).To(BeEmpty())
		})

		Context("with a short timeout", func() {
			BeforeEach(func() {
				opts = append(opts, stems.WithTimeout(20*time.Millisecond))
				fake.On("python", stemstest.Blocking)
			})

			It("reports a timeout and cleans up", func() {
				_, err := separator.Separate(context.Background(), request)
				Expect(errors.Is(err, stems.ErrTimeout)).To(BeTrue())
				Expect(err.Error()).To(Equal("Processing timeout"))
				Expect(workDirEntries()).To(BeEmpty())
			})
		})

		It("gives up when the caller goes away", func() {
			fake.On("python", stemstest.Blocking)

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()

			_, err := separator.Separate(ctx, request)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(errors.Is(err, stems.ErrTimeout)).To(BeFalse())
		})
	})

	Describe("Concurrency", func() {
		var running, peak int32

		BeforeEach(func() {
			running, peak = 0, 0
			opts = append(opts, stems.WithWorkers(2))

			inner := stemstest.Demucs("vocals")
			fake.On("python", func(ctx context.Context, inv executor.Invocation) ([]byte, error) {
				n := atomic.AddInt32(&running, 1)
				defer atomic.AddInt32(&running, -1)

				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}

				time.Sleep(20 * time.Millisecond)

				return inner(ctx, inv)
			})
		})

		It("never runs more demucs processes than workers", func() {
			var wg sync.WaitGroup
			for i := 0; i < 6; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()

					archive, err := separator.Separate(context.Background(), stems.Request{
						Filename: "song.mp3",
						Audio:    strings.NewReader("x"),
					})
					Expect(err).NotTo(HaveOccurred())
					Expect(archive.Close()).To(Succeed())
				}()
			}
			wg.Wait()

			Expect(atomic.LoadInt32(&peak)).To(BeNumerically("<=", 2))
			Expect(fake.Invocations()).To(HaveLen(6))
			Expect(workDirEntries()).To(BeEmpty())
		})
	})

	Describe("Health", func() {
		It("is healthy when demucs answers --help", func() {
			fake.On("python", stemstest.Demucs())

			h := separator.Health(context.Background())
			Expect(h.Healthy()).To(BeTrue())
			Expect(h.Status()).To(Equal("healthy"))
			Expect(h.Model).To(Equal("htdemucs_ft"))
			Expect(h.GPUAvailable).To(BeFalse())
			Expect(fake.Invocations()[0].Args).To(Equal([]string{"-m", "demucs", "--help"}))
		})

		It("is unhealthy when python is missing", func() {
			h := separator.Health(context.Background())
			Expect(h.Healthy()).To(BeFalse())
			Expect(h.Status()).To(Equal("unhealthy"))
		})
	})

	Describe("Models", func() {
		BeforeEach(func() {
			opts = append(opts, stems.WithModels("htdemucs", "htdemucs_ft", "htdemucs", "mdx_extra"))
		})

		It("lists the default first without duplicates", func() {
			Expect(separator.Model()).To(Equal("htdemucs"))
			Expect(separator.Models()).To(Equal([]string{"htdemucs", "htdemucs_ft", "mdx_extra"}))
		})
	})
})

var _ = Describe("Request helpers", func() {
	DescribeTable("Extension",
		func(name, want string, ok bool) {
			ext, err := stems.Extension(name)
			if ok {
				Expect(err).NotTo(HaveOccurred())
				Expect(ext).To(Equal(want))
			} else {
				Expect(err).To(HaveOccurred())
			}
		},
		Entry("mp3", "a.mp3", ".mp3", true),
		Entry("upper case", "A.WAV", ".wav", true),
		Entry("m4a", "x.y.m4a", ".m4a", true),
		Entry("no extension", "song", "", false),
		Entry("text", "song.txt", "", false),
	)

	It("names archives after the upload base name", func() {
		Expect(stems.ArchiveName("dir/track.mp3")).To(Equal("track_stems.zip"))
		Expect(stems.ArchiveName(`C:\music\track.wav`)).To(Equal("track_stems.zip"))
	})

	It("parses formats", func() {
		f, ok := stems.ParseFormat(" MP3 ")
		Expect(ok).To(BeTrue())
		Expect(f).To(Equal(stems.FormatMP3))

		_, ok = stems.ParseFormat("ogg")
		Expect(ok).To(BeFalse())
	})
})
