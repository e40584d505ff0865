package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cwbudde/algo-karaoke/internal/config"
)

var _ = Describe("Config", func() {
	Describe("Default", func() {
		It("matches the service defaults", func() {
			cfg := config.Default()

			Expect(cfg.Host).To(Equal("0.0.0.0"))
			Expect(cfg.Port).To(Equal(8000))
			Expect(cfg.Workers).To(Equal(1))
			Expect(cfg.Demucs.Python).To(Equal("python"))
			Expect(cfg.Demucs.Model).To(Equal("htdemucs_ft"))
			Expect(cfg.Demucs.Timeout).To(Equal(300 * time.Second))
			Expect(cfg.Address()).To(Equal("0.0.0.0:8000"))
			Expect(cfg.Validate()).To(Succeed())
		})
	})

	Describe("LoadFromReader", func() {
		It("overlays yaml on the defaults", func() {
			cfg, err := config.LoadFromReader(strings.NewReader(`
port: 9001
workers: 3
demucs:
  model: htdemucs
  models: [htdemucs, htdemucs_ft]
  timeout: 90s
`))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Port).To(Equal(9001))
			Expect(cfg.Workers).To(Equal(3))
			Expect(cfg.Host).To(Equal("0.0.0.0"))
			Expect(cfg.Demucs.Model).To(Equal("htdemucs"))
			Expect(cfg.Demucs.Models).To(ConsistOf("htdemucs", "htdemucs_ft"))
			Expect(cfg.Demucs.Timeout).To(Equal(90 * time.Second))
			Expect(cfg.Demucs.Python).To(Equal("python"))
		})

		It("accepts an empty document", func() {
			cfg, err := config.LoadFromReader(strings.NewReader(""))
			Expect(err).NotTo(HaveOccurred())
			Expect(*cfg).To(Equal(config.Default()))
		})

		It("rejects unknown keys", func() {
			_, err := config.LoadFromReader(strings.NewReader("prot: 80\n"))
			Expect(err).To(HaveOccurred())
		})

		It("reports every invalid field", func() {
			_, err := config.LoadFromReader(strings.NewReader(`
port: 0
workers: 0
device: tpu
demucs:
  default_format: flac
`))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("port"))
			Expect(err.Error()).To(ContainSubstring("workers"))
			Expect(err.Error()).To(ContainSubstring("device"))
			Expect(err.Error()).To(ContainSubstring("default_format"))
		})
	})

	Describe("ApplyEnv", func() {
		var env map[string]string

		getenv := func(k string) string { return env[k] }

		BeforeEach(func() {
			env = map[string]string{}
		})

		It("overrides host, port and workers", func() {
			env["HOST"] = "127.0.0.1"
			env["PORT"] = "8080"
			env["WORKERS"] = "4"

			cfg := config.Default()
			Expect(cfg.ApplyEnv(getenv)).To(Succeed())
			Expect(cfg.Address()).To(Equal("127.0.0.1:8080"))
			Expect(cfg.Workers).To(Equal(4))
		})

		It("leaves values alone when unset", func() {
			cfg := config.Default()
			Expect(cfg.ApplyEnv(getenv)).To(Succeed())
			Expect(cfg).To(Equal(config.Default()))
		})

		It("rejects non-numeric ports", func() {
			env["PORT"] = "eighty"

			cfg := config.Default()
			Expect(cfg.ApplyEnv(getenv)).NotTo(Succeed())
		})
	})

	Describe("Load", func() {
		It("reads a file from disk", func() {
			path := filepath.Join(tempDir(), "stems.yaml")
			Expect(os.WriteFile(path, []byte("log_level: debug\n"), 0o644)).To(Succeed())

			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.LogLevel).To(Equal("debug"))
		})

		It("fails for a missing file", func() {
			_, err := config.Load(filepath.Join(tempDir(), "missing.yaml"))
			Expect(err).To(HaveOccurred())
		})
	})
})
