package cmd

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

const sampleConfig = `
http_server:
  port: 9090
  read_header_timeout: 5s
  read_timeout: 15s
database:
  source: postgres://localhost/cash_advance
  max_open_conns: 10
  max_idle_conns: 2
security:
  jwt_secret: a-secret-that-is-long-enough-for-hs256
  access_token_duration: 30m
policy:
  reimbursement_ceiling: "250000.50"
  monthly_limit: 3
  document_threshold: 75000
  document_required_types: travel, training
  timezone: Asia/Jakarta
redis:
  idempotency_ttl: 2h
`

var _ = Describe("loadConfig", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		GinkgoT().Setenv("APP_ENV", "")
		GinkgoT().Setenv("DOCKER_ENV", "")
	})

	write := func(body string) {
		Expect(os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600)).To(Succeed())
	}

	It("decodes durations, decimals and lists", func() {
		write(sampleConfig)

		cfg, err := loadConfig(dir)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Server.Port).To(Equal(9090))
		Expect(cfg.Security.AccessTokenDuration).To(Equal(30 * time.Minute))
		Expect(cfg.Redis.KeyTTL).To(Equal(2 * time.Hour))
		Expect(cfg.Policy.ReimbursementCeiling.Equal(decimal.RequireFromString("250000.50"))).To(BeTrue())
		Expect(cfg.Policy.DocumentThreshold.Equal(decimal.NewFromInt(75000))).To(BeTrue())
		Expect(cfg.Policy.MonthlyLimit).To(Equal(3))
		Expect(cfg.Policy.DocumentRequiredTypes).To(HaveLen(2))
	})

	It("fills defaults the file leaves out", func() {
		write(sampleConfig)

		cfg, err := loadConfig(dir)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Security.FinanceRole).To(Equal("finance"))
		Expect(cfg.RateLimit.Rate).To(Equal("100-M"))
		Expect(cfg.Observability.Logging.Level).To(Equal("info"))
	})

	It("rejects a short signing secret", func() {
		write(`
security:
  jwt_secret: short
database:
  max_open_conns: 1
  max_idle_conns: 1
`)

		_, err := loadConfig(dir)
		Expect(err).To(MatchError(ContainSubstring("jwt_secret must be at least 32 characters")))
	})

	It("reports a missing file", func() {
		_, err := loadConfig(dir)
		Expect(err).To(MatchError(ContainSubstring("error reading config")))
	})
})
