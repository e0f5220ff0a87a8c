package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/cash-advance/internal/auth"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

var _ = Describe("redaction", func() {
	It("should filter credential headers", func() {
		h := http.Header{}
		h.Set("Authorization", "Bearer abc")
		h.Set("Idempotency-Key", "k-1")
		out := redactHeaders(h)
		Expect(out["Authorization"]).To(Equal("[FILTERED]"))
		Expect(out["Idempotency-Key"]).To(Equal("k-1"))
	})

	It("should filter nested json secrets", func() {
		out := redactBody([]byte(`{"amount":"10","storage":{"secret_key":"x"},"items":[{"token":"t"}]}`))
		Expect(out).To(ContainSubstring(`"amount":"10"`))
		Expect(out).NotTo(ContainSubstring(`"x"`))
		Expect(out).NotTo(ContainSubstring(`"t"`))
	})

	It("should leave the request body readable by the handler", func() {
		var seen []byte
		handler := AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
		}))
		body := `{"amount":"250.00","notes":"first tranche"}`
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(body)))
		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(string(seen)).To(Equal(body))
	})
})

var _ = Describe("Recovery", func() {
	It("should answer 500 with an error body", func() {
		handler := Recovery(testLogger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).To(ContainSubstring("INTERNAL_ERROR"))
	})
})

var _ = Describe("Trace", func() {
	It("should echo a caller supplied trace id", func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TraceHeader, "trace-123")
		Trace(ok).ServeHTTP(rec, req)
		Expect(rec.Header().Get(TraceHeader)).To(Equal("trace-123"))
	})
})

var _ = Describe("RateLimit", func() {
	It("should refuse requests past the limit with 429", func() {
		l, err := NewLimiter("2-M", nil)
		Expect(err).NotTo(HaveOccurred())
		handler := RateLimit(l, testLogger)(ok)

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.1:5000"
			handler.ServeHTTP(rec, req)
			codes = append(codes, rec.Code)
		}
		Expect(codes).To(Equal([]int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}))
	})

	It("should count principals separately", func() {
		l, err := NewLimiter("1-M", nil)
		Expect(err).NotTo(HaveOccurred())
		handler := RateLimit(l, testLogger)(ok)

		for _, email := range []string{"a@corp.test", "b@corp.test"} {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{Email: email}))
			handler.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusNoContent))
		}
	})

	It("should reject malformed rates", func() {
		_, err := NewLimiter("lots", nil)
		Expect(err).To(HaveOccurred())
	})
})
