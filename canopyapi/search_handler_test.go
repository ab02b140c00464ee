package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/canopyhq/canopy/canopyapi/search"
	"github.com/canopyhq/canopy/pkg/archive"
	"github.com/canopyhq/canopy/pkg/archive/inmemory"
	"github.com/canopyhq/canopy/pkg/llmclient/echo"
	"github.com/canopyhq/canopy/pkg/tree"
)

var _ = Describe("handleSearchEndpoint", func() {
	var (
		server   *Server
		archDrv  *inmemory.Driver
		embedder *echo.Client
		ctx      context.Context
	)

	BeforeEach(func() {
		archDrv = inmemory.New()
		embedder = echo.New(8)
		ctx = context.Background()

		forest := tree.New(15, zap.NewNop())
		server = NewServer(Config{
			ListenAddr:    ":0",
			ArchiveDriver: archDrv,
			Embedder:      embedder,
		}, forest, nil, zap.NewNop())
	})

	Context("when top_k is invalid", func() {
		It("returns 400 for non-integer top_k", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/search?query=test&top_k=abc", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("top_k must be a positive integer"))
		})

		It("returns 400 for zero top_k", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/search?query=test&top_k=0", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 400 for negative top_k", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/search?query=test&top_k=-1", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Context("when search succeeds with no results", func() {
		It("returns 200 with empty results", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/search?query=hello", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var output search.Output
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(json.Unmarshal(body, &output)).To(Succeed())

			Expect(output.Query).To(Equal("hello"))
			Expect(output.Count).To(Equal(0))
			Expect(output.Results).To(BeEmpty())
		})
	})

	Context("when search succeeds with results", func() {
		It("returns 200 with search results honoring top_k", func() {
			vec, err := embedder.Embed(ctx, "greeting")
			Expect(err).NotTo(HaveOccurred())

			Expect(archDrv.Index(ctx, archive.Record{
				ID: "rec-1", NodeID: "node-1", Role: "assistant", Text: "Hi there",
				Timestamp: time.Now(), Embedding: vec,
			})).To(Succeed())

			req, err := http.NewRequest(http.MethodGet, "/v1/search?query=greeting&top_k=3", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var output search.Output
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(json.Unmarshal(body, &output)).To(Succeed())

			Expect(output.Query).To(Equal("greeting"))
			Expect(output.Count).To(Equal(1))
			Expect(output.Results).To(HaveLen(1))
			Expect(output.Results[0].RecordID).To(Equal("rec-1"))
			Expect(output.Results[0].Role).To(Equal("assistant"))
			Expect(output.Results[0].Text).To(Equal("Hi there"))
		})
	})
})
