package scanning

import (
	"context"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server   *ghttp.Server
		provider *Ollama
		out      []byte
		err      error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		provider = NewOllama(server.URL()+"/", "llava:13b", nil, nil)
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		out, err = provider.Generate(context.Background(), Request{
			Image:  []byte{1, 2, 3},
			Prompt: extractionPrompt,
			Schema: OutputSchema(),
		})
	})

	When("the server answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				ghttp.VerifyJSONRepresenting(map[string]any{
					"model":  "llava:13b",
					"stream": false,
					"format": OutputSchema(),
					"options": map[string]any{
						"temperature": 0,
					},
					"messages": []map[string]any{
						{"role": "system", "content": systemPrompt},
						{"role": "user", "content": extractionPrompt, "images": []string{"AQID"}},
					},
				}),
				ghttp.RespondWith(http.StatusOK, `{"message":{"role":"assistant","content":" {\"merchant_name\":\"Cafe\"} "},"done":true}`),
			))
		})

		It("should return the trimmed message content", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).To(Equal(`{"merchant_name":"Cafe"}`))
		})
	})

	When("the message is empty", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"message":{"role":"assistant","content":""},"done":true}`))
		})

		It("should return a malformed response error", func() {
			Expect(KindOf(err)).To(Equal(KindMalformedResponse))
		})
	})

	When("the reply is not JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `<html>`))
		})

		It("should return a malformed response error", func() {
			Expect(KindOf(err)).To(Equal(KindMalformedResponse))
		})
	})

	When("the server fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, `model not found`))
		})

		It("should return a provider error with the status and body", func() {
			Expect(KindOf(err)).To(Equal(KindProvider))
			var ee *ExtractionError
			Expect(errors.As(err, &ee)).To(BeTrue())
			Expect(ee.Status).To(Equal(http.StatusInternalServerError))
			Expect(ee.Body).To(Equal("model not found"))
		})
	})

	When("the server is unreachable", func() {
		BeforeEach(func() {
			server.Close()
		})

		It("should return a provider error", func() {
			Expect(KindOf(err)).To(Equal(KindProvider))
		})
	})
})

var _ = Describe("NewOllama", func() {
	It("should apply defaults", func() {
		o := NewOllama("", "", nil, nil)
		Expect(o.baseURL).To(Equal("http://localhost:11434"))
		Expect(o.model).To(Equal("qwen2.5vl:7b"))
		Expect(o.Name()).To(Equal("ollama"))
		Expect(o.Close()).To(Succeed())
	})
})
