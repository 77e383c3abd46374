package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/splitit/internal/storage"
)

func tinyPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

func pngDataURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(tinyPNG())
}

var _ = Describe("ImageResolver", func() {
	var resolver *ImageResolver

	BeforeEach(func() {
		resolver = NewImageResolver(nil)
	})

	When("given a base64 data URI", func() {
		It("decodes the payload and content type", func() {
			data, contentType, err := resolver.Resolve(pngDataURI())
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(tinyPNG()))
			Expect(contentType).To(Equal("image/png"))
		})
	})

	When("the padding was stripped", func() {
		It("still decodes", func() {
			uri := "data:image/jpeg;base64," + base64.RawStdEncoding.EncodeToString([]byte("abcd"))
			data, contentType, err := resolver.Resolve(uri)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("abcd"))
			Expect(contentType).To(Equal("image/jpeg"))
		})
	})

	When("the data URI has no comma", func() {
		It("returns an error", func() {
			_, _, err := resolver.Resolve("data:image/png;base64")
			Expect(err).To(HaveOccurred())
		})
	})

	When("given a storage key without storage", func() {
		It("returns ErrNoImageSource", func() {
			_, _, err := resolver.Resolve("bill.png")
			Expect(err).To(MatchError(ErrNoImageSource))
		})
	})

	When("given a storage key", func() {
		BeforeEach(func() {
			store, err := storage.NewLocalStorage(GinkgoT().TempDir())
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Save("bill.png", tinyPNG())
			Expect(err).NotTo(HaveOccurred())
			resolver = NewImageResolver(store)
		})

		It("loads the upload and sniffs its type", func() {
			data, contentType, err := resolver.Resolve("file://bill.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(tinyPNG()))
			Expect(contentType).To(Equal("image/png"))
		})

		It("returns an error for a missing upload", func() {
			_, _, err := resolver.Resolve("missing.png")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("ContentTypeFromName", func() {
	DescribeTable("maps extensions",
		func(name, expected string) {
			Expect(ContentTypeFromName(name)).To(Equal(expected))
		},
		Entry("jpeg", "a.JPEG", "image/jpeg"),
		Entry("heic", "IMG_1.heic", "image/heic"),
		Entry("pdf", "bill.pdf", "application/pdf"),
		Entry("unknown", "bill.txt", "application/octet-stream"),
	)
})

var _ = Describe("promptFor", func() {
	It("mentions the person count in simple mode", func() {
		Expect(promptFor(AnalysisRequest{NumPeople: 3})).To(ContainSubstring("between 3 people"))
	})

	It("asks for items in itemized mode", func() {
		Expect(promptFor(AnalysisRequest{Interactive: true})).To(ContainSubstring(`"items"`))
	})
})

var _ = Describe("FunctionClient", func() {
	var (
		server *ghttp.Server
		client *FunctionClient
		req    AnalysisRequest
		answer string
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		client = NewFunctionClientWithHTTP(server.URL()+"/functions/v1/analyze-bill", "anon-key", http.DefaultClient)
		req = AnalysisRequest{ImageURI: "data:image/jpeg;base64,AAAA", NumPeople: 3, AccessToken: "token-123"}
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		answer, err = client.Analyze(context.Background(), req)
	})

	When("the function answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/functions/v1/analyze-bill"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer token-123"),
				ghttp.VerifyHeaderKV("apikey", "anon-key"),
				ghttp.VerifyJSON(`{"imageUri":"data:image/jpeg;base64,AAAA","numPeople":3,"interactive":false}`),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]string{"analysis": `{"splitAmount": 10}`}),
			))
		})

		It("returns the analysis text", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(answer).To(Equal(`{"splitAmount": 10}`))
		})
	})

	When("the request is itemized", func() {
		BeforeEach(func() {
			req.Interactive = true
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyJSON(`{"imageUri":"data:image/jpeg;base64,AAAA","interactive":true}`),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]string{"analysis": "{}"}),
			))
		})

		It("omits the person count", func() {
			Expect(err).NotTo(HaveOccurred())
		})
	})

	When("the function fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusBadGateway, "upstream down"))
		})

		It("returns ErrTransport", func() {
			Expect(err).To(MatchError(ErrTransport))
			Expect(err.Error()).To(ContainSubstring("502"))
		})
	})

	When("the analysis field is missing", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]string{"other": "x"}))
		})

		It("returns ErrTransport", func() {
			Expect(err).To(MatchError(ErrTransport))
		})
	})

	When("the body is not JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "<html>"))
		})

		It("returns ErrTransport", func() {
			Expect(err).To(MatchError(ErrTransport))
		})
	})
})

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		ollama *Ollama
		answer string
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var newErr error
		ollama, newErr = NewOllama(server.URL(), "llava", NewImageResolver(nil))
		Expect(newErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		answer, err = ollama.Analyze(context.Background(), AnalysisRequest{ImageURI: pngDataURI(), NumPeople: 2})
	})

	When("ollama answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: "  each pays $12.00  "},
					Done:    true,
				}),
			))
		})

		It("returns the trimmed content", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(answer).To(Equal("each pays $12.00"))
		})
	})

	When("ollama returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not found"))
		})

		It("returns ErrTransport", func() {
			Expect(err).To(MatchError(ErrTransport))
		})
	})

	When("ollama returns empty content", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{Done: true}))
		})

		It("returns ErrTransport", func() {
			Expect(err).To(MatchError(ErrTransport))
		})
	})
})

var _ = Describe("Ollama image loading", func() {
	var (
		server *ghttp.Server
		ollama *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		store, err := storage.NewLocalStorage(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		ollama, err = NewOllama(server.URL(), "llava", NewImageResolver(store))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("reports a key outside storage as an image error", func() {
		_, err := ollama.Analyze(context.Background(), AnalysisRequest{ImageURI: "../../etc/passwd"})
		Expect(err).To(MatchError(ErrImage))
		Expect(err).To(MatchError(storage.ErrInvalidKey))
		Expect(err).NotTo(MatchError(ErrTransport))
		Expect(server.ReceivedRequests()).To(BeEmpty())
	})

	It("reports undecodable bytes as an image error", func() {
		uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("not a jpeg"))
		_, err := ollama.Analyze(context.Background(), AnalysisRequest{ImageURI: uri})
		Expect(err).To(MatchError(ErrImage))
		Expect(server.ReceivedRequests()).To(BeEmpty())
	})
})

var _ = Describe("Analyzer defaults", func() {
	It("uses the default Gemini model when none is named", func() {
		gemini, err := NewGemini(context.Background(), "test-key", "", nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(gemini.Close)
		Expect(gemini.name).To(Equal(DefaultGeminiModel))
	})

	It("keeps an explicit Gemini model", func() {
		gemini, err := NewGemini(context.Background(), "test-key", "gemini-2.5-pro", nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(gemini.Close)
		Expect(gemini.name).To(Equal("gemini-2.5-pro"))
	})

	It("uses the default Ollama endpoint and model when none are named", func() {
		ollama, err := NewOllama("", "", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(ollama.baseURL).To(Equal(DefaultOllamaURL))
		Expect(ollama.model).To(Equal(DefaultOllamaModel))
	})
})
