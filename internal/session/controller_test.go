package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/splitit/internal/auth"
	"github.com/zombor/splitit/internal/bill"
	"github.com/zombor/splitit/internal/scanning"
)

func TestSession(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Suite")
}

// mockAuthenticator is a mock implementation of auth.Authenticator
type mockAuthenticator struct {
	mu      sync.Mutex
	session *auth.Session
	err     error
	calls   int
}

func newMockAuthenticator() *mockAuthenticator {
	return &mockAuthenticator{
		session: &auth.Session{UserID: "user-1", AccessToken: "token-1", ExpiresAt: time.Now().Add(time.Hour)},
	}
}

func (m *mockAuthenticator) SignInAnonymously(ctx context.Context) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

func (m *mockAuthenticator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockAnalyzer is a mock implementation of scanning.Analyzer
type mockAnalyzer struct {
	mu       sync.Mutex
	answer   string
	err      error
	requests []scanning.AnalysisRequest
	release  chan struct{}
}

func (m *mockAnalyzer) Analyze(ctx context.Context, req scanning.AnalysisRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	release := m.release
	answer, err := m.answer, m.err
	m.mu.Unlock()

	if release != nil {
		<-release
	}
	return answer, err
}

func (m *mockAnalyzer) Close() error {
	return nil
}

func (m *mockAnalyzer) LastRequest() scanning.AnalysisRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

const itemizedAnswer = `{"totalAmount":"$23.50","items":[{"name":"Soup","price":"$8.00","quantity":"1"},{"name":"Bread","price":"$15.50","quantity":"1"}]}`

var _ = Describe("Controller", func() {
	var (
		authenticator *mockAuthenticator
		analyzer      *mockAnalyzer
		controller    *Controller
		req           Request
		outcome       scanning.Outcome
		err           error
	)

	BeforeEach(func() {
		authenticator = newMockAuthenticator()
		analyzer = &mockAnalyzer{answer: `{"splitAmount": 12.5}`}
		controller = NewController(authenticator, analyzer)
		req = Request{ImageURI: "data:image/jpeg;base64,AAAA", Mode: scanning.ModeSimple, NumPeople: 3}
	})

	Describe("Analyze", func() {
		JustBeforeEach(func() {
			outcome, err = controller.Analyze(context.Background(), req)
		})

		When("there is no session yet", func() {
			It("signs in anonymously first", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(authenticator.Calls()).To(Equal(1))
				Expect(controller.Session().UserID).To(Equal("user-1"))
			})

			It("forwards the access token", func() {
				Expect(analyzer.LastRequest().AccessToken).To(Equal("token-1"))
			})
		})

		When("a valid session exists", func() {
			BeforeEach(func() {
				existing := &auth.Session{UserID: "existing", AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}
				controller = NewControllerWithDeps(authenticator, analyzer, existing, defaultTimeSource{})
			})

			It("does not sign in again", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(authenticator.Calls()).To(Equal(0))
				Expect(analyzer.LastRequest().AccessToken).To(Equal("tok"))
			})
		})

		When("in simple mode", func() {
			It("returns a SimpleSplit", func() {
				simple, ok := outcome.(scanning.SimpleSplit)
				Expect(ok).To(BeTrue())
				Expect(simple.Amount.Equal(decimal.RequireFromString("12.5"))).To(BeTrue())
			})

			It("sends the person count", func() {
				r := analyzer.LastRequest()
				Expect(r.NumPeople).To(Equal(3))
				Expect(r.Interactive).To(BeFalse())
			})

			It("ends in the succeeded state", func() {
				snap := controller.Snapshot()
				Expect(snap.State).To(Equal(StateSucceeded))
				Expect(snap.PerPerson.Equal(decimal.RequireFromString("12.5"))).To(BeTrue())
				Expect(snap.Bill).To(BeNil())
			})
		})

		When("in itemized mode", func() {
			BeforeEach(func() {
				analyzer.answer = itemizedAnswer
				req.Mode = scanning.ModeItemized
				req.NumPeople = 0
			})

			It("returns the bill", func() {
				Expect(err).NotTo(HaveOccurred())
				itemized, ok := outcome.(scanning.ItemizedBill)
				Expect(ok).To(BeTrue())
				Expect(itemized.Bill.Items).To(HaveLen(2))
			})

			It("marks the request interactive without a person count", func() {
				r := analyzer.LastRequest()
				Expect(r.Interactive).To(BeTrue())
				Expect(r.NumPeople).To(BeZero())
			})

			It("keeps the bill for editing", func() {
				b, ok := controller.Bill()
				Expect(ok).To(BeTrue())
				Expect(b.Total.Equal(decimal.RequireFromString("23.50"))).To(BeTrue())
			})

			It("splits the total between the default two people", func() {
				snap := controller.Snapshot()
				Expect(snap.NumPeople).To(Equal(2))
				Expect(snap.PerPerson.Equal(decimal.RequireFromString("11.75"))).To(BeTrue())
			})
		})

		When("no image was selected", func() {
			BeforeEach(func() {
				req.ImageURI = "  "
			})

			It("returns ErrNoImage without contacting anyone", func() {
				Expect(err).To(MatchError(ErrNoImage))
				Expect(authenticator.Calls()).To(Equal(0))
				Expect(controller.Snapshot().State).To(Equal(StateIdle))
			})
		})

		When("sign-in fails", func() {
			BeforeEach(func() {
				authenticator.err = errors.New("auth service down")
			})

			It("returns an auth error", func() {
				Expect(err).To(MatchError(auth.ErrAuth))
			})

			It("ends in the failed state", func() {
				snap := controller.Snapshot()
				Expect(snap.State).To(Equal(StateFailed))
				Expect(snap.Error).To(ContainSubstring("auth service down"))
			})

			It("never calls the analyzer", func() {
				Expect(analyzer.requests).To(BeEmpty())
			})
		})

		When("the analyzer fails", func() {
			BeforeEach(func() {
				analyzer.err = errors.New("connection refused")
			})

			It("returns a transport error", func() {
				Expect(err).To(MatchError(scanning.ErrTransport))
				Expect(controller.Snapshot().State).To(Equal(StateFailed))
			})
		})

		When("the image cannot be loaded", func() {
			BeforeEach(func() {
				analyzer.err = fmt.Errorf("preparing image: %w: bad bytes", scanning.ErrImage)
			})

			It("keeps the image error instead of blaming the transport", func() {
				Expect(err).To(MatchError(scanning.ErrImage))
				Expect(err).NotTo(MatchError(scanning.ErrTransport))
				Expect(controller.Snapshot().State).To(Equal(StateFailed))
			})
		})

		When("the analyzer returns an empty body", func() {
			BeforeEach(func() {
				analyzer.answer = "   "
			})

			It("returns a transport error", func() {
				Expect(err).To(MatchError(scanning.ErrTransport))
			})
		})

		When("the answer does not parse", func() {
			BeforeEach(func() {
				analyzer.answer = "I cannot read this receipt."
			})

			It("returns the parse error", func() {
				Expect(err).To(MatchError(scanning.ErrNoAmountFound))
				Expect(controller.Snapshot().Err).To(MatchError(scanning.ErrNoAmountFound))
			})
		})

		When("the person count is below one", func() {
			BeforeEach(func() {
				req.NumPeople = -2
			})

			It("keeps the previous count", func() {
				Expect(analyzer.LastRequest().NumPeople).To(Equal(2))
			})
		})
	})

	Describe("overlapping requests", func() {
		var (
			done      chan error
			release   chan struct{}
			firstSeen uint64
		)

		BeforeEach(func() {
			release = make(chan struct{})
			analyzer.release = release
			done = make(chan error, 1)

			go func() {
				defer GinkgoRecover()
				_, err := controller.Analyze(context.Background(), req)
				done <- err
			}()

			Eventually(func() State { return controller.Snapshot().State }).Should(Equal(StateSubmitting))
			firstSeen = controller.Snapshot().Sequence
		})

		It("rejects a second request while submitting", func() {
			_, err := controller.Analyze(context.Background(), req)
			Expect(err).To(MatchError(ErrBusy))

			close(release)
			Eventually(done).Should(Receive(BeNil()))
			Expect(controller.Snapshot().Sequence).To(Equal(firstSeen))
		})

		It("discards the in-flight result after Reset", func() {
			controller.Reset()
			Expect(controller.Snapshot().State).To(Equal(StateIdle))

			close(release)
			Eventually(done).Should(Receive(MatchError(ErrStale)))

			snap := controller.Snapshot()
			Expect(snap.State).To(Equal(StateIdle))
			Expect(snap.Outcome).To(BeNil())
		})

		It("lets a new request start after Reset", func() {
			controller.Reset()

			second := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				_, err := controller.Analyze(context.Background(), req)
				second <- err
			}()

			close(release)
			Eventually(done).Should(Receive(MatchError(ErrStale)))
			Eventually(second).Should(Receive(BeNil()))
			Expect(controller.Snapshot().State).To(Equal(StateSucceeded))
		})
	})

	Describe("bill edits", func() {
		When("no bill exists", func() {
			It("returns ErrNoBill", func() {
				_, err := controller.AddItem()
				Expect(err).To(MatchError(ErrNoBill))
			})
		})

		When("an itemized bill was analyzed", func() {
			BeforeEach(func() {
				analyzer.answer = itemizedAnswer
				_, err := controller.Analyze(context.Background(), Request{ImageURI: "x", Mode: scanning.ModeItemized})
				Expect(err).NotTo(HaveOccurred())
			})

			It("adds an item", func() {
				b, err := controller.AddItem()
				Expect(err).NotTo(HaveOccurred())
				Expect(b.Items).To(HaveLen(3))
			})

			It("updates an item and recomputes", func() {
				b, err := controller.UpdateItem(0, bill.FieldQuantity, "2")
				Expect(err).NotTo(HaveOccurred())
				Expect(b.Total.Equal(decimal.RequireFromString("31.50"))).To(BeTrue())
			})

			It("removes an item", func() {
				b, err := controller.RemoveItem(0)
				Expect(err).NotTo(HaveOccurred())
				Expect(b.Total.Equal(decimal.RequireFromString("15.50"))).To(BeTrue())
			})

			It("keeps the old bill when an edit fails", func() {
				_, err := controller.RemoveItem(9)
				Expect(err).To(MatchError(bill.ErrIndexOutOfRange))
				b, _ := controller.Bill()
				Expect(b.Items).To(HaveLen(2))
			})

			It("overrides and resets the total", func() {
				b, err := controller.SetTotalOverride("30")
				Expect(err).NotTo(HaveOccurred())
				Expect(b.Overridden()).To(BeTrue())

				b, err = controller.ResetTotal()
				Expect(err).NotTo(HaveOccurred())
				Expect(b.Total.Equal(decimal.RequireFromString("23.50"))).To(BeTrue())
			})

			It("drops the bill on Reset", func() {
				controller.Reset()
				_, ok := controller.Bill()
				Expect(ok).To(BeFalse())
			})
		})

		It("accepts a manually started bill", func() {
			controller.StartBill(bill.New(nil))
			b, err := controller.AddItem()
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Items).To(HaveLen(1))
		})
	})

	Describe("people", func() {
		It("never drops below one", func() {
			controller.DecrementPeople()
			controller.DecrementPeople()
			Expect(controller.DecrementPeople()).To(Equal(1))
			Expect(controller.NumPeople()).To(Equal(1))
		})

		It("increments", func() {
			Expect(controller.IncrementPeople()).To(Equal(3))
		})
	})
})
