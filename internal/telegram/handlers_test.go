package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/tardy-bot/internal/domain"
	"github.com/ykvlv/tardy-bot/internal/hr"
	"github.com/ykvlv/tardy-bot/internal/store"
)

// fakeAPI records outgoing bot traffic; sends to chats listed in failFor
// fail, simulating an unreachable recipient.
type fakeAPI struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	failFor  map[int64]bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok && f.failFor[m.ChatID] {
		return tgbotapi.Message{}, errors.New("chat unreachable")
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// lastTextTo returns the text of the most recent plain message sent to chatID.
func (f *fakeAPI) lastTextTo(chatID int64) string {
	for i := len(f.sent) - 1; i >= 0; i-- {
		if m, ok := f.sent[i].(tgbotapi.MessageConfig); ok && m.ChatID == chatID {
			return m.Text
		}
	}
	return ""
}

func (f *fakeAPI) countTo(chatID int64) int {
	n := 0
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok && m.ChatID == chatID {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	employee    *hr.Employee
	verifyErr   error
	supervisor  string
	syncErr     error
	decisions   []hr.Decision
	decisionErr error
}

func (g *fakeGateway) Verify(ctx context.Context, passport, birthdate, identity string) (*hr.Employee, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.employee, nil
}

func (g *fakeGateway) SyncSupervisor(ctx context.Context, passport, birthdate string) (string, error) {
	return g.supervisor, g.syncErr
}

func (g *fakeGateway) SendDecision(ctx context.Context, d hr.Decision) error {
	if g.decisionErr != nil {
		return g.decisionErr
	}
	g.decisions = append(g.decisions, d)
	return nil
}

// testClock fixes Now while keeping the real formatting behavior.
type testClock struct {
	*domain.Clock
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type harness struct {
	router *Router
	api    *fakeAPI
	gw     *fakeGateway
	repo   store.Repo
	clock  *testClock
}

func newHarness(t *testing.T, gw *fakeGateway) *harness {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	base, err := domain.NewClock("UTC")
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	clock := &testClock{Clock: base, now: time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)}
	api := &fakeAPI{failFor: map[int64]bool{}}
	return &harness{
		router: NewRouter(api, zap.NewNop(), repo, gw, clock),
		api:    api,
		gw:     gw,
		repo:   repo,
		clock:  clock,
	}
}

func (h *harness) say(id int64, text string) {
	h.router.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: id},
		Chat: &tgbotapi.Chat{ID: id},
		Text: text,
	}})
}

func (h *harness) press(id int64, data string) {
	h.router.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: id},
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: 42,
			Chat:      &tgbotapi.Chat{ID: id},
			Text:      "New tardy request",
		},
	}})
}

func (h *harness) registerUser(t *testing.T, u *domain.User) {
	t.Helper()
	if err := h.repo.UpsertUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func strPtr(s string) *string { return &s }

// --- Registration flow ---

func TestRegistrationFlow(t *testing.T) {
	h := newHarness(t, &fakeGateway{employee: &hr.Employee{
		FullName:     "Ivan Petrov",
		IsApprover:   false,
		SupervisorID: "555666777",
	}})

	h.say(111, "/start")
	if got := h.api.lastTextTo(111); got != promptPassport {
		t.Fatalf("after /start: %q", got)
	}

	h.say(111, "ab123")
	if got := h.api.lastTextTo(111); got != badPassport {
		t.Fatalf("bad passport not rejected: %q", got)
	}

	// Whitespace and case are normalized before matching.
	h.say(111, " ad 1234567 ")
	if got := h.api.lastTextTo(111); got != promptBirthdate {
		t.Fatalf("normalized passport not accepted: %q", got)
	}

	h.say(111, "31.02.2005")
	if got := h.api.lastTextTo(111); got != badBirthdate {
		t.Fatalf("invalid date not rejected: %q", got)
	}
	h.say(111, "2005-09-30")
	if got := h.api.lastTextTo(111); got != badBirthdate {
		t.Fatalf("wrong layout not rejected: %q", got)
	}

	h.say(111, "30.09.2005")
	if got := h.api.lastTextTo(111); !strings.Contains(got, "Registration complete") {
		t.Fatalf("registration did not complete: %q", got)
	}

	u, err := h.repo.GetUser(context.Background(), "111")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if u.Passport != "AD1234567" || u.Birthdate != "30.09.2005" || u.FullName != "Ivan Petrov" {
		t.Fatalf("stored user mismatch: %+v", u)
	}
	if u.SupervisorID == nil || *u.SupervisorID != "555666777" {
		t.Fatalf("supervisor not stored: %v", u.SupervisorID)
	}

	// Conversation is terminal: repeating /start shows the menu, not the flow.
	h.say(111, "/start")
	if got := h.api.lastTextTo(111); !strings.Contains(got, "already registered") {
		t.Fatalf("second /start: %q", got)
	}
}

func TestRegistrationBackendUnreachable(t *testing.T) {
	gw := &fakeGateway{verifyErr: errors.New("connection refused")}
	h := newHarness(t, gw)

	h.say(111, "/start")
	h.say(111, "AD1234567")
	h.say(111, "30.09.2005")

	if got := h.api.lastTextTo(111); !strings.Contains(got, "HR connection error") {
		t.Fatalf("transport failure not reported: %q", got)
	}
	if _, err := h.repo.GetUser(context.Background(), "111"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("user must not be written on failure, got %v", err)
	}

	// The conversation stays at the birthdate step: a retry succeeds
	// without re-entering the passport.
	gw.verifyErr = nil
	gw.employee = &hr.Employee{FullName: "Ivan Petrov"}
	h.say(111, "30.09.2005")
	if got := h.api.lastTextTo(111); !strings.Contains(got, "Registration complete") {
		t.Fatalf("retry from same step failed: %q", got)
	}
}

func TestRegistrationNotFoundAndDuplicate(t *testing.T) {
	gw := &fakeGateway{verifyErr: hr.ErrNotFound}
	h := newHarness(t, gw)

	h.say(111, "/start")
	h.say(111, "AD1234567")
	h.say(111, "30.09.2005")
	if got := h.api.lastTextTo(111); !strings.Contains(got, "No employee matches") {
		t.Fatalf("404 mapping: %q", got)
	}

	gw.verifyErr = hr.ErrDuplicate
	h.say(111, "30.09.2005")
	if got := h.api.lastTextTo(111); !strings.Contains(got, "duplicates") {
		t.Fatalf("409 mapping: %q", got)
	}

	gw.verifyErr = &hr.BadRequestError{Reason: "birthdate mismatch"}
	h.say(111, "30.09.2005")
	if got := h.api.lastTextTo(111); !strings.Contains(got, "birthdate mismatch") {
		t.Fatalf("400 mapping: %q", got)
	}
}

func TestResetDeletesUser(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	h.registerUser(t, &domain.User{ID: "111", FullName: "Ivan Petrov"})

	h.say(111, "/reset")
	if _, err := h.repo.GetUser(context.Background(), "111"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("user not deleted on /reset, got %v", err)
	}
	if got := h.api.lastTextTo(111); !strings.Contains(got, promptPassport) {
		t.Fatalf("reset did not restart registration: %q", got)
	}
}

func TestRefreshLeavesUserOnFailure(t *testing.T) {
	gw := &fakeGateway{verifyErr: errors.New("boom")}
	h := newHarness(t, gw)
	h.registerUser(t, &domain.User{ID: "111", Passport: "AD1234567", Birthdate: "30.09.2005", FullName: "Old Name"})

	h.say(111, "/refresh")
	u, err := h.repo.GetUser(context.Background(), "111")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.FullName != "Old Name" {
		t.Fatalf("failed refresh must not touch the row: %+v", u)
	}

	gw.verifyErr = nil
	gw.employee = &hr.Employee{FullName: "New Name", IsApprover: true}
	h.say(111, "/refresh")
	u, _ = h.repo.GetUser(context.Background(), "111")
	if u.FullName != "New Name" || !u.IsApprover {
		t.Fatalf("refresh did not overwrite: %+v", u)
	}
}

// --- Tardy flow ---

func seedEmployee(t *testing.T, h *harness) {
	t.Helper()
	h.registerUser(t, &domain.User{
		ID:           "111",
		Passport:     "AD1234567",
		Birthdate:    "30.09.2005",
		FullName:     "Ivan Petrov",
		SupervisorID: strPtr("222"),
	})
}

func TestTardyCutOff(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	seedEmployee(t, h)

	h.clock.now = time.Date(2025, time.May, 5, 8, 10, 0, 0, time.UTC)
	h.say(111, btnReport)
	if got := h.api.lastTextTo(111); got != noticeCutOff {
		t.Fatalf("at cut-off: %q", got)
	}
	// No conversation was entered: free-form text is ignored.
	before := h.api.countTo(111)
	h.say(111, "traffic")
	if h.api.countTo(111) != before {
		t.Fatalf("conversation entered despite cut-off")
	}

	h.clock.now = time.Date(2025, time.May, 5, 8, 11, 0, 0, time.UTC)
	h.say(111, btnReport)
	if got := h.api.lastTextTo(111); got != promptReason {
		t.Fatalf("after cut-off: %q", got)
	}
}

func TestTardyRequiresRegistration(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	h.say(111, btnReport)
	if got := h.api.lastTextTo(111); got != noticeRegisterFirst {
		t.Fatalf("unregistered report: %q", got)
	}
}

func TestTardyFlowCreatesRequest(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	seedEmployee(t, h)

	h.say(111, btnReport)
	h.say(111, "   ")
	if got := h.api.lastTextTo(111); got != badReason {
		t.Fatalf("empty reason accepted: %q", got)
	}
	h.say(111, "traffic")
	h.say(111, "9am")
	if got := h.api.lastTextTo(111); got != badStartClock {
		t.Fatalf("bad start accepted: %q", got)
	}
	h.say(111, "09:20")
	h.say(111, "09:10")
	if got := h.api.lastTextTo(111); got != badEndBeforeStart {
		t.Fatalf("end before start accepted: %q", got)
	}
	// Same state: only the end time is asked again.
	h.say(111, "09:45")
	if got := h.api.lastTextTo(111); !strings.Contains(got, "Request sent") {
		t.Fatalf("flow did not complete: %q", got)
	}

	req, err := h.repo.GetTardy(context.Background(), 1)
	if err != nil {
		t.Fatalf("request not created: %v", err)
	}
	if req.EmployeeID != "111" || req.ApproverID != "222" {
		t.Fatalf("routing mismatch: %+v", req)
	}
	if req.Reason != "traffic" || req.StartTime != "09:20" || req.EndTime != "09:45" {
		t.Fatalf("fields mismatch: %+v", req)
	}
	if req.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
	if req.SubmittedAt != "2025-05-05 09:00:00" {
		t.Fatalf("submitted_at = %q", req.SubmittedAt)
	}

	// Approver got the notice with both decision buttons.
	notice := h.api.lastTextTo(222)
	if !strings.Contains(notice, "Ivan Petrov") || !strings.Contains(notice, "09:20–09:45") {
		t.Fatalf("approver notice: %q", notice)
	}
}

func TestTardyFlowNoApprover(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	h.registerUser(t, &domain.User{ID: "111", FullName: "Ivan Petrov"}) // no supervisor

	h.say(111, btnReport)
	h.say(111, "traffic")
	h.say(111, "09:20")
	h.say(111, "09:45")
	if got := h.api.lastTextTo(111); got != noticeNoApprover {
		t.Fatalf("missing approver not reported: %q", got)
	}
	if _, err := h.repo.GetTardy(context.Background(), 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("request must not be created without an approver, got %v", err)
	}
}

func TestTardyFlowMalformedApprover(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	h.registerUser(t, &domain.User{ID: "111", SupervisorID: strPtr("not-a-tg-id")})

	h.say(111, btnReport)
	h.say(111, "traffic")
	h.say(111, "09:20")
	h.say(111, "09:45")
	if got := h.api.lastTextTo(111); got != noticeNoApprover {
		t.Fatalf("malformed approver not reported: %q", got)
	}
	if _, err := h.repo.GetTardy(context.Background(), 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("request must not be created, got %v", err)
	}
}

func TestTardyNotifyFailureKeepsRequest(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	seedEmployee(t, h)
	h.api.failFor[222] = true // approver unreachable

	h.say(111, btnReport)
	h.say(111, "traffic")
	h.say(111, "09:20")
	h.say(111, "09:45")

	if got := h.api.lastTextTo(111); !strings.Contains(got, "Could not reach your supervisor") {
		t.Fatalf("soft warning missing: %q", got)
	}
	req, err := h.repo.GetTardy(context.Background(), 1)
	if err != nil {
		t.Fatalf("request rolled back on notify failure: %v", err)
	}
	if req.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
}

// --- Pending list ---

func TestPendingListApproverOnly(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	h.registerUser(t, &domain.User{ID: "111", FullName: "Ivan Petrov"})

	h.say(111, btnPending)
	if got := h.api.lastTextTo(111); got != noticeApproverOnly {
		t.Fatalf("non-approver allowed: %q", got)
	}
}

func TestPendingListNewestFirst(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	h.registerUser(t, &domain.User{ID: "222", FullName: "Boss", IsApprover: true})
	h.registerUser(t, &domain.User{ID: "111", FullName: "Ivan Petrov", SupervisorID: strPtr("222")})

	ctx := context.Background()
	mk := func(submitted string) {
		if _, err := h.repo.CreateTardy(ctx, &domain.TardyRequest{
			EmployeeID: "111", ApproverID: "222", Reason: "r", SubmittedAt: submitted,
		}); err != nil {
			t.Fatalf("seed request: %v", err)
		}
	}
	mk("2025-05-05 09:00:00")
	mk("2025-05-05 10:00:00")

	h.say(222, btnPending)
	var texts []string
	for _, c := range h.api.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok && m.ChatID == 222 && strings.HasPrefix(m.Text, "Request #") {
			texts = append(texts, m.Text)
		}
	}
	if len(texts) != 2 {
		t.Fatalf("want 2 pending cards, got %d", len(texts))
	}
	if !strings.HasPrefix(texts[0], "Request #2") || !strings.HasPrefix(texts[1], "Request #1") {
		t.Fatalf("not newest first: %q, %q", texts[0], texts[1])
	}
}

// --- Approval handler ---

func seedPending(t *testing.T, h *harness) int64 {
	t.Helper()
	h.registerUser(t, &domain.User{ID: "222", FullName: "Boss", IsApprover: true})
	h.registerUser(t, &domain.User{ID: "111", FullName: "Ivan Petrov", SupervisorID: strPtr("222")})
	id, err := h.repo.CreateTardy(context.Background(), &domain.TardyRequest{
		EmployeeID:  "111",
		ApproverID:  "222",
		Reason:      "traffic",
		StartTime:   "09:20",
		EndTime:     "09:45",
		SubmittedAt: "2025-05-05 09:00:00",
	})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return id
}

func TestApproveLifecycle(t *testing.T) {
	gw := &fakeGateway{}
	h := newHarness(t, gw)
	id := seedPending(t, h)

	h.press(222, "tardy_ok:1")

	req, err := h.repo.GetTardy(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.Status != domain.StatusApproved {
		t.Fatalf("status = %s, want approved", req.Status)
	}

	// Employee got the detailed summary.
	notice := h.api.lastTextTo(111)
	if !strings.Contains(notice, "09:20–09:45") || !strings.Contains(notice, "Approved") {
		t.Fatalf("employee notice: %q", notice)
	}

	// Decision mirrored to the HR backend.
	if len(gw.decisions) != 1 {
		t.Fatalf("want 1 mirrored decision, got %d", len(gw.decisions))
	}
	d := gw.decisions[0]
	if d.RequestID != id || d.Verdict != "approved" || d.EmployeeID != "111" || d.ApproverID != "222" {
		t.Fatalf("decision payload: %+v", d)
	}

	// Original notice edited in place with the status label.
	var edited bool
	for _, c := range h.api.sent {
		if e, ok := c.(tgbotapi.EditMessageTextConfig); ok && strings.Contains(e.Text, "Approved") {
			edited = true
		}
	}
	if !edited {
		t.Fatalf("approver notice not edited")
	}
}

func TestDecisionIdempotent(t *testing.T) {
	gw := &fakeGateway{}
	h := newHarness(t, gw)
	id := seedPending(t, h)

	h.press(222, "tardy_ok:1")
	h.press(222, "tardy_rej:1") // second action on the same request

	req, _ := h.repo.GetTardy(context.Background(), id)
	if req.Status != domain.StatusApproved {
		t.Fatalf("second action changed the status to %s", req.Status)
	}
	if len(gw.decisions) != 1 {
		t.Fatalf("decision mirrored twice")
	}
}

func TestDecisionUnauthorized(t *testing.T) {
	gw := &fakeGateway{}
	h := newHarness(t, gw)
	id := seedPending(t, h)

	h.press(333, "tardy_ok:1") // not the approver

	req, _ := h.repo.GetTardy(context.Background(), id)
	if req.Status != domain.StatusPending {
		t.Fatalf("unauthorized action mutated status to %s", req.Status)
	}
	if len(gw.decisions) != 0 {
		t.Fatalf("unauthorized action mirrored a decision")
	}
}

func TestDecisionUnknownRequest(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	h.press(222, "tardy_ok:99")
	if len(h.api.requests) == 0 {
		t.Fatalf("missing transient notice for unknown request")
	}
}

func TestRejectNotifiesEmployee(t *testing.T) {
	gw := &fakeGateway{}
	h := newHarness(t, gw)
	id := seedPending(t, h)

	h.press(222, "tardy_rej:1")

	req, _ := h.repo.GetTardy(context.Background(), id)
	if req.Status != domain.StatusRejected {
		t.Fatalf("status = %s, want rejected", req.Status)
	}
	if got := h.api.lastTextTo(111); !strings.Contains(got, "Rejected") {
		t.Fatalf("employee notice: %q", got)
	}
	if gw.decisions[0].Verdict != "rejected" {
		t.Fatalf("mirrored verdict: %q", gw.decisions[0].Verdict)
	}
}

func TestDecisionMirrorFailureSwallowed(t *testing.T) {
	gw := &fakeGateway{decisionErr: errors.New("gateway down")}
	h := newHarness(t, gw)
	id := seedPending(t, h)

	h.press(222, "tardy_ok:1")

	req, _ := h.repo.GetTardy(context.Background(), id)
	if req.Status != domain.StatusApproved {
		t.Fatalf("mirror failure affected the status: %s", req.Status)
	}
}

func TestParseCallback(t *testing.T) {
	cases := []struct {
		data string
		verb string
		id   int64
		ok   bool
	}{
		{"tardy_ok:7", cbApprove, 7, true},
		{"tardy_rej:12", cbReject, 12, true},
		{"tardy_ok:x", "", 0, false},
		{"other:7", "", 0, false},
		{"tardy_ok", "", 0, false},
	}
	for _, c := range cases {
		verb, id, ok := parseCallback(c.data)
		if ok != c.ok || verb != c.verb || id != c.id {
			t.Fatalf("parseCallback(%q) = (%q, %d, %v)", c.data, verb, id, ok)
		}
	}
}
