package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/tardy-bot/internal/domain"
	"github.com/ykvlv/tardy-bot/internal/hr"
	"github.com/ykvlv/tardy-bot/internal/metrics"
	"github.com/ykvlv/tardy-bot/internal/store"
)

// --- Registration flow ---

// handleStart enters the registration conversation for unregistered
// identities; registered ones just get the main menu back.
func (r *Router) handleStart(ctx context.Context, identity string, chatID int64) {
	u, err := r.repo.GetUser(ctx, identity)
	if err == nil {
		r.clearConv(identity)
		name := u.FullName
		if name == "" {
			name = "employee"
		}
		msg := tgbotapi.NewMessage(chatID, "✅ You are already registered as: "+name)
		msg.ReplyMarkup = mainMenuKeyboard(u.IsApprover)
		r.send(msg)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		r.log.Error("get user failed", zap.Error(err))
		r.sendText(chatID, noticeStorageError)
		return
	}

	r.setConv(identity, &conversation{Stage: stageAwaitPassport})
	r.sendText(chatID, promptPassport)
}

// handleReset deletes the user record unconditionally and restarts
// registration from the passport step.
func (r *Router) handleReset(ctx context.Context, identity string, chatID int64) {
	if err := r.repo.DeleteUser(ctx, identity); err != nil {
		r.log.Error("delete user failed", zap.Error(err))
		r.sendText(chatID, noticeStorageError)
		return
	}
	r.setConv(identity, &conversation{Stage: stageAwaitPassport})
	r.sendText(chatID, "🔁 Registration reset.\n"+promptPassport)
}

// handleRefresh re-runs verification for an already-registered identity and
// overwrites the stored fields. On any failure the existing row is left
// untouched.
func (r *Router) handleRefresh(ctx context.Context, identity string, chatID int64) {
	u, err := r.repo.GetUser(ctx, identity)
	if err != nil {
		r.sendText(chatID, "⚠️ Could not refresh: you are not registered yet. Use /start.")
		return
	}

	emp, err := r.hr.Verify(ctx, u.Passport, u.Birthdate, identity)
	if err != nil {
		r.reportVerifyError(chatID, err)
		return
	}
	metrics.Verifications.WithLabelValues("ok").Inc()

	name := emp.FullName
	if name == "" {
		name = u.FullName
	}
	if name == "" {
		name = "employee"
	}
	supervisor := u.SupervisorID
	if emp.SupervisorID != "" {
		s := emp.SupervisorID
		supervisor = &s
	}
	updated := &domain.User{
		ID:           identity,
		Passport:     u.Passport,
		Birthdate:    u.Birthdate,
		FullName:     name,
		IsApprover:   emp.IsApprover,
		SupervisorID: supervisor,
		RegisteredAt: r.clock.Now(),
	}
	if err := r.repo.UpsertUser(ctx, updated); err != nil {
		r.log.Error("upsert user failed", zap.Error(err))
		r.sendText(chatID, noticeStorageError)
		return
	}

	approver := "no"
	if emp.IsApprover {
		approver = "yes"
	}
	msg := tgbotapi.NewMessage(chatID, "🔄 Profile refreshed from HR.\nEmployee: "+name+"\nSupervisor role: "+approver)
	msg.ReplyMarkup = mainMenuKeyboard(emp.IsApprover)
	r.send(msg)
}

// handleSync pulls the supervisor assignment from the HR backend and stores
// it, replacing whatever was there.
func (r *Router) handleSync(ctx context.Context, identity string, chatID int64) {
	u, err := r.repo.GetUser(ctx, identity)
	if err != nil {
		r.sendText(chatID, noticeRegisterFirst)
		return
	}

	r.sendText(chatID, "🔄 Syncing with HR…")
	supervisorID, err := r.hr.SyncSupervisor(ctx, u.Passport, u.Birthdate)
	if err != nil {
		r.sendText(chatID, "⚠️ Sync error: "+err.Error())
		return
	}
	if supervisorID == "" {
		_ = r.repo.SetSupervisor(ctx, identity, nil)
		r.sendText(chatID, "⚠️ HR did not return a valid supervisor ID.")
		return
	}
	if err := r.repo.SetSupervisor(ctx, identity, &supervisorID); err != nil {
		r.log.Error("set supervisor failed", zap.Error(err))
		r.sendText(chatID, noticeStorageError)
		return
	}

	msg := tgbotapi.NewMessage(chatID, "✅ Sync complete.\nSupervisor ID: "+supervisorID)
	msg.ReplyMarkup = mainMenuKeyboard(u.IsApprover)
	r.send(msg)
}

// handleConversation dispatches free-form text to the step the identity's
// conversation is waiting on.
func (r *Router) handleConversation(ctx context.Context, identity string, chatID int64, text string) {
	c := r.getConv(identity)
	switch c.Stage {
	case stageAwaitPassport:
		r.stepPassport(identity, chatID, c, text)
	case stageAwaitBirthdate:
		r.stepBirthdate(ctx, identity, chatID, c, text)
	case stageAwaitReason:
		r.stepReason(identity, chatID, c, text)
	case stageAwaitStart:
		r.stepStart(identity, chatID, c, text)
	case stageAwaitEnd:
		r.stepEnd(ctx, identity, chatID, c, text)
	default:
		// No active conversation: ignore free-form text.
	}
}

func (r *Router) stepPassport(identity string, chatID int64, c *conversation, text string) {
	p := domain.NormalizePassport(text)
	if !domain.ValidPassport(p) {
		r.sendText(chatID, badPassport)
		return
	}
	c.Passport = p
	c.Stage = stageAwaitBirthdate
	r.setConv(identity, c)
	r.sendText(chatID, promptBirthdate)
}

func (r *Router) stepBirthdate(ctx context.Context, identity string, chatID int64, c *conversation, text string) {
	b := strings.TrimSpace(text)
	if !domain.ValidBirthdate(b) {
		r.sendText(chatID, badBirthdate)
		return
	}

	r.sendText(chatID, "🔄 Checking with HR…")
	emp, err := r.hr.Verify(ctx, c.Passport, b, identity)
	if err != nil {
		// State unchanged: the user may retry the birthdate or /reset.
		r.reportVerifyError(chatID, err)
		return
	}
	metrics.Verifications.WithLabelValues("ok").Inc()

	name := emp.FullName
	if name == "" {
		name = "employee"
	}
	var supervisor *string
	if emp.SupervisorID != "" {
		s := emp.SupervisorID
		supervisor = &s
	}
	u := &domain.User{
		ID:           identity,
		Passport:     c.Passport,
		Birthdate:    b,
		FullName:     name,
		IsApprover:   emp.IsApprover,
		SupervisorID: supervisor,
		RegisteredAt: r.clock.Now(),
	}
	if err := r.repo.UpsertUser(ctx, u); err != nil {
		r.log.Error("upsert user failed", zap.Error(err))
		r.sendText(chatID, noticeStorageError)
		return
	}

	r.clearConv(identity)
	msg := tgbotapi.NewMessage(chatID, "✅ Registration complete\n👤 Employee: "+name)
	msg.ReplyMarkup = mainMenuKeyboard(emp.IsApprover)
	r.send(msg)
}

// reportVerifyError maps the gateway's error taxonomy to user messages.
func (r *Router) reportVerifyError(chatID int64, err error) {
	var badReq *hr.BadRequestError
	var unexpected *hr.UnexpectedStatusError
	switch {
	case errors.Is(err, hr.ErrNotFound):
		metrics.Verifications.WithLabelValues("not_found").Inc()
		r.sendText(chatID, "❌ No employee matches these details.")
	case errors.Is(err, hr.ErrDuplicate):
		metrics.Verifications.WithLabelValues("duplicate").Inc()
		r.sendText(chatID, "⚠️ Several employees match (duplicates). Contact your administrator.")
	case errors.As(err, &badReq):
		metrics.Verifications.WithLabelValues("bad_request").Inc()
		reason := badReq.Reason
		if reason == "" {
			reason = "Invalid data."
		}
		r.sendText(chatID, "⚠️ Verification error: "+reason)
	case errors.As(err, &unexpected):
		metrics.Verifications.WithLabelValues("unexpected").Inc()
		r.sendText(chatID, fmt.Sprintf("⚠️ Unexpected HR response (%d): %s", unexpected.Code, unexpected.Body))
	default:
		metrics.Verifications.WithLabelValues("error").Inc()
		r.sendText(chatID, "⚠️ HR connection error: "+err.Error())
	}
}

// --- Tardy flow ---

// handleTardyStart is the "I'm late" entry point. Before the cut-off the
// flow is short-circuited without entering conversation state.
func (r *Router) handleTardyStart(ctx context.Context, identity string, chatID int64) {
	if _, err := r.repo.GetUser(ctx, identity); err != nil {
		r.sendText(chatID, noticeRegisterFirst)
		return
	}
	if !r.clock.NotificationRequired(r.clock.Now()) {
		r.sendText(chatID, noticeCutOff)
		return
	}
	r.setConv(identity, &conversation{Stage: stageAwaitReason})
	r.sendText(chatID, promptReason)
}

func (r *Router) stepReason(identity string, chatID int64, c *conversation, text string) {
	reason := strings.TrimSpace(text)
	if reason == "" {
		r.sendText(chatID, badReason)
		return
	}
	c.Reason = reason
	c.Stage = stageAwaitStart
	r.setConv(identity, c)
	r.sendText(chatID, promptStart)
}

func (r *Router) stepStart(identity string, chatID int64, c *conversation, text string) {
	s := strings.TrimSpace(text)
	if _, ok := domain.ParseClockTime(s); !ok {
		r.sendText(chatID, badStartClock)
		return
	}
	c.Start = s
	c.Stage = stageAwaitEnd
	r.setConv(identity, c)
	r.sendText(chatID, promptEnd)
}

func (r *Router) stepEnd(ctx context.Context, identity string, chatID int64, c *conversation, text string) {
	endStr := strings.TrimSpace(text)
	endM, ok := domain.ParseClockTime(endStr)
	if !ok {
		r.sendText(chatID, badEndClock)
		return
	}
	startM, ok := domain.ParseClockTime(c.Start)
	if !ok {
		r.sendText(chatID, "Could not read the start time. Start over with \""+btnReport+"\".")
		r.clearConv(identity)
		return
	}
	if endM < startM {
		// Same state: only the end time is asked again.
		r.sendText(chatID, badEndBeforeStart)
		return
	}

	u, err := r.repo.GetUser(ctx, identity)
	if err != nil {
		r.sendText(chatID, noticeRegisterFirst)
		r.clearConv(identity)
		return
	}

	approverID := ""
	if u.SupervisorID != nil {
		approverID = strings.TrimSpace(*u.SupervisorID)
	}
	if !domain.IsIdentity(approverID) {
		// No request is created without a routable approver.
		r.sendText(chatID, noticeNoApprover)
		r.clearConv(identity)
		return
	}

	now := r.clock.Now()
	req := &domain.TardyRequest{
		EmployeeID:  identity,
		ApproverID:  approverID,
		Reason:      c.Reason,
		StartTime:   c.Start,
		EndTime:     endStr,
		SubmittedAt: r.clock.Stamp(now),
		Status:      domain.StatusPending,
	}
	id, err := r.repo.CreateTardy(ctx, req)
	if err != nil {
		r.log.Error("create tardy failed", zap.Error(err))
		r.sendText(chatID, noticeStorageError)
		r.clearConv(identity)
		return
	}
	req.ID = id
	metrics.RequestsCreated.Inc()

	// The request is committed; an unreachable approver only downgrades
	// the confirmation to a warning, it is still listed as pending.
	notice := approverNotice(u.FullName, c.Start, endStr, c.Reason, r.clock.HM(now))
	if err := r.notifyIdentity(approverID, notice, decisionKeyboard(id)); err != nil {
		metrics.NotifyFailures.Inc()
		r.log.Warn("approver notify failed", zap.Error(err), zap.Int64("requestID", id))
		r.sendText(chatID, "⚠️ Could not reach your supervisor (they may not have started the bot yet). The request is saved as pending.")
	} else {
		r.sendText(chatID, "✅ Request sent to your supervisor.")
	}
	r.clearConv(identity)
}

// --- Pending list (approver-only) ---

func (r *Router) handlePendingList(ctx context.Context, identity string, chatID int64) {
	me, err := r.repo.GetUser(ctx, identity)
	if err != nil || !me.IsApprover {
		r.sendText(chatID, noticeApproverOnly)
		return
	}

	pending, err := r.repo.ListPendingForApprover(ctx, identity)
	if err != nil {
		r.log.Error("list pending failed", zap.Error(err))
		r.sendText(chatID, noticeStorageError)
		return
	}
	if len(pending) == 0 {
		r.sendText(chatID, "No new requests.")
		return
	}

	for i := range pending {
		req := &pending[i]
		name := req.EmployeeID
		if emp, err := r.repo.GetUser(ctx, req.EmployeeID); err == nil && emp.FullName != "" {
			name = emp.FullName
		}
		msg := tgbotapi.NewMessage(chatID, pendingNotice(req, name, r.clock.ClockFromStamp(req.SubmittedAt)))
		msg.ReplyMarkup = decisionKeyboard(req.ID)
		r.send(msg)
	}
}

// --- Approval handler ---

// handleDecision applies an approve/reject action. The status write is the
// only authoritative mutation; everything after it is best-effort.
func (r *Router) handleDecision(ctx context.Context, identity string, cb *tgbotapi.CallbackQuery, verb string, reqID int64) {
	req, err := r.repo.GetTardy(ctx, reqID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.log.Error("get tardy failed", zap.Error(err), zap.Int64("requestID", reqID))
		}
		r.alertCallback(cb.ID, "Request not found or already decided")
		return
	}
	if req.Status != domain.StatusPending {
		r.alertCallback(cb.ID, "Request not found or already decided")
		return
	}
	// The callback carries no other access control, so the acting identity
	// must match the approver frozen at submission.
	if identity != req.ApproverID {
		r.alertCallback(cb.ID, "You are not allowed to decide this request")
		return
	}

	status := domain.StatusApproved
	if verb == cbReject {
		status = domain.StatusRejected
	}
	if err := r.repo.SetTardyStatus(ctx, reqID, status); err != nil {
		r.log.Error("set status failed", zap.Error(err), zap.Int64("requestID", reqID))
		r.alertCallback(cb.ID, noticeStorageError)
		return
	}
	req.Status = status
	metrics.Decisions.WithLabelValues(string(status)).Inc()
	label := statusLabel(status)

	if cb.Message != nil {
		edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, cb.Message.Text+"\n\nStatus: "+label)
		if _, err := r.api.Send(edit); err != nil {
			r.log.Warn("notice edit failed", zap.Error(err), zap.Int64("requestID", reqID))
		}
	}

	empName := req.EmployeeID
	if emp, err := r.repo.GetUser(ctx, req.EmployeeID); err == nil && emp.FullName != "" {
		empName = emp.FullName
	}
	mgrName := req.ApproverID
	if mgr, err := r.repo.GetUser(ctx, req.ApproverID); err == nil && mgr.FullName != "" {
		mgrName = mgr.FullName
	}

	notice := employeeNotice(req, empName, mgrName, label, r.clock.ClockFromStamp(req.SubmittedAt))
	if err := r.notifyIdentity(req.EmployeeID, notice); err != nil {
		metrics.NotifyFailures.Inc()
		r.log.Warn("employee notify failed", zap.Error(err), zap.Int64("requestID", reqID))
	}

	decision := hr.Decision{
		RequestID:    req.ID,
		EmployeeID:   req.EmployeeID,
		ApproverID:   req.ApproverID,
		EmployeeName: empName,
		ApproverName: mgrName,
		Reason:       req.Reason,
		Start:        req.StartTime,
		End:          req.EndTime,
		SubmittedAt:  req.SubmittedAt,
		DecidedAt:    r.clock.Stamp(r.clock.Now()),
		Verdict:      string(status),
	}
	if err := r.hr.SendDecision(ctx, decision); err != nil {
		metrics.GatewayFailures.Inc()
		r.log.Warn("decision mirror failed", zap.Error(err), zap.Int64("requestID", reqID))
	}

	ack := "Approved"
	if status == domain.StatusRejected {
		ack = "Rejected"
	}
	r.answerCallback(cb.ID, ack)
}
