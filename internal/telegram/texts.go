package telegram

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ykvlv/tardy-bot/internal/domain"
)

// UI texts in English
const (
	promptPassport  = "Enter your passport series and number (example: AD1234567)."
	promptBirthdate = "Enter your birthdate (example: 30.09.2005)."
	promptReason    = "Describe the reason for being late in a single message:"
	promptStart     = "Enter the start of the tardy period as HH:MM (example: 09:20):"
	promptEnd       = "Now enter the end of the tardy period as HH:MM (example: 09:45):"

	badPassport       = "❌ Invalid format. Example: AD1234567 (2 letters + 7 digits). Try again."
	badBirthdate      = "❌ Invalid date. Use dd.mm.yyyy (example: 30.09.2005)."
	badReason         = "The reason cannot be empty. Describe why you are late:"
	badStartClock     = "⏱ Invalid format. Enter the start time as HH:MM (example: 09:20):"
	badEndClock       = "⏱ Invalid format. Enter the end time as HH:MM (example: 09:45):"
	badEndBeforeStart = "The end cannot be earlier than the start. Enter the end time again (HH:MM):"

	noticeRegisterFirst = "You need to register first: /start"
	noticeCutOff        = "⏱ Within the allowed window. No notification required."
	noticeNoApprover    = "No valid supervisor is configured for you in the system."
	noticeStorageError  = "Storage error. Please try again later."
	noticeApproverOnly  = "This function is available to supervisors only."
)

// mainMenuKeyboard builds the reply keyboard; supervisors get an extra row
// with the pending-requests button on top.
func mainMenuKeyboard(isApprover bool) tgbotapi.ReplyKeyboardMarkup {
	rows := [][]tgbotapi.KeyboardButton{
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnReport)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnSync)),
	}
	if isApprover {
		rows = append([][]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnPending)),
		}, rows...)
	}
	return tgbotapi.NewReplyKeyboard(rows...)
}

// decisionKeyboard carries the request id in both buttons' callback data.
func decisionKeyboard(reqID int64) tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatInt(reqID, 10)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", cbApprove+":"+id),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", cbReject+":"+id),
		),
	)
}

func approverNotice(employeeName, start, end, reason, sentHM string) string {
	return "New tardy request\n" +
		"Employee: " + employeeName + "\n" +
		"Period: " + start + "–" + end + "\n" +
		"Reason: " + reason + "\n" +
		"Sent: " + sentHM
}

func pendingNotice(r *domain.TardyRequest, employeeName, sentHM string) string {
	return fmt.Sprintf("Request #%d\nEmployee: %s\nPeriod: %s–%s\nReason: %s\nSent: %s",
		r.ID, employeeName, r.StartTime, r.EndTime, r.Reason, sentHM)
}

func employeeNotice(r *domain.TardyRequest, employeeName, approverName, label, sentHM string) string {
	return fmt.Sprintf("Tardy request\nEmployee: %s\nSupervisor: %s\n\nPeriod: %s–%s\nReason: %s\nSent: %s\n\nStatus: %s",
		employeeName, approverName, r.StartTime, r.EndTime, r.Reason, sentHM, label)
}

func statusLabel(s domain.Status) string {
	switch s {
	case domain.StatusApproved:
		return "✅ Approved"
	case domain.StatusRejected:
		return "❌ Rejected"
	default:
		return string(s)
	}
}
