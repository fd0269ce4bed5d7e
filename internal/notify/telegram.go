package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/columbiaprep/house-points-app-sub000/internal/models"
	"github.com/columbiaprep/house-points-app-sub000/internal/observability"
)

// Notifier pushes operator-facing alerts (rollback lifecycle, reconciliation
// drift) to admin chats over Telegram. A nil Notifier is valid and silent.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatIDs []int64
}

func New(token string, chatIDs []int64) (*Notifier, error) {
	if token == "" || len(chatIDs) == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Notifier{bot: bot, chatIDs: chatIDs}, nil
}

// 5xx, 429 and timeouts are worth a Sentry event; telegram-side validation noise is not.
func isSystemErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "502") ||
		strings.Contains(s, "503") || strings.Contains(s, "timeout")
}

func (n *Notifier) send(text string) {
	if n == nil {
		return
	}
	for _, chatID := range n.chatIDs {
		if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); isSystemErr(err) {
			observability.CaptureErr(err)
		}
	}
}

func (n *Notifier) RollbackRequested(req *models.RollbackRequest) {
	n.send(fmt.Sprintf(
		"Rollback requested for batch %s by %s: %d students, %d points. Confirm within the app after the cooling-off period.",
		req.BatchID, req.RequestedBy, req.Preview.StudentsAffected, req.Preview.TotalPointsToRemove))
}

func (n *Notifier) RollbackExecuted(batchID, confirmedBy string, reversed int) {
	n.send(fmt.Sprintf("Rollback of batch %s executed by %s: %d events reversed.", batchID, confirmedBy, reversed))
}

func (n *Notifier) DriftDetected(diffs []models.HouseDiff) {
	if len(diffs) == 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Reconciliation corrected %d house(s):\n", len(diffs))
	for _, d := range diffs {
		fmt.Fprintf(&b, "%s: total %d -> %d\n", d.Name, d.OldTotalPoints, d.NewTotalPoints)
	}
	n.send(b.String())
}
