package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"NewsHub/internal/ports"
)

// Decision is an operator's verdict on a flagged item.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision splits callback data of the form "approve:<id>".
func ParseDecision(data string) (Decision, string, bool) {
	action, id, ok := strings.Cut(strings.TrimSpace(data), ":")
	if !ok || id == "" {
		return "", "", false
	}
	switch d := Decision(action); d {
	case DecisionApprove, DecisionReject:
		return d, id, true
	}
	return "", "", false
}

// InboxReport aggregates one poll of operator callbacks.
type InboxReport struct {
	Received int
	Approved int
	Rejected int
	Ignored  int
	Failed   int
}

// ModerationInbox applies the operator's button presses to flagged items.
// The update offset lives in memory; the transport redelivers unconfirmed
// updates after a restart and decisions on handled items are no-ops.
type ModerationInbox struct {
	mu             sync.Mutex
	callbacks      ports.CallbackSource
	poster         *Poster
	operatorChatID string
	offset         int64
	logger         *slog.Logger
}

// NewModerationInbox builds an inbox. Callbacks from chats other than the
// operator chat are ignored when the operator chat is a numeric id.
func NewModerationInbox(callbacks ports.CallbackSource, poster *Poster, operatorChatID string, logger *slog.Logger) *ModerationInbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModerationInbox{
		callbacks:      callbacks,
		poster:         poster,
		operatorChatID: operatorChatID,
		logger:         logger,
	}
}

// Poll fetches pending callbacks once and applies every decision.
func (m *ModerationInbox) Poll(ctx context.Context) (InboxReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report InboxReport
	queries, err := m.callbacks.PollCallbacks(ctx, m.offset)
	if err != nil {
		return report, fmt.Errorf("poll callbacks: %w", err)
	}

	for _, q := range queries {
		if q.UpdateID >= m.offset {
			m.offset = q.UpdateID + 1
		}
		if q.ID == "" {
			continue
		}
		report.Received++

		answer := m.apply(ctx, q, &report)
		if err := m.callbacks.AnswerCallback(ctx, q.ID, answer); err != nil {
			m.logger.Warn("answer callback", "callback", q.ID, "error", err)
		}
	}
	return report, nil
}

func (m *ModerationInbox) apply(ctx context.Context, q ports.CallbackQuery, report *InboxReport) string {
	if !m.fromOperator(q.ChatID) {
		m.logger.Warn("callback from unexpected chat", "chat", q.ChatID)
		report.Ignored++
		return "Not allowed"
	}

	decision, id, ok := ParseDecision(q.Data)
	if !ok {
		report.Ignored++
		return "Unknown action"
	}

	logger := m.logger.With("item", id, "decision", decision)
	switch decision {
	case DecisionApprove:
		posted, err := m.poster.Approve(ctx, id)
		switch {
		case err != nil:
			logger.Error("approve failed", "error", err)
			report.Failed++
			return "Approval failed, try again"
		case !posted:
			report.Ignored++
			return "Already handled"
		}
		report.Approved++
		return "Approved and published"
	default:
		rejected, err := m.poster.Reject(ctx, id)
		switch {
		case err != nil:
			logger.Error("reject failed", "error", err)
			report.Failed++
			return "Rejection failed, try again"
		case !rejected:
			report.Ignored++
			return "Already handled"
		}
		report.Rejected++
		return "Rejected"
	}
}

func (m *ModerationInbox) fromOperator(chatID string) bool {
	if m.operatorChatID == "" || strings.HasPrefix(m.operatorChatID, "@") || chatID == "" {
		return true
	}
	return chatID == m.operatorChatID
}
