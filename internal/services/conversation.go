package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/theteta-ops/controltower-backend/internal/models"
	"github.com/theteta-ops/controltower-backend/internal/provider"
	"github.com/theteta-ops/controltower-backend/internal/storage"
)

// ErrInvalidPhone is returned when a wa_id normalizes to nothing
var ErrInvalidPhone = errors.New("invalid wa_id")

// defaultCity is stamped on clients created from first contact
const defaultCity = "Cucuta"

// IngestResult reports what one normalized message did to the store.
// Applied=false is the explicit duplicate no-op, not an error.
type IngestResult struct {
	Applied        bool   `json:"applied"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
}

// ConversationService owns conversation mutation: client upsert, the message
// state machine, dedup, risk caching and provider history sync. All writes
// for one phone id go through a per-key mutex so concurrent webhook
// deliveries for the same conversation are serialized.
type ConversationService struct {
	store       storage.Store
	twilio      *TwilioService
	locks       *storage.KeyedMutex
	syncEnabled bool
	syncLimit   int
}

// NewConversationService creates the conversation service. twilioService may
// be nil when the provider is not configured; history sync is skipped then.
func NewConversationService(store storage.Store, twilioService *TwilioService) *ConversationService {
	return &ConversationService{
		store:       store,
		twilio:      twilioService,
		locks:       storage.NewKeyedMutex(),
		syncEnabled: true,
		syncLimit:   100,
	}
}

// SetHistorySync configures provider history sync behavior
func (s *ConversationService) SetHistorySync(enabled bool, limit int) {
	s.syncEnabled = enabled
	if limit > 0 {
		s.syncLimit = limit
	}
}

// UpsertClientByPhone finds or creates the client for a wa_id.
// New clients get a placeholder name from the last phone digits.
func (s *ConversationService) UpsertClientByPhone(waID string) (*models.Client, error) {
	normalized := provider.NormalizeWaID(waID)
	if normalized == "" {
		return nil, ErrInvalidPhone
	}

	client, err := s.store.GetClientByPhone(normalized)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	suffix := normalized
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return s.store.CreateClient(&models.Client{
		Name:      fmt.Sprintf("Cliente %s", suffix),
		Phone:     normalized,
		City:      defaultCity,
		CreatedAt: time.Now().UTC(),
	})
}

// FindOrCreateConversation returns the client's open conversation (the most
// recently active non-CLOSED one) or creates a fresh one in NEW.
func (s *ConversationService) FindOrCreateConversation(clientID string, now time.Time) (*models.Conversation, error) {
	conv, err := s.store.GetOpenConversationByClient(clientID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	return s.store.CreateConversation(&models.Conversation{
		ClientID:      clientID,
		Status:        models.StatusNew,
		Outcome:       models.OutcomeUnknown,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	})
}

// ApplyMessage folds one message into the conversation aggregate and returns
// the updated aggregate. Pure transition: the caller persists separately.
// now is the wall-clock processing time stamped on updated_at.
func ApplyMessage(conv models.Conversation, sender models.MessageSender, messageTS, now time.Time) models.Conversation {
	isNewest := conv.LastMessageAt.IsZero() || !messageTS.Before(conv.LastMessageAt)

	if sender == models.SenderUser && conv.Status == models.StatusClosed && isNewest {
		conv.Status = models.StatusReengagement
		conv.ClosedAt = nil
		conv.ReopenedCount++
	}

	if sender == models.SenderUser {
		if conv.FirstUserMessageAt == nil || messageTS.Before(*conv.FirstUserMessageAt) {
			ts := messageTS
			conv.FirstUserMessageAt = &ts
		}
	}

	if sender == models.SenderAgent {
		if conv.FirstUserMessageAt != nil &&
			(conv.FirstAgentReplyAt == nil || messageTS.Before(*conv.FirstAgentReplyAt)) {
			ts := messageTS
			conv.FirstAgentReplyAt = &ts
		}
		if conv.LastAgentReplyAt == nil || messageTS.After(*conv.LastAgentReplyAt) {
			ts := messageTS
			conv.LastAgentReplyAt = &ts
		}
	}

	if conv.LastMessageAt.IsZero() || messageTS.After(conv.LastMessageAt) {
		conv.LastMessageAt = messageTS
	}
	conv.UpdatedAt = now

	return conv
}

// AppendMessage stores a message, applies it to the aggregate, refreshes the
// cached risk assessment and persists both as one unit. conv is updated in
// place to the post-append state.
func (s *ConversationService) AppendMessage(conv *models.Conversation, sender models.MessageSender,
	text string, ts time.Time, providerName, providerMessageID string) (*models.Message, error) {

	now := time.Now().UTC()
	message := &models.Message{
		ConversationID:    conv.ID,
		Sender:            sender,
		Text:              text,
		TS:                ts,
		OutOfHours:        IsOutOfHours(ts),
		Provider:          providerName,
		ProviderMessageID: providerMessageID,
	}

	updated := ApplyMessage(*conv, sender, ts, now)
	assessment := AssessRisk(updated, now)
	updated.RiskFlag = assessment.RiskFlag
	updated.RiskReasons = assessment.RiskReasons

	if err := s.store.AppendMessage(message, &updated); err != nil {
		return nil, err
	}
	*conv = updated
	return message, nil
}

// IngestProviderMessage applies one normalized provider message end to end:
// upsert client, locate or open the conversation, dedup, append. Ingestion
// for the same phone id is serialized.
func (s *ConversationService) IngestProviderMessage(pm provider.ProviderMessage, providerName string) (*IngestResult, error) {
	unlock := s.locks.Lock(pm.WaID)
	defer unlock()

	client, err := s.UpsertClientByPhone(pm.WaID)
	if err != nil {
		return nil, err
	}
	conv, err := s.FindOrCreateConversation(client.ID, pm.TS)
	if err != nil {
		return nil, err
	}

	exists, err := s.store.MessageExists(conv.ID, providerName, pm.ProviderMessageID, pm.Sender, pm.Text, pm.TS)
	if err != nil {
		return nil, err
	}
	if exists {
		return &IngestResult{Applied: false, ConversationID: conv.ID}, nil
	}

	message, err := s.AppendMessage(conv, pm.Sender, pm.Text, pm.TS, providerName, pm.ProviderMessageID)
	if err != nil {
		return nil, err
	}
	return &IngestResult{Applied: true, ConversationID: conv.ID, MessageID: message.ID}, nil
}

// TouchChatUpdate folds envelope-level activity (phone id + timestamp, no
// body) into the conversation's last_message_at.
func (s *ConversationService) TouchChatUpdate(waID string, ts time.Time) (string, error) {
	normalized := provider.NormalizeWaID(waID)
	if normalized == "" {
		return "", ErrInvalidPhone
	}

	unlock := s.locks.Lock(normalized)
	defer unlock()

	client, err := s.UpsertClientByPhone(normalized)
	if err != nil {
		return "", err
	}
	conv, err := s.FindOrCreateConversation(client.ID, ts)
	if err != nil {
		return "", err
	}

	if conv.LastMessageAt.Before(ts) {
		conv.LastMessageAt = ts
		conv.UpdatedAt = time.Now().UTC()
		assessment := AssessRisk(*conv, conv.UpdatedAt)
		conv.RiskFlag = assessment.RiskFlag
		conv.RiskReasons = assessment.RiskReasons
		if err := s.store.UpdateConversation(conv); err != nil {
			return "", err
		}
	}
	return conv.ID, nil
}

// RecalcRisk refreshes the cached assessment on one conversation and
// persists it. Used after external edits and sentiment updates.
func (s *ConversationService) RecalcRisk(conv *models.Conversation, now time.Time) error {
	assessment := AssessRisk(*conv, now)
	conv.RiskFlag = assessment.RiskFlag
	conv.RiskReasons = assessment.RiskReasons
	return s.store.UpdateConversation(conv)
}

// RefreshRiskFlags recomputes risk over a conversation set, persisting only
// rows whose flag or reasons changed. Each row depends only on itself and
// now, so rows are independent; refresh order is irrelevant.
func (s *ConversationService) RefreshRiskFlags(conversations []*models.Conversation, now time.Time) (int, error) {
	changed := 0
	for _, conv := range conversations {
		assessment := AssessRisk(*conv, now)
		if assessment.RiskFlag == conv.RiskFlag && equalStrings(assessment.RiskReasons, conv.RiskReasons) {
			continue
		}
		conv.RiskFlag = assessment.RiskFlag
		conv.RiskReasons = assessment.RiskReasons
		conv.UpdatedAt = now
		if err := s.store.UpdateConversation(conv); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// SyncConversationHistory imports provider message history for the
// conversation's client that the store has not seen yet. Provider errors are
// non-fatal: the conversation view works from local data.
func (s *ConversationService) SyncConversationHistory(conv *models.Conversation) int {
	if !s.syncEnabled || s.twilio == nil {
		return 0
	}
	client, err := s.store.GetClient(conv.ClientID)
	if err != nil {
		return 0
	}

	history, err := s.twilio.FetchHistoryForPhone(client.Phone, s.syncLimit)
	if err != nil {
		log.Printf("⚠️  History sync failed for %s: %v", client.Phone, err)
		return 0
	}

	unlock := s.locks.Lock(client.Phone)
	defer unlock()

	imported := 0
	for _, item := range history {
		exists, err := s.store.MessageExists(conv.ID, ProviderName, item.ProviderMessageID, item.Sender, item.Text, item.TS)
		if err != nil || exists {
			continue
		}
		if _, err := s.AppendMessage(conv, item.Sender, item.Text, item.TS, ProviderName, item.ProviderMessageID); err != nil {
			continue
		}
		imported++
	}
	return imported
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
