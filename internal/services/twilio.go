package services

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/theteta-ops/controltower-backend/internal/models"
	"github.com/theteta-ops/controltower-backend/internal/provider"
)

// ProviderName tags messages that came through Twilio; it is part of the
// provider-id dedup key, so outbound sends and history sync must agree.
const ProviderName = "twilio"

type TwilioService struct {
	client       *twilio.RestClient
	whatsappFrom string // Format: "whatsapp:+14155238886"
}

// NewTwilioService creates a new Twilio service instance
func NewTwilioService() (*TwilioService, error) {
	accountSid := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	from := os.Getenv("TWILIO_WHATSAPP_FROM")

	if accountSid == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("missing Twilio credentials in environment variables")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})

	return &TwilioService{
		client:       client,
		whatsappFrom: from,
	}, nil
}

// SendWhatsAppMessage sends a WhatsApp message via Twilio and returns the
// provider-assigned message SID. On error nothing is recorded: the caller
// must not append a message for a failed send.
func (t *TwilioService) SendWhatsAppMessage(to string, message string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.whatsappFrom)
	params.SetTo(fmt.Sprintf("whatsapp:+%s", provider.NormalizeWaID(to)))
	params.SetBody(message)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		log.Printf("❌ Failed to send WhatsApp message: %v", err)
		return "", err
	}
	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		return "", fmt.Errorf("twilio error %d: %s", *resp.ErrorCode, stringOrEmpty(resp.ErrorMessage))
	}

	sid := stringOrEmpty(resp.Sid)
	log.Printf("✅ WhatsApp message sent! SID: %s", sid)
	return sid, nil
}

// FetchHistoryForPhone lists recent inbound and outbound Twilio messages for
// a phone and funnels each row through the webhook normalizer, so history
// sync and webhook ingestion share one message contract. Result is deduped
// and sorted ascending by timestamp.
func (t *TwilioService) FetchHistoryForPhone(phone string, limit int) ([]provider.ProviderMessage, error) {
	normalized := provider.NormalizeWaID(phone)
	if normalized == "" {
		return nil, nil
	}
	address := fmt.Sprintf("whatsapp:+%s", normalized)

	inboundParams := &twilioApi.ListMessageParams{}
	inboundParams.SetFrom(address)
	inboundParams.SetPageSize(limit)
	inbound, err := t.client.Api.ListMessage(inboundParams)
	if err != nil {
		return nil, err
	}

	outboundParams := &twilioApi.ListMessageParams{}
	outboundParams.SetTo(address)
	outboundParams.SetPageSize(limit)
	outbound, err := t.client.Api.ListMessage(outboundParams)
	if err != nil {
		return nil, err
	}

	var collected []provider.ProviderMessage
	seen := make(map[string]struct{})
	for _, row := range append(inbound, outbound...) {
		message := provider.NormalizeProviderMessage(messageRowNode(row), models.SenderAgent)
		if message == nil || message.WaID != normalized {
			continue
		}
		key := message.ProviderMessageID
		if key == "" {
			key = fmt.Sprintf("%s|%s|%s|%s", message.WaID, message.Sender, message.TS.Format(time.RFC3339Nano), message.Text)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		collected = append(collected, *message)
	}

	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].TS.Before(collected[j].TS)
	})
	return collected, nil
}

// FetchRecentMessages lists the account's most recent messages across all
// phones, normalized and sorted newest first. Used to bootstrap the recent
// clients panel when the local store is empty.
func (t *TwilioService) FetchRecentMessages(limit int) ([]provider.ProviderMessage, error) {
	pageSize := limit * 10
	if pageSize < 50 {
		pageSize = 50
	}
	params := &twilioApi.ListMessageParams{}
	params.SetPageSize(pageSize)
	rows, err := t.client.Api.ListMessage(params)
	if err != nil {
		return nil, err
	}

	var collected []provider.ProviderMessage
	for _, row := range rows {
		message := provider.NormalizeProviderMessage(messageRowNode(row), models.SenderAgent)
		if message == nil {
			continue
		}
		collected = append(collected, *message)
	}
	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].TS.After(collected[j].TS)
	})
	return collected, nil
}

// messageRowNode reshapes a Twilio REST message row into the generic
// candidate-node form the normalizer consumes.
func messageRowNode(row twilioApi.ApiV2010Message) map[string]any {
	direction := strings.ToLower(stringOrEmpty(row.Direction))
	if strings.HasPrefix(direction, "outbound") {
		direction = "outbound"
	} else if direction != "" {
		direction = "inbound"
	}

	node := map[string]any{
		"id":        stringOrEmpty(row.Sid),
		"from":      stringOrEmpty(row.From),
		"to":        stringOrEmpty(row.To),
		"body":      stringOrEmpty(row.Body),
		"direction": direction,
	}
	// Twilio dates are RFC 2822; re-emit as ISO for the timestamp parser
	if row.DateSent != nil {
		if sent, err := time.Parse(time.RFC1123Z, *row.DateSent); err == nil {
			node["timestamp"] = sent.UTC().Format(time.RFC3339)
		}
	}
	return node
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
