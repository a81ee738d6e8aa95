package provider

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/theteta-ops/controltower-backend/internal/models"
)

// maxWalkDepth bounds traversal so adversarial nesting cannot hang ingestion
const maxWalkDepth = 6

// markerKeys flag a mapping as message-like; the normalizer filters the
// false positives this over-inclusive test produces.
var markerKeys = []string{
	"message", "text", "body", "fromMe", "from", "to",
	"key", "wa_id", "id", "jid", "conversationTimestamp",
}

// containerKeys are the envelope fields providers nest real payloads under
var containerKeys = []string{
	"data", "payload", "messages", "message", "entry", "changes", "value",
}

// messageNodes walks an arbitrary decoded JSON value depth-first and collects
// candidate message nodes. A mapping that matches a marker key is yielded
// and still descended into, since envelopes routinely wrap more messages.
func messageNodes(payload any, depth int, out *[]map[string]any) {
	if depth > maxWalkDepth {
		return
	}
	switch node := payload.(type) {
	case []any:
		for _, item := range node {
			messageNodes(item, depth+1, out)
		}
	case map[string]any:
		for _, key := range markerKeys {
			if _, ok := node[key]; ok {
				*out = append(*out, node)
				break
			}
		}
		for _, key := range containerKeys {
			if nested, ok := node[key]; ok && nested != nil {
				messageNodes(nested, depth+1, out)
			}
		}
	}
}

// MessageNodes returns every candidate message node in traversal order
func MessageNodes(payload any) []map[string]any {
	var nodes []map[string]any
	messageNodes(payload, 0, &nodes)
	return nodes
}

func dedupKey(pm *ProviderMessage) string {
	if pm.ProviderMessageID != "" {
		return pm.ProviderMessageID
	}
	return fmt.Sprintf("%s|%s|%s|%s",
		pm.WaID, pm.Sender, pm.TS.Format(time.RFC3339Nano), pm.Text)
}

// eventName pulls the lowercase event type off a webhook envelope
func eventName(payload map[string]any) string {
	return strings.ToLower(strings.TrimSpace(stringify(payload["event"])))
}

// ExtractWebhookMessages extracts, normalizes, dedups and sequences every
// message in a webhook payload. The default sender is inferred from the
// event type; the result is sorted ascending by timestamp with traversal
// order as the tie-break.
func ExtractWebhookMessages(payload map[string]any) []ProviderMessage {
	event := eventName(payload)
	defaultSender := models.SenderAgent
	if strings.Contains(event, "received") || strings.Contains(event, "inbound") {
		defaultSender = models.SenderUser
	}

	var parsed []ProviderMessage
	seen := make(map[string]struct{})
	for _, node := range MessageNodes(payload) {
		message := NormalizeProviderMessage(node, defaultSender)
		if message == nil {
			continue
		}
		key := dedupKey(message)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		parsed = append(parsed, *message)
	}

	sort.SliceStable(parsed, func(i, j int) bool {
		return parsed[i].TS.Before(parsed[j].TS)
	})
	return parsed
}

// ExtractWebhookChatUpdates extracts envelope-level activity (phone id +
// timestamp, no body) from chat events. Non-chat events yield nothing.
func ExtractWebhookChatUpdates(payload map[string]any) []ChatUpdate {
	if !strings.Contains(eventName(payload), "chat") {
		return nil
	}

	var updates []ChatUpdate
	seen := make(map[string]struct{})
	for _, node := range MessageNodes(payload) {
		var waID string
		for _, raw := range []any{node["id"], node["jid"], nestedGet(node, "key.remoteJid"), node["wa_id"]} {
			if waID = NormalizeWaID(raw); waID != "" {
				break
			}
		}
		if waID == "" {
			continue
		}
		ts := ParseProviderTimestamp(firstPresent(node,
			"conversationTimestamp", "timestamp", "created_at", "updated_at"))
		key := fmt.Sprintf("%s|%s", waID, ts.Format(time.RFC3339Nano))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		updates = append(updates, ChatUpdate{WaID: waID, TS: ts})
	}
	return updates
}
