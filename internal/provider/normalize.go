package provider

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/theteta-ops/controltower-backend/internal/models"
)

// ProviderMessage is one message extracted from a provider payload,
// normalized to the shape the ingestion pipeline consumes.
type ProviderMessage struct {
	WaID              string               `json:"phoneId"`
	Text              string               `json:"text"`
	TS                time.Time            `json:"timestamp"`
	Sender            models.MessageSender `json:"sender"`
	ProviderMessageID string               `json:"providerMessageId,omitempty"`
}

// ChatUpdate is envelope-level activity carrying only a phone id and timestamp
type ChatUpdate struct {
	WaID string    `json:"phoneId"`
	TS   time.Time `json:"timestamp"`
}

// NormalizeWaID reduces any provider phone representation to the canonical
// digits-only wa_id: strip everything after '@' (JID suffixes), then keep the
// concatenation of all digit runs. A digit-free value keeps its trimmed form.
func NormalizeWaID(value any) string {
	raw := strings.TrimSpace(stringify(value))
	if raw == "" {
		return ""
	}
	if at := strings.Index(raw, "@"); at >= 0 {
		raw = raw[:at]
	}
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return raw
	}
	return digits.String()
}

// ParseProviderTimestamp parses the loose timestamp formats providers emit.
// Numeric values above 10^10 are epoch milliseconds, otherwise epoch seconds.
// Anything unparseable falls back to the current instant; never errors.
func ParseProviderTimestamp(value any) time.Time {
	now := time.Now().UTC()
	if value == nil {
		return now
	}

	switch v := value.(type) {
	case float64:
		return epochToTime(v, now)
	case int:
		return epochToTime(float64(v), now)
	case int64:
		return epochToTime(float64(v), now)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return now
		}
		return epochToTime(f, now)
	}

	raw := strings.TrimSpace(stringify(value))
	if raw == "" {
		return now
	}
	if isDigits(raw) {
		numeric, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return now
		}
		return epochToTime(numeric, now)
	}

	normalized := raw
	if strings.HasSuffix(normalized, "Z") {
		normalized = strings.TrimSuffix(normalized, "Z") + "+00:00"
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if parsed, err := time.Parse(layout, normalized); err == nil {
			return parsed.UTC()
		}
	}
	return now
}

func epochToTime(numeric float64, now time.Time) time.Time {
	if math.IsNaN(numeric) || math.IsInf(numeric, 0) {
		return now
	}
	if numeric > 10_000_000_000 {
		numeric = numeric / 1000.0
	}
	sec := int64(numeric)
	nsec := int64((numeric - float64(sec)) * float64(time.Second))
	ts := time.Unix(sec, nsec).UTC()
	if ts.Year() < 1 || ts.Year() > 9999 {
		return now
	}
	return ts
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// stringify renders scalar JSON values the way providers spell them:
// integral floats without an exponent, everything else via the json package.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case json.Number:
		return v.String()
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// nestedGet resolves a dotted path through nested mappings, nil when any hop
// is missing or not a mapping.
func nestedGet(data map[string]any, path string) any {
	var value any = data
	for _, part := range strings.Split(path, ".") {
		node, ok := value.(map[string]any)
		if !ok {
			return nil
		}
		value = node[part]
	}
	return value
}

// coerceJSON parses JSON-looking strings; parse failure keeps the raw string.
func coerceJSON(value any) any {
	raw, ok := value.(string)
	if !ok {
		return value
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return value
	}
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return value
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return value
	}
	return parsed
}

// extractText resolves a human-readable body out of a candidate value,
// recursing through strings, arrays and the nested message shapes WhatsApp
// providers wrap text in. Empty string means no text was found.
func extractText(value any) string {
	node := coerceJSON(value)
	if node == nil {
		return ""
	}
	switch v := node.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		for _, item := range v {
			if text := extractText(item); text != "" {
				return text
			}
		}
		return ""
	case map[string]any:
		for _, key := range []string{"text", "conversation", "body", "caption", "content"} {
			if raw, ok := v[key]; ok {
				if text := extractText(raw); text != "" {
					return text
				}
			}
		}
		if message, ok := v["message"]; ok {
			if text := extractText(message); text != "" {
				return text
			}
		}
		if extended, ok := v["extendedTextMessage"].(map[string]any); ok {
			if text := extractText(extended["text"]); text != "" {
				return text
			}
		}
		if image, ok := v["imageMessage"].(map[string]any); ok {
			if text := extractText(image["caption"]); text != "" {
				return text
			}
		}
		return ""
	}
	return ""
}

// boolLike interprets the truthy spellings providers use for flags
func boolLike(value any) *bool {
	switch v := value.(type) {
	case bool:
		return &v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			t := true
			return &t
		case "0", "false", "no", "off":
			f := false
			return &f
		}
	case float64:
		b := v != 0
		return &b
	case int:
		b := v != 0
		return &b
	}
	return nil
}

// NormalizeProviderMessage turns one candidate node into a ProviderMessage,
// or nil when the node carries no usable phone id or text. Rejection is
// silent: over-inclusive tree walking makes false positives expected.
func NormalizeProviderMessage(payload any, defaultSender models.MessageSender) *ProviderMessage {
	candidate, ok := coerceJSON(payload).(map[string]any)
	if !ok {
		return nil
	}

	var fromMe *bool
	for _, key := range []string{"fromMe", "from_me", "isOutgoing"} {
		if raw, present := candidate[key]; present {
			if fromMe = boolLike(raw); fromMe != nil {
				break
			}
		}
	}
	if fromMe == nil {
		fromMe = boolLike(nestedGet(candidate, "key.fromMe"))
	}
	direction := strings.ToLower(strings.TrimSpace(stringify(candidate["direction"])))

	var sender models.MessageSender
	switch {
	case fromMe != nil && *fromMe, direction == "outbound", direction == "sent":
		sender = models.SenderAgent
	case fromMe != nil && !*fromMe, direction == "inbound", direction == "received":
		sender = models.SenderUser
	default:
		sender = defaultSender
	}

	var waCandidates []any
	if sender == models.SenderAgent {
		waCandidates = []any{
			candidate["to"],
			candidate["recipient"],
			nestedGet(candidate, "key.remoteJid"),
			candidate["jid"],
			candidate["wa_id"],
		}
	} else {
		waCandidates = []any{
			candidate["from"],
			candidate["author"],
			nestedGet(candidate, "key.remoteJid"),
			nestedGet(candidate, "key.participant"),
			candidate["jid"],
			candidate["wa_id"],
		}
	}

	waID := ""
	for _, item := range waCandidates {
		if normalized := NormalizeWaID(item); normalized != "" {
			waID = normalized
			break
		}
	}
	if waID == "" {
		return nil
	}

	text := ""
	for _, source := range []any{
		candidate["text"],
		candidate["message"],
		candidate["body"],
		candidate["content"],
		candidate["data"],
		candidate,
	} {
		if text = extractText(source); text != "" {
			break
		}
	}
	if text == "" {
		return nil
	}

	ts := ParseProviderTimestamp(firstPresent(candidate,
		"timestamp", "messageTimestamp", "created_at", "updated_at", "ts", "date"))

	var rawID any
	for _, key := range []string{"message_id", "id"} {
		if raw, present := candidate[key]; present && raw != nil && stringify(raw) != "" {
			rawID = raw
			break
		}
	}
	if rawID == nil {
		rawID = nestedGet(candidate, "key.id")
	}
	if rawID == nil {
		rawID = nestedGet(candidate, "message.id")
	}
	if nested, ok := rawID.(map[string]any); ok {
		rawID = nested["id"]
	}
	providerMessageID := ""
	if rawID != nil {
		providerMessageID = stringify(rawID)
	}

	return &ProviderMessage{
		WaID:              waID,
		Text:              strings.TrimSpace(text),
		TS:                ts,
		Sender:            sender,
		ProviderMessageID: providerMessageID,
	}
}

// firstPresent returns the first field that carries a usable value,
// skipping nil, empty strings and zero numerics.
func firstPresent(candidate map[string]any, keys ...string) any {
	for _, key := range keys {
		raw, present := candidate[key]
		if !present || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
		case float64:
			if v == 0 {
				continue
			}
		}
		return raw
	}
	return nil
}
