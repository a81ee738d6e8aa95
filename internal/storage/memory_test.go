package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theteta-ops/controltower-backend/internal/models"
)

func TestMemoryStoreClientRoundTrip(t *testing.T) {
	store := NewMemoryStore()

	created, err := store.CreateClient(&models.Client{Name: "Cliente 4567", Phone: "573001234567"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	byID, err := store.GetClient(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "573001234567", byID.Phone)

	byPhone, err := store.GetClientByPhone("573001234567")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byPhone.ID)

	_, err = store.GetClientByPhone("000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreOpenConversationSelection(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	closed, err := store.CreateConversation(&models.Conversation{
		ClientID: "c1", Status: models.StatusClosed, LastMessageAt: base.Add(3 * time.Hour),
	})
	require.NoError(t, err)

	older, err := store.CreateConversation(&models.Conversation{
		ClientID: "c1", Status: models.StatusContacted, LastMessageAt: base,
	})
	require.NoError(t, err)

	newer, err := store.CreateConversation(&models.Conversation{
		ClientID: "c1", Status: models.StatusNew, LastMessageAt: base.Add(time.Hour),
	})
	require.NoError(t, err)

	open, err := store.GetOpenConversationByClient("c1")
	require.NoError(t, err)
	// Closed is skipped even though it is the most recent
	assert.NotEqual(t, closed.ID, open.ID)
	assert.Equal(t, newer.ID, open.ID)
	assert.NotEqual(t, older.ID, open.ID)

	_, err = store.GetOpenConversationByClient("other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMessageOrderingAndDedup(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	conv, err := store.CreateConversation(&models.Conversation{ClientID: "c1", Status: models.StatusNew, LastMessageAt: base})
	require.NoError(t, err)

	appendMsg := func(text string, ts time.Time, pmid string) {
		require.NoError(t, store.AppendMessage(&models.Message{
			ConversationID: conv.ID, Sender: models.SenderUser, Text: text,
			TS: ts, Provider: "twilio", ProviderMessageID: pmid,
		}, conv))
	}

	appendMsg("tercero", base.Add(2*time.Minute), "m3")
	appendMsg("primero", base, "m1")
	appendMsg("segundo", base.Add(time.Minute), "m2")

	messages, err := store.GetMessagesByConversation(conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "primero", messages[0].Text)
	assert.Equal(t, "segundo", messages[1].Text)
	assert.Equal(t, "tercero", messages[2].Text)

	// Provider-id match
	exists, err := store.MessageExists(conv.ID, "twilio", "m1", "", "", time.Time{})
	require.NoError(t, err)
	assert.True(t, exists)

	// Composite fallback match
	exists, err = store.MessageExists(conv.ID, "twilio", "", models.SenderUser, "segundo", base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.MessageExists(conv.ID, "twilio", "nope", models.SenderUser, "cuarto", base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStoreAppendMessageUpdatesConversation(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	conv, err := store.CreateConversation(&models.Conversation{ClientID: "c1", Status: models.StatusNew, LastMessageAt: base})
	require.NoError(t, err)

	conv.Status = models.StatusContacted
	conv.LastMessageAt = base.Add(time.Minute)
	err = store.AppendMessage(&models.Message{
		ConversationID: conv.ID, Sender: models.SenderAgent, Text: "hola", TS: base.Add(time.Minute),
	}, conv)
	require.NoError(t, err)

	stored, err := store.GetConversation(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusContacted, stored.Status)
	assert.Equal(t, base.Add(time.Minute), stored.LastMessageAt)
}

func TestMemoryStoreCopyOnRead(t *testing.T) {
	store := NewMemoryStore()

	conv, err := store.CreateConversation(&models.Conversation{
		ClientID: "c1", Status: models.StatusNew, Tags: []string{"precio"},
	})
	require.NoError(t, err)

	// Mutating the returned copy must not change the stored row
	conv.Status = models.StatusClosed
	conv.Tags[0] = "mutated"

	stored, err := store.GetConversation(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, stored.Status)
	assert.Equal(t, []string{"precio"}, stored.Tags)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := NewKeyedMutex()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("same-key")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestResetAllWipesEverything(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.CreateClient(&models.Client{Name: "x", Phone: "1"})
	require.NoError(t, err)
	_, err = store.CreateAgent(&models.Agent{Name: "a"})
	require.NoError(t, err)

	require.NoError(t, store.ResetAll())

	clients, err := store.GetAllClients()
	require.NoError(t, err)
	assert.Empty(t, clients)
	agents, err := store.GetAllAgents()
	require.NoError(t, err)
	assert.Empty(t, agents)
}
