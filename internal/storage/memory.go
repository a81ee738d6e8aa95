package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theteta-ops/controltower-backend/internal/models"
)

// MemoryStore holds all data in memory for tests and local development
type MemoryStore struct {
	clients       map[string]*models.Client
	clientByPhone map[string]string
	agents        map[string]*models.Agent
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message // by conversation id, insertion order

	mu sync.RWMutex
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:       make(map[string]*models.Client),
		clientByPhone: make(map[string]string),
		agents:        make(map[string]*models.Agent),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
	}
}

func copyClient(c *models.Client) *models.Client {
	clone := *c
	return &clone
}

func copyAgent(a *models.Agent) *models.Agent {
	clone := *a
	return &clone
}

func copyConversation(c *models.Conversation) *models.Conversation {
	clone := *c
	clone.Tags = append([]string(nil), c.Tags...)
	clone.RiskReasons = append([]string(nil), c.RiskReasons...)
	return &clone
}

func copyMessage(m *models.Message) *models.Message {
	clone := *m
	return &clone
}

// Client operations

func (m *MemoryStore) CreateClient(client *models.Client) (*models.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	m.clients[client.ID] = copyClient(client)
	m.clientByPhone[client.Phone] = client.ID
	return copyClient(client), nil
}

func (m *MemoryStore) GetClient(id string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyClient(client), nil
}

func (m *MemoryStore) GetClientByPhone(phone string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.clientByPhone[phone]
	if !exists {
		return nil, ErrNotFound
	}
	return copyClient(m.clients[id]), nil
}

func (m *MemoryStore) GetAllClients() ([]*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clients := make([]*models.Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, copyClient(client))
	}
	return clients, nil
}

// Agent operations

func (m *MemoryStore) CreateAgent(agent *models.Agent) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	m.agents[agent.ID] = copyAgent(agent)
	return copyAgent(agent), nil
}

func (m *MemoryStore) GetAgent(id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, exists := m.agents[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyAgent(agent), nil
}

func (m *MemoryStore) GetAllAgents() ([]*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]*models.Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		agents = append(agents, copyAgent(agent))
	}
	return agents, nil
}

// Conversation operations

func (m *MemoryStore) CreateConversation(conv *models.Conversation) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	m.conversations[conv.ID] = copyConversation(conv)
	return copyConversation(conv), nil
}

func (m *MemoryStore) GetConversation(id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, exists := m.conversations[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// GetOpenConversationByClient picks the most recently active non-CLOSED
// conversation for a client.
func (m *MemoryStore) GetOpenConversationByClient(clientID string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var open *models.Conversation
	for _, conv := range m.conversations {
		if conv.ClientID != clientID || conv.Status == models.StatusClosed {
			continue
		}
		if open == nil || conv.LastMessageAt.After(open.LastMessageAt) {
			open = conv
		}
	}
	if open == nil {
		return nil, ErrNotFound
	}
	return copyConversation(open), nil
}

// GetAllConversations returns all conversations, most recently active first
func (m *MemoryStore) GetAllConversations() ([]*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conversations := make([]*models.Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		conversations = append(conversations, copyConversation(conv))
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastMessageAt.After(conversations[j].LastMessageAt)
	})
	return conversations, nil
}

func (m *MemoryStore) UpdateConversation(conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; !exists {
		return ErrNotFound
	}
	m.conversations[conv.ID] = copyConversation(conv)
	return nil
}

// Message operations

func (m *MemoryStore) GetMessagesByConversation(conversationID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[conversationID]
	messages := make([]*models.Message, 0, len(stored))
	for _, msg := range stored {
		messages = append(messages, copyMessage(msg))
	}
	// ascending by timestamp, insertion order breaks ties
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].TS.Before(messages[j].TS)
	})
	return messages, nil
}

func (m *MemoryStore) GetAllMessages() ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var messages []*models.Message
	for _, stored := range m.messages {
		for _, msg := range stored {
			messages = append(messages, copyMessage(msg))
		}
	}
	return messages, nil
}

func (m *MemoryStore) MessageExists(conversationID, provider, providerMessageID string,
	sender models.MessageSender, text string, ts time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.messageExistsLocked(conversationID, provider, providerMessageID, sender, text, ts), nil
}

func (m *MemoryStore) messageExistsLocked(conversationID, provider, providerMessageID string,
	sender models.MessageSender, text string, ts time.Time) bool {
	for _, msg := range m.messages[conversationID] {
		if providerMessageID != "" &&
			msg.Provider == provider && msg.ProviderMessageID == providerMessageID {
			return true
		}
		if text != "" && !ts.IsZero() &&
			msg.Sender == sender && msg.Text == text && msg.TS.Equal(ts) {
			return true
		}
	}
	return false
}

// AppendMessage stores the message and the updated conversation under one
// lock so a crash between the two writes cannot be observed.
func (m *MemoryStore) AppendMessage(msg *models.Message, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; !exists {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m.messages[conv.ID] = append(m.messages[conv.ID], copyMessage(msg))
	m.conversations[conv.ID] = copyConversation(conv)
	return nil
}

// ResetAll wipes everything (demo seeding only)
func (m *MemoryStore) ResetAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clients = make(map[string]*models.Client)
	m.clientByPhone = make(map[string]string)
	m.agents = make(map[string]*models.Agent)
	m.conversations = make(map[string]*models.Conversation)
	m.messages = make(map[string][]*models.Message)
	return nil
}
