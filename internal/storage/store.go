package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/theteta-ops/controltower-backend/internal/models"
)

// ErrNotFound is returned when a looked-up entity does not exist
var ErrNotFound = errors.New("not found")

var storeInstance Store

// SetStore sets the global store instance (call from main.go)
func SetStore(s Store) {
	storeInstance = s
}

// GetStore returns the global store instance
func GetStore() Store {
	return storeInstance
}

// Store defines the interface for storage operations
type Store interface {
	// Client operations
	CreateClient(client *models.Client) (*models.Client, error)
	GetClient(id string) (*models.Client, error)
	GetClientByPhone(phone string) (*models.Client, error)
	GetAllClients() ([]*models.Client, error)

	// Agent operations
	CreateAgent(agent *models.Agent) (*models.Agent, error)
	GetAgent(id string) (*models.Agent, error)
	GetAllAgents() ([]*models.Agent, error)

	// Conversation operations
	CreateConversation(conv *models.Conversation) (*models.Conversation, error)
	GetConversation(id string) (*models.Conversation, error)
	GetOpenConversationByClient(clientID string) (*models.Conversation, error)
	GetAllConversations() ([]*models.Conversation, error)
	UpdateConversation(conv *models.Conversation) error

	// Message operations
	GetMessagesByConversation(conversationID string) ([]*models.Message, error)
	GetAllMessages() ([]*models.Message, error)
	MessageExists(conversationID, provider, providerMessageID string,
		sender models.MessageSender, text string, ts time.Time) (bool, error)
	// AppendMessage records a message together with its aggregate effects on
	// the conversation as one logical unit.
	AppendMessage(msg *models.Message, conv *models.Conversation) error

	// ResetAll wipes all rows (demo seeding only)
	ResetAll() error
}

// KeyedMutex serializes work per key; ingestion uses it to guarantee
// single-writer-per-conversation across concurrent webhook deliveries.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock func
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
