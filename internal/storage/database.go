package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/theteta-ops/controltower-backend/internal/models"
)

// DatabaseStore implements Store backed by PostgreSQL via GORM
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore creates a database-backed store
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Client operations

func (d *DatabaseStore) CreateClient(client *models.Client) (*models.Client, error) {
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	if err := d.db.Create(client).Error; err != nil {
		return nil, err
	}
	return client, nil
}

func (d *DatabaseStore) GetClient(id string) (*models.Client, error) {
	var client models.Client
	if err := d.db.First(&client, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &client, nil
}

func (d *DatabaseStore) GetClientByPhone(phone string) (*models.Client, error) {
	var client models.Client
	if err := d.db.First(&client, "phone = ?", phone).Error; err != nil {
		return nil, translateErr(err)
	}
	return &client, nil
}

func (d *DatabaseStore) GetAllClients() ([]*models.Client, error) {
	var clients []*models.Client
	if err := d.db.Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

// Agent operations

func (d *DatabaseStore) CreateAgent(agent *models.Agent) (*models.Agent, error) {
	if err := d.db.Create(agent).Error; err != nil {
		return nil, err
	}
	return agent, nil
}

func (d *DatabaseStore) GetAgent(id string) (*models.Agent, error) {
	var agent models.Agent
	if err := d.db.First(&agent, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &agent, nil
}

func (d *DatabaseStore) GetAllAgents() ([]*models.Agent, error) {
	var agents []*models.Agent
	if err := d.db.Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

// Conversation operations

func (d *DatabaseStore) CreateConversation(conv *models.Conversation) (*models.Conversation, error) {
	if err := d.db.Create(conv).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

func (d *DatabaseStore) GetConversation(id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := d.db.First(&conv, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &conv, nil
}

func (d *DatabaseStore) GetOpenConversationByClient(clientID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := d.db.
		Where("client_id = ? AND status <> ?", clientID, models.StatusClosed).
		Order("last_message_at DESC").
		First(&conv).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &conv, nil
}

func (d *DatabaseStore) GetAllConversations() ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	if err := d.db.Order("last_message_at DESC").Find(&conversations).Error; err != nil {
		return nil, err
	}
	return conversations, nil
}

func (d *DatabaseStore) UpdateConversation(conv *models.Conversation) error {
	// Save writes every column so cleared fields (closed_at on reopen) persist
	return d.db.Save(conv).Error
}

// Message operations

func (d *DatabaseStore) GetMessagesByConversation(conversationID string) ([]*models.Message, error) {
	var messages []*models.Message
	err := d.db.
		Where("conversation_id = ?", conversationID).
		Order("ts ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (d *DatabaseStore) GetAllMessages() ([]*models.Message, error) {
	var messages []*models.Message
	if err := d.db.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (d *DatabaseStore) MessageExists(conversationID, provider, providerMessageID string,
	sender models.MessageSender, text string, ts time.Time) (bool, error) {
	if providerMessageID != "" {
		var count int64
		err := d.db.Model(&models.Message{}).
			Where("conversation_id = ? AND provider = ? AND provider_message_id = ?",
				conversationID, provider, providerMessageID).
			Count(&count).Error
		if err != nil {
			return false, err
		}
		if count > 0 {
			return true, nil
		}
	}

	if text == "" || ts.IsZero() {
		return false, nil
	}

	var count int64
	err := d.db.Model(&models.Message{}).
		Where("conversation_id = ? AND sender = ? AND text = ? AND ts = ?",
			conversationID, sender, text, ts).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AppendMessage inserts the message and saves the updated aggregate in one
// transaction; neither write is observable without the other.
func (d *DatabaseStore) AppendMessage(msg *models.Message, conv *models.Conversation) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Save(conv).Error
	})
}

// ResetAll wipes all rows (demo seeding only)
func (d *DatabaseStore) ResetAll() error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{
			&models.Message{}, &models.Conversation{}, &models.Client{}, &models.Agent{},
		} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
