package jobs

import (
	"log"
	"time"

	"github.com/theteta-ops/controltower-backend/internal/services"
	"github.com/theteta-ops/controltower-backend/internal/storage"
)

// RiskRefreshJob periodically re-evaluates the cached risk flags so
// time-based SLA breaches surface even when no new messages arrive.
type RiskRefreshJob struct {
	store         storage.Store
	conversations *services.ConversationService
	interval      time.Duration
	isRunning     bool
}

// NewRiskRefreshJob creates the background risk refresher
func NewRiskRefreshJob(store storage.Store, conversations *services.ConversationService, interval time.Duration) *RiskRefreshJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RiskRefreshJob{
		store:         store,
		conversations: conversations,
		interval:      interval,
		isRunning:     false,
	}
}

// Start begins the refresh loop
func (j *RiskRefreshJob) Start() {
	if j.isRunning {
		log.Println("Risk refresh job already running")
		return
	}

	j.isRunning = true
	log.Printf("Starting risk refresh job (every %v)...", j.interval)
	go j.loop()
}

// Stop halts the refresh loop after the current sleep
func (j *RiskRefreshJob) Stop() {
	j.isRunning = false
	log.Println("Stopping risk refresh job...")
}

func (j *RiskRefreshJob) loop() {
	for j.isRunning {
		time.Sleep(j.interval)

		if !j.isRunning {
			break
		}
		j.refresh()
	}
}

func (j *RiskRefreshJob) refresh() {
	conversations, err := j.store.GetAllConversations()
	if err != nil {
		log.Printf("Error loading conversations for risk refresh: %v", err)
		return
	}

	changed, err := j.conversations.RefreshRiskFlags(conversations, time.Now().UTC())
	if err != nil {
		log.Printf("Error refreshing risk flags: %v", err)
		return
	}
	if changed > 0 {
		log.Printf("Risk refresh updated %d conversations", changed)
	}
}
