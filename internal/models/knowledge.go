package models

import (
	"time"

	"github.com/google/uuid"
)

// KnowledgeItemType distinguishes a FAQ entry from a product catalog row,
// mirroring the teacher's single knowledge_base table discriminated by
// `type`, scoped here per-agent rather than per-client.
type KnowledgeItemType string

const (
	KnowledgeFAQ     KnowledgeItemType = "faq"
	KnowledgeProduct KnowledgeItemType = "product"
)

// KnowledgeItem backs the search_knowledge and query_products tools (C5):
// a FAQ row carries Question/Answer, a product row carries Name/Price/
// Description. Embedding enables similarity search for search_knowledge;
// query_products is a plain filtered table scan.
type KnowledgeItem struct {
	ID       uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AgentID  uuid.UUID         `gorm:"type:uuid;not null;index:idx_knowledge_agent_type"`
	Type     KnowledgeItemType `gorm:"type:varchar(20);not null;index:idx_knowledge_agent_type"`

	Question    string `gorm:"type:text"`
	Answer      string `gorm:"type:text"`
	Name        string `gorm:"type:varchar(300)"`
	Price       string `gorm:"type:varchar(50)"`
	Description string `gorm:"type:text"`

	Embedding []float32 `gorm:"type:vector(1536);serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (KnowledgeItem) TableName() string { return "knowledge_items" }
