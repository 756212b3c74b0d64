package models

import (
	"time"
)

// 写入意图状态
const (
	IntentStatusPending  = "pending"
	IntentStatusComplete = "complete"
	IntentStatusOrphaned = "orphaned"
)

// IngestIntent 向量写入意图表
//
// 每次向量upsert前先登记pending意图，映射行落库后标记complete。
// 对账任务扫描长期pending的意图：映射缺失但点在索引中的补写映射行，
// 点不在索引中的标记orphaned。
type IngestIntent struct {
	ID         uint   `gorm:"primaryKey;column:id" json:"id"`
	PointID    string `gorm:"column:point_id;size:64;not null;uniqueIndex" json:"point_id"`
	ReportID   uint   `gorm:"column:report_id;not null;index" json:"report_id"`
	ChunkIndex int    `gorm:"column:chunk_index;not null" json:"chunk_index"`
	Status     string `gorm:"column:status;size:16;not null;default:pending;index" json:"status"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (IngestIntent) TableName() string {
	return "ingest_intents"
}
