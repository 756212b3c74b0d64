package models

import (
	"time"
)

// VectorMapping 向量点与报告分块的映射表
//
// point_id 是向量库中点的UUID，一个报告的每个分块对应一行。
type VectorMapping struct {
	PointID    string `gorm:"primaryKey;column:point_id;size:64" json:"point_id"`
	ReportID   uint   `gorm:"column:report_id;not null;index" json:"report_id"`
	ChunkIndex int    `gorm:"column:chunk_index;not null" json:"chunk_index"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`

	Report Report `gorm:"foreignKey:ReportID;references:ReportID;constraint:OnDelete:CASCADE" json:"report,omitempty"`
}

func (VectorMapping) TableName() string {
	return "vector_mappings"
}
