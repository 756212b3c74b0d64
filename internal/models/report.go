package models

import (
	"time"
)

// ReportDateLayout 报告日期的序列化格式
const ReportDateLayout = "2006-01-02"

// Report 员工日报表，同一员工同一天只允许一条
type Report struct {
	ReportID   uint      `gorm:"primaryKey;column:report_id" json:"report_id"`
	EmployeeID uint      `gorm:"column:employee_id;not null;index;uniqueIndex:idx_unique_report" json:"employee_id"`
	ReportDate time.Time `gorm:"column:report_date;type:date;not null;index;uniqueIndex:idx_unique_report" json:"report_date"`
	ReportText string    `gorm:"column:report_text;type:text;not null" json:"report_text"`

	Employee Employee `gorm:"foreignKey:EmployeeID;constraint:OnDelete:CASCADE" json:"employee,omitempty"`
}

func (Report) TableName() string {
	return "reports"
}

// DateString 返回payload使用的日期字符串
func (r *Report) DateString() string {
	return r.ReportDate.Format(ReportDateLayout)
}
