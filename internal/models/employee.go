package models

// Employee 员工表
type Employee struct {
	ID       uint   `gorm:"primaryKey;column:id" json:"id"`
	Name     string `gorm:"size:255;not null;index" json:"name"`
	Wing     string `gorm:"size:255;not null;index" json:"wing"`
	Position string `gorm:"size:255;not null;index" json:"position"`

	Reports []Report `gorm:"foreignKey:EmployeeID;constraint:OnDelete:CASCADE" json:"reports,omitempty"`
}

func (Employee) TableName() string {
	return "employees"
}
