package domain

import "time"

// Domain 可用于创建临时地址的邮件域名
type Domain struct {
	ID        string    `json:"id" db:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"domain" db:"name" gorm:"type:varchar(253);uniqueIndex;not null"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// TableName 指定表名
func (Domain) TableName() string { return "domains" }
