package domain

import (
	"time"
)

// TemporaryAddress 表示一个临时邮箱地址。
type TemporaryAddress struct {
	ID        string    `json:"id" db:"id" gorm:"primaryKey;type:varchar(36)"`
	OwnerID   *string   `json:"ownerId,omitempty" db:"owner_id" gorm:"type:varchar(64);index"` // 游客模式为nil
	Address   string    `json:"email" db:"address" gorm:"type:varchar(320);uniqueIndex;not null"`
	LocalPart string    `json:"localPart" db:"local_part" gorm:"type:varchar(64);not null"`
	DomainID  string    `json:"domainId" db:"domain_id" gorm:"type:varchar(36);index;not null"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at" gorm:"index;not null"`
}

// TableName 指定表名
func (TemporaryAddress) TableName() string { return "temp_addresses" }

// IsExpired 判断地址在 now 时刻是否已过期，到期时刻本身即视为过期。
func (a *TemporaryAddress) IsExpired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// OwnedBy 判断地址是否属于 ownerID。nil 所有者只匹配 nil 调用方。
func (a *TemporaryAddress) OwnedBy(ownerID *string) bool {
	if a.OwnerID == nil || ownerID == nil {
		return a.OwnerID == nil && ownerID == nil
	}
	return *a.OwnerID == *ownerID
}

// AddressSummary 地址列表项，附带最新一封邮件的摘要
type AddressSummary struct {
	TemporaryAddress
	LatestMessage *MessageSummary `json:"latestMessage,omitempty"`
}

// MessageSummary 邮件摘要
type MessageSummary struct {
	ID          string    `json:"id"`
	FromAddress string    `json:"fromAddress"`
	Subject     string    `json:"subject"`
	ReceivedAt  time.Time `json:"receivedAt"`
}
