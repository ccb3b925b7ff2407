package domain

import "time"

// Message 表示临时地址收到的一封邮件。
type Message struct {
	ID              string        `json:"id" db:"id" gorm:"primaryKey;type:varchar(36)"`
	AddressID       string        `json:"addressId" db:"address_id" gorm:"type:varchar(36);index;not null"`
	FromAddress     string        `json:"fromAddress" db:"from_address" gorm:"type:varchar(320)"`
	FromDisplayName string        `json:"fromName" db:"from_name" gorm:"type:varchar(255)"`
	Subject         string        `json:"subject" db:"subject" gorm:"type:varchar(998)"`
	BodyHTML        string        `json:"bodyHtml" db:"body_html" gorm:"type:text"`
	BodyText        string        `json:"bodyText" db:"body_text" gorm:"type:text"`
	ReceivedAt      time.Time     `json:"receivedAt" db:"received_at" gorm:"index"`
	Starred         bool          `json:"isStarred" db:"starred" gorm:"default:false"`
	Archived        bool          `json:"isArchived" db:"archived" gorm:"default:false;index"`
	Spam            bool          `json:"isSpam" db:"spam" gorm:"default:false;index"`
	Attachments     []*Attachment `json:"attachments,omitempty" db:"-" gorm:"-"`
}

// TableName 指定表名
func (Message) TableName() string { return "received_emails" }

// Summary 生成邮件摘要
func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{
		ID:          m.ID,
		FromAddress: m.FromAddress,
		Subject:     m.Subject,
		ReceivedAt:  m.ReceivedAt,
	}
}

// MessageFilter 列表过滤条件，默认隐藏已归档与垃圾邮件
type MessageFilter struct {
	IncludeArchived bool
	IncludeSpam     bool
}

// Visible 判断邮件在过滤条件下是否可见
func (f MessageFilter) Visible(m *Message) bool {
	if m.Archived && !f.IncludeArchived {
		return false
	}
	if m.Spam && !f.IncludeSpam {
		return false
	}
	return true
}

// Flag 邮件标记
type Flag string

const (
	FlagStarred  Flag = "starred"
	FlagArchived Flag = "archived"
	FlagSpam     Flag = "spam"
)

// Valid 是否为已知标记
func (f Flag) Valid() bool {
	switch f {
	case FlagStarred, FlagArchived, FlagSpam:
		return true
	}
	return false
}

// Column 标记对应的列名
func (f Flag) Column() string {
	return string(f)
}

// Apply 将标记写入邮件
func (f Flag) Apply(m *Message, value bool) {
	switch f {
	case FlagStarred:
		m.Starred = value
	case FlagArchived:
		m.Archived = value
	case FlagSpam:
		m.Spam = value
	}
}

// BulkAction 批量操作
type BulkAction string

const (
	BulkDelete  BulkAction = "delete"
	BulkArchive BulkAction = "archive"
	BulkSpam    BulkAction = "spam"
)

// ParseBulkAction 解析批量操作名称
func ParseBulkAction(s string) (BulkAction, error) {
	switch BulkAction(s) {
	case BulkDelete, BulkArchive, BulkSpam:
		return BulkAction(s), nil
	}
	return "", ErrInvalidAction
}

// Flag 返回批量操作对应的标记，删除操作返回空
func (a BulkAction) Flag() Flag {
	switch a {
	case BulkArchive:
		return FlagArchived
	case BulkSpam:
		return FlagSpam
	}
	return ""
}
