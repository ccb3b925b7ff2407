package domain

import "time"

// Severity 公告级别
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// ParseSeverity 解析公告级别，空值默认为 info
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case "":
		return SeverityInfo, nil
	case SeverityInfo, SeverityWarning, SeveritySuccess, SeverityError:
		return Severity(s), nil
	}
	return "", ErrInvalidSeverity
}

// Notice 系统公告
type Notice struct {
	ID        string    `json:"id" db:"id" gorm:"primaryKey;type:varchar(36)"`
	Content   string    `json:"content" db:"content" gorm:"type:text;not null"`
	Severity  Severity  `json:"type" db:"severity" gorm:"type:varchar(16);default:'info'"`
	Active    bool      `json:"isActive" db:"active" gorm:"default:true;index"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	CreatedBy string    `json:"createdBy,omitempty" db:"created_by" gorm:"type:varchar(64)"`
}

// TableName 指定表名
func (Notice) TableName() string { return "notices" }

// NoticeDismissal 用户关闭公告的记录，(UserID, NoticeID) 唯一
type NoticeDismissal struct {
	UserID      string    `json:"userId" db:"user_id" gorm:"primaryKey;type:varchar(64)"`
	NoticeID    string    `json:"noticeId" db:"notice_id" gorm:"primaryKey;type:varchar(36)"`
	DismissedAt time.Time `json:"dismissedAt" db:"dismissed_at"`
}

// TableName 指定表名
func (NoticeDismissal) TableName() string { return "notice_dismissals" }
