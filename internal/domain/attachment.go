package domain

// Attachment 表示邮件附件。
type Attachment struct {
	ID          string `json:"id" db:"id" gorm:"primaryKey;type:varchar(36)"`                    // 附件唯一标识
	MessageID   string `json:"messageId" db:"message_id" gorm:"type:varchar(36);index;not null"` // 所属邮件ID
	Filename    string `json:"filename" db:"filename" gorm:"type:varchar(255)"`                  // 文件名
	ContentType string `json:"contentType" db:"content_type" gorm:"type:varchar(255)"`           // MIME类型
	SizeBytes   int64  `json:"size" db:"size_bytes"`                                             // 大小（字节）
	Content     []byte `json:"-" db:"content"`                                                   // 附件内容，仅下载时返回
}

// TableName 指定表名
func (Attachment) TableName() string { return "attachments" }

// Meta 返回不含内容的副本
func (a *Attachment) Meta() *Attachment {
	cp := *a
	cp.Content = nil
	return &cp
}
