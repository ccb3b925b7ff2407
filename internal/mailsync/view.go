package mailsync

import (
	"fmt"
	"time"

	"tempmail/engine/internal/domain"
)

// Folder 本地视图分类
type Folder string

const (
	FolderInbox    Folder = "inbox"
	FolderStarred  Folder = "starred"
	FolderArchived Folder = "archived"
	FolderSpam     Folder = "spam"
	FolderAll      Folder = "all"
)

// Folders 全部视图，按展示顺序
var Folders = []Folder{FolderInbox, FolderStarred, FolderArchived, FolderSpam, FolderAll}

// ParseFolder 解析视图名称，空值为收件箱
func ParseFolder(s string) (Folder, error) {
	if s == "" {
		return FolderInbox, nil
	}
	for _, f := range Folders {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown folder %q", s)
}

// Contains 判断邮件是否出现在该视图中
func (f Folder) Contains(m *domain.Message) bool {
	switch f {
	case FolderStarred:
		return m.Starred && !m.Spam
	case FolderArchived:
		return m.Archived && !m.Spam
	case FolderSpam:
		return m.Spam
	case FolderAll:
		return true
	default:
		return !m.Archived && !m.Spam
	}
}

// Notice 操作失败后的临时提示，到期自动消失
type Notice struct {
	ID       uint64
	Text     string
	Terminal bool
	Err      error
	RaisedAt time.Time
}

// Snapshot 会话状态的只读副本
type Snapshot struct {
	Version     uint64
	AddressID   string
	Folder      Folder
	Messages    []domain.Message // 当前视图中的邮件
	Counts      map[Folder]int
	Selected    *domain.Message // 打开的邮件，不可见时为 nil
	Selection   []string        // 批量选择，按视图顺序
	Fetching    bool
	Loaded      bool
	FetchError  error // 拉取失败后持续存在，直到下一次成功
	LastFetched time.Time
	AutoRefresh bool
	Mutations   []Mutation // 未退役的乐观更新记录，按发起顺序
	Notices     []Notice
}

// Message 在快照中查找邮件（仅当前视图）
func (s Snapshot) Message(id string) (domain.Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Message{}, false
}
