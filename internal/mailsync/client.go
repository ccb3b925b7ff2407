// Package mailsync 实现邮箱客户端的同步引擎：轮询拉取、乐观更新与回滚。
package mailsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tempmail/engine/internal/domain"
)

// API 会话依赖的服务端操作
type API interface {
	ListMessages(ctx context.Context, addressID string) ([]domain.Message, error)
	SetFlag(ctx context.Context, addressID, messageID string, flag domain.Flag, value bool) error
	DeleteMessage(ctx context.Context, addressID, messageID string) error
	Bulk(ctx context.Context, addressID string, action domain.BulkAction, ids []string) (int, error)
}

// Client 访问邮箱 HTTP 接口，令牌随实例传递
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient 创建客户端，token 为空时以游客身份访问。
// timeout <= 0 时不限制单次请求时长，取消由调用方的 context 控制。
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout < 0 {
		timeout = 0
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// envelope 服务端统一响应格式
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &APIError{Op: op, Err: err}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&env); err != nil && resp.StatusCode < 300 {
		return &APIError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode >= 300 {
		return &APIError{Op: op, Status: resp.StatusCode, Msg: env.Msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &APIError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
		}
	}
	return nil
}

func escape(s string) string { return url.PathEscape(s) }

// ListMessages 拉取地址下全部邮件（包含归档与垃圾）
func (c *Client) ListMessages(ctx context.Context, addressID string) ([]domain.Message, error) {
	var msgs []domain.Message
	path := "/emails/" + escape(addressID) + "/received?includeArchived=true&includeSpam=true"
	if err := c.do(ctx, "list messages", http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// flagPaths 标记与路由片段、请求字段的对应关系
var flagPaths = map[domain.Flag]string{
	domain.FlagStarred:  "star",
	domain.FlagArchived: "archive",
	domain.FlagSpam:     "spam",
}

// SetFlag 修改邮件标记
func (c *Client) SetFlag(ctx context.Context, addressID, messageID string, flag domain.Flag, value bool) error {
	segment, ok := flagPaths[flag]
	if !ok {
		return &APIError{Op: "set flag", Status: http.StatusBadRequest, Err: domain.ErrInvalidFlag}
	}
	path := "/emails/" + escape(addressID) + "/received/" + escape(messageID) + "/" + segment
	return c.do(ctx, "set "+string(flag), http.MethodPatch, path, map[string]bool{string(flag): value}, nil)
}

// DeleteMessage 删除邮件
func (c *Client) DeleteMessage(ctx context.Context, addressID, messageID string) error {
	path := "/emails/" + escape(addressID) + "/received/" + escape(messageID)
	return c.do(ctx, "delete message", http.MethodDelete, path, nil, nil)
}

// Bulk 批量操作，返回实际影响数量
func (c *Client) Bulk(ctx context.Context, addressID string, action domain.BulkAction, ids []string) (int, error) {
	var out struct {
		Affected int `json:"affected"`
	}
	path := "/emails/" + escape(addressID) + "/received/bulk/" + escape(string(action))
	if err := c.do(ctx, "bulk "+string(action), http.MethodPost, path, map[string][]string{"emailIds": ids}, &out); err != nil {
		return 0, err
	}
	return out.Affected, nil
}

// GetMessage 获取单封邮件
func (c *Client) GetMessage(ctx context.Context, addressID, messageID string) (*domain.Message, error) {
	var msg domain.Message
	path := "/emails/" + escape(addressID) + "/received/" + escape(messageID)
	if err := c.do(ctx, "get message", http.MethodGet, path, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateAddress 创建临时地址，email 可为空、本地部分或完整地址
func (c *Client) CreateAddress(ctx context.Context, email, domainID string) (*domain.TemporaryAddress, error) {
	var addr domain.TemporaryAddress
	body := map[string]string{"email": email, "domainId": domainID}
	if err := c.do(ctx, "create address", http.MethodPost, "/emails/create", body, &addr); err != nil {
		return nil, err
	}
	return &addr, nil
}

// ListAddresses 列出当前身份的地址
func (c *Client) ListAddresses(ctx context.Context) ([]domain.AddressSummary, error) {
	var list []domain.AddressSummary
	if err := c.do(ctx, "list addresses", http.MethodGet, "/emails", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteAddress 删除地址
func (c *Client) DeleteAddress(ctx context.Context, addressID string) error {
	return c.do(ctx, "delete address", http.MethodDelete, "/emails/delete/"+escape(addressID), nil, nil)
}

// ListDomains 列出可用域名
func (c *Client) ListDomains(ctx context.Context) ([]domain.Domain, error) {
	var list []domain.Domain
	if err := c.do(ctx, "list domains", http.MethodGet, "/domains", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListNotices 获取未关闭的公告
func (c *Client) ListNotices(ctx context.Context) ([]domain.Notice, error) {
	var list []domain.Notice
	if err := c.do(ctx, "list notices", http.MethodGet, "/messages", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// DismissNotice 关闭公告，重复关闭不报错
func (c *Client) DismissNotice(ctx context.Context, noticeID string) error {
	return c.do(ctx, "dismiss notice", http.MethodPost, "/messages/"+escape(noticeID)+"/dismiss", nil, nil)
}
