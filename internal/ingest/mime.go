package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/jaytaylor/html2text"

	"tempmail/engine/internal/domain"
)

// MaxMessageBytes 单封邮件的最大字节数
const MaxMessageBytes = 10 << 20

// ErrMalformedMessage 邮件无法解析
var ErrMalformedMessage = fmt.Errorf("malformed message: %w", domain.ErrValidation)

// ParsedEmail 解析后的邮件内容
type ParsedEmail struct {
	FromAddress string
	FromName    string
	Subject     string
	Text        string
	HTML        string
	Attachments []*domain.Attachment
}

// ParseEmail 解析 RFC 5322 邮件，提取正文与附件。
// 只有 HTML 正文时由 HTML 生成纯文本。
func ParseEmail(raw []byte) (*ParsedEmail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && (mr == nil || !tolerable(err)) {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	defer mr.Close()

	parsed := &ParsedEmail{}
	if subject, err := mr.Header.Subject(); err == nil {
		parsed.Subject = subject
	} else {
		parsed.Subject = mr.Header.Get("Subject")
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.FromAddress = strings.ToLower(from[0].Address)
		parsed.FromName = from[0].Name
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		// 未知字符集或编码时按原始字节保留
		if err != nil && (part == nil || !tolerable(err)) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, _ := h.ContentType()
			switch {
			case contentType == "text/plain" || contentType == "":
				if parsed.Text == "" {
					parsed.Text = string(body)
				}
			case contentType == "text/html":
				if parsed.HTML == "" {
					parsed.HTML = string(body)
				}
			default:
				// 内嵌图片等非文本部分按附件保存
				parsed.Attachments = append(parsed.Attachments, newAttachment(params["name"], contentType, body))
			}
		case *mail.AttachmentHeader:
			contentType, _, _ := h.ContentType()
			filename, _ := h.Filename()
			parsed.Attachments = append(parsed.Attachments, newAttachment(filename, contentType, body))
		}
	}

	if parsed.Text == "" && parsed.HTML != "" {
		text, err := html2text.FromString(parsed.HTML, html2text.Options{OmitLinks: false})
		if err == nil {
			parsed.Text = text
		}
	}
	return parsed, nil
}

func newAttachment(filename, contentType string, content []byte) *domain.Attachment {
	if filename == "" {
		filename = "unnamed"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &domain.Attachment{
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(content)),
		Content:     content,
	}
}

func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
