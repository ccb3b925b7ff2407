package smtp

import (
	"context"
	"errors"
	"io"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/ingest"
)

// Recipients 会话使用的投递能力，*ingest.Ingestor 实现
type Recipients interface {
	Accept(ctx context.Context, rcpt string) (*domain.TemporaryAddress, error)
	Deliver(ctx context.Context, d ingest.Delivery) (int, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往本系统已注册域名下存活地址的邮件，不做任何转发：
// 域名未托管返回 550 5.7.1，地址不存在或已过期返回 550 5.1.1。
type Backend struct {
	ingestor Recipients
	limiter  *ConnectionLimiter
	timeout  time.Duration
	log      *zap.Logger
}

// NewBackend 创建 SMTP Backend，limiter 可为 nil
func NewBackend(ingestor Recipients, limiter *ConnectionLimiter, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{ingestor: ingestor, limiter: limiter, timeout: 30 * time.Second, log: log}
}

// NewServer 按配置创建 go-smtp 服务器
func NewServer(be *Backend, addr, hostname string) *gosmtp.Server {
	s := gosmtp.NewServer(be)
	s.Addr = addr
	s.Domain = hostname
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second
	s.MaxMessageBytes = ingest.MaxMessageBytes
	s.MaxRecipients = 50
	return s
}

var (
	errTooManyConns = &gosmtp.SMTPError{
		Code:         421,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "too many connections, try again later",
	}
	errRelayDenied = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
		Message:      "relay access denied - domain not managed by this server",
	}
	errNoMailbox = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
		Message:      "recipient mailbox not found",
	}
	errBadRecipient = &gosmtp.SMTPError{
		Code:         501,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
		Message:      "invalid recipient address",
	}
	errTemporary = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "temporary failure, try again later",
	}
	errMalformed = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      "message could not be parsed",
	}
)

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		return nil, errTooManyConns
	}
	return &session{backend: b}, nil
}

type session struct {
	backend    *Backend
	from       string
	recipients []string
	released   bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令，在此阶段拒绝无效收件人以避免成为开放中继。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.backend.timeout)
	defer cancel()

	_, err := s.backend.ingestor.Accept(ctx, to)
	if err != nil {
		return rcptError(err)
	}
	s.recipients = append(s.recipients, to)
	return nil
}

func rcptError(err error) error {
	switch {
	case errors.Is(err, ingest.ErrUnmanagedDomain):
		return errRelayDenied
	case errors.Is(err, domain.ErrNotFound):
		return errNoMailbox
	case errors.Is(err, domain.ErrValidation):
		return errBadRecipient
	default:
		return errTemporary
	}
}

// Data 处理邮件内容。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, ingest.MaxMessageBytes+1))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.backend.timeout)
	defer cancel()

	_, err = s.backend.ingestor.Deliver(ctx, ingest.Delivery{
		Source:       "smtp",
		EnvelopeFrom: s.from,
		Recipients:   s.recipients,
		Raw:          raw,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ingest.ErrMalformedMessage):
		return errMalformed
	case errors.Is(err, domain.ErrNotFound):
		// 收件人在 RCPT 之后过期
		return errNoMailbox
	default:
		s.backend.log.Error("smtp delivery failed", zap.Strings("rcpt", s.recipients), zap.Error(err))
		return errTemporary
	}
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束，释放连接许可。
func (s *session) Logout() error {
	if s.backend.limiter != nil && !s.released {
		s.released = true
		s.backend.limiter.Release()
	}
	return nil
}
