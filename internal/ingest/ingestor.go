package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/monitoring"
	"tempmail/engine/internal/service"
)

// 投递失败原因
var (
	ErrUnmanagedDomain = fmt.Errorf("recipient domain not managed: %w", domain.ErrNotFound)
	ErrNoRecipients    = fmt.Errorf("no deliverable recipients: %w", domain.ErrAddressNotFound)
)

// Delivery 一次入站投递
type Delivery struct {
	Source       string // smtp 或 amqp
	EnvelopeFrom string
	Recipients   []string
	Raw          []byte
}

// Ingestor 将原始邮件解析后写入收件地址
type Ingestor struct {
	domains   *service.DomainService
	addresses *service.AddressService
	messages  *service.MessageService
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewIngestor 创建入站处理器，metrics 可为 nil
func NewIngestor(
	domains *service.DomainService,
	addresses *service.AddressService,
	messages *service.MessageService,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *Ingestor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{
		domains:   domains,
		addresses: addresses,
		messages:  messages,
		metrics:   metrics,
		log:       log,
	}
}

// Accept 校验收件人：域名必须已注册，地址必须存在且未过期
func (i *Ingestor) Accept(ctx context.Context, rcpt string) (*domain.TemporaryAddress, error) {
	_, domainName, err := domain.SplitAddress(normalizeAddress(rcpt))
	if err != nil {
		return nil, err
	}
	if _, err := i.domains.ResolveByName(ctx, domainName); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrUnmanagedDomain
		}
		return nil, err
	}
	return i.addresses.ResolveRecipient(ctx, normalizeAddress(rcpt))
}

// Deliver 解析邮件并写入每个有效收件人，返回成功写入的数量。
// 存储故障立即返回；所有收件人都被拒绝时返回 ErrNoRecipients。
func (i *Ingestor) Deliver(ctx context.Context, d Delivery) (int, error) {
	start := time.Now()
	if len(d.Raw) > MaxMessageBytes {
		i.reject(d.Source, "too_large")
		return 0, fmt.Errorf("%w: message exceeds %d bytes", ErrMalformedMessage, MaxMessageBytes)
	}

	parsed, err := ParseEmail(d.Raw)
	if err != nil {
		i.reject(d.Source, "malformed")
		return 0, err
	}
	from := parsed.FromAddress
	if from == "" {
		from = normalizeAddress(d.EnvelopeFrom)
	}

	seen := make(map[string]struct{}, len(d.Recipients))
	delivered := 0
	for _, rcpt := range d.Recipients {
		addr, err := i.Accept(ctx, rcpt)
		if err != nil {
			if errors.Is(err, domain.ErrStorageFailure) {
				return delivered, err
			}
			i.reject(d.Source, reasonFor(err))
			i.log.Debug("recipient rejected", zap.String("rcpt", rcpt), zap.Error(err))
			continue
		}
		if _, dup := seen[addr.ID]; dup {
			continue
		}
		seen[addr.ID] = struct{}{}

		msg, err := i.messages.Ingest(ctx, service.IngestInput{
			AddressID:       addr.ID,
			FromAddress:     from,
			FromDisplayName: parsed.FromName,
			Subject:         parsed.Subject,
			BodyHTML:        parsed.HTML,
			BodyText:        parsed.Text,
			Attachments:     parsed.Attachments,
		})
		if err != nil {
			if errors.Is(err, domain.ErrAddressNotFound) {
				// 地址在校验与写入之间过期
				i.reject(d.Source, "expired")
				continue
			}
			return delivered, err
		}
		delivered++

		if i.metrics != nil {
			sizes := make([]int64, 0, len(msg.Attachments))
			for _, att := range msg.Attachments {
				sizes = append(sizes, att.SizeBytes)
			}
			i.metrics.RecordMessageIngested(d.Source, time.Since(start), sizes)
		}
		i.log.Info("message delivered",
			zap.String("source", d.Source),
			zap.String("address", addr.Address),
			zap.String("message_id", msg.ID),
		)
	}

	if delivered == 0 {
		return 0, ErrNoRecipients
	}
	return delivered, nil
}

func (i *Ingestor) reject(source, reason string) {
	if i.metrics != nil {
		i.metrics.RecordIngestRejected(source, reason)
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrUnmanagedDomain):
		return "unmanaged_domain"
	case errors.Is(err, domain.ErrValidation):
		return "invalid_recipient"
	default:
		return "unknown_recipient"
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
