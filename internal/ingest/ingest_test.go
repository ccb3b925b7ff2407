package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tempmail/engine/internal/config"
	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/service"
	"tempmail/engine/internal/storage/memory"
)

const multipartMail = "From: \"Alice Example\" <Alice@Example.com>\r\n" +
	"To: box@temp.mail\r\n" +
	"Subject: =?UTF-8?B?5rWL6K+V?=\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=outer\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=inner\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"plain body\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>html body</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; name=\"note.txt\"\r\n" +
	"Content-Disposition: attachment; filename=\"note.txt\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"aGVsbG8=\r\n" +
	"--outer--\r\n"

const htmlOnlyMail = "From: sender@example.com\r\n" +
	"Subject: html only\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><p>Hello there</p></body></html>\r\n"

func TestParseEmail(t *testing.T) {
	t.Run("解析多部分邮件", func(t *testing.T) {
		parsed, err := ParseEmail([]byte(multipartMail))
		require.NoError(t, err)

		assert.Equal(t, "测试", parsed.Subject)
		assert.Equal(t, "alice@example.com", parsed.FromAddress)
		assert.Equal(t, "Alice Example", parsed.FromName)
		assert.Equal(t, "plain body", strings.TrimSpace(parsed.Text))
		assert.Equal(t, "<p>html body</p>", strings.TrimSpace(parsed.HTML))
		require.Len(t, parsed.Attachments, 1)
		assert.Equal(t, "note.txt", parsed.Attachments[0].Filename)
		assert.Equal(t, "hello", string(parsed.Attachments[0].Content))
		assert.EqualValues(t, 5, parsed.Attachments[0].SizeBytes)
	})

	t.Run("只有HTML时生成纯文本", func(t *testing.T) {
		parsed, err := ParseEmail([]byte(htmlOnlyMail))
		require.NoError(t, err)
		assert.Contains(t, parsed.HTML, "<p>Hello there</p>")
		assert.Contains(t, parsed.Text, "Hello there")
		assert.NotContains(t, parsed.Text, "<p>")
	})

	t.Run("无法解析的邮件", func(t *testing.T) {
		_, err := ParseEmail([]byte("this is not a header line\r\n\r\nbody"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedMessage)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

type ingestFixture struct {
	ingestor  *Ingestor
	addresses *service.AddressService
	messages  *service.MessageService
	addr      *domain.TemporaryAddress
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	domains := service.NewDomainService(store, 0)
	d, err := domains.Create(ctx, "temp.mail")
	require.NoError(t, err)

	addresses := service.NewAddressService(store, domains, config.MailboxConfig{DefaultTTL: time.Hour})
	messages := service.NewMessageService(store)
	addr, err := addresses.Create(ctx, service.CreateAddressInput{Email: "box", DomainID: d.ID})
	require.NoError(t, err)

	return &ingestFixture{
		ingestor:  NewIngestor(domains, addresses, messages, nil, nil),
		addresses: addresses,
		messages:  messages,
		addr:      addr,
	}
}

func TestIngestor(t *testing.T) {
	ctx := context.Background()

	t.Run("接受已存在的地址", func(t *testing.T) {
		f := newIngestFixture(t)
		addr, err := f.ingestor.Accept(ctx, "<BOX@temp.mail>")
		require.NoError(t, err)
		assert.Equal(t, f.addr.ID, addr.ID)
	})

	t.Run("拒绝未托管的域名", func(t *testing.T) {
		f := newIngestFixture(t)
		_, err := f.ingestor.Accept(ctx, "box@other.mail")
		assert.ErrorIs(t, err, ErrUnmanagedDomain)
	})

	t.Run("拒绝不存在的地址", func(t *testing.T) {
		f := newIngestFixture(t)
		_, err := f.ingestor.Accept(ctx, "nobody@temp.mail")
		assert.ErrorIs(t, err, domain.ErrAddressNotFound)
	})

	t.Run("投递到有效收件人并去重", func(t *testing.T) {
		f := newIngestFixture(t)
		n, err := f.ingestor.Deliver(ctx, Delivery{
			Source:     "smtp",
			Recipients: []string{"box@temp.mail", "BOX@temp.mail", "nobody@temp.mail"},
			Raw:        []byte(multipartMail),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		msgs, err := f.messages.List(ctx, f.addr.ID, domain.MessageFilter{})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "alice@example.com", msgs[0].FromAddress)
		assert.Equal(t, "测试", msgs[0].Subject)
	})

	t.Run("没有有效收件人", func(t *testing.T) {
		f := newIngestFixture(t)
		_, err := f.ingestor.Deliver(ctx, Delivery{
			Source:     "smtp",
			Recipients: []string{"nobody@temp.mail"},
			Raw:        []byte(htmlOnlyMail),
		})
		assert.ErrorIs(t, err, ErrNoRecipients)
		assert.True(t, Permanent(err))
	})

	t.Run("缺少发件人头时使用信封地址", func(t *testing.T) {
		f := newIngestFixture(t)
		raw := "Subject: bare\r\n\r\nbody\r\n"
		_, err := f.ingestor.Deliver(ctx, Delivery{
			Source:       "smtp",
			EnvelopeFrom: "<Bounce@Example.com>",
			Recipients:   []string{"box@temp.mail"},
			Raw:          []byte(raw),
		})
		require.NoError(t, err)
		msgs, err := f.messages.List(ctx, f.addr.ID, domain.MessageFilter{})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "bounce@example.com", msgs[0].FromAddress)
	})
}

// MockAcknowledger 模拟队列确认
type MockAcknowledger struct {
	mock.Mock
}

func (m *MockAcknowledger) Ack(multiple bool) error {
	return m.Called(multiple).Error(0)
}

func (m *MockAcknowledger) Nack(multiple, requeue bool) error {
	return m.Called(multiple, requeue).Error(0)
}

type delivererFunc func(ctx context.Context, d Delivery) (int, error)

func (f delivererFunc) Deliver(ctx context.Context, d Delivery) (int, error) { return f(ctx, d) }

func TestConsumerHandle(t *testing.T) {
	envelope, err := json.Marshal(Envelope{To: []string{"box@temp.mail"}, From: "a@b.c", Raw: []byte(htmlOnlyMail)})
	require.NoError(t, err)

	t.Run("投递成功后确认", func(t *testing.T) {
		var got Delivery
		c := NewConsumer("", "q", 1, delivererFunc(func(_ context.Context, d Delivery) (int, error) {
			got = d
			return 1, nil
		}), nil)
		ack := new(MockAcknowledger)
		ack.On("Ack", false).Return(nil).Once()

		c.Handle(context.Background(), envelope, ack)
		ack.AssertExpectations(t)
		assert.Equal(t, "amqp", got.Source)
		assert.Equal(t, []byte(htmlOnlyMail), got.Raw)
	})

	t.Run("格式错误的消息直接丢弃", func(t *testing.T) {
		c := NewConsumer("", "q", 1, delivererFunc(func(context.Context, Delivery) (int, error) {
			t.Fatal("should not deliver")
			return 0, nil
		}), nil)
		ack := new(MockAcknowledger)
		ack.On("Ack", false).Return(nil).Once()

		c.Handle(context.Background(), []byte("{not json"), ack)
		ack.AssertExpectations(t)
	})

	t.Run("收件人不存在时确认丢弃", func(t *testing.T) {
		c := NewConsumer("", "q", 1, delivererFunc(func(context.Context, Delivery) (int, error) {
			return 0, ErrNoRecipients
		}), nil)
		ack := new(MockAcknowledger)
		ack.On("Ack", false).Return(nil).Once()

		c.Handle(context.Background(), envelope, ack)
		ack.AssertExpectations(t)
	})

	t.Run("存储故障时重新入队", func(t *testing.T) {
		c := NewConsumer("", "q", 1, delivererFunc(func(context.Context, Delivery) (int, error) {
			return 0, domain.StorageFailure("save message", errors.New("connection reset"))
		}), nil)
		ack := new(MockAcknowledger)
		ack.On("Nack", false, true).Return(nil).Once()

		c.Handle(context.Background(), envelope, ack)
		ack.AssertExpectations(t)
	})

	t.Run("未连接时健康检查失败", func(t *testing.T) {
		c := NewConsumer("", "q", 1, nil, nil)
		assert.Error(t, c.Health(context.Background()))
	})

	t.Run("健康检查与连接切换并发安全", func(t *testing.T) {
		c := NewConsumer("", "q", 1, nil, nil)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = c.Health(context.Background())
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.setConn(nil, nil)
				c.Close()
			}
		}()
		wg.Wait()
		assert.Error(t, c.Health(context.Background()))
	})
}
