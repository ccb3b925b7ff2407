// Package storagetest 提供各存储实现共用的行为测试。
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/storage"
)

// Factory 为每个子测试创建一个全新的存储
type Factory func(t *testing.T) storage.Store

var base = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// Run 执行全部存储行为测试
func Run(t *testing.T, newStore Factory) {
	t.Run("域名", func(t *testing.T) { testDomains(t, newStore(t)) })
	t.Run("地址唯一性与过期重用", func(t *testing.T) { testAddressUniqueness(t, newStore(t)) })
	t.Run("地址查询", func(t *testing.T) { testAddressQueries(t, newStore(t)) })
	t.Run("投递到过期或不存在的地址", func(t *testing.T) { testIngestRejected(t, newStore(t)) })
	t.Run("邮件列表与标记", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("级联删除", func(t *testing.T) { testCascade(t, newStore(t)) })
	t.Run("批量操作忽略无关ID", func(t *testing.T) { testBulk(t, newStore(t)) })
	t.Run("过期清理", func(t *testing.T) { testDeleteExpired(t, newStore(t)) })
	t.Run("域名删除保护", func(t *testing.T) { testDomainInUse(t, newStore(t)) })
	t.Run("公告与关闭", func(t *testing.T) { testNotices(t, newStore(t)) })
}

// SeedDomain 写入一个测试域名
func SeedDomain(t *testing.T, s storage.Store, id, name string) *domain.Domain {
	t.Helper()
	d := &domain.Domain{ID: id, Name: name, CreatedAt: base}
	require.NoError(t, s.SaveDomain(context.Background(), d))
	return d
}

// SeedAddress 写入一个测试地址
func SeedAddress(t *testing.T, s storage.Store, id, local string, d *domain.Domain, owner *string, ttl time.Duration) *domain.TemporaryAddress {
	t.Helper()
	addr := &domain.TemporaryAddress{
		ID:        id,
		OwnerID:   owner,
		Address:   domain.JoinAddress(local, d.Name),
		LocalPart: local,
		DomainID:  d.ID,
		CreatedAt: base,
		ExpiresAt: base.Add(ttl),
	}
	require.NoError(t, s.CreateAddress(context.Background(), addr, base))
	return addr
}

// SeedMessage 写入一封测试邮件
func SeedMessage(t *testing.T, s storage.Store, addressID, id string, at time.Time, attachments int) *domain.Message {
	t.Helper()
	msg := &domain.Message{
		ID:          id,
		AddressID:   addressID,
		FromAddress: "sender@example.org",
		Subject:     "subject " + id,
		BodyText:    "hello",
		ReceivedAt:  at,
	}
	for i := 0; i < attachments; i++ {
		msg.Attachments = append(msg.Attachments, &domain.Attachment{
			ID:          fmt.Sprintf("%s-att-%d", id, i),
			Filename:    fmt.Sprintf("file-%d.txt", i),
			ContentType: "text/plain",
			SizeBytes:   3,
			Content:     []byte("abc"),
		})
	}
	require.NoError(t, s.SaveMessage(context.Background(), msg, base))
	return msg
}

func allMessages() domain.MessageFilter {
	return domain.MessageFilter{IncludeArchived: true, IncludeSpam: true}
}

func strPtr(s string) *string { return &s }

func testDomains(t *testing.T, s storage.Store) {
	ctx := context.Background()
	SeedDomain(t, s, "d2", "zeta.test")
	SeedDomain(t, s, "d1", "alpha.test")

	err := s.SaveDomain(ctx, &domain.Domain{ID: "d3", Name: "alpha.test", CreatedAt: base})
	assert.ErrorIs(t, err, domain.ErrDomainExists)

	list, err := s.ListDomains(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha.test", list[0].Name)
	assert.Equal(t, "zeta.test", list[1].Name)

	got, err := s.GetDomainByName(ctx, "zeta.test")
	require.NoError(t, err)
	assert.Equal(t, "d2", got.ID)

	_, err = s.GetDomain(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDomainNotFound)

	require.NoError(t, s.DeleteDomain(ctx, "d2", base))
	_, err = s.GetDomain(ctx, "d2")
	assert.ErrorIs(t, err, domain.ErrDomainNotFound)
	assert.ErrorIs(t, s.DeleteDomain(ctx, "d2", base), domain.ErrDomainNotFound)
}

func testAddressUniqueness(t *testing.T, s storage.Store) {
	ctx := context.Background()
	d := SeedDomain(t, s, "d1", "mail.test")
	old := SeedAddress(t, s, "a1", "alice", d, strPtr("u1"), time.Hour)
	SeedMessage(t, s, old.ID, "m1", base.Add(time.Minute), 1)

	dup := &domain.TemporaryAddress{
		ID: "a2", Address: old.Address, LocalPart: "alice", DomainID: d.ID,
		CreatedAt: base, ExpiresAt: base.Add(time.Hour),
	}
	assert.ErrorIs(t, s.CreateAddress(ctx, dup, base.Add(30*time.Minute)), domain.ErrAddressTaken)

	// 原地址过期后可以被重新创建，旧数据一并清除
	later := base.Add(2 * time.Hour)
	dup.CreatedAt = later
	dup.ExpiresAt = later.Add(time.Hour)
	require.NoError(t, s.CreateAddress(ctx, dup, later))

	_, err := s.GetAddress(ctx, "a1", base)
	assert.ErrorIs(t, err, domain.ErrAddressNotFound)
	msgs, err := s.ListMessages(ctx, "a1", allMessages())
	require.NoError(t, err)
	assert.Empty(t, msgs)

	got, err := s.GetAddressByEmail(ctx, old.Address, later)
	require.NoError(t, err)
	assert.Equal(t, "a2", got.ID)
}

func testAddressQueries(t *testing.T, s storage.Store) {
	ctx := context.Background()
	d := SeedDomain(t, s, "d1", "mail.test")
	owner := strPtr("u1")

	first := SeedAddress(t, s, "a1", "first", d, owner, time.Hour)
	second := &domain.TemporaryAddress{
		ID: "a2", OwnerID: owner, Address: "second@mail.test", LocalPart: "second", DomainID: d.ID,
		CreatedAt: base.Add(time.Minute), ExpiresAt: base.Add(time.Hour),
	}
	require.NoError(t, s.CreateAddress(ctx, second, base))
	SeedAddress(t, s, "a3", "other", d, strPtr("u2"), time.Hour)
	SeedAddress(t, s, "a4", "anon", d, nil, time.Hour)
	SeedAddress(t, s, "a5", "short", d, owner, time.Minute)

	list, err := s.ListAddressesByOwner(ctx, owner, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "最新创建的排在前面")
	assert.Equal(t, first.ID, list[1].ID)
	require.NotNil(t, list[0].OwnerID)
	assert.Equal(t, "u1", *list[0].OwnerID)

	anon, err := s.ListAddressesByOwner(ctx, nil, base)
	require.NoError(t, err)
	require.Len(t, anon, 1)
	assert.Equal(t, "a4", anon[0].ID)
	assert.Nil(t, anon[0].OwnerID)

	got, err := s.GetAddress(ctx, "a1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.Equal(base.Add(time.Hour)))

	_, err = s.GetAddress(ctx, "a1", base.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrAddressNotFound, "到期时刻即不可见")
}

func testIngestRejected(t *testing.T, s storage.Store) {
	ctx := context.Background()
	d := SeedDomain(t, s, "d1", "mail.test")
	SeedAddress(t, s, "a1", "alice", d, nil, time.Minute)

	msg := &domain.Message{ID: "m1", AddressID: "a1", ReceivedAt: base.Add(time.Minute)}
	assert.ErrorIs(t, s.SaveMessage(ctx, msg, base.Add(time.Minute)), domain.ErrAddressNotFound)

	msg.AddressID = "nope"
	assert.ErrorIs(t, s.SaveMessage(ctx, msg, base), domain.ErrAddressNotFound)

	_, err := s.GetAddressByEmail(ctx, "nope@mail.test", base)
	assert.ErrorIs(t, err, domain.ErrAddressNotFound)
}

func testMessages(t *testing.T, s storage.Store) {
	ctx := context.Background()
	d := SeedDomain(t, s, "d1", "mail.test")
	SeedAddress(t, s, "a1", "alice", d, nil, time.Hour)
	SeedAddress(t, s, "a2", "bob", d, nil, time.Hour)

	SeedMessage(t, s, "a1", "m1", base.Add(1*time.Minute), 0)
	SeedMessage(t, s, "a1", "m2", base.Add(3*time.Minute), 2)
	SeedMessage(t, s, "a1", "m3", base.Add(2*time.Minute), 0)

	list, err := s.ListMessages(ctx, "a1", domain.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"m2", "m3", "m1"}, ids(list))
	require.Len(t, list[0].Attachments, 2)
	assert.Nil(t, list[0].Attachments[0].Content, "列表不返回附件内容")

	require.NoError(t, s.SetMessageFlag(ctx, "a1", "m3", domain.FlagArchived, true))
	require.NoError(t, s.SetMessageFlag(ctx, "a1", "m1", domain.FlagSpam, true))
	require.NoError(t, s.SetMessageFlag(ctx, "a1", "m2", domain.FlagStarred, true))

	list, err = s.ListMessages(ctx, "a1", domain.MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, ids(list))
	assert.True(t, list[0].Starred)

	list, err = s.ListMessages(ctx, "a1", domain.MessageFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, ids(list))

	list, err = s.ListMessages(ctx, "a1", allMessages())
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3", "m1"}, ids(list))

	// 跨地址访问视为不存在
	assert.ErrorIs(t, s.SetMessageFlag(ctx, "a2", "m1", domain.FlagStarred, true), domain.ErrMessageNotFound)
	assert.ErrorIs(t, s.DeleteMessage(ctx, "a2", "m1"), domain.ErrMessageNotFound)
	_, err = s.GetMessage(ctx, "a2", "m1")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	att, err := s.GetAttachment(ctx, "a1", "m2", "m2-att-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), att.Content)
	assert.Equal(t, "file-1.txt", att.Filename)
	_, err = s.GetAttachment(ctx, "a1", "m2", "missing")
	assert.ErrorIs(t, err, domain.ErrAttachmentNotFound)
	_, err = s.GetAttachment(ctx, "a2", "m2", "m2-att-1")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	latest, err := s.LatestMessages(ctx, []string{"a1", "a2"})
	require.NoError(t, err)
	assert.Equal(t, "m2", latest["a1"].ID)
	_, ok := latest["a2"]
	assert.False(t, ok)

	require.NoError(t, s.DeleteMessage(ctx, "a1", "m2"))
	_, err = s.GetAttachment(ctx, "a1", "m2", "m2-att-0")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	assert.ErrorIs(t, s.DeleteMessage(ctx, "a1", "m2"), domain.ErrMessageNotFound)
}

func testCascade(t *testing.T, s storage.Store) {
	ctx := context.Background()
	d := SeedDomain(t, s, "d1", "mail.test")
	SeedAddress(t, s, "a1", "alice", d, nil, time.Hour)
	SeedAddress(t, s, "a2", "bob", d, nil, time.Hour)
	SeedMessage(t, s, "a1", "m1", base.Add(time.Minute), 1)
	SeedMessage(t, s, "a1", "m2", base.Add(2*time.Minute), 2)
	SeedMessage(t, s, "a1", "m3", base.Add(3*time.Minute), 0)
	SeedMessage(t, s, "a2", "m4", base.Add(time.Minute), 1)

	require.NoError(t, s.DeleteAddress(ctx, "a1"))

	msgs, err := s.ListMessages(ctx, "a1", allMessages())
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = s.GetAttachment(ctx, "a1", "m2", "m2-att-0")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	others, err := s.ListMessages(ctx, "a2", allMessages())
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Len(t, others[0].Attachments, 1)

	assert.ErrorIs(t, s.DeleteAddress(ctx, "a1"), domain.ErrAddressNotFound)
}

func testBulk(t *testing.T, s storage.Store) {
	ctx := context.Background()
	d := SeedDomain(t, s, "d1", "mail.test")
	SeedAddress(t, s, "a1", "alice", d, nil, time.Hour)
	SeedAddress(t, s, "a2", "bob", d, nil, time.Hour)
	SeedMessage(t, s, "a1", "m1", base.Add(time.Minute), 1)
	SeedMessage(t, s, "a1", "m2", base.Add(2*time.Minute), 0)
	SeedMessage(t, s, "a1", "m3", base.Add(3*time.Minute), 0)
	SeedMessage(t, s, "a2", "m4", base.Add(time.Minute), 0)

	n, err := s.BulkApply(ctx, "a1", []string{"m1", "m2", "m4", "ghost", "m1"}, domain.BulkArchive)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	inbox, err := s.ListMessages(ctx, "a1", domain.MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"m3"}, ids(inbox))

	foreign, err := s.GetMessage(ctx, "a2", "m4")
	require.NoError(t, err)
	assert.False(t, foreign.Archived, "其他地址的邮件不受影响")

	n, err = s.BulkApply(ctx, "a1", []string{"m3"}, domain.BulkSpam)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.BulkApply(ctx, "a1", []string{"m1", "m3", "m4"}, domain.BulkDelete)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.ListMessages(ctx, "a1", allMessages())
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, ids(all))
	_, err = s.GetMessage(ctx, "a2", "m4")
	assert.NoError(t, err)
}

func testDeleteExpired(t *testing.T, s storage.Store) {
	ctx := context.Background()
	d := SeedDomain(t, s, "d1", "mail.test")
	SeedAddress(t, s, "a1", "short", d, nil, time.Minute)
	SeedAddress(t, s, "a2", "long", d, nil, time.Hour)
	SeedMessage(t, s, "a1", "m1", base.Add(time.Second), 1)

	n, err := s.DeleteExpiredAddresses(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetAddress(ctx, "a2", base.Add(time.Minute))
	assert.NoError(t, err)
	msgs, err := s.ListMessages(ctx, "a1", allMessages())
	require.NoError(t, err)
	assert.Empty(t, msgs)

	n, err = s.DeleteExpiredAddresses(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testDomainInUse(t *testing.T, s storage.Store) {
	ctx := context.Background()
	d := SeedDomain(t, s, "d1", "mail.test")
	SeedAddress(t, s, "a1", "alice", d, nil, time.Hour)

	assert.ErrorIs(t, s.DeleteDomain(ctx, d.ID, base), domain.ErrDomainInUse)

	// 地址过期后允许删除，过期地址一并清理
	require.NoError(t, s.DeleteDomain(ctx, d.ID, base.Add(time.Hour)))
	_, err := s.GetDomain(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrDomainNotFound)
}

func testNotices(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveNotice(ctx, &domain.Notice{ID: "n1", Content: "old", Severity: domain.SeverityInfo, Active: true, CreatedAt: base}))
	require.NoError(t, s.SaveNotice(ctx, &domain.Notice{ID: "n2", Content: "new", Severity: domain.SeverityWarning, Active: true, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.SaveNotice(ctx, &domain.Notice{ID: "n3", Content: "off", Severity: domain.SeverityError, Active: false, CreatedAt: base}))

	visible, err := s.ListVisibleNotices(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n2", "n1"}, noticeIDs(visible))

	dismissal := &domain.NoticeDismissal{UserID: "u1", NoticeID: "n2", DismissedAt: base}
	require.NoError(t, s.DismissNotice(ctx, dismissal))
	require.NoError(t, s.DismissNotice(ctx, dismissal))

	rows, err := s.ListDismissals(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "重复关闭只保留一条记录")

	visible, err = s.ListVisibleNotices(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, noticeIDs(visible))

	visible, err = s.ListVisibleNotices(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"n2", "n1"}, noticeIDs(visible))

	assert.ErrorIs(t, s.DismissNotice(ctx, &domain.NoticeDismissal{UserID: "u1", NoticeID: "zzz", DismissedAt: base}), domain.ErrNoticeNotFound)

	require.NoError(t, s.SetNoticeActive(ctx, "n3", true))
	all, err := s.ListNotices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	got, err := s.GetNotice(ctx, "n3")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.ErrorIs(t, s.SetNoticeActive(ctx, "zzz", true), domain.ErrNoticeNotFound)
}

func ids(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func noticeIDs(ns []domain.Notice) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}
