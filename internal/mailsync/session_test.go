package mailsync

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/engine/internal/domain"
)

type call struct {
	op    string
	ids   []string
	flag  domain.Flag
	value bool
}

// fakeAPI 内存版服务端，可注入失败与阻塞
type fakeAPI struct {
	mu       sync.Mutex
	messages map[string]domain.Message
	calls    []call
	listN    int

	listGate   chan struct{} // 非 nil 时 ListMessages 在返回前阻塞
	mutateGate chan struct{} // 非 nil 时变更操作在执行前阻塞
	listErr    error
	failIDs    map[string]error
}

func newFakeAPI(msgs ...domain.Message) *fakeAPI {
	f := &fakeAPI{messages: make(map[string]domain.Message), failIDs: make(map[string]error)}
	for _, m := range msgs {
		f.messages[m.ID] = m
	}
	return f
}

func (f *fakeAPI) ListMessages(ctx context.Context, _ string) ([]domain.Message, error) {
	f.mu.Lock()
	f.listN++
	gate, err := f.listGate, f.listErr
	out := make([]domain.Message, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m)
	}
	f.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeAPI) before(ctx context.Context, c call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	gate := f.mutateGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range c.ids {
		if err, ok := f.failIDs[id]; ok {
			return err
		}
	}
	return nil
}

func (f *fakeAPI) SetFlag(ctx context.Context, _ string, messageID string, flag domain.Flag, value bool) error {
	if err := f.before(ctx, call{op: "flag", ids: []string{messageID}, flag: flag, value: value}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return &APIError{Op: "set flag", Status: http.StatusNotFound}
	}
	flag.Apply(&m, value)
	f.messages[messageID] = m
	return nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, _ string, messageID string) error {
	if err := f.before(ctx, call{op: "delete", ids: []string{messageID}}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, messageID)
	return nil
}

func (f *fakeAPI) Bulk(ctx context.Context, _ string, action domain.BulkAction, ids []string) (int, error) {
	if err := f.before(ctx, call{op: "bulk:" + string(action), ids: ids}); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range ids {
		m, ok := f.messages[id]
		if !ok {
			continue
		}
		n++
		if action == domain.BulkDelete {
			delete(f.messages, id)
			continue
		}
		action.Flag().Apply(&m, true)
		f.messages[id] = m
	}
	return n, nil
}

func (f *fakeAPI) serverMessage(id string) domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id]
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listN
}

func (f *fakeAPI) setListGate(ch chan struct{}) {
	f.mu.Lock()
	f.listGate = ch
	f.mu.Unlock()
}

func (f *fakeAPI) setMutateGate(ch chan struct{}) {
	f.mu.Lock()
	f.mutateGate = ch
	f.mu.Unlock()
}

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func msg(id string, minute int) domain.Message {
	return domain.Message{ID: id, AddressID: "a1", Subject: "subject " + id, ReceivedAt: t0.Add(time.Duration(minute) * time.Minute)}
}

func newLoadedSession(t *testing.T, api *fakeAPI, opts ...Option) *Session {
	t.Helper()
	s := NewSession(api, "a1", opts...)
	t.Cleanup(s.Close)
	require.NoError(t, wait(t, s.Refresh()))
	return s
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestRefresh(t *testing.T) {
	t.Run("收件箱排除归档和垃圾邮件", func(t *testing.T) {
		archived := msg("m2", 2)
		archived.Archived = true
		spam := msg("m3", 3)
		spam.Spam = true
		api := newFakeAPI(msg("m1", 1), archived, spam)
		s := newLoadedSession(t, api)

		snap := s.Snapshot()
		assert.True(t, snap.Loaded)
		assert.Equal(t, []string{"m1"}, ids(snap.Messages))
		assert.Equal(t, 3, snap.Counts[FolderAll])
		assert.Equal(t, 1, snap.Counts[FolderArchived])
		assert.Equal(t, 1, snap.Counts[FolderSpam])

		s.SetFolder(FolderAll)
		assert.Equal(t, []string{"m3", "m2", "m1"}, ids(s.Snapshot().Messages))
	})

	t.Run("拉取失败保留已有数据", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		s := newLoadedSession(t, api)

		api.mu.Lock()
		api.listErr = &APIError{Op: "list messages", Status: http.StatusBadGateway}
		api.mu.Unlock()
		err := wait(t, s.Refresh())
		require.Error(t, err)
		assert.False(t, IsTerminal(err))

		snap := s.Snapshot()
		assert.Equal(t, []string{"m1"}, ids(snap.Messages))
		assert.Error(t, snap.FetchError)

		api.mu.Lock()
		api.listErr = nil
		api.mu.Unlock()
		require.NoError(t, wait(t, s.Refresh()))
		assert.NoError(t, s.Snapshot().FetchError)
	})

	t.Run("拉取进行中时不重复请求", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		s := NewSession(api, "a1")
		defer s.Close()

		gate := make(chan struct{})
		api.setListGate(gate)
		first := s.Refresh()
		require.Eventually(t, func() bool { return api.listCount() == 1 }, time.Second, 5*time.Millisecond)
		assert.True(t, s.Snapshot().Fetching)

		second := s.Refresh()
		assert.Equal(t, 1, api.listCount())

		close(gate)
		require.NoError(t, wait(t, first))
		require.NoError(t, wait(t, second))
		assert.Equal(t, 1, api.listCount())
		assert.False(t, s.Snapshot().Fetching)
	})
}

func TestOptimisticMutations(t *testing.T) {
	t.Run("标星立即生效，失败后恢复且不重试", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		api.failIDs["m1"] = &APIError{Op: "set starred", Status: http.StatusInternalServerError}
		s := newLoadedSession(t, api, WithNoticeTTL(50*time.Millisecond))

		gate := make(chan struct{})
		api.setMutateGate(gate)
		done := s.ToggleStar("m1")

		m, ok := s.Snapshot().Message("m1")
		require.True(t, ok)
		assert.True(t, m.Starred)
		require.Len(t, s.Snapshot().Mutations, 1)
		assert.Equal(t, OpPending, s.Snapshot().Mutations[0].Status)
		assert.Equal(t, map[string]bool{"m1": false}, s.Snapshot().Mutations[0].Prior)

		close(gate)
		err := wait(t, done)
		require.Error(t, err)
		assert.False(t, IsTerminal(err))

		snap := s.Snapshot()
		m, _ = snap.Message("m1")
		assert.False(t, m.Starred)
		assert.Empty(t, snap.Mutations)
		require.Len(t, snap.Notices, 1)
		assert.False(t, snap.Notices[0].Terminal)
		assert.Equal(t, 1, api.callCount())

		// 提示到期自动消失
		assert.Eventually(t, func() bool { return len(s.Snapshot().Notices) == 0 }, time.Second, 10*time.Millisecond)
	})

	t.Run("404视为终态失败", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		api.failIDs["m1"] = &APIError{Op: "delete message", Status: http.StatusNotFound}
		s := newLoadedSession(t, api)

		err := wait(t, s.Delete("m1"))
		assert.True(t, IsTerminal(err))
		assert.Equal(t, []string{"m1"}, ids(s.Snapshot().Messages))
		require.Len(t, s.Snapshot().Notices, 1)
		assert.True(t, s.Snapshot().Notices[0].Terminal)
	})

	t.Run("回滚只影响失败的邮件", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1), msg("m2", 2))
		api.failIDs["m1"] = errors.New("connection reset")
		s := newLoadedSession(t, api)

		gate := make(chan struct{})
		api.setMutateGate(gate)
		r1 := s.ToggleStar("m1")
		r2 := s.ToggleStar("m2")
		close(gate)
		assert.Error(t, wait(t, r1))
		assert.NoError(t, wait(t, r2))

		snap := s.Snapshot()
		m1, _ := snap.Message("m1")
		m2, _ := snap.Message("m2")
		assert.False(t, m1.Starred)
		assert.True(t, m2.Starred)
	})

	t.Run("旧的拉取结果不会覆盖已确认的修改", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		s := newLoadedSession(t, api)

		// 拉取在修改之前开始，返回的是旧数据
		listGate := make(chan struct{})
		api.setListGate(listGate)
		stale := s.Refresh()
		require.Eventually(t, func() bool { return api.listCount() == 2 }, time.Second, 5*time.Millisecond)

		require.NoError(t, wait(t, s.ToggleStar("m1")))
		assert.True(t, api.serverMessage("m1").Starred)

		close(listGate)
		require.NoError(t, wait(t, stale))
		m, _ := s.Snapshot().Message("m1")
		assert.True(t, m.Starred)
		require.Len(t, s.Snapshot().Mutations, 1)
		assert.Equal(t, OpConfirmed, s.Snapshot().Mutations[0].Status)

		// 确认之后开始的拉取完成后记录退役
		api.setListGate(nil)
		require.NoError(t, wait(t, s.Refresh()))
		m, _ = s.Snapshot().Message("m1")
		assert.True(t, m.Starred)
		assert.Empty(t, s.Snapshot().Mutations)
	})

	t.Run("同一邮件的操作串行执行", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		s := newLoadedSession(t, api)

		gate := make(chan struct{})
		api.setMutateGate(gate)
		star := s.ToggleStar("m1")
		archive := s.Archive("m1")

		require.Eventually(t, func() bool { return api.callCount() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, api.callCount(), "第二个请求必须等待第一个完成")

		close(gate)
		require.NoError(t, wait(t, star))
		require.NoError(t, wait(t, archive))

		api.mu.Lock()
		assert.Equal(t, domain.FlagStarred, api.calls[0].flag)
		assert.Equal(t, domain.FlagArchived, api.calls[1].flag)
		api.mu.Unlock()

		require.NoError(t, wait(t, s.Refresh()))
		snap := s.Snapshot()
		assert.Empty(t, snap.Messages)
		s.SetFolder(FolderAll)
		m, ok := s.Snapshot().Message("m1")
		require.True(t, ok)
		assert.True(t, m.Starred)
		assert.True(t, m.Archived)
	})

	t.Run("未知邮件直接失败", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		s := newLoadedSession(t, api)
		assert.ErrorIs(t, wait(t, s.Delete("ghost")), ErrUnknownMessage)
		assert.Zero(t, api.callCount())
	})
}

func TestSelection(t *testing.T) {
	t.Run("打开的邮件被远端删除后清空", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1), msg("m2", 2))
		s := newLoadedSession(t, api)
		require.NoError(t, s.Open("m1"))
		require.NotNil(t, s.Snapshot().Selected)

		api.mu.Lock()
		delete(api.messages, "m1")
		api.mu.Unlock()
		require.NoError(t, wait(t, s.Refresh()))
		assert.Nil(t, s.Snapshot().Selected)
	})

	t.Run("在收件箱中归档打开的邮件后清空", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		s := newLoadedSession(t, api)
		require.NoError(t, s.Open("m1"))
		require.NoError(t, wait(t, s.Archive("m1")))
		assert.Nil(t, s.Snapshot().Selected)
	})

	t.Run("批量归档后修剪选择", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1), msg("m2", 2), msg("m3", 3))
		s := newLoadedSession(t, api)
		require.NoError(t, s.ToggleSelection("m1"))
		require.NoError(t, s.ToggleSelection("m2"))

		gate := make(chan struct{})
		api.setMutateGate(gate)
		done := s.Bulk(domain.BulkArchive)

		snap := s.Snapshot()
		assert.Equal(t, []string{"m3"}, ids(snap.Messages))
		assert.Empty(t, snap.Selection)

		close(gate)
		require.NoError(t, wait(t, done))
		api.mu.Lock()
		assert.ElementsMatch(t, []string{"m1", "m2"}, api.calls[0].ids)
		api.mu.Unlock()
	})

	t.Run("批量删除失败后恢复", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1), msg("m2", 2))
		api.failIDs["m2"] = &APIError{Op: "bulk delete", Status: http.StatusServiceUnavailable}
		s := newLoadedSession(t, api)
		s.SelectAll()
		require.Len(t, s.Snapshot().Selection, 2)

		assert.Error(t, wait(t, s.Bulk(domain.BulkDelete)))
		assert.Equal(t, []string{"m2", "m1"}, ids(s.Snapshot().Messages))
	})

	t.Run("空选择不发请求", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		s := newLoadedSession(t, api)
		assert.NoError(t, wait(t, s.Bulk(domain.BulkSpam)))
		assert.Zero(t, api.callCount())
	})
}

func TestPolling(t *testing.T) {
	t.Run("暂停后不再定时拉取", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		s := NewSession(api, "a1", WithPollInterval(10*time.Millisecond))
		defer s.Close()

		require.NoError(t, wait(t, s.Start()))
		assert.True(t, s.Snapshot().AutoRefresh)
		require.Eventually(t, func() bool { return api.listCount() >= 3 }, time.Second, 5*time.Millisecond)

		s.Pause()
		assert.False(t, s.Snapshot().AutoRefresh)
		time.Sleep(20 * time.Millisecond)
		paused := api.listCount()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, paused, api.listCount())

		s.Resume()
		require.Eventually(t, func() bool { return api.listCount() > paused }, time.Second, 5*time.Millisecond)
	})

	t.Run("暂停不会中断进行中的拉取", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		s := NewSession(api, "a1", WithPollInterval(time.Hour))
		defer s.Close()

		gate := make(chan struct{})
		api.setListGate(gate)
		done := s.Start()
		require.Eventually(t, func() bool { return api.listCount() == 1 }, time.Second, 5*time.Millisecond)
		s.Pause()
		close(gate)
		require.NoError(t, wait(t, done))
		assert.True(t, s.Snapshot().Loaded)
	})

	t.Run("关闭后操作返回错误", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		s := NewSession(api, "a1")
		s.Close()
		assert.ErrorIs(t, wait(t, s.Refresh()), ErrClosed)
	})

	t.Run("关闭打断进行中的操作时不再提示", func(t *testing.T) {
		api := newFakeAPI(msg("m1", 1))
		s := newLoadedSession(t, api)
		api.setMutateGate(make(chan struct{}))

		done := s.ToggleStar("m1")
		require.Eventually(t, func() bool { return api.callCount() == 1 }, time.Second, 5*time.Millisecond)
		s.Close()

		assert.ErrorIs(t, wait(t, done), ErrClosed)
		assert.Empty(t, s.Snapshot().Notices)
		s.mu.Lock()
		assert.Empty(t, s.noticeTimers)
		s.mu.Unlock()
	})
}

func TestOnChange(t *testing.T) {
	var mu sync.Mutex
	var versions []uint64
	api := newFakeAPI(msg("m1", 1))
	s := newLoadedSession(t, api, WithOnChange(func(snap Snapshot) {
		mu.Lock()
		versions = append(versions, snap.Version)
		mu.Unlock()
	}))
	require.NoError(t, wait(t, s.ToggleStar("m1")))

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(versions), 4)
}
