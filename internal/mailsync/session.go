package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tempmail/engine/internal/domain"
)

// OpStatus 乐观更新记录的状态
type OpStatus string

const (
	OpPending   OpStatus = "pending"
	OpConfirmed OpStatus = "confirmed"
)

// Mutation 一条乐观更新记录
//
// 记录存在期间，其字段值覆盖服务端列表中的对应实体。失败时删除记录即回滚；
// 成功后保留到一次在确认之后才开始的拉取完成，再退役。
type Mutation struct {
	ID        uint64
	Label     string
	EntityIDs []string
	Field     domain.Flag     // 删除操作为空
	Delete    bool            // true 表示从视图中移除
	Prior     map[string]bool // 修改前的字段值
	Value     bool
	Status    OpStatus

	confirmedAfter uint64 // 确认时已开始的拉取次数
	done           chan struct{}
}

func (m *Mutation) touches(ids map[string]struct{}) bool {
	for _, id := range m.EntityIDs {
		if _, ok := ids[id]; ok {
			return true
		}
	}
	return false
}

// Option 会话选项
type Option func(*Session)

// WithLogger 设置日志
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithNoticeTTL 设置失败提示的显示时长
func WithNoticeTTL(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.noticeTTL = d
		}
	}
}

// WithPollInterval 设置自动刷新间隔
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithOnChange 注册状态变化回调，可能在后台 goroutine 中调用，按 Version 判断先后
func WithOnChange(fn func(Snapshot)) Option {
	return func(s *Session) { s.onChange = fn }
}

// Session 单个临时地址的同步会话
type Session struct {
	api          API
	addressID    string
	log          *zap.Logger
	noticeTTL    time.Duration
	pollInterval time.Duration
	now          func() time.Time
	onChange     func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc
	flight singleflight.Group
	wg     sync.WaitGroup

	mu             sync.Mutex
	version        uint64
	server         []domain.Message
	ops            map[uint64]*Mutation
	nextOp         uint64
	fetchesStarted uint64
	fetching       bool
	loaded         bool
	fetchErr       error
	lastFetched    time.Time
	folder         Folder
	selected       string
	selection      map[string]struct{}
	notices        []Notice
	nextNotice     uint64
	noticeTimers   map[uint64]*time.Timer
	pollStop       chan struct{}
	closed         bool
}

// NewSession 创建会话，不会自动拉取，调用 Refresh 或 Start 开始
func NewSession(api API, addressID string, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		api:          api,
		addressID:    addressID,
		log:          zap.NewNop(),
		noticeTTL:    2 * time.Second,
		pollInterval: 30 * time.Second,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		ops:          make(map[uint64]*Mutation),
		folder:       FolderInbox,
		selection:    make(map[string]struct{}),
		noticeTimers: make(map[uint64]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddressID 返回会话对应的地址
func (s *Session) AddressID() string { return s.addressID }

// Close 停止轮询与所有后台调用，等待其退出
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.pollStop != nil {
		close(s.pollStop)
		s.pollStop = nil
	}
	for id, t := range s.noticeTimers {
		t.Stop()
		delete(s.noticeTimers, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// ========== 拉取 ==========

// Refresh 触发一次拉取；已有拉取在进行时并入该次，不会发出第二个请求
func (s *Session) Refresh() <-chan error {
	out := make(chan error, 1)
	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if closed {
		out <- ErrClosed
		return out
	}

	ch := s.flight.DoChan("fetch", func() (interface{}, error) {
		return nil, s.fetch()
	})
	go func() {
		defer s.wg.Done()
		res := <-ch
		out <- res.Err
	}()
	return out
}

func (s *Session) fetch() error {
	s.mu.Lock()
	s.fetchesStarted++
	seq := s.fetchesStarted
	s.fetching = true
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)

	msgs, err := s.api.ListMessages(s.ctx, s.addressID)

	s.mu.Lock()
	s.fetching = false
	if err != nil {
		if s.ctx.Err() == nil {
			s.fetchErr = err
		}
	} else {
		s.server = msgs
		s.fetchErr = nil
		s.loaded = true
		s.lastFetched = s.now()
		for id, op := range s.ops {
			if op.Status == OpConfirmed && seq > op.confirmedAfter {
				delete(s.ops, id)
			}
		}
		s.pruneLocked()
	}
	snap = s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)

	if err != nil {
		s.log.Warn("fetch failed", zap.String("address_id", s.addressID), zap.Error(err))
		return err
	}
	s.log.Debug("fetch completed", zap.String("address_id", s.addressID), zap.Int("messages", len(msgs)))
	return nil
}

// ========== 乐观更新 ==========

// SetFlag 设置单封邮件的标记
func (s *Session) SetFlag(messageID string, flag domain.Flag, value bool) <-chan error {
	if !flag.Valid() {
		return failed(domain.ErrInvalidFlag)
	}
	label := flagLabel(flag, value)
	return s.mutate(label, []string{messageID}, flag, false, value, func(ctx context.Context) error {
		return s.api.SetFlag(ctx, s.addressID, messageID, flag, value)
	})
}

// ToggleStar 切换星标，以当前本地值为准
func (s *Session) ToggleStar(messageID string) <-chan error {
	s.mu.Lock()
	m, ok := s.findLocked(messageID)
	s.mu.Unlock()
	if !ok {
		return failed(ErrUnknownMessage)
	}
	return s.SetFlag(messageID, domain.FlagStarred, !m.Starred)
}

// Archive 归档邮件
func (s *Session) Archive(messageID string) <-chan error {
	return s.SetFlag(messageID, domain.FlagArchived, true)
}

// MarkSpam 标记为垃圾邮件
func (s *Session) MarkSpam(messageID string) <-chan error {
	return s.SetFlag(messageID, domain.FlagSpam, true)
}

// Delete 删除邮件
func (s *Session) Delete(messageID string) <-chan error {
	return s.mutate("删除", []string{messageID}, "", true, false, func(ctx context.Context) error {
		return s.api.DeleteMessage(ctx, s.addressID, messageID)
	})
}

// Bulk 对当前批量选择执行操作，选择为空时直接完成
func (s *Session) Bulk(action domain.BulkAction) <-chan error {
	if _, err := domain.ParseBulkAction(string(action)); err != nil {
		return failed(err)
	}
	s.mu.Lock()
	ids := s.selectionLocked()
	s.mu.Unlock()
	if len(ids) == 0 {
		return failed(nil)
	}

	call := func(ctx context.Context) error {
		_, err := s.api.Bulk(ctx, s.addressID, action, ids)
		return err
	}
	label := "批量" + bulkLabel(action)
	if action == domain.BulkDelete {
		return s.mutate(label, ids, "", true, false, call)
	}
	return s.mutate(label, ids, action.Flag(), false, true, call)
}

func (s *Session) mutate(label string, ids []string, flag domain.Flag, del, value bool, call func(context.Context) error) <-chan error {
	out := make(chan error, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		out <- ErrClosed
		return out
	}

	current := make(map[string]domain.Message)
	for _, m := range s.mergedLocked() {
		current[m.ID] = m
	}
	entities := make(map[string]struct{}, len(ids))
	var prior map[string]bool
	if !del {
		prior = make(map[string]bool, len(ids))
	}
	for _, id := range ids {
		m, ok := current[id]
		if !ok {
			s.mu.Unlock()
			out <- fmt.Errorf("%w: %s", ErrUnknownMessage, id)
			return out
		}
		entities[id] = struct{}{}
		if prior != nil {
			prior[id] = flagValue(&m, flag)
		}
	}

	// 同一实体上尚未完成的操作必须先结束
	var waits []chan struct{}
	for _, op := range s.orderedOpsLocked() {
		if op.Status == OpPending && op.touches(entities) {
			waits = append(waits, op.done)
		}
	}

	s.nextOp++
	m := &Mutation{
		ID:        s.nextOp,
		Label:     label,
		EntityIDs: append([]string(nil), ids...),
		Field:     flag,
		Delete:    del,
		Prior:     prior,
		Value:     value,
		Status:    OpPending,
		done:      make(chan struct{}),
	}
	s.ops[m.ID] = m
	s.pruneLocked()
	snap := s.changedLocked()
	s.wg.Add(1)
	s.mu.Unlock()
	s.emit(snap)

	go s.run(m, waits, call, out)
	return out
}

func (s *Session) run(m *Mutation, waits []chan struct{}, call func(context.Context) error, out chan<- error) {
	defer s.wg.Done()

	for _, w := range waits {
		select {
		case <-w:
		case <-s.ctx.Done():
		}
	}

	err := ErrClosed
	if s.ctx.Err() == nil {
		err = call(s.ctx)
	}
	// 被会话关闭打断的调用按 ErrClosed 处理，不再提示
	if err != nil && s.ctx.Err() != nil {
		err = ErrClosed
	}

	s.mu.Lock()
	if err != nil {
		delete(s.ops, m.ID)
		if !errors.Is(err, ErrClosed) {
			s.raiseNoticeLocked(m.Label+"失败，已恢复", err)
		}
	} else {
		m.Status = OpConfirmed
		m.confirmedAfter = s.fetchesStarted
	}
	close(m.done)
	s.pruneLocked()
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)

	if err != nil {
		s.log.Warn("mutation rolled back",
			zap.String("address_id", s.addressID),
			zap.String("op", m.Label),
			zap.Strings("entities", m.EntityIDs),
			zap.Bool("terminal", IsTerminal(err)),
			zap.Error(err),
		)
	}
	out <- err
}

func failed(err error) <-chan error {
	out := make(chan error, 1)
	out <- err
	return out
}

func flagValue(m *domain.Message, flag domain.Flag) bool {
	switch flag {
	case domain.FlagStarred:
		return m.Starred
	case domain.FlagArchived:
		return m.Archived
	case domain.FlagSpam:
		return m.Spam
	}
	return false
}

func flagLabel(flag domain.Flag, value bool) string {
	switch {
	case flag == domain.FlagStarred && value:
		return "标星"
	case flag == domain.FlagStarred:
		return "取消标星"
	case flag == domain.FlagArchived && value:
		return "归档"
	case flag == domain.FlagArchived:
		return "取消归档"
	case flag == domain.FlagSpam && value:
		return "标记垃圾邮件"
	default:
		return "取消垃圾邮件标记"
	}
}

func bulkLabel(action domain.BulkAction) string {
	switch action {
	case domain.BulkDelete:
		return "删除"
	case domain.BulkArchive:
		return "归档"
	default:
		return "标记垃圾邮件"
	}
}

// ========== 提示 ==========

func (s *Session) raiseNoticeLocked(text string, err error) {
	s.nextNotice++
	id := s.nextNotice
	s.notices = append(s.notices, Notice{
		ID:       id,
		Text:     text,
		Terminal: IsTerminal(err),
		Err:      err,
		RaisedAt: s.now(),
	})
	if s.closed {
		return
	}
	s.noticeTimers[id] = time.AfterFunc(s.noticeTTL, func() { s.DismissNotice(id) })
}

// DismissNotice 移除提示，到期时也会自动调用
func (s *Session) DismissNotice(id uint64) {
	s.mu.Lock()
	if t, ok := s.noticeTimers[id]; ok {
		t.Stop()
		delete(s.noticeTimers, id)
	}
	found := false
	for i, n := range s.notices {
		if n.ID == id {
			s.notices = append(s.notices[:i], s.notices[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return
	}
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// ========== 视图与选择 ==========

// SetFolder 切换视图
func (s *Session) SetFolder(f Folder) {
	s.mu.Lock()
	s.folder = f
	s.pruneLocked()
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// Open 打开邮件详情，邮件必须在当前视图中
func (s *Session) Open(messageID string) error {
	s.mu.Lock()
	if !s.visibleLocked(messageID) {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	s.selected = messageID
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)
	return nil
}

// CloseDetail 关闭邮件详情
func (s *Session) CloseDetail() {
	s.mu.Lock()
	s.selected = ""
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// ToggleSelection 切换批量选择
func (s *Session) ToggleSelection(messageID string) error {
	s.mu.Lock()
	if !s.visibleLocked(messageID) {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	if _, ok := s.selection[messageID]; ok {
		delete(s.selection, messageID)
	} else {
		s.selection[messageID] = struct{}{}
	}
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)
	return nil
}

// SelectAll 选中当前视图的全部邮件
func (s *Session) SelectAll() {
	s.mu.Lock()
	for _, m := range s.visibleMessagesLocked() {
		s.selection[m.ID] = struct{}{}
	}
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// ClearSelection 清空批量选择
func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.selection = make(map[string]struct{})
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// Snapshot 返回当前状态
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// mergedLocked 服务端列表叠加全部未退役的记录
func (s *Session) mergedLocked() []domain.Message {
	ops := s.orderedOpsLocked()
	out := make([]domain.Message, 0, len(s.server))
	for _, msg := range s.server {
		m := msg
		removed := false
		for _, op := range ops {
			if !containsID(op.EntityIDs, m.ID) {
				continue
			}
			if op.Delete {
				removed = true
				break
			}
			op.Field.Apply(&m, op.Value)
		}
		if !removed {
			out = append(out, m)
		}
	}
	return out
}

func (s *Session) orderedOpsLocked() []*Mutation {
	ops := make([]*Mutation, 0, len(s.ops))
	for _, op := range s.ops {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	return ops
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (s *Session) findLocked(id string) (domain.Message, bool) {
	for _, m := range s.mergedLocked() {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Message{}, false
}

func (s *Session) visibleMessagesLocked() []domain.Message {
	merged := s.mergedLocked()
	out := merged[:0]
	for i := range merged {
		if s.folder.Contains(&merged[i]) {
			out = append(out, merged[i])
		}
	}
	return out
}

func (s *Session) visibleLocked(id string) bool {
	for _, m := range s.visibleMessagesLocked() {
		if m.ID == id {
			return true
		}
	}
	return false
}

// pruneLocked 清理不再可见的打开邮件与批量选择
func (s *Session) pruneLocked() {
	visible := make(map[string]struct{})
	for _, m := range s.visibleMessagesLocked() {
		visible[m.ID] = struct{}{}
	}
	if _, ok := visible[s.selected]; !ok {
		s.selected = ""
	}
	for id := range s.selection {
		if _, ok := visible[id]; !ok {
			delete(s.selection, id)
		}
	}
}

func (s *Session) selectionLocked() []string {
	ids := make([]string, 0, len(s.selection))
	for _, m := range s.visibleMessagesLocked() {
		if _, ok := s.selection[m.ID]; ok {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func (s *Session) changedLocked() Snapshot {
	s.version++
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	merged := s.mergedLocked()
	counts := make(map[Folder]int, len(Folders))
	visible := make([]domain.Message, 0, len(merged))
	var selected *domain.Message
	for i := range merged {
		m := merged[i]
		for _, f := range Folders {
			if f.Contains(&m) {
				counts[f]++
			}
		}
		if s.folder.Contains(&m) {
			visible = append(visible, m)
			if m.ID == s.selected {
				cp := m
				selected = &cp
			}
		}
	}

	ops := s.orderedOpsLocked()
	mutations := make([]Mutation, 0, len(ops))
	for _, op := range ops {
		cp := *op
		cp.EntityIDs = append([]string(nil), op.EntityIDs...)
		if op.Prior != nil {
			cp.Prior = make(map[string]bool, len(op.Prior))
			for k, v := range op.Prior {
				cp.Prior[k] = v
			}
		}
		cp.done = nil
		mutations = append(mutations, cp)
	}

	return Snapshot{
		Version:     s.version,
		AddressID:   s.addressID,
		Folder:      s.folder,
		Messages:    visible,
		Counts:      counts,
		Selected:    selected,
		Selection:   s.selectionLocked(),
		Fetching:    s.fetching,
		Loaded:      s.loaded,
		FetchError:  s.fetchErr,
		LastFetched: s.lastFetched,
		AutoRefresh: s.pollStop != nil,
		Mutations:   mutations,
		Notices:     append([]Notice(nil), s.notices...),
	}
}

func (s *Session) emit(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
