// mailsync 是临时邮箱的命令行客户端，基于同步会话完成拉取与乐观操作。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"tempmail/engine/internal/config"
	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/logger"
	"tempmail/engine/internal/mailsync"
)

const usage = `用法: mailsync [选项] <命令> [参数]

命令:
  domains                         列出可用域名
  create [本地部分] --domain=ID    创建临时地址
  list                            列出我的地址
  delete-address <地址ID>          删除地址
  inbox <地址ID> [--folder=inbox]  查看邮件
  watch <地址ID>                   自动刷新并输出变化，Ctrl-C 退出
  star|archive|spam|delete <地址ID> <邮件ID>
  bulk <地址ID> <delete|archive|spam> <邮件ID>...
  notices                         查看公告
  dismiss <公告ID>                 关闭公告
`

func main() {
	cfg := config.LoadSync()

	baseURL := flag.String("url", orDefault(cfg.BaseURL, "http://localhost:8080"), "服务地址")
	token := flag.String("token", cfg.Token, "访问令牌")
	domainID := flag.String("domain", "", "创建地址时使用的域名ID")
	folder := flag.String("folder", "inbox", "视图: inbox、starred、archived、spam、all")
	timeout := flag.Duration("timeout", cfg.Timeout, "单次请求超时，0 表示不限制")
	verbose := flag.BoolP("verbose", "v", false, "输出调试日志")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log, err := logger.NewLogger(logger.Config{Level: level, Development: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &app{
		client: mailsync.NewClient(*baseURL, *token, *timeout),
		cfg:    cfg,
		log:    log,
	}
	if err := app.dispatch(ctx, args, *domainID, *folder); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

type app struct {
	client *mailsync.Client
	cfg    config.SyncConfig
	log    *zap.Logger
}

func (a *app) dispatch(ctx context.Context, args []string, domainID, folderName string) error {
	cmd, rest := args[0], args[1:]
	need := func(n int) error {
		if len(rest) < n {
			return fmt.Errorf("%s 需要 %d 个参数", cmd, n)
		}
		return nil
	}

	switch cmd {
	case "domains":
		return a.domains(ctx)
	case "create":
		local := ""
		if len(rest) > 0 {
			local = rest[0]
		}
		if domainID == "" {
			return errors.New("缺少 --domain")
		}
		addr, err := a.client.CreateAddress(ctx, local, domainID)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t过期时间 %s\n", addr.ID, addr.Address, addr.ExpiresAt.Local().Format(time.DateTime))
		return nil
	case "list":
		return a.addresses(ctx)
	case "delete-address":
		if err := need(1); err != nil {
			return err
		}
		return a.client.DeleteAddress(ctx, rest[0])
	case "inbox":
		if err := need(1); err != nil {
			return err
		}
		f, err := mailsync.ParseFolder(folderName)
		if err != nil {
			return err
		}
		return a.inbox(rest[0], f)
	case "watch":
		if err := need(1); err != nil {
			return err
		}
		return a.watch(ctx, rest[0])
	case "star", "archive", "spam", "delete":
		if err := need(2); err != nil {
			return err
		}
		return a.mutate(cmd, rest[0], rest[1])
	case "bulk":
		if err := need(3); err != nil {
			return err
		}
		action, err := domain.ParseBulkAction(rest[1])
		if err != nil {
			return err
		}
		return a.bulk(rest[0], action, rest[2:])
	case "notices":
		return a.notices(ctx)
	case "dismiss":
		if err := need(1); err != nil {
			return err
		}
		return a.client.DismissNotice(ctx, rest[0])
	}
	return fmt.Errorf("未知命令 %q", cmd)
}

func (a *app) session(addressID string, opts ...mailsync.Option) *mailsync.Session {
	opts = append([]mailsync.Option{
		mailsync.WithLogger(a.log),
		mailsync.WithPollInterval(a.cfg.PollInterval),
		mailsync.WithNoticeTTL(a.cfg.NoticeTTL),
	}, opts...)
	return mailsync.NewSession(a.client, addressID, opts...)
}

func (a *app) domains(ctx context.Context) error {
	list, err := a.client.ListDomains(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "域名"})
	for _, d := range list {
		table.Append([]string{d.ID, d.Name})
	}
	table.Render()
	return nil
}

func (a *app) addresses(ctx context.Context) error {
	list, err := a.client.ListAddresses(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "地址", "过期时间", "最新邮件"})
	for _, item := range list {
		latest := ""
		if item.LatestMessage != nil {
			latest = item.LatestMessage.Subject
		}
		table.Append([]string{item.ID, item.Address, item.ExpiresAt.Local().Format(time.DateTime), latest})
	}
	table.Render()
	return nil
}

func (a *app) inbox(addressID string, f mailsync.Folder) error {
	s := a.session(addressID)
	defer s.Close()
	if err := <-s.Refresh(); err != nil {
		return err
	}
	s.SetFolder(f)
	printMessages(s.Snapshot())
	return nil
}

func (a *app) watch(ctx context.Context, addressID string) error {
	var (
		mu        sync.Mutex
		lastCount = -1
	)
	s := a.session(addressID, mailsync.WithOnChange(func(snap mailsync.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if snap.Fetching || !snap.Loaded {
			return
		}
		if snap.FetchError != nil {
			fmt.Fprintf(os.Stderr, "[%s] 刷新失败: %v\n", time.Now().Format(time.TimeOnly), snap.FetchError)
			return
		}
		if n := snap.Counts[mailsync.FolderAll]; n != lastCount {
			lastCount = n
			printMessages(snap)
		}
	}))
	defer s.Close()

	if err := <-s.Start(); err != nil {
		// 首次失败也继续轮询
		a.log.Warn("initial fetch failed", zap.Error(err))
	}
	<-ctx.Done()
	return nil
}

func (a *app) mutate(cmd, addressID, messageID string) error {
	s := a.session(addressID)
	defer s.Close()
	if err := <-s.Refresh(); err != nil {
		return err
	}
	s.SetFolder(mailsync.FolderAll)

	var done <-chan error
	switch cmd {
	case "star":
		done = s.ToggleStar(messageID)
	case "archive":
		done = s.Archive(messageID)
	case "spam":
		done = s.MarkSpam(messageID)
	default:
		done = s.Delete(messageID)
	}
	if err := <-done; err != nil {
		return describe(err)
	}
	fmt.Println("完成")
	return nil
}

func (a *app) bulk(addressID string, action domain.BulkAction, ids []string) error {
	s := a.session(addressID)
	defer s.Close()
	if err := <-s.Refresh(); err != nil {
		return err
	}
	s.SetFolder(mailsync.FolderAll)
	for _, id := range ids {
		if err := s.ToggleSelection(id); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}
	if err := <-s.Bulk(action); err != nil {
		return describe(err)
	}
	fmt.Printf("已处理 %d 封邮件\n", len(ids))
	return nil
}

func (a *app) notices(ctx context.Context) error {
	list, err := a.client.ListNotices(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "类型", "内容"})
	for _, n := range list {
		table.Append([]string{n.ID, string(n.Severity), n.Content})
	}
	table.Render()
	return nil
}

func describe(err error) error {
	if mailsync.IsTerminal(err) {
		return fmt.Errorf("操作被拒绝: %w", err)
	}
	return fmt.Errorf("暂时失败，可稍后重试: %w", err)
}

func printMessages(snap mailsync.Snapshot) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "发件人", "主题", "时间", "标记"})
	for _, m := range snap.Messages {
		var marks []string
		if m.Starred {
			marks = append(marks, "★")
		}
		if m.Archived {
			marks = append(marks, "归档")
		}
		if m.Spam {
			marks = append(marks, "垃圾")
		}
		from := m.FromAddress
		if m.FromDisplayName != "" {
			from = m.FromDisplayName + " <" + m.FromAddress + ">"
		}
		table.Append([]string{m.ID, from, m.Subject, m.ReceivedAt.Local().Format(time.DateTime), strings.Join(marks, " ")})
	}
	table.Render()
	fmt.Printf("%s: %d 封，全部 %d 封\n", snap.Folder, len(snap.Messages), snap.Counts[mailsync.FolderAll])
}
