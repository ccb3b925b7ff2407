// Package seed 在启动时导入域名与公告。
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"tempmail/engine/internal/service"
)

// File 种子文件结构
//
//	domains:
//	  - temp.mail
//	notices:
//	  - content: 系统维护通知
//	    type: warning
//	    active: true
type File struct {
	Domains []string `yaml:"domains"`
	Notices []Notice `yaml:"notices"`
}

// Notice 种子公告
type Notice struct {
	Content string `yaml:"content"`
	Type    string `yaml:"type"`
	Active  *bool  `yaml:"active"`
}

// Result 导入结果
type Result struct {
	Domains        int
	NoticesCreated int
	NoticesSkipped int
}

// Parse 解析 YAML 种子数据
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

// Load 从路径读取种子文件
func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// Apply 幂等导入：已存在的域名跳过，内容相同的公告不重复创建
func Apply(ctx context.Context, f *File, domains *service.DomainService, notices *service.NoticeService, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var res Result

	if len(f.Domains) > 0 {
		if err := domains.EnsureDomains(ctx, f.Domains); err != nil {
			return res, fmt.Errorf("seed domains: %w", err)
		}
		res.Domains = len(f.Domains)
	}

	if len(f.Notices) == 0 {
		return res, nil
	}
	existing, err := notices.ListAll(ctx)
	if err != nil {
		return res, fmt.Errorf("seed notices: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, n := range existing {
		seen[n.Content] = true
	}

	for _, sn := range f.Notices {
		content := strings.TrimSpace(sn.Content)
		if seen[content] {
			res.NoticesSkipped++
			continue
		}
		n, err := notices.Create(ctx, service.CreateNoticeInput{Content: content, Severity: sn.Type, CreatedBy: "seed"})
		if err != nil {
			return res, fmt.Errorf("seed notice %q: %w", content, err)
		}
		if sn.Active != nil && !*sn.Active {
			if _, err := notices.SetActive(ctx, n.ID, false); err != nil {
				return res, fmt.Errorf("seed notice %q: %w", content, err)
			}
		}
		seen[content] = true
		res.NoticesCreated++
	}

	log.Info("seed applied",
		zap.Int("domains", res.Domains),
		zap.Int("notices_created", res.NoticesCreated),
		zap.Int("notices_skipped", res.NoticesSkipped),
	)
	return res, nil
}
