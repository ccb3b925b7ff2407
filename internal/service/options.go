package service

import (
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

const localPartAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Option 服务的可选配置
type Option func(*options)

type options struct {
	now      func() time.Time
	generate func(n int) string
	log      *zap.Logger
}

func buildOptions(opts []Option) options {
	o := options{
		now:      func() time.Time { return time.Now().UTC() },
		generate: randomLocalPart,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock 指定时钟，用于判断过期与生成时间戳
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocalPartGenerator 指定随机本地部分生成器
func WithLocalPartGenerator(gen func(n int) string) Option {
	return func(o *options) { o.generate = gen }
}

// WithLogger 指定日志
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// randomLocalPart 生成小写字母数字组成的本地部分
func randomLocalPart(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = localPartAlphabet[rand.IntN(len(localPartAlphabet))]
	}
	return string(b)
}
