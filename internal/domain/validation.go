package domain

import (
	"regexp"
	"strings"
)

// 验证常量
const (
	// RFC 5321 长度限制
	MaxLocalPartLength = 64
	MinLocalPartLength = 3
	MaxDomainLength    = 253
)

var (
	// 本地部分只接受小写字母数字与 . _ -，首尾必须为字母数字
	localPartRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*[a-z0-9]$`)

	domainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

	doubledSeparators = []string{"..", ".-", "-.", "--", "__", "_.", "._", "_-", "-_"}
)

// EmailValidator 邮箱验证器
type EmailValidator struct{}

// NewEmailValidator 创建邮箱验证器
func NewEmailValidator() *EmailValidator {
	return &EmailValidator{}
}

// ValidateLocalPart 验证邮箱本地部分（调用方需先转为小写）
func (v *EmailValidator) ValidateLocalPart(localPart string) error {
	if len(localPart) < MinLocalPartLength {
		return ErrInvalidLocalPart
	}
	if len(localPart) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if !localPartRegex.MatchString(localPart) {
		return ErrInvalidLocalPart
	}

	// 不允许连续的分隔符
	for _, s := range doubledSeparators {
		if strings.Contains(localPart, s) {
			return ErrInvalidLocalPart
		}
	}
	return nil
}

// ValidateDomain 验证域名
func (v *EmailValidator) ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}
	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// NormalizeDomain 去除空白与末尾的点并转为小写
func NormalizeDomain(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// SplitAddress 拆分完整地址为本地部分与域名，均转为小写
func SplitAddress(address string) (localPart, domain string, err error) {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", ErrInvalidEmail
	}
	return address[:at], address[at+1:], nil
}

// JoinAddress 组合完整地址
func JoinAddress(localPart, domain string) string {
	return localPart + "@" + domain
}
