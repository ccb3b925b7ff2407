package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLocalPart(t *testing.T) {
	v := NewEmailValidator()
	tests := []struct {
		name      string
		localPart string
		wantErr   error
	}{
		{"合法的本地部分", "alice", nil},
		{"包含分隔符", "a.b-c_d", nil},
		{"最短长度", "abc", nil},
		{"过短", "ab", ErrInvalidLocalPart},
		{"过长", string(make([]byte, 65)), ErrLocalPartTooLong},
		{"以点开头", ".abc", ErrInvalidLocalPart},
		{"以横线结尾", "abc-", ErrInvalidLocalPart},
		{"连续的点", "a..b", ErrInvalidLocalPart},
		{"混合连续分隔符", "a._b", ErrInvalidLocalPart},
		{"大写字母", "Alice", ErrInvalidLocalPart},
		{"非法字符", "al$ce", ErrInvalidLocalPart},
		{"空字符串", "", ErrInvalidLocalPart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateLocalPart(tt.localPart)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestValidateDomain(t *testing.T) {
	v := NewEmailValidator()
	tests := []struct {
		name   string
		domain string
		valid  bool
	}{
		{"普通域名", "example.com", true},
		{"子域名", "mail.example.com", true},
		{"包含横线", "temp-mail.io", true},
		{"单标签", "localhost", false},
		{"空值", "", false},
		{"连续的点", "example..com", false},
		{"以横线开头", "-example.com", false},
		{"包含空格", "exa mple.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDomain(tt.domain)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrValidation))
			}
		})
	}
}

func TestSplitAddress(t *testing.T) {
	local, dom, err := SplitAddress("  Alice@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "alice", local)
	assert.Equal(t, "example.com", dom)

	_, _, err = SplitAddress("@example.com")
	assert.ErrorIs(t, err, ErrInvalidEmail)
	_, _, err = SplitAddress("alice@")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestTemporaryAddress_IsExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	addr := &TemporaryAddress{ExpiresAt: now}

	assert.True(t, addr.IsExpired(now), "到期时刻本身视为过期")
	assert.True(t, addr.IsExpired(now.Add(time.Second)))
	assert.False(t, addr.IsExpired(now.Add(-time.Nanosecond)))
}

func TestTemporaryAddress_OwnedBy(t *testing.T) {
	alice := "alice"
	bob := "bob"

	owned := &TemporaryAddress{OwnerID: &alice}
	assert.True(t, owned.OwnedBy(&alice))
	assert.False(t, owned.OwnedBy(&bob))
	assert.False(t, owned.OwnedBy(nil))

	anonymous := &TemporaryAddress{}
	assert.True(t, anonymous.OwnedBy(nil))
	assert.False(t, anonymous.OwnedBy(&alice))
}

func TestStorageFailure(t *testing.T) {
	assert.Nil(t, StorageFailure("op", nil))
	assert.Same(t, ErrAddressNotFound, StorageFailure("op", ErrAddressNotFound))

	err := StorageFailure("save message", errors.New("disk full"))
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Contains(t, err.Error(), "disk full")
}

func TestParseBulkAction(t *testing.T) {
	action, err := ParseBulkAction("archive")
	require.NoError(t, err)
	assert.Equal(t, FlagArchived, action.Flag())

	action, err = ParseBulkAction("delete")
	require.NoError(t, err)
	assert.Equal(t, Flag(""), action.Flag())

	_, err = ParseBulkAction("star")
	assert.ErrorIs(t, err, ErrValidation)
}
