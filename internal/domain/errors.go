package domain

import (
	"errors"
	"fmt"
)

// 错误分类。上层通过 errors.Is 判断类别并映射为状态码。
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrAddressExhausted = errors.New("address space exhausted")
	ErrStorageFailure   = errors.New("storage failure")
)

// 具体错误，均归属于上面的某个类别
var (
	ErrInvalidDomain    = fmt.Errorf("invalid domain: %w", ErrValidation)
	ErrInvalidLocalPart = fmt.Errorf("invalid local part: %w", ErrValidation)
	ErrLocalPartTooLong = fmt.Errorf("local part too long (max 64 chars): %w", ErrValidation)
	ErrDomainTooLong    = fmt.Errorf("domain too long (max 253 chars): %w", ErrValidation)
	ErrInvalidEmail     = fmt.Errorf("invalid email format: %w", ErrValidation)
	ErrInvalidRequest   = fmt.Errorf("invalid request: %w", ErrValidation)
	ErrInvalidFlag      = fmt.Errorf("unknown message flag: %w", ErrValidation)
	ErrInvalidAction    = fmt.Errorf("unknown bulk action: %w", ErrValidation)
	ErrInvalidSeverity  = fmt.Errorf("unknown notice severity: %w", ErrValidation)

	ErrAddressNotFound    = fmt.Errorf("address not found: %w", ErrNotFound)
	ErrMessageNotFound    = fmt.Errorf("message not found: %w", ErrNotFound)
	ErrAttachmentNotFound = fmt.Errorf("attachment not found: %w", ErrNotFound)
	ErrDomainNotFound     = fmt.Errorf("domain not found: %w", ErrNotFound)
	ErrNoticeNotFound     = fmt.Errorf("notice not found: %w", ErrNotFound)

	ErrAddressTaken = fmt.Errorf("address already taken: %w", ErrConflict)
	ErrDomainExists = fmt.Errorf("domain already exists: %w", ErrConflict)
	ErrDomainInUse  = fmt.Errorf("domain still referenced by live addresses: %w", ErrConflict)
)

// IsClassified 判断错误是否已归入分类，未归类的错误应按存储故障处理。
func IsClassified(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAddressExhausted) ||
		errors.Is(err, ErrStorageFailure)
}

// StorageFailure 将底层错误包装为存储故障，已分类的错误原样返回。
func StorageFailure(op string, err error) error {
	if err == nil || IsClassified(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageFailure, err)
}
