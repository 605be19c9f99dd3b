package utils

import (
	"errors"
	"fmt"
)

// ErrorKind 错误分类，HTTP 层和任务状态都依赖它做映射
type ErrorKind string

const (
	KindConfiguration     ErrorKind = "configuration_error"
	KindNotInitialized    ErrorKind = "not_initialized"
	KindNotFound          ErrorKind = "not_found"
	KindUnsupportedOption ErrorKind = "unsupported_option"
	KindEmptyResult       ErrorKind = "empty_result"
	KindDownloadCancelled ErrorKind = "download_cancelled"
	KindTransientIO       ErrorKind = "transient_io"
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindInternal          ErrorKind = "internal"
)

// ServiceError 是服务内部统一的错误类型
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error 实现error接口
func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", msg, e.Cause.Error())
	}
	return msg
}

// Unwrap 支持error chain
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// Is 按错误分类匹配，配合下面的哨兵错误使用 errors.Is
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

// 哨兵错误，仅用于 errors.Is 判断分类
var (
	ErrConfiguration     = &ServiceError{Kind: KindConfiguration}
	ErrNotInitialized    = &ServiceError{Kind: KindNotInitialized}
	ErrNotFound          = &ServiceError{Kind: KindNotFound}
	ErrUnsupportedOption = &ServiceError{Kind: KindUnsupportedOption}
	ErrEmptyResult       = &ServiceError{Kind: KindEmptyResult}
	ErrDownloadCancelled = &ServiceError{Kind: KindDownloadCancelled}
	ErrTransientIO       = &ServiceError{Kind: KindTransientIO}
	ErrInvalidRequest    = &ServiceError{Kind: KindInvalidRequest}
)

// NewError 创建一个新的ServiceError
func NewError(kind ErrorKind, message string, cause error) error {
	return &ServiceError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// ErrorKindOf 返回错误链上第一个ServiceError的分类，没有则视为内部错误
func ErrorKindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
