package errs

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ===== 错误码 =====
//
// 11xx 鉴权；12xx 投递；13xx 帧解析；14xx 记录查询；15xx 存储。
const (
	CodeTokenInvalid     = 1101
	CodeTokenExpired     = 1102
	CodePeerUnavailable  = 1201
	CodeTransportFailure = 1202
	CodeMalformedFrame   = 1301
	CodeRecordNotFound   = 1404
	CodeStorageFailure   = 1501
	ServerInternalError  = 1500
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%d] %s", e.Code, e.Msg))
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

// Wrap 附带调用栈返回（pkg/errors）
func (e *CodeError) Wrap() error {
	return errors.WithStack(e)
}

// WrapMsg 追加 detail（kv 成对）后附带调用栈返回
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	return errors.WithStack(e.WithDetail(toString(msg, kv)))
}

func (e *CodeError) Is(err error) bool {
	var target *CodeError
	if !errors.As(err, &target) {
		return false
	}
	return target.Code == e.Code
}

// ===== 预定义错误 =====

var (
	ErrTokenInvalid     = NewCodeError(CodeTokenInvalid, "token invalid")
	ErrTokenExpired     = NewCodeError(CodeTokenExpired, "token expired")
	ErrPeerUnavailable  = NewCodeError(CodePeerUnavailable, "peer unavailable")
	ErrTransportFailure = NewCodeError(CodeTransportFailure, "transport write failure")
	ErrMalformedFrame   = NewCodeError(CodeMalformedFrame, "malformed frame")
	ErrRecordNotFound   = NewCodeError(CodeRecordNotFound, "record not found")
	ErrStorageFailure   = NewCodeError(CodeStorageFailure, "storage failure")
)

func New(msg string, kv ...any) *CodeError {
	return &CodeError{Code: ServerInternalError, Msg: toString(msg, kv)}
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprintf(" %v=%v", kv[i], kv[i+1]))
		} else {
			sb.WriteString(fmt.Sprintf(" %v", kv[i]))
		}
	}
	return sb.String()
}
