package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

type FailureKind string

const (
	KindTimeout   FailureKind = "timeout"
	KindHTTP      FailureKind = "http"
	KindDecode    FailureKind = "decode"
	KindEmpty     FailureKind = "empty"
	KindTransport FailureKind = "transport"
)

// Failure：供应商调用失败的类型化描述；解析器据此显式决定继续下一步
type Failure struct {
	Provider string
	Kind     FailureKind
	Status   int
	Err      error
}

func (f *Failure) Error() string {
	switch {
	case f.Status != 0 && f.Err != nil:
		return fmt.Sprintf("%s: %s (status %d): %v", f.Provider, f.Kind, f.Status, f.Err)
	case f.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", f.Provider, f.Kind, f.Status)
	case f.Err != nil:
		return fmt.Sprintf("%s: %s: %v", f.Provider, f.Kind, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Provider, f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

func NewFailure(provider string, kind FailureKind, err error) *Failure {
	return &Failure{Provider: provider, Kind: kind, Err: err}
}

// HTTPFailure：非 2xx 响应
func HTTPFailure(provider string, status int, body string) *Failure {
	var err error
	if body != "" {
		err = errors.New(body)
	}
	return &Failure{Provider: provider, Kind: KindHTTP, Status: status, Err: err}
}

// Classify：把任意错误归类为 Failure；已是 Failure 的原样返回
func Classify(provider string, err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewFailure(provider, KindTimeout, err)
	case errors.As(err, &ne) && ne.Timeout():
		return NewFailure(provider, KindTimeout, err)
	}
	var se *json.SyntaxError
	var te *json.UnmarshalTypeError
	if errors.As(err, &se) || errors.As(err, &te) {
		return NewFailure(provider, KindDecode, err)
	}
	return NewFailure(provider, KindTransport, err)
}
