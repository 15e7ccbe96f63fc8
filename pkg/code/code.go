// Package code 定义统一的业务错误码注册表
// 错误码携带状态、多语言消息与可选的详情/数据
package code

import (
	"fmt"
	"net/http"
)

// Code 业务码对象
type Code struct {
	// 状态码
	code int
	// 状态，true 为成功码
	status bool
	// 多语言消息
	Lang lang
	// 数据
	data interface{}
	// 是否含有 Data
	haveData bool
	// 错误详细信息
	details []string
	// 是否含有详情
	haveDetails bool
}

var codes = map[int]string{}

// NewError 注册一个错误码，重复注册会 panic
func NewError(code int, l lang) *Code {
	if _, ok := codes[code]; ok {
		panic(fmt.Sprintf("错误码 %d 已经存在，请更换一个", code))
	}
	codes[code] = l.GetMessage()
	return &Code{code: code, status: false, Lang: l}
}

var sussCodes = map[int]string{}

// NewSuss 注册一个成功码，重复注册会 panic
func NewSuss(code int, l lang) *Code {
	if _, ok := sussCodes[code]; ok {
		panic(fmt.Sprintf("成功码 %d 已经存在，请更换一个", code))
	}
	sussCodes[code] = l.GetMessage()
	return &Code{code: code, status: true, Lang: l}
}

// Reset 清除附加的数据与详情
func (e *Code) Reset() *Code {
	e.data = nil
	e.haveData = false
	e.details = []string{}
	e.haveDetails = false
	return e
}

// Clone 创建一个新的 Code 副本，不携带原对象的附加数据
func (e *Code) Clone() *Code {
	return &Code{
		code:   e.code,
		status: e.status,
		Lang:   e.Lang,
	}
}

// Error 实现 error 接口
func (e *Code) Error() string {
	return e.Msg()
}

func (e *Code) Code() int {
	return e.code
}

func (e *Code) Status() bool {
	return e.status
}

func (e *Code) Msg() string {
	return e.Lang.GetMessage()
}

func (e *Code) Details() []string {
	return e.details
}

func (e *Code) Data() interface{} {
	return e.data
}

func (e *Code) HaveDetails() bool {
	return e.haveDetails
}

func (e *Code) HaveData() bool {
	return e.haveData
}

// WithData 附加数据并返回自身（链式调用）
func (e *Code) WithData(data interface{}) *Code {
	e.haveData = true
	e.data = data
	return e
}

// WithDetails 附加详情并返回自身（链式调用）
func (e *Code) WithDetails(details ...string) *Code {
	e.haveDetails = true
	e.details = []string{}
	e.details = append(e.details, details...)
	return e
}

// StatusCode HTTP 状态码，响应体内携带业务码
func (e *Code) StatusCode() int {
	return http.StatusOK
}
