package scheduler

import "time"

// Clock 提供当前时间，注入后可在测试中使用固定时钟。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock 返回使用 time.Now 的真实时钟
func SystemClock() Clock { return systemClock{} }
