package version

import (
	"fmt"
	"runtime"
)

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("swcache %s (%s, %s)", Version, Commit, runtime.Version())
}

// UserAgent 用于 precache 等没有来源请求头的回源请求。
func UserAgent() string {
	return "swcache/" + Version
}
