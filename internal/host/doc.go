// Package host 提供 worker 运行所需的宿主能力：注册与版本切换、页面集合、系统通知。
package host
