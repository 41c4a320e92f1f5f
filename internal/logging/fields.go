package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// EventFields 提供 worker 事件的公共字段（事件类型 + 缓存版本）。
func EventFields(event, cacheName string) logrus.Fields {
	return logrus.Fields{
		"action": event,
		"cache":  cacheName,
	}
}

// RequestFields 提供一次被拦截请求的字段，source 取值 cache/network/shell/offline/passthrough。
func RequestFields(method, url, source, requestID string, cacheHit bool) logrus.Fields {
	fields := logrus.Fields{
		"action":    "fetch",
		"method":    method,
		"url":       url,
		"source":    source,
		"cache_hit": cacheHit,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// Discard 返回丢弃全部输出的 logger，供测试或未注入 logger 的组件兜底。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
