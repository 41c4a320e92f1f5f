package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// 后端名称，对应配置中的 StorageBackend。
const (
	BackendDisk   = "disk"
	BackendBadger = "badger"
)

// NewStorage 根据后端名称创建 Storage，空值回退到磁盘实现。
func NewStorage(backend, basePath string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendDisk:
		return NewStore(basePath)
	case BackendBadger:
		return NewBadgerStorage(basePath, false)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}

// ErrStoreUnavailable 表示当前未注入缓存存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// EligibilityFunc 判断响应是否允许写入缓存。
type EligibilityFunc func(*Response) bool

// FillWriter 在写入前执行可存储性判定，只有通过判定的响应才会以副本形式落盘。
type FillWriter struct {
	store    Store
	eligible EligibilityFunc
}

// NewFillWriter 构造判定感知的写入器，eligible 为空时拒绝所有写入。
func NewFillWriter(store Store, eligible EligibilityFunc) FillWriter {
	return FillWriter{
		store:    store,
		eligible: eligible,
	}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w FillWriter) Enabled() bool {
	return w.store != nil && w.eligible != nil
}

// Fill 写入 resp 的存储副本（不含 Set-Cookie），返回是否真正落盘；调用方继续持有原件。
func (w FillWriter) Fill(ctx context.Context, key Key, resp *Response) (bool, error) {
	if w.store == nil {
		return false, ErrStoreUnavailable
	}
	if w.eligible == nil || !w.eligible(resp) {
		return false, nil
	}
	if err := w.store.Put(ctx, key, resp.StorageCopy()); err != nil {
		return false, err
	}
	return true, nil
}
