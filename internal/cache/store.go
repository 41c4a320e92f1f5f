package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Storage 管理全部命名缓存（一个版本号对应一个 Store），并持久化当前生效版本的标记。
//
// 磁盘布局（fs 后端）：
//
//	<StoragePath>/.active                     # 当前生效的缓存名
//	<StoragePath>/<name>/.ready               # precache 完整写入后的就绪标记
//	<StoragePath>/<name>/<xx>/<sha1>.entry    # 单条缓存：JSON 头 + '\n' + 正文
type Storage interface {
	// Open 打开（不存在时创建）指定名称的缓存。
	Open(ctx context.Context, name string) (Store, error)

	// Names 返回所有已存在的缓存名，按字典序排列。
	Names(ctx context.Context) ([]string, error)

	// Delete 删除整个缓存，返回删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// ActiveName 返回最近一次成功激活的缓存名，未激活过时返回空串。
	ActiveName(ctx context.Context) (string, error)

	// SetActiveName 持久化当前生效的缓存名。
	SetActiveName(ctx context.Context, name string) error

	Close() error
}

// Store 是单个命名缓存，按 Key(method+URL) 存取响应快照。
type Store interface {
	Name() string

	// Match 返回 key 对应的响应快照，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Put 以原子方式写入（覆盖）一条响应快照，同 key 并发写入时后写者生效。
	Put(ctx context.Context, key Key, resp *Response) error

	// Delete 删除单条缓存，不存在时不报错。
	Delete(ctx context.Context, key Key) error

	// Keys 返回缓存中的全部 key。
	Keys(ctx context.Context) ([]Key, error)

	// MarkReady 标记 precache 已完整写入。
	MarkReady(ctx context.Context) error

	// Ready 表示 MarkReady 是否已执行过。
	Ready(ctx context.Context) (bool, error)
}

// ResponseType 对应 fetch 规范中的响应类型，用于判断响应能否落盘。
type ResponseType string

const (
	ResponseBasic   ResponseType = "basic"
	ResponseCORS    ResponseType = "cors"
	ResponseOpaque  ResponseType = "opaque"
	ResponseDefault ResponseType = "default"
	ResponseError   ResponseType = "error"
)

// Key 唯一定位一条缓存（方法 + 绝对 URL）。
type Key struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewKey 统一方法名大小写，空方法视为 GET。
func NewKey(method, rawURL string) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return Key{Method: method, URL: rawURL}
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}

func (k Key) digest() string {
	sum := sha1.Sum([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

// Response 是一次响应的完整快照，可被多次读取与复制。
type Response struct {
	URL      string       `json:"url"`
	Status   int          `json:"status"`
	Header   http.Header  `json:"header,omitempty"`
	Type     ResponseType `json:"type"`
	StoredAt time.Time    `json:"stored_at,omitempty"`
	Body     []byte       `json:"-"`
}

// OK 对应 fetch Response.ok（2xx）。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone 深拷贝头与正文，保证写入缓存的副本与返回给调用方的原件互不影响。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

// privateHeaders 只属于当次应答的用户，写入共享缓存前必须剔除。
var privateHeaders = []string{"Set-Cookie", "Set-Cookie2"}

// StorageCopy 返回可写入共享缓存的副本：深拷贝并去掉 Set-Cookie 等按用户下发的头。
func (r *Response) StorageCopy() *Response {
	cloned := r.Clone()
	if cloned == nil {
		return nil
	}
	for _, name := range privateHeaders {
		cloned.Header.Del(name)
	}
	return cloned
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName 表示缓存名为空或使用了保留字符。
	ErrInvalidName = errors.New("invalid cache name")
)

func validateName(name string) error {
	if strings.TrimSpace(name) == "" || strings.HasPrefix(name, ".") || strings.ContainsRune(name, 0) {
		return ErrInvalidName
	}
	return nil
}
