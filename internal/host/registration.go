package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/9esati/swcache/internal/logging"
	"github.com/9esati/swcache/internal/worker"
)

// State 对应 worker 版本的生命周期状态。
type State string

const (
	StateNew        State = ""
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Status 是注册信息的只读快照，供诊断接口输出。
type Status struct {
	Scope       string    `json:"scope"`
	State       State     `json:"state"`
	Candidate   string    `json:"candidate"`
	Active      string    `json:"active,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	InstalledAt time.Time `json:"installedAt,omitempty"`
	ActivatedAt time.Time `json:"activatedAt,omitempty"`
}

// Registration 驱动单个 scope 下 worker 的 install/activate，并决定由哪个版本处理请求。
type Registration struct {
	scope     string
	candidate *worker.Worker
	logger    *logrus.Logger

	// lifecycle 串行化 Register/Update，避免两次安装交错。
	lifecycle sync.Mutex
	// serving 在 fetch 处理期间持有读锁；切换激活版本需要写锁，
	// 保证旧版本的 fetch 全部结束后才清理它的缓存。
	serving sync.RWMutex

	mu          sync.RWMutex
	active      *worker.Worker
	state       State
	lastErr     error
	installedAt time.Time
	activatedAt time.Time
}

// NewRegistration 以配置生成的 worker 作为待安装版本。
func NewRegistration(candidate *worker.Worker, scope string, logger *logrus.Logger) *Registration {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registration{scope: scope, candidate: candidate, logger: logger}
}

// Register 安装待定版本；install 请求跳过等待时立即激活。
// 安装失败时沿用上一次激活的缓存版本，没有可用版本时请求直接透传到网络。
func (r *Registration) Register(ctx context.Context) error {
	if r.candidate == nil {
		return errors.New("registration has no worker")
	}
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	log := r.logger.WithFields(logging.EventFields("register", r.candidate.CacheName()))
	r.setState(StateInstalling, nil)

	out, err := r.candidate.Dispatch(ctx, worker.InstallEvent{})
	if err != nil {
		r.setState(StateRedundant, err)
		r.keepPrevious(ctx, log)
		log.WithError(err).Error("register_install_failed")
		return err
	}

	r.mu.Lock()
	r.state = StateInstalled
	r.installedAt = time.Now().UTC()
	r.mu.Unlock()

	if !out.SkipWaiting {
		log.Info("register_waiting")
		return nil
	}
	return r.activate(ctx, log)
}

// Update 重新执行一次完整的安装流程，等价于浏览器检测到新版本脚本。
func (r *Registration) Update(ctx context.Context) error {
	return r.Register(ctx)
}

// activate 先把 fetch 切到新版本，再执行 activate 清理旧缓存。
// 清理开始时旧版本已没有进行中的 fetch。
func (r *Registration) activate(ctx context.Context, log *logrus.Entry) error {
	r.setState(StateActivating, nil)
	previous := r.swapActive(r.candidate)

	out, err := r.candidate.Dispatch(ctx, worker.ActivateEvent{})
	if err != nil {
		r.swapActive(previous)
		r.setState(StateInstalled, err)
		log.WithError(err).Error("register_activate_failed")
		return err
	}

	r.mu.Lock()
	r.state = StateActivated
	r.activatedAt = time.Now().UTC()
	r.lastErr = nil
	r.mu.Unlock()

	log.WithField("deleted", out.Deleted).Info("register_activated")
	return nil
}

// keepPrevious 读取持久化的激活标记，让旧版本继续提供服务。
func (r *Registration) keepPrevious(ctx context.Context, log *logrus.Entry) {
	r.mu.RLock()
	current := r.active
	r.mu.RUnlock()
	if current != nil {
		return
	}

	previous, err := r.candidate.Storage().ActiveName(ctx)
	if err != nil {
		log.WithError(err).Warn("register_previous_lookup_failed")
		return
	}
	if previous == "" {
		log.Warn("register_no_previous_version")
		return
	}

	fallback := r.candidate
	if previous != r.candidate.CacheName() {
		fallback, err = r.candidate.WithCacheName(previous)
		if err != nil {
			log.WithError(err).Warn("register_previous_invalid")
			return
		}
	}
	r.mu.Lock()
	r.active = fallback
	r.mu.Unlock()
	log.WithField("previous", previous).Warn("register_serving_previous")
}

// swapActive 等待进行中的 fetch 结束后替换激活版本，返回旧值。
func (r *Registration) swapActive(next *worker.Worker) *worker.Worker {
	r.serving.Lock()
	defer r.serving.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.active
	r.active = next
	return previous
}

// Acquire 返回处理 fetch 的 worker 以及释放函数；释放前激活版本不会被切换。
// 没有激活版本时 worker 为 nil，release 仍需调用。
func (r *Registration) Acquire() (*worker.Worker, func()) {
	r.serving.RLock()
	return r.Active(), r.serving.RUnlock
}

// Active 返回当前处理 fetch 的 worker，没有时返回 nil（请求应直接透传）。
func (r *Registration) Active() *worker.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Worker 返回处理非 fetch 事件（push、通知点击）的 worker：优先激活版本，否则待定版本。
func (r *Registration) Worker() *worker.Worker {
	if active := r.Active(); active != nil {
		return active
	}
	return r.candidate
}

// Status 返回当前注册状态快照。
func (r *Registration) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := Status{
		Scope:       r.scope,
		State:       r.state,
		InstalledAt: r.installedAt,
		ActivatedAt: r.activatedAt,
	}
	if r.candidate != nil {
		status.Candidate = r.candidate.CacheName()
	}
	if r.active != nil {
		status.Active = r.active.CacheName()
	}
	if r.lastErr != nil {
		status.LastError = r.lastErr.Error()
	}
	return status
}

func (r *Registration) setState(state State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	if err != nil {
		r.lastErr = err
	}
}
