package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/9esati/swcache/internal/cache"
)

// precacheConcurrency 限制 install 阶段同时进行的网络请求数。
const precacheConcurrency = 6

// ErrPrecacheFailed 表示 precache 清单中至少一项无法获取，本次安装作废。
var ErrPrecacheFailed = errors.New("precache failed")

// handleInstall 先并行取回全部 precache 资源，全部成功后才写入缓存并标记就绪。
// 任一失败都不会创建或写入缓存，保证缓存不会处于半完成状态。
func (w *Worker) handleInstall(ctx context.Context, ev Event) (Outcome, error) {
	if _, ok := ev.(InstallEvent); !ok {
		return Outcome{}, fmt.Errorf("%w: %T", ErrUnexpectedEvent, ev)
	}
	log := w.eventLogger(EventInstall)

	responses, err := w.fetchPrecache(ctx)
	if err != nil {
		log.WithError(err).Error("install_precache_failed")
		return Outcome{}, fmt.Errorf("%w: %v", ErrPrecacheFailed, err)
	}

	store, err := w.opts.Storage.Open(ctx, w.opts.CacheName)
	if err != nil {
		log.WithError(err).Error("install_open_failed")
		return Outcome{}, fmt.Errorf("open cache %s: %w", w.opts.CacheName, err)
	}

	for i, rawURL := range w.opts.Precache {
		if err := store.Put(ctx, cache.NewKey(http.MethodGet, rawURL), responses[i].StorageCopy()); err != nil {
			log.WithError(err).WithField("url", rawURL).Error("install_store_failed")
			return Outcome{}, fmt.Errorf("store %s: %w", rawURL, err)
		}
	}
	if err := store.MarkReady(ctx); err != nil {
		return Outcome{}, fmt.Errorf("mark cache ready: %w", err)
	}

	log.WithField("entries", len(responses)).Info("install_complete")
	return Outcome{SkipWaiting: true}, nil
}

func (w *Worker) fetchPrecache(ctx context.Context) ([]*cache.Response, error) {
	results := make([]*cache.Response, len(w.opts.Precache))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(precacheConcurrency)

	for i, rawURL := range w.opts.Precache {
		group.Go(func() error {
			req, err := NewRequest(http.MethodGet, rawURL, http.Header{})
			if err != nil {
				return err
			}
			resp, err := w.opts.Fetcher.Fetch(groupCtx, req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", rawURL, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.Status)
			}
			results[i] = resp
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// handleActivate 删除所有非当前版本的缓存，再持久化激活标记并接管已打开的页面。
// 单个旧缓存删除失败只记录日志，不阻止激活。
func (w *Worker) handleActivate(ctx context.Context, ev Event) (Outcome, error) {
	if _, ok := ev.(ActivateEvent); !ok {
		return Outcome{}, fmt.Errorf("%w: %T", ErrUnexpectedEvent, ev)
	}
	log := w.eventLogger(EventActivate)

	names, err := w.opts.Storage.Names(ctx)
	if err != nil {
		log.WithError(err).Warn("activate_list_failed")
	}

	var deleted []string
	for _, name := range names {
		if name == w.opts.CacheName {
			continue
		}
		existed, err := w.opts.Storage.Delete(ctx, name)
		if err != nil {
			log.WithError(err).WithField("stale", name).Warn("activate_delete_failed")
			continue
		}
		if existed {
			deleted = append(deleted, name)
		}
	}

	if err := w.opts.Storage.SetActiveName(ctx, w.opts.CacheName); err != nil {
		return Outcome{Deleted: deleted}, fmt.Errorf("persist active cache: %w", err)
	}

	if w.opts.Clients != nil {
		if err := w.opts.Clients.Claim(ctx); err != nil {
			log.WithError(err).Warn("activate_claim_failed")
		}
	}

	log.WithField("deleted", deleted).Info("activate_complete")
	return Outcome{Deleted: deleted}, nil
}
