package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/9esati/swcache/internal/cache"
	"github.com/9esati/swcache/internal/logging"
)

// handleFetch 实现 cache-first：
//   - 排除主机直接放行，不查缓存、不写缓存、不做离线兜底；
//   - GET 命中缓存时直接返回，不访问网络；
//   - 未命中时走网络，合格响应以副本写入缓存后返回原件；
//   - 网络失败时，导航请求回退到缓存的页面外壳，其余返回 408 离线提示。
func (w *Worker) handleFetch(ctx context.Context, ev Event) (Outcome, error) {
	fe, ok := ev.(FetchEvent)
	if !ok || fe.Request == nil || fe.Request.URL == nil {
		return Outcome{}, fmt.Errorf("%w: %T", ErrUnexpectedEvent, ev)
	}
	req := fe.Request
	log := w.requestLogger(req, fe.RequestID)

	if w.IsExcluded(req.URL) {
		log.WithField("source", SourcePassthrough).Debug("fetch_passthrough")
		return Outcome{Source: SourcePassthrough, Passthrough: true}, nil
	}

	store, err := w.opts.Storage.Open(ctx, w.opts.CacheName)
	if err != nil {
		log.WithError(err).Warn("fetch_cache_unavailable")
		store = nil
	}
	cacheable := req.Method == http.MethodGet

	if store != nil && cacheable {
		resp, err := store.Match(ctx, req.Key())
		switch {
		case err == nil:
			log.WithFields(logrus.Fields{"source": SourceCache, "cache_hit": true}).Debug("fetch_hit")
			return Outcome{Response: resp, Source: SourceCache}, nil
		case errors.Is(err, cache.ErrNotFound):
		default:
			log.WithError(err).Warn("fetch_cache_read_failed")
		}
	}

	resp, err := w.opts.Fetcher.Fetch(ctx, req)
	if err != nil {
		log.WithError(err).Warn("fetch_network_failed")
		return w.offlineFallback(ctx, store, req), nil
	}

	if store != nil && cacheable {
		stored, err := cache.NewFillWriter(store, Eligible).Fill(ctx, req.Key(), resp)
		if err != nil {
			log.WithError(err).Warn("fetch_cache_write_failed")
		} else if stored {
			log.WithField("status", resp.Status).Debug("fetch_stored")
		}
	}
	return Outcome{Response: resp, Source: SourceNetwork}, nil
}

func (w *Worker) offlineFallback(ctx context.Context, store cache.Store, req *Request) Outcome {
	if req.IsNavigation() && store != nil && w.opts.ShellURL != "" {
		shell, err := store.Match(ctx, cache.NewKey(http.MethodGet, w.opts.ShellURL))
		if err == nil {
			return Outcome{Response: shell, Source: SourceShell}
		}
	}
	return Outcome{
		Response: OfflineResponse(req.URL.String(), w.opts.OfflineMessage),
		Source:   SourceOffline,
	}
}

func (w *Worker) requestLogger(req *Request, requestID string) *logrus.Entry {
	fields := logging.EventFields(string(EventFetch), w.opts.CacheName)
	fields["method"] = req.Method
	fields["url"] = req.URL.String()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return w.logger.WithFields(fields)
}
