package routes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/9esati/swcache/internal/cache"
	"github.com/9esati/swcache/internal/host"
	"github.com/9esati/swcache/internal/logging"
	"github.com/9esati/swcache/internal/worker"
)

// Deps 汇总诊断接口依赖的宿主组件。
type Deps struct {
	Registration  *host.Registration
	Clients       *host.ClientRegistry
	Notifications *host.NotificationCenter
	Logger        *logrus.Logger
}

// RegisterDiagnostics 暴露 /-/ 下的诊断与控制接口：缓存概览、注册状态、push 注入、通知与页面管理。
func RegisterDiagnostics(app *fiber.App, deps Deps) {
	if app == nil || deps.Registration == nil {
		return
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}

	app.Get("/-/caches", func(c fiber.Ctx) error {
		payload, err := encodeCaches(requestContext(c), deps.Registration.Worker().Storage())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		return c.JSON(payload)
	})

	app.Get("/-/registration", func(c fiber.Ctx) error {
		return c.JSON(encodeRegistration(deps.Registration))
	})

	app.Post("/-/registration/update", func(c fiber.Ctx) error {
		if err := deps.Registration.Update(requestContext(c)); err != nil {
			deps.Logger.WithError(err).WithField("action", "registration_update").Warn("update_failed")
			payload := encodeRegistration(deps.Registration)
			payload.Error = "install_failed"
			return c.Status(fiber.StatusBadGateway).JSON(payload)
		}
		return c.JSON(encodeRegistration(deps.Registration))
	})

	app.Post("/-/push", func(c fiber.Ctx) error {
		data := append([]byte(nil), c.Body()...)
		out, err := deps.Registration.Worker().Dispatch(requestContext(c), worker.PushEvent{Data: data})
		if err != nil {
			return dispatchError(c, err)
		}
		if out.Notification == nil {
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"shown": false})
		}
		return c.Status(fiber.StatusCreated).JSON(out.Notification)
	})

	if deps.Notifications != nil {
		app.Get("/-/notifications", func(c fiber.Ctx) error {
			return c.JSON(fiber.Map{"notifications": deps.Notifications.List()})
		})

		app.Post("/-/notifications/:id/click", func(c fiber.Ctx) error {
			n, ok := deps.Notifications.Get(c.Params("id"))
			if !ok {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "notification_not_found"})
			}
			out, err := deps.Registration.Worker().Dispatch(requestContext(c), worker.NotificationClickEvent{Notification: n})
			if err != nil {
				return dispatchError(c, err)
			}
			return c.JSON(fiber.Map{"client": out.Client, "opened": out.Opened})
		})
	}

	if deps.Clients != nil {
		app.Get("/-/clients", func(c fiber.Ctx) error {
			return c.JSON(fiber.Map{"clients": deps.Clients.List()})
		})

		app.Post("/-/clients", func(c fiber.Ctx) error {
			var payload clientPayload
			if err := json.Unmarshal(c.Body(), &payload); err != nil || strings.TrimSpace(payload.URL) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "client_url_required"})
			}
			controlled := deps.Registration.Active() != nil
			client := deps.Clients.Navigate(payload.ID, payload.URL, controlled)
			return c.Status(fiber.StatusCreated).JSON(client)
		})

		app.Delete("/-/clients/:id", func(c fiber.Ctx) error {
			if !deps.Clients.Remove(c.Params("id")) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "client_not_found"})
			}
			return c.SendStatus(fiber.StatusNoContent)
		})
	}
}

type clientPayload struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type cachePayload struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Ready   bool   `json:"ready"`
	Active  bool   `json:"active"`
}

type cachesPayload struct {
	Active string         `json:"active"`
	Caches []cachePayload `json:"caches"`
}

type registrationPayload struct {
	host.Status
	Handlers []worker.EventType `json:"handlers"`
	Error    string             `json:"error,omitempty"`
}

func encodeCaches(ctx context.Context, storage cache.Storage) (cachesPayload, error) {
	names, err := storage.Names(ctx)
	if err != nil {
		return cachesPayload{}, err
	}
	active, err := storage.ActiveName(ctx)
	if err != nil {
		return cachesPayload{}, err
	}
	result := cachesPayload{Active: active, Caches: make([]cachePayload, 0, len(names))}
	for _, name := range names {
		store, err := storage.Open(ctx, name)
		if err != nil {
			return cachesPayload{}, err
		}
		keys, err := store.Keys(ctx)
		if err != nil {
			return cachesPayload{}, err
		}
		ready, err := store.Ready(ctx)
		if err != nil {
			return cachesPayload{}, err
		}
		result.Caches = append(result.Caches, cachePayload{
			Name:    name,
			Entries: len(keys),
			Ready:   ready,
			Active:  name == active,
		})
	}
	return result, nil
}

func encodeRegistration(reg *host.Registration) registrationPayload {
	return registrationPayload{
		Status:   reg.Status(),
		Handlers: reg.Worker().Handlers().Types(),
	}
}

func dispatchError(c fiber.Ctx, err error) error {
	if errors.Is(err, worker.ErrNoHandler) {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "handler_missing"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "dispatch_failed"})
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
