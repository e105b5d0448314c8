package docstore

import (
	"errors"

	"backend-skitrip/internal/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/websocket/v2"
)

// Message is one websocket frame pushed to a subscriber.
type Message struct {
	Type  string     `json:"type"` // doc | collection | error
	Doc   *Snapshot  `json:"doc,omitempty"`
	Docs  []Snapshot `json:"docs,omitempty"`
	Error string     `json:"error,omitempty"`
}

func RegisterRoutes(r fiber.Router, store *Local, m *metrics.Metrics, authMiddleware fiber.Handler) {
	r.Get("/docs/*", authMiddleware, func(c *fiber.Ctx) error {
		path := utils.CopyString(c.Params("*"))
		collection := c.QueryBool("collection")
		if err := authorize(c, m, Request{Op: OpRead, Path: path, Collection: collection}); err != nil {
			return err
		}

		if collection {
			docs, err := store.List(c.Context(), path)
			if err != nil {
				return storeError(m, "read", err)
			}
			m.Observe("read", "ok")
			if docs == nil {
				docs = []Snapshot{}
			}
			return c.JSON(docs)
		}

		snap, err := store.Get(c.Context(), path)
		if err != nil {
			return storeError(m, "read", err)
		}
		m.Observe("read", "ok")
		if !snap.Exists {
			return fiber.NewError(fiber.StatusNotFound, "document not found")
		}
		return c.JSON(snap)
	})

	r.Put("/docs/*", authMiddleware, func(c *fiber.Ctx) error {
		path := utils.CopyString(c.Params("*"))
		var fields map[string]any
		if err := c.BodyParser(&fields); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		existing, err := store.Get(c.Context(), path)
		if err != nil {
			return storeError(m, "write", err)
		}
		merge := c.QueryBool("merge")
		if err := authorize(c, m, Request{Op: OpWrite, Path: path, Existing: existing, Fields: fields, Merge: merge}); err != nil {
			return err
		}
		if err := store.Set(c.Context(), path, fields, merge); err != nil {
			return storeError(m, "write", err)
		}
		m.Observe("write", "ok")
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Delete("/docs/*", authMiddleware, func(c *fiber.Ctx) error {
		path := utils.CopyString(c.Params("*"))
		existing, err := store.Get(c.Context(), path)
		if err != nil {
			return storeError(m, "delete", err)
		}
		if err := authorize(c, m, Request{Op: OpDelete, Path: path, Existing: existing}); err != nil {
			return err
		}
		if err := store.Delete(c.Context(), path); err != nil {
			return storeError(m, "delete", err)
		}
		m.Observe("delete", "ok")
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/stream/ws", authMiddleware, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		req := Request{Op: OpRead, Path: utils.CopyString(c.Query("path")), Collection: c.QueryBool("collection")}
		if err := authorize(c, m, req); err != nil {
			return err
		}
		c.Locals("sub_path", req.Path)
		c.Locals("sub_collection", req.Collection)
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		path, _ := c.Locals("sub_path").(string)
		collection, _ := c.Locals("sub_collection").(bool)
		serveSubscription(c, store, m, path, collection)
	}))
}

func serveSubscription(c *websocket.Conn, store *Local, m *metrics.Metrics, path string, collection bool) {
	kind := "doc"
	if collection {
		kind = "collection"
	}
	defer m.Track(kind)()

	done := make(chan struct{})
	out := make(chan Message, 16)
	push := func(msg Message) {
		select {
		case out <- msg:
		case <-done:
		}
	}
	onError := func(err error) { push(Message{Type: "error", Error: err.Error()}) }

	var sub Subscription
	if collection {
		sub = store.SubscribeCollection(path, func(docs []Snapshot) {
			if docs == nil {
				docs = []Snapshot{}
			}
			push(Message{Type: "collection", Docs: docs})
		}, onError)
	} else {
		sub = store.Subscribe(path, func(s Snapshot) {
			push(Message{Type: "doc", Doc: &s})
		}, onError)
	}
	defer sub.Cancel()

	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				close(done)
				return
			}
		}
	}()

	for {
		select {
		case msg := <-out:
			if err := c.WriteJSON(msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func authorize(c *fiber.Ctx, m *metrics.Metrics, req Request) error {
	req.Caller, _ = c.Locals("user_id").(string)
	err := Authorize(req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnauthenticated):
		m.Observe(string(req.Op), "unauthenticated")
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrInvalidPath):
		m.Observe(string(req.Op), "invalid")
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		m.Observe(string(req.Op), "denied")
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	}
}

func storeError(m *metrics.Metrics, op string, err error) error {
	if errors.Is(err, ErrInvalidPath) || errors.Is(err, ErrInvalidInput) {
		m.Observe(op, "invalid")
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	m.Observe(op, "error")
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
