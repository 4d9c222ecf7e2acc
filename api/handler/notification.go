package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/api/transport"
	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/pkg/httpcontext"
	notificationUC "github.com/fastygo/taskledger/usecase/notification"
)

type NotificationHandler struct {
	baseHandler
	uc *notificationUC.Dispatcher
}

func NewNotificationHandler(uc *notificationUC.Dispatcher, adapter *httpcontext.Adapter, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary The caller's notifications, newest first
// @Tags notifications
// @Router /api/v1/notifications [get]
func (h *NotificationHandler) List(ctx *fasthttp.RequestCtx) {
	actorID, ok := h.actorID(ctx)
	if !ok {
		return
	}
	h.respondSuccess(ctx, http.StatusOK, transport.NotificationsView{
		Unread: h.uc.Unread(actorID),
		Items:  h.uc.List(actorID),
	})
}

// @Summary Mark one notification read
// @Tags notifications
// @Router /api/v1/notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(ctx *fasthttp.RequestCtx) {
	id, ok := h.own(ctx)
	if !ok {
		return
	}
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.uc.MarkRead(stdCtx, id); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, nil)
}

// @Summary Mark every notification of the caller read
// @Tags notifications
// @Router /api/v1/notifications/read-all [post]
func (h *NotificationHandler) MarkAllRead(ctx *fasthttp.RequestCtx) {
	actorID, ok := h.actorID(ctx)
	if !ok {
		return
	}
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	n, err := h.uc.MarkAllRead(stdCtx, actorID)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]int{"marked": n})
}

// @Summary Delete a notification
// @Tags notifications
// @Router /api/v1/notifications/{id} [delete]
func (h *NotificationHandler) Delete(ctx *fasthttp.RequestCtx) {
	id, ok := h.own(ctx)
	if !ok {
		return
	}
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.uc.Delete(stdCtx, id); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, nil)
}

// own resolves the notification in the path and checks it belongs to the caller.
func (h *NotificationHandler) own(ctx *fasthttp.RequestCtx) (string, bool) {
	actorID, ok := h.actorID(ctx)
	if !ok {
		return "", false
	}
	n, err := h.uc.Get(pathValue(ctx, "id"))
	if err != nil {
		h.respondError(ctx, err)
		return "", false
	}
	if n.RecipientID != actorID {
		h.respondError(ctx, domain.NewError(domain.ErrCodeForbidden, "notification belongs to another recipient"))
		return "", false
	}
	return n.ID, true
}
