package handler

import (
	"encoding/json"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/api/transport"
	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/pkg/httpcontext"
	"github.com/fastygo/taskledger/pkg/logger"
	evidenceUC "github.com/fastygo/taskledger/usecase/evidence"
)

type EvidenceHandler struct {
	baseHandler
	uc *evidenceUC.UseCase
}

func NewEvidenceHandler(uc *evidenceUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *EvidenceHandler {
	return &EvidenceHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary Submit evidence for a task
// @Tags evidence
// @Router /api/v1/tasks/{id}/evidence [post]
func (h *EvidenceHandler) Submit(ctx *fasthttp.RequestCtx) {
	actorID, ok := h.actorID(ctx)
	if !ok {
		return
	}
	var req transport.EvidenceRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.respondInvalid(ctx, "invalid payload")
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ev, err := h.uc.Submit(stdCtx, pathValue(ctx, "id"), actorID, req.Payload)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	logger.WithActor(stdCtx, h.logger).Info("evidence submitted",
		zap.String("task_id", ev.TaskID), zap.String("evidence_id", ev.ID), zap.Int("payload_size", ev.PayloadSize))
	h.respondSuccess(ctx, http.StatusCreated, transport.NewEvidenceView(ev))
}

// @Summary List the evidence of a task, newest first
// @Tags evidence
// @Router /api/v1/tasks/{id}/evidence [get]
func (h *EvidenceHandler) ListByTask(ctx *fasthttp.RequestCtx) {
	if _, ok := h.actorID(ctx); !ok {
		return
	}
	list := h.uc.ListByTask(pathValue(ctx, "id"))
	views := make([]transport.EvidenceView, 0, len(list))
	for _, ev := range list {
		views = append(views, transport.NewEvidenceView(ev))
	}
	h.respondSuccess(ctx, http.StatusOK, views)
}

// @Summary Download an evidence payload
// @Tags evidence
// @Router /api/v1/evidence/{id}/payload [get]
func (h *EvidenceHandler) Payload(ctx *fasthttp.RequestCtx) {
	if _, ok := h.actorID(ctx); !ok {
		return
	}
	raw, err := h.uc.Payload(pathValue(ctx, "id"))
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	ctx.Response.Header.SetContentType("application/octet-stream")
	ctx.SetStatusCode(http.StatusOK)
	ctx.SetBody(raw)
}

// @Summary Approve or reject pending evidence
// @Tags evidence
// @Router /api/v1/evidence/{id}/adjudicate [post]
func (h *EvidenceHandler) Adjudicate(ctx *fasthttp.RequestCtx) {
	actorID, ok := h.actorID(ctx)
	if !ok {
		return
	}
	var req transport.AdjudicationRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.respondInvalid(ctx, "invalid payload")
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ev, err := h.uc.Adjudicate(stdCtx, pathValue(ctx, "id"), actorID, domain.Outcome(req.Outcome), req.Feedback)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	logger.WithActor(stdCtx, h.logger).Info("evidence adjudicated",
		zap.String("evidence_id", ev.ID), zap.String("status", string(ev.Status)))
	h.respondSuccess(ctx, http.StatusOK, transport.NewEvidenceView(ev))
}
