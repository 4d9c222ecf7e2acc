package handler

import (
	"encoding/json"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/api/transport"
	"github.com/fastygo/taskledger/pkg/httpcontext"
	settlementUC "github.com/fastygo/taskledger/usecase/settlement"
)

type LedgerHandler struct {
	baseHandler
	uc *settlementUC.UseCase
}

func NewLedgerHandler(uc *settlementUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary Point balance of an actor (defaults to the caller)
// @Tags ledger
// @Router /api/v1/ledger/balance [get]
func (h *LedgerHandler) Balance(ctx *fasthttp.RequestCtx) {
	actorID, ok := h.subject(ctx)
	if !ok {
		return
	}
	h.respondSuccess(ctx, http.StatusOK, transport.BalanceView{ActorID: actorID, Balance: h.uc.BalanceOf(actorID)})
}

// @Summary Ledger entries of an actor, oldest first
// @Tags ledger
// @Router /api/v1/ledger/entries [get]
func (h *LedgerHandler) Entries(ctx *fasthttp.RequestCtx) {
	actorID, ok := h.subject(ctx)
	if !ok {
		return
	}
	h.respondSuccess(ctx, http.StatusOK, h.uc.Entries(actorID))
}

// @Summary Deduct points from an actor
// @Tags ledger
// @Router /api/v1/ledger/deductions [post]
func (h *LedgerHandler) Deduct(ctx *fasthttp.RequestCtx) {
	if _, ok := h.actorID(ctx); !ok {
		return
	}
	var req transport.DeductionRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.respondInvalid(ctx, "invalid payload")
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	entry, err := h.uc.Deduct(stdCtx, req.ActorID, req.Amount, req.Note)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, entry)
}

func (h *LedgerHandler) subject(ctx *fasthttp.RequestCtx) (string, bool) {
	actorID, ok := h.actorID(ctx)
	if !ok {
		return "", false
	}
	if other := string(ctx.QueryArgs().Peek("actor_id")); other != "" {
		return other, true
	}
	return actorID, true
}
