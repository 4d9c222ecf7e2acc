package handler

import (
	"context"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/pkg/httpcontext"
	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/usecase"
)

// Syncer triggers a drain of the sync buffer.
type Syncer interface {
	Sync(ctx context.Context) (usecase.SyncSummary, error)
}

// UnsyncedLister reports records waiting for the sync buffer.
type UnsyncedLister interface {
	Unsynced() []string
}

type SyncHandler struct {
	baseHandler
	syncer  Syncer
	pending map[string]UnsyncedLister
}

// NewSyncHandler exposes the explicit sync trigger. pending maps each
// collection to the use case that tracks its unsynced records.
func NewSyncHandler(syncer Syncer, pending map[string]UnsyncedLister, adapter *httpcontext.Adapter, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		baseHandler: newBaseHandler(adapter, logger),
		syncer:      syncer,
		pending:     pending,
	}
}

// @Summary Records waiting for the next sync, per collection
// @Tags sync
// @Router /api/v1/sync [get]
func (h *SyncHandler) Pending(ctx *fasthttp.RequestCtx) {
	if _, ok := h.actorID(ctx); !ok {
		return
	}
	out := make(map[string][]string, len(h.pending))
	for _, collection := range repository.Collections {
		if lister, ok := h.pending[collection]; ok {
			out[collection] = lister.Unsynced()
		}
	}
	h.respondSuccess(ctx, http.StatusOK, out)
}

// @Summary Drain the sync buffer now
// @Tags sync
// @Router /api/v1/sync [post]
func (h *SyncHandler) Sync(ctx *fasthttp.RequestCtx) {
	if _, ok := h.actorID(ctx); !ok {
		return
	}
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	summary, err := h.syncer.Sync(stdCtx)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	status := http.StatusOK
	if summary.Skipped || summary.Remaining > 0 {
		status = http.StatusAccepted
	}
	h.respondSuccess(ctx, status, summary)
}
