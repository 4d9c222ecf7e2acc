package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/api/transport"
	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/pkg/httpcontext"
	taskUC "github.com/fastygo/taskledger/usecase/task"
)

type TaskHandler struct {
	baseHandler
	uc *taskUC.UseCase
}

func NewTaskHandler(uc *taskUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary List tasks
// @Tags tasks
// @Router /api/v1/tasks [get]
func (h *TaskHandler) ListTasks(ctx *fasthttp.RequestCtx) {
	if _, ok := h.actorID(ctx); !ok {
		return
	}

	args := ctx.QueryArgs()
	filter := taskUC.Filter{
		AssigneeID: string(args.Peek("assignee_id")),
		OwnerID:    string(args.Peek("owner_id")),
	}
	if raw := string(args.Peek("completed")); raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondInvalid(ctx, "completed must be a boolean")
			return
		}
		filter.Completed = &completed
	}
	var err error
	if filter.DueAfter, err = parseTime(string(args.Peek("due_after"))); err != nil {
		h.respondInvalid(ctx, "due_after must be RFC 3339")
		return
	}
	if filter.DueBefore, err = parseTime(string(args.Peek("due_before"))); err != nil {
		h.respondInvalid(ctx, "due_before must be RFC 3339")
		return
	}

	h.respondSuccess(ctx, http.StatusOK, h.uc.Query(filter))
}

// @Summary Get task
// @Tags tasks
// @Router /api/v1/tasks/{id} [get]
func (h *TaskHandler) GetTask(ctx *fasthttp.RequestCtx) {
	if _, ok := h.actorID(ctx); !ok {
		return
	}
	t, err := h.uc.Get(pathValue(ctx, "id"))
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondWritten(ctx, http.StatusOK, t, h.uc.IsUnsynced(t.ID))
}

// @Summary Create task
// @Tags tasks
// @Router /api/v1/tasks [post]
func (h *TaskHandler) CreateTask(ctx *fasthttp.RequestCtx) {
	actorID, ok := h.actorID(ctx)
	if !ok {
		return
	}
	task, ok := h.parseTask(ctx)
	if !ok {
		return
	}
	task.OwnerID = actorID

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	created, err := h.uc.Upsert(stdCtx, task)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondWritten(ctx, http.StatusCreated, created, h.uc.IsUnsynced(created.ID))
}

// @Summary Update task
// @Tags tasks
// @Router /api/v1/tasks/{id} [put]
func (h *TaskHandler) UpdateTask(ctx *fasthttp.RequestCtx) {
	actorID, ok := h.actorID(ctx)
	if !ok {
		return
	}
	current, ok := h.owned(ctx, actorID)
	if !ok {
		return
	}
	task, ok := h.parseTask(ctx)
	if !ok {
		return
	}
	task.ID = current.ID
	task.OwnerID = current.OwnerID
	task.Completed = current.Completed

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	updated, err := h.uc.Upsert(stdCtx, task)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondWritten(ctx, http.StatusOK, updated, h.uc.IsUnsynced(updated.ID))
}

// @Summary Toggle task completion
// @Tags tasks
// @Router /api/v1/tasks/{id}/complete [post]
func (h *TaskHandler) CompleteTask(ctx *fasthttp.RequestCtx) {
	actorID, ok := h.actorID(ctx)
	if !ok {
		return
	}
	current, ok := h.owned(ctx, actorID)
	if !ok {
		return
	}
	var req transport.CompletionRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.respondInvalid(ctx, "invalid payload")
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	updated, err := h.uc.SetCompleted(stdCtx, current.ID, req.Completed)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondWritten(ctx, http.StatusOK, updated, h.uc.IsUnsynced(updated.ID))
}

// @Summary Delete task
// @Tags tasks
// @Router /api/v1/tasks/{id} [delete]
func (h *TaskHandler) DeleteTask(ctx *fasthttp.RequestCtx) {
	actorID, ok := h.actorID(ctx)
	if !ok {
		return
	}
	current, ok := h.owned(ctx, actorID)
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.uc.Delete(stdCtx, current.ID); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, nil)
}

// owned loads the task named in the path and checks that actorID may manage it.
func (h *TaskHandler) owned(ctx *fasthttp.RequestCtx, actorID string) (domain.Task, bool) {
	current, err := h.uc.Get(pathValue(ctx, "id"))
	if err != nil {
		h.respondError(ctx, err)
		return domain.Task{}, false
	}
	if current.OwnerID != "" && current.OwnerID != actorID {
		h.respondError(ctx, domain.ErrNotOwner)
		return domain.Task{}, false
	}
	return current, true
}

func (h *TaskHandler) parseTask(ctx *fasthttp.RequestCtx) (domain.Task, bool) {
	var req transport.TaskRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.respondInvalid(ctx, "invalid payload")
		return domain.Task{}, false
	}
	due, err := parseTime(req.DueAt)
	if err != nil {
		h.respondInvalid(ctx, "due_at must be RFC 3339")
		return domain.Task{}, false
	}
	return domain.Task{
		Title:            req.Title,
		Description:      req.Description,
		Points:           req.Points,
		DueAt:            due,
		Required:         req.Required,
		AssigneeID:       req.AssigneeID,
		EvidenceRequired: req.EvidenceRequired,
	}, true
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}
