package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/grading"
	"github.com/noah-isme/gradeflow-api/internal/queue"
)

// TaskRouter dispatches queued tasks to their executors. It is the single
// queue.Executor both queue backends deliver into.
type TaskRouter struct {
	engine      *grading.Engine
	guides      GuideService
	assignments AssignmentService
	logger      zerolog.Logger
}

// NewTaskRouter instantiates the router.
func NewTaskRouter(engine *grading.Engine, guides GuideService, assignments AssignmentService, logger zerolog.Logger) *TaskRouter {
	return &TaskRouter{
		engine:      engine,
		guides:      guides,
		assignments: assignments,
		logger:      logger.With().Str("component", "task_router").Logger(),
	}
}

// Execute runs one task to completion.
func (r *TaskRouter) Execute(ctx context.Context, task queue.Task) error {
	switch task.Kind {
	case queue.TaskGrade:
		return r.engine.Execute(ctx, task.ID)
	case queue.TaskGuide:
		return r.guides.ProcessGeneration(ctx, task.ID)
	case queue.TaskAssignment:
		return r.assignments.ProcessGeneration(ctx, task.ID)
	default:
		r.logger.Error().Str("kind", string(task.Kind)).Uint("id", task.ID).Msg("unknown task kind")
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}
