package tasks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/iotgrid/user-service/internal/users"
)

// Enqueuer schedules background retries for failed best-effort mirrors.
type Enqueuer struct {
	client *asynq.Client
}

var _ users.Mirrorer = (*Enqueuer)(nil)

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

func (e *Enqueuer) EnqueueProfileMirror(ctx context.Context, userID uuid.UUID) error {
	task, err := NewProfileMirrorTask(ProfileMirrorPayload{UserID: userID})
	if err != nil {
		return fmt.Errorf("building profile mirror task: %w", err)
	}
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue("mirror"), asynq.MaxRetry(10))
	return err
}

func (e *Enqueuer) EnqueueRoleReconcile(ctx context.Context, userID uuid.UUID) error {
	task, err := NewRoleReconcileTask(RoleReconcilePayload{UserID: userID})
	if err != nil {
		return fmt.Errorf("building role reconcile task: %w", err)
	}
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue("reconcile"), asynq.MaxRetry(5))
	return err
}
