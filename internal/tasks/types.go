package tasks

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeProfileMirror = "idp:profile_mirror"
	TypeRoleReconcile = "idp:role_reconcile"
)

// ProfileMirrorPayload identifies a user whose local profile state should be
// re-pushed to the identity provider after a failed inline mirror.
type ProfileMirrorPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

func NewProfileMirrorTask(payload ProfileMirrorPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProfileMirror, data), nil
}

// RoleReconcilePayload identifies a user whose provider role mappings should
// be re-asserted from the local role rows.
type RoleReconcilePayload struct {
	UserID uuid.UUID `json:"user_id"`
}

func NewRoleReconcileTask(payload RoleReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoleReconcile, data), nil
}
