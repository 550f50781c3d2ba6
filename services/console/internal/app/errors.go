package app

import (
	"errors"

	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/state"
)

var (
	ErrInstanceNotFound   = state.ErrInstanceNotFound
	ErrDuplicateName      = state.ErrDuplicateName
	ErrNameRequired       = errors.New("instance name is required")
	ErrInvalidWebhookURL  = errors.New("invalid webhook URL")
	ErrNotConnected       = errors.New("instance is not connected")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrEmptyMessage       = errors.New("message is required")
	ErrInvalidBackup      = errors.New("invalid backup file")
	ErrUnsupportedFormat  = errors.New("unsupported export format")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrSessionExpired     = errors.New("session expired")
	ErrNoRemoteInstance   = errors.New("instance has no gateway association")
	ErrNoBusinessData     = errors.New("instance has no business configuration")
)
