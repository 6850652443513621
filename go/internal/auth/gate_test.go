package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showops/cueline/go/internal/models"
)

func actor(role models.Role) models.Actor {
	return models.Actor{ID: "actor-1", Name: "Ana", Role: role}
}

func TestRequireTimerControl(t *testing.T) {
	require.NoError(t, RequireTimerControl(actor(models.RoleOperator)))

	err := RequireTimerControl(actor(models.RoleEditor))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRoleDenied))

	var denial *DenialError
	require.True(t, errors.As(err, &denial))
	assert.Equal(t, "control timers", denial.Capability)

	assert.Error(t, RequireTimerControl(actor(models.RoleViewer)))
}

func TestRequireContentEdit(t *testing.T) {
	require.NoError(t, RequireContentEdit(actor(models.RoleEditor)))
	assert.True(t, errors.Is(RequireContentEdit(actor(models.RoleOperator)), ErrRoleDenied))
	assert.True(t, errors.Is(RequireContentEdit(actor(models.RoleViewer)), ErrRoleDenied))
}

func TestRequireValidRejectsUnknownRole(t *testing.T) {
	err := RequireTimerControl(actor(models.Role("ADMIN")))
	assert.True(t, errors.Is(err, ErrRoleDenied))
}
