package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{NameNeedle, NameQuidditch, NameSteadyHand}, Names())
}

func TestNew(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			e, err := New(name, testDeps(newTestTools(t, 2), true))
			require.NoError(t, err)
			t.Cleanup(e.Close)

			assert.Equal(t, name, e.Name())
			assert.NotEmpty(t, e.Actors())
			assert.Equal(t, StateIdle, e.State().State)
			assert.Len(t, e.ACParams(), 2)

			steps(e, 10)
			e.StepRender()
			assert.Equal(t, StateIdle, e.State().State)
		})
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New("juggling", testDeps(newTestTools(t, 1), false))
	assert.ErrorIs(t, err, ErrUnknownTask)

	for _, name := range Names() {
		e, err := New(name, Deps{})
		assert.ErrorIs(t, err, ErrNoTools, name)
		assert.Nil(t, e, name)
	}
}

func TestClose_StopsStepping(t *testing.T) {
	e, err := New(NameSteadyHand, testDeps(newTestTools(t, 1), false))
	require.NoError(t, err)
	e.Close()
	e.Close()
	assert.NotPanics(t, func() { steps(e, 3) })
}
