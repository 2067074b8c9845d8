package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/types"
)

func echoHandler(env types.Envelope) (types.HandlerResult, error) {
	return types.HandlerResult{Output: map[string]any{"task": env.Task}}, nil
}

func specWith(name string, keywords ...types.Keyword) types.AgentSpec {
	return types.AgentSpec{Name: name, Keywords: keywords, Handler: echoHandler}
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(specWith("weather", types.Keyword{Token: "weather", Weight: 3})))

	spec, err := r.Resolve("weather")
	require.NoError(t, err)
	assert.Equal(t, "weather", spec.Name)

	_, err = r.Resolve("nope")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Register(types.AgentSpec{Handler: echoHandler})
	assert.True(t, errdefs.IsUsage(err))

	err = r.Register(types.AgentSpec{Name: "mute"})
	assert.True(t, errdefs.IsUsage(err))

	err = r.Register(specWith("bad", types.Keyword{Token: "x", Weight: 0}))
	assert.True(t, errdefs.IsUsage(err))
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(specWith("weather")))

	err := r.Register(specWith("weather"))
	assert.True(t, errdefs.IsConflict(err))
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(specWith("a")))
	require.NoError(t, r.Register(specWith("b")))

	require.NoError(t, r.Unregister("a"))
	_, err := r.Resolve("a")
	assert.True(t, errdefs.IsNotFound(err))

	infos := r.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "b", infos[0].Name)

	assert.True(t, errdefs.IsNotFound(r.Unregister("a")))
}

func TestEnableDisable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(specWith("calendar")))
	assert.True(t, r.Enabled("calendar"))

	require.NoError(t, r.Disable("calendar"))
	assert.False(t, r.Enabled("calendar"))

	// Disabled agents still resolve for direct callers.
	_, err := r.Resolve("calendar")
	require.NoError(t, err)

	require.NoError(t, r.Enable("calendar"))
	assert.True(t, r.Enabled("calendar"))

	assert.True(t, errdefs.IsNotFound(r.Enable("ghost")))
}

func TestResolveAction(t *testing.T) {
	called := ""
	spec := specWith("notes")
	spec.Actions = map[string]types.Handler{
		"append": func(env types.Envelope) (types.HandlerResult, error) {
			called = "append"
			return types.HandlerResult{}, nil
		},
	}
	r := NewRegistry()
	require.NoError(t, r.Register(spec))

	h, err := r.ResolveAction("notes", "append")
	require.NoError(t, err)
	_, err = h(types.Envelope{})
	require.NoError(t, err)
	assert.Equal(t, "append", called)

	// Empty action falls back to the default handler.
	h, err = r.ResolveAction("notes", "")
	require.NoError(t, err)
	res, err := h(types.Envelope{Task: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Output["task"])

	_, err = r.ResolveAction("notes", "delete")
	assert.True(t, errdefs.IsUsage(err))

	_, err = r.ResolveAction("ghost", "append")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestListDeclarationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(specWith(name)))
	}
	infos := r.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "c", infos[0].Name)
	assert.Equal(t, "a", infos[1].Name)
	assert.Equal(t, "b", infos[2].Name)
}

func TestServicesRoundTrip(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Services().Messages)
	r.SetServices(Services{})
	assert.Nil(t, r.Services().State)
}
