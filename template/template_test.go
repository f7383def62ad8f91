package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/internal/testutil"
)

func TestGenerator_CoversEveryKind(t *testing.T) {
	g := NewGenerator()

	for _, kind := range core.Kinds() {
		task := testutil.NewTaskBuilder("proj-1").Kind(kind).Title("Todo App").Build()
		scaffold, err := g.Generate(task)
		require.NoError(t, err, "kind %s", kind)
		assert.NotEmpty(t, scaffold.Files, "kind %s", kind)
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	g := NewGenerator()
	task := testutil.NewTaskBuilder("proj-1").Kind(core.KindFrontend).Title("Todo App").Build()

	first, err := g.Generate(task)
	require.NoError(t, err)
	second, err := g.Generate(task)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGenerator_RendersTaskFields(t *testing.T) {
	g := NewGenerator()
	task := testutil.NewTaskBuilder("proj-1").Kind(core.KindFrontend).Title("Todo App").Build()

	scaffold, err := g.Generate(task)
	require.NoError(t, err)

	require.Equal(t, "package.json", scaffold.Files[0].Name)
	assert.Contains(t, scaffold.Files[0].Content, `"name": "todo-app"`)
	assert.Contains(t, scaffold.Files[1].Content, "<h1>Todo App</h1>")
}

func TestGenerator_UnknownKindPermanent(t *testing.T) {
	g := NewGenerator()
	task := testutil.NewTaskBuilder("proj-1").Build()
	task.Kind = core.TaskKind("mainframe")

	_, err := g.Generate(task)

	var perm *core.PermanentFailure
	require.ErrorAs(t, err, &perm)
	assert.False(t, core.IsTransient(err))
}
