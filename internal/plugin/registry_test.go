package plugin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/734ai/neuroforge/internal/types"
)

type fakePlugin struct {
	name string
	caps []string
	fn   func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

func (f *fakePlugin) Name() string           { return f.name }
func (f *fakePlugin) Capabilities() []string { return f.caps }
func (f *fakePlugin) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	if f.fn != nil {
		return f.fn(ctx, params)
	}
	return json.RawMessage(`{}`), nil
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	p := &fakePlugin{name: "Builder", caps: []string{"Compile", "lint"}}
	require.NoError(t, r.Register(p))

	got, err := r.ForCapability("compile")
	require.NoError(t, err)
	assert.Equal(t, "Builder", got.Name())

	got, err = r.ForCapability(" LINT ")
	require.NoError(t, err)
	assert.Equal(t, "Builder", got.Name())

	got, err = r.ByName("builder")
	require.NoError(t, err)
	assert.Equal(t, "Builder", got.Name())
}

func TestRegistryUnknownCapability(t *testing.T) {
	r := NewRegistry()

	_, err := r.ForCapability("deploy")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.UNKNOWN_CAPABILITY))

	_, err = r.ByName("ghost")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.UNKNOWN_CAPABILITY))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakePlugin{name: "a", caps: []string{"x"}}))

	err := r.Register(&fakePlugin{name: "A", caps: []string{"y"}})
	require.Error(t, err, "duplicate name")

	err = r.Register(&fakePlugin{name: "b", caps: []string{"X"}})
	require.Error(t, err, "duplicate capability")
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&fakePlugin{name: "", caps: []string{"x"}}))
	assert.Error(t, r.Register(&fakePlugin{name: "p", caps: nil}))
	assert.Error(t, r.Register(&fakePlugin{name: "p", caps: []string{" "}}))
}

func TestRegistryFreeze(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakePlugin{name: "a", caps: []string{"x"}}))

	r.Freeze()
	err := r.Register(&fakePlugin{name: "b", caps: []string{"y"}})
	require.Error(t, err)

	// Resolution still works after freeze.
	_, err = r.ForCapability("x")
	assert.NoError(t, err)
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakePlugin{name: "zeta", caps: []string{"z"}}))
	require.NoError(t, r.Register(&fakePlugin{name: "alpha", caps: []string{"b", "a"}}))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, []string{"a", "b"}, list[0].Capabilities)
	assert.Equal(t, "zeta", list[1].Name)

	assert.Equal(t, []string{"a", "b", "z"}, r.Capabilities())
}

func TestEchoPlugin(t *testing.T) {
	p := NewEchoPlugin()
	assert.Equal(t, "echo", p.Name())
	assert.Equal(t, []string{"echo", "test", "demo"}, p.Capabilities())

	out, err := p.Execute(context.Background(), json.RawMessage(`{"msg":"hi"}`))
	require.NoError(t, err)

	var result struct {
		Echo json.RawMessage `json:"echo"`
	}
	require.NoError(t, json.Unmarshal(out, &result))
	assert.JSONEq(t, `{"msg":"hi"}`, string(result.Echo))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Execute(ctx, nil)
	assert.Error(t, err)
}
