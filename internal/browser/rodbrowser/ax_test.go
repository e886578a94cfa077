package rodbrowser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/dashport/internal/snapshot"
)

func TestRenderLiftsGenericAndRendersRefs(t *testing.T) {
	nodes := []axNode{
		{ID: "1", Role: "RootWebArea", Name: "Dashboards", Children: []string{"2"}},
		{ID: "2", Role: "generic", Children: []string{"3", "7"}},
		{ID: "3", Role: "row", Name: "Sales Dashboard Alice", Backend: 40, Children: []string{"4", "6"}},
		{ID: "4", Role: "link", Name: "Sales Dashboard", Backend: 41, Props: map[string]string{"url": "https://dash.example/d/abc"}, Children: []string{"5"}},
		{ID: "5", Role: "StaticText", Name: "Sales Dashboard"},
		{ID: "6", Role: "button", Name: "Show options", Backend: 42, Props: map[string]string{"expanded": "false", "disabled": "true"}},
		{ID: "7", Role: "heading", Name: "Recent", Backend: 50, Props: map[string]string{"level": "2"}, Ignored: false},
	}

	got := render(nodes)
	require.Len(t, got, 4)

	assert.Equal(t, "row", got[0].Role)
	assert.Equal(t, 0, got[0].Depth)
	assert.Equal(t, "e40", got[0].Ref)

	assert.Equal(t, "link", got[1].Role)
	assert.Equal(t, 1, got[1].Depth)
	assert.Equal(t, "https://dash.example/d/abc", attr(got[1], "/url"))

	assert.Equal(t, "e42", got[2].Ref)
	assert.Equal(t, []snapshot.Attr{{Key: "disabled", Inline: true}}, got[2].Attrs)

	assert.Equal(t, "heading", got[3].Role)
	assert.Equal(t, 0, got[3].Depth)
	assert.Equal(t, "2", attr(got[3], "level"))
}

func TestRenderRoundTripsThroughParser(t *testing.T) {
	nodes := []axNode{
		{ID: "1", Role: "row", Name: "Ops \"Live\"", Backend: 7, Children: []string{"2"}},
		{ID: "2", Role: "cell", Name: "", Backend: 8, Children: []string{"3"}},
		{ID: "3", Role: "StaticText", Name: "Created by Bob"},
		{ID: "4", Role: "none", Ignored: true},
	}
	rendered := render(nodes)
	parsed := snapshot.Parse(snapshot.Serialize(rendered))
	require.Len(t, parsed, 3)
	assert.Equal(t, `Ops "Live"`, parsed[0].Name)
	assert.Equal(t, "e8", parsed[1].Ref)
	assert.Equal(t, "text", parsed[2].Role)
	assert.Equal(t, "Created by Bob", parsed[2].Text)
	assert.Equal(t, 2, parsed[2].Depth)
}

func TestParseRef(t *testing.T) {
	id, err := parseRef("e42")
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	_, err = parseRef("button")
	assert.Error(t, err)
	_, err = parseRef("e0")
	assert.Error(t, err)
}

func attr(n snapshot.Node, key string) string {
	v, _ := n.Attr(key)
	return v
}
