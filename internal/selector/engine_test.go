package selector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceSimpleElement(t *testing.T) {
	doc, err := ParseDocument([]byte(`<html><body><p id="x">old</p></body></html>`))
	require.NoError(t, err)

	sel, err := CompileSelector("#x")
	require.NoError(t, err)

	e := New()
	newDoc, result, err := e.Replace(doc, sel, `<p id="x">new</p>`)
	require.NoError(t, err)
	assert.Contains(t, result, "new")
	assert.Contains(t, result, `id="x"`)

	// S2: a subsequent GET with the same selector sees the committed value.
	got, err := e.Read(newDoc, sel)
	require.NoError(t, err)
	assert.Equal(t, result, got)
}

func TestReplaceTableSectionWorkaround(t *testing.T) {
	doc, err := ParseDocument([]byte(`<html><body><table><tr><td>A</td></tr></table></body></html>`))
	require.NoError(t, err)

	sel, err := CompileSelector("td")
	require.NoError(t, err)

	e := New()
	newDoc, result, err := e.Replace(doc, sel, `<td>B</td>`)
	require.NoError(t, err)
	assert.Contains(t, result, "B")

	serialized, err := Serialize(newDoc)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(serialized), "<td>B</td>"), "the replacement td must survive inside its table, not be stripped: %s", serialized)
}

func TestAppendChild(t *testing.T) {
	doc, err := ParseDocument([]byte(`<html><body><ul id="list"><li>one</li></ul></body></html>`))
	require.NoError(t, err)

	sel, err := CompileSelector("#list")
	require.NoError(t, err)

	e := New()
	result, err := e.Append(doc, sel, `<li>two</li>`)
	require.NoError(t, err)
	assert.Contains(t, result, "one")
	assert.Contains(t, result, "two")
}

func TestDeleteThenReadIsNotFound(t *testing.T) {
	doc, err := ParseDocument([]byte(`<html><body><p id="x">old</p></body></html>`))
	require.NoError(t, err)

	sel, err := CompileSelector("#x")
	require.NoError(t, err)

	e := New()
	require.NoError(t, e.Delete(doc, sel))

	_, err = e.Read(doc, sel)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSerializeRightTrimsTrailingWhitespace(t *testing.T) {
	doc, err := ParseDocument([]byte("<html><body><p id=\"x\">hello</p></body></html>\n\n  "))
	require.NoError(t, err)

	out, err := Serialize(doc)
	require.NoError(t, err)
	assert.False(t, strings.HasSuffix(string(out), " "))
	assert.False(t, strings.HasSuffix(string(out), "\n"))
}
