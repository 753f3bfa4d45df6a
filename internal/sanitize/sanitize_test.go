package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_StripsHTML(t *testing.T) {
	assert.Equal(t, "hello", Message("<b>hello</b>"))
}

func TestMessage_StripsScriptTag(t *testing.T) {
	got := Message(`<script>alert(1)</script>hi`)
	assert.Equal(t, "hi", got)
}

func TestMessage_TrimsWhitespace(t *testing.T) {
	assert.Equal(t, "hi there", Message("  hi there  \n"))
}

func TestMessage_EmptyInput(t *testing.T) {
	assert.Equal(t, "", Message(""))
	assert.Equal(t, "", Message("   "))
}

func TestMessage_RemovesControlCharacters(t *testing.T) {
	got := Message("hi\x00\x01bye")
	assert.Equal(t, "hibye", got)
}

func TestMessage_PreservesNewlines(t *testing.T) {
	assert.Equal(t, "line1\nline2", Message("line1\nline2"))
}

func TestMessage_OnlyHTMLYieldsEmpty(t *testing.T) {
	assert.Equal(t, "", Message("<div></div>"))
}
