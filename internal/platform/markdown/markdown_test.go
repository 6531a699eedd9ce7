package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	out, err := Render("# Welcome\n\nBring **your** laptop.\n\n- talks\n- food")
	require.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, "<h1>Welcome</h1>")
	assert.Contains(t, s, "<strong>your</strong>")
	assert.Contains(t, s, "<li>talks</li>")
}

func TestRenderDropsRawHTML(t *testing.T) {
	out := MustRender("hello <script>alert(1)</script>")
	assert.False(t, strings.Contains(string(out), "<script>"))
}
