package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSelectorPrefersID(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<button id="save-btn">Save</button>
	</body></html>`)
	btn := mustQuery(t, doc, "#save-btn")

	sel, idx := DeriveSelector(doc, btn)
	assert.Equal(t, "#save-btn", sel)
	assert.Equal(t, 0, idx)

	assert.Same(t, btn, mustQuery(t, doc, sel))
}

func TestDeriveSelectorNameScopedToForm(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<form action="/login">
			<input name="user" type="text">
		</form>
		<input name="user" type="text">
	</body></html>`)
	input := mustQuery(t, doc, "form input")

	sel, idx := DeriveSelector(doc, input)
	assert.Equal(t, `form[action="/login"] [name="user"]`, sel)
	assert.Equal(t, 0, idx)
	assert.Same(t, input, mustQuery(t, doc, sel))
}

func TestDeriveSelectorNameWithoutForm(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<input name="q" type="search">
	</body></html>`)
	input := mustQuery(t, doc, "input")

	sel, _ := DeriveSelector(doc, input)
	assert.Equal(t, `[name="q"]`, sel)
}

func TestDeriveSelectorIdentifyingAttribute(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<a href="/docs">Documentation</a>
	</body></html>`)
	link := mustQuery(t, doc, "a")

	sel, _ := DeriveSelector(doc, link)
	assert.Equal(t, `a[href="/docs"]`, sel)
	assert.Same(t, link, mustQuery(t, doc, sel))
}

func TestDeriveSelectorClassFallback(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<button class="btn primary">Go</button>
	</body></html>`)
	btn := mustQuery(t, doc, "button")

	sel, _ := DeriveSelector(doc, btn)
	assert.Equal(t, "button.btn.primary", sel)
	assert.Same(t, btn, mustQuery(t, doc, sel))
}

func TestDeriveSelectorTagFallback(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<button>Go</button>
	</body></html>`)
	btn := mustQuery(t, doc, "button")

	sel, _ := DeriveSelector(doc, btn)
	assert.Equal(t, "button", sel)
}

func TestDeriveSelectorClimbsToInteractiveAncestor(t *testing.T) {
	// Clicking the label inside the button must address the button.
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<button id="go"><span class="label">Go</span></button>
	</body></html>`)
	span := mustQuery(t, doc, "span.label")

	sel, idx := DeriveSelector(doc, span)
	assert.Equal(t, "#go", sel)
	assert.Equal(t, 0, idx)
}

func TestDeriveSelectorIdentifyingAncestorScope(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<div id="panel">
			<button class="x">One</button>
		</div>
	</body></html>`)
	btn := mustQuery(t, doc, "button")

	sel, idx := DeriveSelector(doc, btn)
	assert.Equal(t, "#panel button.x", sel)
	assert.Equal(t, 0, idx)
	assert.Same(t, btn, mustQuery(t, doc, sel))
}

func TestDeriveSelectorIndexDisambiguates(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<button class="btn">One</button>
		<button class="btn">Two</button>
		<button class="btn">Three</button>
	</body></html>`)
	buttons, err := doc.QuerySelectorAll("button.btn")
	require.NoError(t, err)
	require.Len(t, buttons, 3)

	sel, idx := DeriveSelector(doc, buttons[1])
	assert.Equal(t, "button.btn", sel)
	assert.Equal(t, 1, idx)

	matches, err := doc.QuerySelectorAll(sel)
	require.NoError(t, err)
	assert.Same(t, buttons[1], matches[idx])
}

func TestDeriveSelectorInShadowRoot(t *testing.T) {
	// The index is computed against the element's own document, not
	// the light DOM it is mounted under.
	top := mustParse(t, "https://app.example.com/", `<html><body>
		<button class="btn">Light</button>
		<div id="host"></div>
	</body></html>`)
	shadow := mustParse(t, "https://app.example.com/", `<button class="btn">Shadow</button>`)
	top.AttachShadow(mustQuery(t, top, "#host"), shadow)
	btn := mustQuery(t, shadow, "button")

	sel, idx := DeriveSelector(top, btn)
	assert.Equal(t, "button.btn", sel)
	assert.Equal(t, 0, idx)
}

func TestDeriveSelectorNilTarget(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body></body></html>`)

	sel, idx := DeriveSelector(doc, nil)
	assert.Equal(t, "", sel)
	assert.Equal(t, 0, idx)
}

func TestIsInteractive(t *testing.T) {
	doc := mustParse(t, "https://app.example.com/", `<html><body>
		<button id="btn">x</button>
		<a id="link" href="/">x</a>
		<input id="field">
		<div id="plain">x</div>
		<div id="role" role="button">x</div>
		<div id="state" aria-expanded="false">x</div>
	</body></html>`)

	assert.True(t, IsInteractive(mustQuery(t, doc, "#btn")))
	assert.True(t, IsInteractive(mustQuery(t, doc, "#link")))
	assert.True(t, IsInteractive(mustQuery(t, doc, "#field")))
	assert.False(t, IsInteractive(mustQuery(t, doc, "#plain")))
	assert.True(t, IsInteractive(mustQuery(t, doc, "#role")))
	assert.True(t, IsInteractive(mustQuery(t, doc, "#state")))
	assert.False(t, IsInteractive(nil))
}

func TestEscapeCSS(t *testing.T) {
	assert.Equal(t, "plain-name_1", EscapeCSS("plain-name_1"))
	assert.Equal(t, `\32 fa`, EscapeCSS("2fa"))
	assert.Equal(t, `-\32 fa`, EscapeCSS("-2fa"))
	assert.Equal(t, "-x2", EscapeCSS("-x2"))
	assert.Equal(t, `a\ b`, EscapeCSS("a b"))
	assert.Equal(t, `\-`, EscapeCSS("-"))
	assert.Equal(t, `foo\.bar`, EscapeCSS("foo.bar"))
	assert.Equal(t, `item\:first`, EscapeCSS("item:first"))
}

func TestEscapeAttrValue(t *testing.T) {
	assert.Equal(t, `say \"hi\"`, escapeAttrValue(`say "hi"`))
	assert.Equal(t, `back\\slash`, escapeAttrValue(`back\slash`))
}
