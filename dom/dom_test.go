package dom

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func parseDoc(t *testing.T, src string) *Document {
	t.Helper()
	d, err := ParseString(src)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// firstByTag returns the first element with the given tag, light tree only.
func firstByTag(t *testing.T, root *html.Node, tag string) *html.Node {
	t.Helper()
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == tag {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	if found == nil {
		t.Fatalf("no <%s> in document", tag)
	}
	return found
}

func TestParseAndBody(t *testing.T) {
	d := parseDoc(t, `<html><body><div id="a">hi</div></body></html>`)
	body := d.Body()
	if body.Data != "body" {
		t.Fatalf("Body() = %q, want body", body.Data)
	}
}

func TestAttrAndTextContent(t *testing.T) {
	d := parseDoc(t, `<html><body><div id="a" class="x y">  Hello   <b>World</b> </div></body></html>`)
	div := firstByTag(t, d.Root(), "div")

	if v, ok := Attr(div, "id"); !ok || v != "a" {
		t.Errorf("Attr(id) = %q, %v", v, ok)
	}
	if _, ok := Attr(div, "missing"); ok {
		t.Error("Attr(missing) should not exist")
	}

	text := TextContent(div)
	if !strings.Contains(text, "Hello") || !strings.Contains(text, "World") {
		t.Errorf("TextContent = %q", text)
	}
	if got := NormalizeSpace(text); got != "Hello World" {
		t.Errorf("NormalizeSpace = %q, want %q", got, "Hello World")
	}
}

func TestAttachShadow(t *testing.T) {
	d := parseDoc(t, `<html><body><div id="host"></div><div id="vault"></div></body></html>`)
	host := firstByTag(t, d.Root(), "div")

	sr, err := d.AttachShadow(host, ModeOpen, `<span data-id="x">inside</span>`)
	if err != nil {
		t.Fatal(err)
	}
	if sr.Root.FirstChild == nil || sr.Root.FirstChild.Data != "span" {
		t.Fatal("shadow fragment not parsed")
	}
	if sr.Root.Parent != nil {
		t.Error("shadow container must have no parent")
	}

	if d.OpenShadow(host) != sr.Root {
		t.Error("OpenShadow should return the open root")
	}
	if !d.HasShadowTrees() {
		t.Error("HasShadowTrees should be true")
	}

	// Second attach on the same host fails.
	if _, err := d.AttachShadow(host, ModeOpen, `<i></i>`); err == nil {
		t.Error("expected error on double attach")
	}
}

func TestConcealedAccessor(t *testing.T) {
	d := parseDoc(t, `<html><body><div id="host"></div></body></html>`)
	host := firstByTag(t, d.Root(), "div")

	sr, err := d.AttachShadow(host, ModeClosed, `<span>secret</span>`)
	if err != nil {
		t.Fatal(err)
	}

	// Closed roots are invisible to the open enumerator.
	if d.OpenShadow(host) != nil {
		t.Error("OpenShadow must not expose a closed root")
	}

	acc := d.Concealed()
	if acc(host) != sr.Root {
		t.Error("Concealed accessor should resolve the closed root")
	}
	other := firstByTag(t, d.Root(), "body")
	if acc(other) != nil {
		t.Error("accessor should return nil for non-hosts")
	}
}

func TestSubscribeStructure(t *testing.T) {
	d := parseDoc(t, `<html><body><ul id="list"></ul></body></html>`)
	list := firstByTag(t, d.Root(), "ul")

	var changes []Change
	sub := d.Subscribe(d.Body(), SubscribeConfig{Structure: true}, func(ch Change) {
		changes = append(changes, ch)
	})
	defer sub.Cancel()

	if _, err := d.AppendHTML(list, `<li>one</li>`); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Kind != ChangeStructure {
		t.Fatalf("changes = %+v", changes)
	}

	li := firstByTag(t, d.Root(), "li")
	if err := d.RemoveNode(li); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
}

func TestSubscribeAttrAllowlist(t *testing.T) {
	d := parseDoc(t, `<html><body><div id="a"></div></body></html>`)
	div := firstByTag(t, d.Root(), "div")

	var got []string
	sub := d.Subscribe(d.Body(), SubscribeConfig{Attributes: []string{"class", "hidden"}}, func(ch Change) {
		got = append(got, ch.Attr)
	})
	defer sub.Cancel()

	d.SetAttr(div, "class", "x")
	d.SetAttr(div, "title", "nope") // not in allowlist
	d.SetAttr(div, "hidden", "")

	if len(got) != 2 || got[0] != "class" || got[1] != "hidden" {
		t.Fatalf("got %v, want [class hidden]", got)
	}
}

func TestSubscribeDoesNotCrossShadowBoundary(t *testing.T) {
	d := parseDoc(t, `<html><body><div id="host"></div></body></html>`)
	host := firstByTag(t, d.Root(), "div")
	sr, err := d.AttachShadow(host, ModeOpen, `<span>s</span>`)
	if err != nil {
		t.Fatal(err)
	}

	var lightFired, shadowFired int
	lightSub := d.Subscribe(d.Body(), SubscribeConfig{Structure: true}, func(Change) { lightFired++ })
	shadowSub := d.Subscribe(sr.Root, SubscribeConfig{Structure: true}, func(Change) { shadowFired++ })
	defer lightSub.Cancel()
	defer shadowSub.Cancel()

	// Mutate inside the shadow tree: only the shadow subscription fires.
	span := sr.Root.FirstChild
	if _, err := d.AppendHTML(span, `<i>x</i>`); err != nil {
		t.Fatal(err)
	}
	if lightFired != 0 || shadowFired != 1 {
		t.Fatalf("light=%d shadow=%d, want 0/1", lightFired, shadowFired)
	}

	// Mutate the light tree: only the light subscription fires.
	if _, err := d.AppendHTML(d.Body(), `<p>y</p>`); err != nil {
		t.Fatal(err)
	}
	if lightFired != 1 || shadowFired != 1 {
		t.Fatalf("light=%d shadow=%d, want 1/1", lightFired, shadowFired)
	}
}

func TestSubscriptionCancel(t *testing.T) {
	d := parseDoc(t, `<html><body></body></html>`)

	fired := 0
	sub := d.Subscribe(d.Body(), SubscribeConfig{Structure: true}, func(Change) { fired++ })
	if d.Stats().Subscriptions != 1 {
		t.Fatal("expected 1 subscription")
	}

	sub.Cancel()
	sub.Cancel() // idempotent
	if d.Stats().Subscriptions != 0 {
		t.Fatal("expected 0 subscriptions after cancel")
	}

	if _, err := d.AppendHTML(d.Body(), `<p>x</p>`); err != nil {
		t.Fatal(err)
	}
	if fired != 0 {
		t.Fatalf("cancelled subscription fired %d times", fired)
	}
}

func TestSetTextNotifies(t *testing.T) {
	d := parseDoc(t, `<html><body><p>old</p></body></html>`)
	p := firstByTag(t, d.Root(), "p")

	fired := 0
	sub := d.Subscribe(d.Body(), SubscribeConfig{Text: true}, func(Change) { fired++ })
	defer sub.Cancel()

	d.SetText(p, "new")
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if got := TextContent(p); got != "new" {
		t.Fatalf("TextContent = %q, want new", got)
	}
}

func TestQueryCSS(t *testing.T) {
	d := parseDoc(t, `<html><body>
		<div id="main" class="box">
			<span class="item" data-id="x">a</span>
			<span class="item">b</span>
		</div>
		<span class="other">c</span>
	</body></html>`)

	tests := []struct {
		selector string
		want     int
	}{
		{"span", 3},
		{".item", 2},
		{"#main", 1},
		{"div.box", 1},
		{"span[data-id]", 1},
		{"span[data-id=x]", 1},
		{"div span", 2},
		{"div .item", 2},
		{"nav", 0},
		{"", 0},
		{"::malformed::", 0},
	}
	for _, tt := range tests {
		got := QueryCSS(d.Root(), tt.selector)
		if len(got) != tt.want {
			t.Errorf("QueryCSS(%q) = %d matches, want %d", tt.selector, len(got), tt.want)
		}
	}
}

func TestIsVisible(t *testing.T) {
	d := parseDoc(t, `<html><body>
		<div id="plain">a</div>
		<div id="none" style="display: none">b</div>
		<div id="vis" style="visibility: hidden">c</div>
		<div id="op" style="opacity: 0">d</div>
		<div id="hid" hidden>e</div>
		<div style="display:none"><span id="inherited">f</span></div>
	</body></html>`)

	byID := func(id string) *html.Node {
		t.Helper()
		matches := QueryCSS(d.Root(), "#"+id)
		if len(matches) != 1 {
			t.Fatalf("#%s: %d matches", id, len(matches))
		}
		return matches[0]
	}

	if !IsVisible(byID("plain")) {
		t.Error("plain should be visible")
	}
	for _, id := range []string{"none", "vis", "op", "hid", "inherited"} {
		if IsVisible(byID(id)) {
			t.Errorf("#%s should be hidden", id)
		}
	}
}
