package browser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hazyhaar/docpeek/classify"
)

// BindingName is the Runtime binding the click listener reports through.
const BindingName = "__docpeek_click"

// clickPayload is what the listener sends for a taken-over click.
type clickPayload struct {
	Href string `json:"href"`
	Base string `json:"base"`
}

// ClickScript returns the page script that captures clicks on document
// links. It runs in the capture phase and cancels navigation for left
// clicks without modifier keys on http(s) anchors whose path matches one
// of the classify patterns, whatever earlier handlers did. The page's own
// handlers still run.
func ClickScript() string {
	sources := make([]string, 0, len(classify.Patterns()))
	for _, p := range classify.Patterns() {
		sources = append(sources, p.Source)
	}
	list, _ := json.Marshal(sources)

	return fmt.Sprintf(`(() => {
	if (window.__docpeek_installed) return;
	window.__docpeek_installed = true;
	const patterns = %s.map((s) => new RegExp(s, 'i'));
	document.addEventListener('click', (ev) => {
		if (ev.button !== 0) return;
		if (ev.metaKey || ev.ctrlKey || ev.shiftKey || ev.altKey) return;
		const a = ev.target instanceof Element ? ev.target.closest('a[href]') : null;
		if (!a) return;
		let u;
		try { u = new URL(a.getAttribute('href'), document.baseURI); } catch (e) { return; }
		if (u.protocol !== 'http:' && u.protocol !== 'https:') return;
		let path = u.pathname;
		try { path = decodeURIComponent(path); } catch (e) {}
		if (!patterns.some((re) => re.test(path))) return;
		if (typeof window.%s !== 'function') return;
		ev.preventDefault();
		window.%s(JSON.stringify({href: u.href, base: document.baseURI}));
	}, true);
})();`, list, BindingName, BindingName)
}

// parseClick decodes a binding payload.
func parseClick(payload string) (clickPayload, error) {
	var c clickPayload
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return c, fmt.Errorf("browser: click payload: %w", err)
	}
	if strings.TrimSpace(c.Href) == "" {
		return c, fmt.Errorf("browser: click payload without href")
	}
	return c, nil
}
