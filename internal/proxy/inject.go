package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Inject inserts script into doc exactly once: immediately before the first
// </head>, else immediately after the first <body> start tag, else at the
// very start. Tags inside scripts, comments and attributes are not matched.
func Inject(doc, script string) string {
	at := injectionOffset(doc)
	return doc[:at] + script + doc[at:]
}

func injectionOffset(doc string) int {
	z := html.NewTokenizer(strings.NewReader(doc))
	offset := 0
	bodyEnd := -1

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := z.Raw()
		name, _ := z.TagName()
		switch {
		case tt == html.EndTagToken && atom.Lookup(name) == atom.Head:
			return offset
		case tt == html.StartTagToken && bodyEnd < 0 && atom.Lookup(name) == atom.Body:
			bodyEnd = offset + len(raw)
		}
		offset += len(raw)
	}

	if bodyEnd >= 0 {
		return bodyEnd
	}
	return 0
}

// overrideScript exposes the token and the relay URL to the page and patches
// WebSocket so connections aimed at the local gateway port, or at the root
// of the local host, go through the relay. Other hosts are left alone.
func overrideScript(token string, port int, wsPath string) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, `
<script>
window.__GATEWAY_PROXY_TOKEN__ = %s;
window.__GATEWAY_PROXY_WS_URL__ = (window.location.protocol === 'https:' ? 'wss:' : 'ws:') + '//' + window.location.host + %s;
(function() {
    const OriginalWebSocket = window.WebSocket;
    const proxyUrl = window.__GATEWAY_PROXY_WS_URL__;
    const port = %s;
    const isLocal = function(parsed) {
        return parsed.hostname === '127.0.0.1' || parsed.hostname === 'localhost' || parsed.host === window.location.host;
    };
    const PatchedWebSocket = function(url, protocols) {
        let target = url;
        try {
            const parsed = new URL(url, window.location.origin);
            if (isLocal(parsed) && (parsed.port === port || parsed.pathname === '/') && String(url) !== proxyUrl) {
                target = proxyUrl;
            }
        } catch (e) {
            if (String(url).indexOf(':' + port) !== -1) {
                target = proxyUrl;
            }
        }
        return new OriginalWebSocket(target, protocols);
    };
    PatchedWebSocket.prototype = OriginalWebSocket.prototype;
    PatchedWebSocket.CONNECTING = OriginalWebSocket.CONNECTING;
    PatchedWebSocket.OPEN = OriginalWebSocket.OPEN;
    PatchedWebSocket.CLOSING = OriginalWebSocket.CLOSING;
    PatchedWebSocket.CLOSED = OriginalWebSocket.CLOSED;
    window.WebSocket = PatchedWebSocket;
})();
</script>
`, jsString(token), jsString(wsPath), jsString(fmt.Sprint(port)))
	return b.String()
}

// jsString quotes s as a JavaScript string literal. encoding/json escapes
// <, > and & so the value cannot close the surrounding script element.
func jsString(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}
