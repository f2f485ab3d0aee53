// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"html"
	"net/http"
	"strings"
)

// --- HTML templates ---

const pageStyle = `<style>
  body { font-family: system-ui, -apple-system, sans-serif; max-width: 760px;
         margin: 0 auto; padding: 48px 20px 0; color: #2c2c1e; background: #faf8f0; }
  h1 { color: #2d5016; margin-bottom: 4px; font-weight: 700; }
  .meta { color: #6b6b5a; font-size: 0.9em; }
  code { font-family: ui-monospace, monospace; background: #f0ece0;
         padding: 2px 6px; border-radius: 3px; font-size: 0.85em; }
  a { color: #2d5016; text-decoration: none; }
  table { width: 100%; border-collapse: collapse; font-size: 0.9em; margin-top: 24px; }
  th { text-align: left; padding: 8px 10px; background: #f0ece0; font-weight: 600; }
  td { padding: 8px 10px; border-bottom: 1px solid #f0ece0; vertical-align: top; }
  .badge { display: inline-block; padding: 2px 8px; border-radius: 4px;
           font-size: 0.75em; font-weight: 600; text-transform: uppercase; }
  .badge-general { background: #e8f5e0; color: #2d5016; }
  .badge-pull_stream { background: #e0ecf5; color: #1a4a6b; }
  .badge-push_stream { background: #f5e6f0; color: #6b234a; }
  .badge-raw_stream { background: #f5eee0; color: #6b4423; }
  footer { margin-top: 48px; padding: 20px 0; border-top: 1px solid #f0ece0;
           color: #6b6b5a; font-size: 0.85em; text-align: center; }
</style>`

const notFoundHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>404 &mdash; native bridge</title>
%s
</head>
<body>
<h1>404 &mdash; Not Found</h1>
<p>This is a local <code>native-bridge</code> endpoint. APIs are called with
<code>POST /&lt;api&gt;</code>; the catalogue is at <a href="%s"><code>%s</code></a>.</p>
</body>
</html>`

const landingHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s &mdash; native bridge</title>
%s
</head>
<body>
<h1>%s</h1>
<p class="meta">server <code>%s</code> &middot; %d APIs &middot; <a href="%s">catalogue (JSON)</a></p>
<table>
<tr><th>API</th><th>Kind</th><th>Routes</th></tr>
%s</table>
<footer>
  &copy; 2026 <a href="https://query.farm">Query.Farm LLC</a>
</footer>
</body>
</html>`

// --- Page builders ---

func buildNotFoundHTML() []byte {
	return []byte(fmt.Sprintf(notFoundHTMLTemplate, pageStyle, DescribePath, DescribePath))
}

func buildLandingHTML(title, serverID string, apis []APIInfo) []byte {
	var rows strings.Builder
	for _, info := range apis {
		kind := info.Kind.String()
		fmt.Fprintf(&rows, `<tr><td><code>%s</code></td><td><span class="badge badge-%s">%s</span></td><td>`,
			html.EscapeString(info.Name), kind, strings.ReplaceAll(kind, "_", " "))
		for i, route := range Routes(info.Name, info.Kind) {
			if i > 0 {
				rows.WriteString("<br>")
			}
			fmt.Fprintf(&rows, "<code>%s</code>", html.EscapeString(route))
		}
		rows.WriteString("</td></tr>\n")
	}
	if serverID == "" {
		serverID = "local"
	}
	return []byte(fmt.Sprintf(landingHTMLTemplate,
		html.EscapeString(title), // <title>
		pageStyle,
		html.EscapeString(title), // <h1>
		html.EscapeString(serverID),
		len(apis),
		DescribePath,
		rows.String(),
	))
}

// --- HTTP handlers ---

func (h *HttpServer) handleLandingPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buildLandingHTML(h.title, h.server.ServerID(), h.server.APIs()))
}

func (h *HttpServer) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(h.notFoundHTML)
}
