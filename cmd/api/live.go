package main

import (
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/starfederation/datastar-go/datastar"
)

// handleInboxLive streams the received-images panel. Each PACS-initiated
// C-STORE patches the panel in place, so the page shows a move completing
// without polling.
func handleInboxLive(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	sse := datastar.NewSSE(w, r)

	sse.PatchElements(renderInboxPanel(scope))

	deliveries, cancel := inbox.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case inst, ok := <-deliveries:
			if !ok {
				return
			}
			if scope != "" && !strings.HasPrefix(inst.PatientID, scope+"-") {
				continue
			}
			if err := sse.PatchElements(renderInboxPanel(scope)); err != nil {
				return
			}
		}
	}
}

func renderInboxPanel(scope string) string {
	groups := inbox.Groups(scope)

	var sb strings.Builder
	sb.WriteString(`<div id="inbox-groups" class="list">`)
	for _, g := range groups {
		sb.WriteString(fmt.Sprintf(`
			<div class="row">
				<div class="col">
					<span>%s (%s)</span>
					<label>%s &middot; %d image(s) &middot; %s</label>
				</div>
			</div>`,
			html.EscapeString(g.PatientName),
			html.EscapeString(g.PatientID),
			html.EscapeString(g.StudyInstanceUID),
			g.Count,
			html.EscapeString(g.Modalities)))
	}
	if len(groups) == 0 {
		sb.WriteString(`<div class="padding">No images received yet</div>`)
	}
	sb.WriteString("</div>")
	return sb.String()
}
