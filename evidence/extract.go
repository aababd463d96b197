package evidence

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hupe1980/researchmesh/core"
)

const (
	maxClaimLen      = 280
	maxSupportingLen = 2000
)

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>)\]]+`)

// claimKeys and citationKeys are probed, in order, on map shaped tool data.
var (
	claimKeys    = []string{"claim", "answer", "summary", "result", "text", "content"}
	citationKeys = []string{"citation", "url", "source", "link"}
)

// FromToolResult turns a successful tool result into an evidence item.
// Failed or empty results yield ok=false.
func FromToolResult(agentID string, res core.ToolResult) (core.EvidenceItem, bool) {
	if !res.Success || res.Data == nil {
		return core.EvidenceItem{}, false
	}

	text := render(res.Data)
	if strings.TrimSpace(text) == "" || text == "null" {
		return core.EvidenceItem{}, false
	}

	claim := text
	citation := ""
	if m, ok := res.Data.(map[string]any); ok {
		if v := firstString(m, claimKeys); v != "" {
			claim = v
		}
		citation = firstString(m, citationKeys)
	}
	if citation == "" {
		citation = urlPattern.FindString(text)
	}

	return core.EvidenceItem{
		ID:             core.NewID(),
		Source:         res.Name,
		SourceKind:     core.SourceTool,
		AgentID:        agentID,
		Claim:          truncate(firstSentence(claim), maxClaimLen),
		SupportingText: truncate(text, maxSupportingLen),
		Citation:       citation,
		CreatedAt:      time.Now().UTC(),
	}, true
}

// FromMessage turns an agent's answer into a model-asserted evidence item.
func FromMessage(agentID string, msg core.Message) (core.EvidenceItem, bool) {
	text := strings.TrimSpace(msg.Text())
	if text == "" {
		return core.EvidenceItem{}, false
	}
	claim := firstSentence(text)
	supporting := ""
	if len(claim) < len(text) {
		supporting = truncate(text, maxSupportingLen)
	}
	return core.EvidenceItem{
		ID:             core.NewID(),
		Source:         agentID,
		SourceKind:     core.SourceAgent,
		AgentID:        agentID,
		Claim:          truncate(claim, maxClaimLen),
		SupportingText: supporting,
		Citation:       urlPattern.FindString(text),
		CreatedAt:      time.Now().UTC(),
	}, true
}

func render(data any) string {
	switch v := data.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// firstSentence returns text up to the first sentence terminator followed by
// whitespace, or the first line.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i > 0 {
		text = text[:i]
	}
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' {
				return text[:i+1]
			}
		}
	}
	return text
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
