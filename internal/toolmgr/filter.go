package toolmgr

import "strings"

const serverToolDelimiter = "/"

// toolFilter decides which of a server's tools an agent may see.
type toolFilter struct {
	all     bool
	allowed map[HostToolName]struct{}
}

// newToolFilter builds the filter for server from the agent's tool list.
// ["*"] allows everything; otherwise "@server" allows every tool of the
// server and "@server/tool" allows one.
func newToolFilter(server ServerName, agentTools []string) toolFilter {
	if len(agentTools) == 1 && agentTools[0] == "*" {
		return toolFilter{all: true}
	}
	prefix := "@" + server
	allowed := make(map[HostToolName]struct{})
	for _, entry := range agentTools {
		if !belongsTo(entry, prefix) {
			continue
		}
		name := "*"
		if _, tool, ok := strings.Cut(entry, serverToolDelimiter); ok && tool != "" {
			name = tool
		}
		allowed[name] = struct{}{}
	}
	if _, ok := allowed["*"]; ok {
		return toolFilter{all: true}
	}
	return toolFilter{allowed: allowed}
}

func (f toolFilter) includes(host HostToolName) bool {
	if f.all {
		return true
	}
	_, ok := f.allowed[host]
	return ok
}

// aliasesFor extracts the aliases that apply to server, keyed by host tool name.
func aliasesFor(server ServerName, aliases map[string]string) map[HostToolName]ModelToolName {
	prefix := "@" + server
	out := make(map[HostToolName]ModelToolName)
	for path, model := range aliases {
		if !belongsTo(path, prefix) {
			continue
		}
		if _, host, ok := strings.Cut(path, serverToolDelimiter); ok {
			out[host] = model
		}
	}
	return out
}

// belongsTo matches "@server" and "@server/..." but not "@serverother".
func belongsTo(entry, prefix string) bool {
	return entry == prefix || strings.HasPrefix(entry, prefix+serverToolDelimiter)
}
