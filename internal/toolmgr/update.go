package toolmgr

import (
	"context"
	"fmt"
	"strings"

	"goa.design/clue/log"
)

const conflictHeader = "The following tools are rejected because they conflict with existing tools in names. Avoid this via setting aliases for them: \n"

// Update merges the tool lists staged since the last call into the catalog.
// Batches are merged in arrival order, so on a name clash the server that
// reported first keeps the name. It is a no-op when nothing was staged.
// Batches staged for an earlier agent are discarded.
func (m *Manager) Update(ctx context.Context) {
	if !m.sess.staging.takeDirty() {
		return
	}
	gen := m.sess.gen.Load()
	var batches []serverBatch
	for _, b := range m.sess.staging.drain() {
		if b.gen != gen {
			log.Debug(ctx, log.KV{K: "msg", V: "dropping stale tool list"}, log.KV{K: "server", V: b.server}, log.KV{K: "gen", V: b.gen})
			continue
		}
		batches = append(batches, b)
	}
	if len(batches) == 0 {
		return
	}

	conflicts := make(map[ServerName]string)

	m.schemaMu.Lock()
	for _, b := range batches {
		for name, info := range m.tnMap {
			if info.ServerName == b.server {
				delete(m.tnMap, name)
			}
		}
		for name, spec := range m.schema {
			if spec.Origin.Server() == b.server {
				delete(m.schema, name)
			}
		}

		var rejected strings.Builder
		for _, spec := range b.specs {
			if other, taken := m.owner(spec.Name); taken {
				fmt.Fprintf(&rejected, " - %s from %s (already provided by %s)\n", spec.Name, b.server, other)
				continue
			}
			m.tnMap[spec.Name] = b.names[spec.Name]
			m.schema[spec.Name] = spec
		}
		if rejected.Len() > 0 {
			conflicts[b.server] = conflictHeader + rejected.String()
		}
	}
	m.schemaMu.Unlock()

	for server, msg := range conflicts {
		log.Warn(ctx, log.KV{K: "msg", V: "tool name conflict"}, log.KV{K: "server", V: server})
		m.sess.records.append(server, LoadingRecord{Kind: RecordErr, Message: msg})
	}
	log.Debug(ctx, log.KV{K: "msg", V: "catalog updated"}, log.KV{K: "servers", V: len(batches)})
}

// owner reports who already holds name. Callers hold schemaMu.
func (m *Manager) owner(name ModelToolName) (string, bool) {
	if info, ok := m.tnMap[name]; ok {
		return info.ServerName, true
	}
	if spec, ok := m.schema[name]; ok && spec.Origin.IsNative() {
		return BuiltinServer, true
	}
	return "", false
}
