package command

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/node"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

func init() {
	register(exportCommand{})
	register(importCommand{})
}

// --------------------------------------------------------------------------
// Export
// --------------------------------------------------------------------------

type exportCommand struct{}

func (exportCommand) Kind() common.Kind { return common.KindExport }

func (exportCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	responses, err := broadcastLocal(ctx, env, req, struct{}{})
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	var merged BackupPayload
	var sb strings.Builder
	for _, resp := range responses {
		var part BackupPayload
		if err := resp.Decode(&part); err != nil {
			return ToResponse(req.ReplyTo(), err)
		}
		sb.WriteString(part.Backup)
		merged.Documents += part.Documents
	}
	merged.Backup = sb.String()
	return common.NewResultResponse(req.ReplyTo(), merged)
}

func (exportCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	var buf bytes.Buffer
	if err := env.Store.Export(&buf); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	return common.NewResultResponse(req.ReplyTo(), BackupPayload{
		Backup:    buf.String(),
		Documents: bytes.Count(buf.Bytes(), []byte("\n")),
	})
}

// --------------------------------------------------------------------------
// Import
// --------------------------------------------------------------------------

type importCommand struct{}

func (importCommand) Kind() common.Kind { return common.KindImport }

func (importCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p BackupPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	// split the backup into one stream per owning node
	parts := make(map[node.Node]*bytes.Buffer)
	_, err := store.ForEachBackupLine(strings.NewReader(p.Backup), func(bucket, key string, value json.RawMessage) error {
		if err := store.ValidateAddress(bucket, key); err != nil {
			return err
		}
		if err := store.ValidateDocument(value); err != nil {
			return err
		}
		owner, err := env.Router.RouteToNodeFor(bucket, key)
		if err != nil {
			return err
		}
		buf, ok := parts[owner]
		if !ok {
			buf = &bytes.Buffer{}
			parts[owner] = buf
		}
		return json.NewEncoder(buf).Encode(store.BackupLine{Bucket: bucket, Key: key, Value: value})
	})
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	calls := make([]call, 0, len(parts))
	for owner, buf := range parts {
		sub, err := subRequest(env, req, BackupPayload{Backup: buf.String()})
		if err != nil {
			return ToResponse(req.ReplyTo(), err)
		}
		calls = append(calls, call{node: owner, req: sub})
	}
	responses, err := collect(scatter(ctx, env, calls))
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	imported := 0
	for _, resp := range responses {
		var n int
		if err := resp.Decode(&n); err != nil {
			return ToResponse(req.ReplyTo(), err)
		}
		imported += n
	}
	return common.NewResultResponse(req.ReplyTo(), imported)
}

func (importCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	var p BackupPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	n, err := env.Store.Import(strings.NewReader(p.Backup))
	return reply(req, n, err)
}
