package store

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/txn"
)

// AppHandlers adapts a Store to the pkg/cluster.AppHandlers SPI so that
// management RPC clients can submit agency writes, read snapshots, and push
// heartbeats through the same Write/Read/Sync plane the teacher already
// exposes, instead of a bespoke agency-specific RPC surface.
//
//   - HandleWrite("submit", envelopeJSON) submits a txn.Envelope through
//     consensus and returns the marshaled state.EnvelopeResult.
//   - HandleRead("snapshot", pathJSON) returns the JSON-encoded subtree
//     rooted at the given path (a bare string payload).
//   - HandleSync(topic, data) records a heartbeat: topic is the server id,
//     data is ignored beyond its presence, and /Sync/ServerStates/<id> is
//     set in the transient tree to the current time with status SERVING.
type AppHandlers struct {
    Store *Store
}

// NewAppHandlers wraps st for use as a cluster.AppHandlers implementation.
func NewAppHandlers(st *Store) *AppHandlers {
    return &AppHandlers{Store: st}
}

func (h *AppHandlers) HandleWrite(ctx context.Context, op string, req []byte) ([]byte, error) {
    switch op {
    case "submit":
        var env txn.Envelope
        if err := json.Unmarshal(req, &env); err != nil {
            return nil, fmt.Errorf("agency apphandlers: bad envelope: %w", err)
        }
        wr, err := h.Store.SubmitWrite(ctx, env, 5*time.Second)
        if err != nil {
            return nil, err
        }
        return json.Marshal(wr.Result)
    default:
        return nil, fmt.Errorf("agency apphandlers: unknown write op %q", op)
    }
}

func (h *AppHandlers) HandleRead(ctx context.Context, op string, req []byte) ([]byte, error) {
    switch op {
    case "snapshot":
        var path string
        if err := json.Unmarshal(req, &path); err != nil {
            path = string(req)
        }
        if path == "" {
            path = "/"
        }
        return h.Store.ReadSnapshot(path).Root().MarshalJSON()
    default:
        return nil, fmt.Errorf("agency apphandlers: unknown read op %q", op)
    }
}

func (h *AppHandlers) HandleSync(ctx context.Context, topic string, data []byte) error {
    env, err := txn.New().Tuple().Set("/Sync/ServerStates/"+topic, map[string]interface{}{
        "time":   time.Now().UTC().Format(time.RFC3339Nano),
        "status": "SERVING",
    }).Build()
    if err != nil {
        return err
    }
    _, err = h.Store.SubmitTransient(env)
    return err
}
