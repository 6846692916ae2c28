package txn

import "testing"

func TestBuilder_SingleTupleWithPrecondition(t *testing.T) {
    env, err := New().
        Tuple().
        Set("/Agency/Definition", 1).
        Set("/Target/ToDo", map[string]interface{}{}).
        OldEmpty("/Agency/Definition").
        Build()
    if err != nil {
        t.Fatalf("build: %v", err)
    }
    if len(env) != 1 {
        t.Fatalf("expected 1 tuple, got %d", len(env))
    }
    if len(env[0].Ops) != 2 {
        t.Fatalf("expected 2 ops, got %d", len(env[0].Ops))
    }
    if len(env[0].Preconditions) != 1 || env[0].Preconditions[0].Kind != PrecOldEmpty {
        t.Fatalf("expected oldEmpty precondition, got %+v", env[0].Preconditions)
    }
}

func TestBuilder_ReadAfterWrite(t *testing.T) {
    env, err := New().
        Tuple().Increment("/Sync/LatestID", 10000).
        Read("/Sync/LatestID").
        Build()
    if err != nil {
        t.Fatalf("build: %v", err)
    }
    if len(env) != 2 {
        t.Fatalf("expected 2 tuples, got %d", len(env))
    }
    if !env[1].IsRead() {
        t.Fatalf("expected second tuple to be a read, got %+v", env[1])
    }
    if env[0].Ops[0].Kind != OpIncrement || env[0].Ops[0].Step != 10000 {
        t.Fatalf("unexpected increment op: %+v", env[0].Ops[0])
    }
}

func TestBuilder_EmptyPathIsBadEnvelope(t *testing.T) {
    _, err := New().Tuple().Set("", 1).Build()
    if err != ErrBadEnvelope {
        t.Fatalf("expected ErrBadEnvelope, got %v", err)
    }
}

func TestBuilder_TupleWithoutOpsOrReadsIsBadEnvelope(t *testing.T) {
    b := New()
    b.Tuple()
    b.cur.Preconditions = append(b.cur.Preconditions, Precondition{Path: "/x", Kind: PrecEq, Value: 1})
    if _, err := b.Build(); err != ErrBadEnvelope {
        t.Fatalf("expected ErrBadEnvelope, got %v", err)
    }
}

func TestEnvelopeMarshalRoundTrip(t *testing.T) {
    env, err := New().Tuple().Set("/a/b", "c").Eq("/a/b", "old").Build()
    if err != nil {
        t.Fatalf("build: %v", err)
    }
    data, err := env.Marshal()
    if err != nil {
        t.Fatalf("marshal: %v", err)
    }
    back, err := Unmarshal(data)
    if err != nil {
        t.Fatalf("unmarshal: %v", err)
    }
    if len(back) != 1 || back[0].Ops[0].Path != "/a/b" {
        t.Fatalf("round trip mismatch: %+v", back)
    }
}
