package store

import (
    "github.com/amirimatin/go-cluster/pkg/agency/tree"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
    "github.com/amirimatin/go-cluster/pkg/state"
)

func getAt(root *tree.Node, path string) (*tree.Node, bool) {
    segs := tree.SplitPath(path)
    cur := root
    for _, s := range segs {
        if cur == nil || cur.Kind != tree.KindObject {
            return nil, false
        }
        next, ok := cur.Children[s]
        if !ok {
            return nil, false
        }
        cur = next
    }
    return cur, cur != nil
}

// ensureParent walks/creates object nodes for every segment, returning the
// final parent node (creating intermediate objects as needed).
func ensureParent(root *tree.Node, segs []string) *tree.Node {
    cur := root
    for _, s := range segs {
        if cur.Kind != tree.KindObject || cur.Children == nil {
            cur.Kind = tree.KindObject
            cur.Children = map[string]*tree.Node{}
        }
        next, ok := cur.Children[s]
        if !ok {
            next = tree.Object()
            cur.Children[s] = next
        }
        cur = next
    }
    return cur
}

func valueToNode(v interface{}) *tree.Node {
    switch val := v.(type) {
    case nil:
        return tree.Null()
    case string:
        return tree.String(val)
    case bool:
        return tree.Bool(val)
    case float64:
        return tree.Uint(uint64(val))
    case int:
        return tree.Uint(uint64(val))
    case uint64:
        return tree.Uint(val)
    case []interface{}:
        items := make([]*tree.Node, len(val))
        for i, it := range val {
            items[i] = valueToNode(it)
        }
        return tree.Array(items...)
    case []string:
        items := make([]*tree.Node, len(val))
        for i, it := range val {
            items[i] = tree.String(it)
        }
        return tree.Array(items...)
    case map[string]interface{}:
        obj := tree.Object()
        for k, it := range val {
            obj.Children[k] = valueToNode(it)
        }
        return obj
    case *tree.Node:
        return val.Clone()
    default:
        return tree.Null()
    }
}

func setPath(root *tree.Node, path string, value interface{}) {
    segs := tree.SplitPath(path)
    if len(segs) == 0 {
        return
    }
    parent := ensureParent(root, segs[:len(segs)-1])
    parent.Children[segs[len(segs)-1]] = valueToNode(value)
}

func deletePath(root *tree.Node, path string) {
    segs := tree.SplitPath(path)
    if len(segs) == 0 {
        return
    }
    parent, ok := getAt(root, tree.JoinPath(segs[:len(segs)-1]...))
    if !ok || parent.Kind != tree.KindObject {
        return
    }
    delete(parent.Children, segs[len(segs)-1])
}

func incrementPath(root *tree.Node, path string, step uint64) uint64 {
    segs := tree.SplitPath(path)
    if len(segs) == 0 {
        return 0
    }
    parent := ensureParent(root, segs[:len(segs)-1])
    key := segs[len(segs)-1]
    cur := uint64(0)
    if n, ok := parent.Children[key]; ok && n.Kind == tree.KindUint {
        cur = n.Num
    }
    cur += step
    parent.Children[key] = tree.Uint(cur)
    return cur
}

func mergePath(root *tree.Node, path string, obj map[string]interface{}) {
    segs := tree.SplitPath(path)
    if len(segs) == 0 {
        return
    }
    parent := ensureParent(root, segs[:len(segs)-1])
    key := segs[len(segs)-1]
    target, ok := parent.Children[key]
    if !ok || target.Kind != tree.KindObject {
        target = tree.Object()
        parent.Children[key] = target
    }
    for k, v := range obj {
        target.Children[k] = valueToNode(v)
    }
}

func nodeEqualsValue(n *tree.Node, v interface{}) bool {
    switch val := v.(type) {
    case string:
        return n.Kind == tree.KindString && n.Str == val
    case bool:
        return n.Kind == tree.KindBool && n.Bool == val
    case float64:
        return n.Kind == tree.KindUint && n.Num == uint64(val)
    case uint64:
        return n.Kind == tree.KindUint && n.Num == val
    case int:
        return n.Kind == tree.KindUint && n.Num == uint64(val)
    default:
        return false
    }
}

func checkPrecondition(root *tree.Node, p txn.Precondition) bool {
    n, ok := getAt(root, p.Path)
    switch p.Kind {
    case txn.PrecOldEmpty:
        return !ok
    case txn.PrecIsArray:
        return ok && n.Kind == tree.KindArray
    case txn.PrecEq:
        if !ok {
            return false
        }
        return nodeEqualsValue(n, p.Value)
    default:
        return false
    }
}

// applyTuple applies one tuple against root, mutating it in place. The
// caller must hold the exclusive lock protecting root.
func applyTuple(root *tree.Node, t txn.Tuple) state.TupleResult {
    if t.IsRead() {
        vals := map[string][]byte{}
        for _, p := range t.Reads {
            if n, ok := getAt(root, p); ok {
                if b, err := n.MarshalJSON(); err == nil {
                    vals[p] = b
                }
            }
        }
        return state.TupleResult{Accepted: true, Values: vals}
    }
    for _, pc := range t.Preconditions {
        if !checkPrecondition(root, pc) {
            return state.TupleResult{Accepted: false}
        }
    }
    for _, op := range t.Ops {
        switch op.Kind {
        case txn.OpSet:
            setPath(root, op.Path, op.Value)
        case txn.OpDelete:
            deletePath(root, op.Path)
        case txn.OpIncrement:
            incrementPath(root, op.Path, op.Step)
        case txn.OpMerge:
            if m, ok := op.Value.(map[string]interface{}); ok {
                mergePath(root, op.Path, m)
            }
        }
    }
    return state.TupleResult{Accepted: true}
}
