package di

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// chain 是一条解析链上的一帧。链是不可变的链表：
// 进入嵌套解析时在父帧上压入新帧，返回时自然回到父帧，
// 因此无论成功、失败、panic 还是取消，都不会遗留帧。
type chain struct {
	parent    *chain
	slot      int
	key       Key
	startedAt time.Time
	depth     int

	// waiting 记录该帧所在的解析正在等待的构造，未阻塞时为 nil
	waiting atomic.Pointer[waitEdge]
}

// Frame 描述解析链上的一帧。
type Frame struct {
	Key       Key
	Slot      int
	StartedAt time.Time
}

// enter 在链上压入 slot。如果 slot 已在链上，返回循环依赖错误。
func (c *chain) enter(slot int, key Key) (*chain, error) {
	for n := c; n != nil; n = n.parent {
		if n.slot == slot {
			return nil, &CircularDependencyError{Cycle: c.cycleTo(slot, key)}
		}
	}
	depth := 0
	if c != nil {
		depth = c.depth + 1
	}
	return &chain{
		parent:    c,
		slot:      slot,
		key:       key,
		startedAt: time.Now(),
		depth:     depth,
	}, nil
}

// frames 从最外层到当前帧返回整条链。
func (c *chain) frames() []Frame {
	if c == nil {
		return nil
	}
	out := make([]Frame, c.depth+1)
	for n := c; n != nil; n = n.parent {
		out[n.depth] = Frame{Key: n.key, Slot: n.slot, StartedAt: n.startedAt}
	}
	return out
}

func (c *chain) keys() []Key {
	frames := c.frames()
	keys := make([]Key, len(frames))
	for i, f := range frames {
		keys[i] = f.Key
	}
	return keys
}

// cycleTo 截取从 slot 首次出现到当前帧的部分，并在末尾补上 key 闭合循环。
func (c *chain) cycleTo(slot int, key Key) []Key {
	frames := c.frames()
	start := 0
	for i, f := range frames {
		if f.Slot == slot {
			start = i
			break
		}
	}
	cycle := make([]Key, 0, len(frames)-start+1)
	for _, f := range frames[start:] {
		cycle = append(cycle, f.Key)
	}
	return append(cycle, key)
}

// keysFrom 返回从 frame（c 的祖先或自身）到当前帧的 key。
func (c *chain) keysFrom(frame *chain) []Key {
	return c.keys()[frame.depth:]
}

// holds 报告 frame 是否在 c 上。
func (c *chain) holds(frame *chain) bool {
	for n := c; n != nil; n = n.parent {
		if n == frame {
			return true
		}
	}
	return false
}

// maxWaitHops 限制等待图遍历的长度。
const maxWaitHops = 256

// waitNode 是一个可能被其他解析等待的构造：
// 单例（PolicyExactlyOnce）或作用域实例。
type waitNode struct {
	owner atomic.Pointer[chain] // 正在执行构造的帧，空闲时为 nil
}

// lead 把 frame 标记为 node 的构造者，返回的函数用于清除。
func (n *waitNode) lead(frame *chain) func() {
	n.owner.Store(frame)
	return func() { n.owner.CompareAndSwap(frame, nil) }
}

// waitEdge 表示 tip 所在的解析在等待 node。
type waitEdge struct {
	node *waitNode
	tip  *chain
}

// await 在 c 所在的解析即将阻塞等待 node 之前调用。
//
// 先在 c 的每一帧上登记等待边，再沿"构造者正在等待谁"遍历等待图。
// 如果回到 c 持有的帧，说明阻塞后会互相等待，返回循环依赖错误。
// 两个解析先登记后遍历，因此后遍历的一方一定能看到完整的环。
// 返回的 release 在不再等待时调用，可重复调用。
func (c *chain) await(node *waitNode) (release func(), err error) {
	if c == nil {
		return func() {}, nil
	}

	edge := &waitEdge{node: node, tip: c}
	for n := c; n != nil; n = n.parent {
		n.waiting.Store(edge)
	}
	release = func() {
		for n := c; n != nil; n = n.parent {
			n.waiting.CompareAndSwap(edge, nil)
		}
	}

	var path []Key
	cur := node
	for range maxWaitHops {
		owner := cur.owner.Load()
		if owner == nil {
			break
		}
		if c.holds(owner) {
			release()
			cycle := append(c.keysFrom(owner), path...)
			return nil, &CircularDependencyError{Cycle: append(cycle, owner.key)}
		}
		next := owner.waiting.Load()
		if next == nil {
			break
		}
		path = append(path, next.tip.keysFrom(owner)...)
		cur = next.node
	}
	return release, nil
}

type chainCtxKey struct{}

func chainFrom(ctx context.Context) *chain {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(chainCtxKey{}).(*chain)
	return c
}

func withChain(ctx context.Context, c *chain) context.Context {
	return context.WithValue(ctx, chainCtxKey{}, c)
}

// ResolutionPath 返回 ctx 上正在进行的解析链（从最外层开始）。
// 在工厂内部调用可用于诊断。
func ResolutionPath(ctx context.Context) []Key {
	return chainFrom(ctx).keys()
}

// ResolutionFrames 返回 ctx 上解析链的全部帧。
func ResolutionFrames(ctx context.Context) []Frame {
	return chainFrom(ctx).frames()
}

// cycleLog 保留最近检测到的循环，容量固定。
type cycleLog struct {
	mu     sync.Mutex
	cycles [][]Key
	next   int
	full   bool
}

func newCycleLog(capacity int) *cycleLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &cycleLog{cycles: make([][]Key, capacity)}
}

func (l *cycleLog) add(cycle []Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycles[l.next] = cycle
	l.next = (l.next + 1) % len(l.cycles)
	if l.next == 0 {
		l.full = true
	}
}

// list 按检测顺序（从旧到新）返回。
func (l *cycleLog) list() [][]Key {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out [][]Key
	if l.full {
		for _, c := range l.cycles[l.next:] {
			out = append(out, append([]Key(nil), c...))
		}
	}
	for _, c := range l.cycles[:l.next] {
		out = append(out, append([]Key(nil), c...))
	}
	return out
}

func (l *cycleLog) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.cycles {
		l.cycles[i] = nil
	}
	l.next = 0
	l.full = false
}
