package di

const (
	chunkBits = 6
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1
)

type chunk [chunkSize]*Registration

// Snapshot 是注册表在某一时刻的不可变视图，按槽位索引。
//
// 存储采用分块表：写入时只复制块表和被修改的那一块，
// 其余块与上一个快照共享。已发布的快照永远不会被修改，
// 持有快照的读者始终看到一致的、固定时间点的状态。
type Snapshot struct {
	version uint64
	chunks  []*chunk
	count   int
	index   *slotIndex
}

// Version 返回快照版本号。每次发布加一。
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len 返回快照中有效注册的数量。
func (s *Snapshot) Len() int {
	return s.count
}

// get 以 O(1) 读取槽位上的注册。
func (s *Snapshot) get(slot int) *Registration {
	ci := slot >> chunkBits
	if slot < 0 || ci >= len(s.chunks) {
		return nil
	}
	c := s.chunks[ci]
	if c == nil {
		return nil
	}
	return c[slot&chunkMask]
}

// Lookup 返回 key 在该快照中的注册。
func (s *Snapshot) Lookup(key Key) (*Registration, bool) {
	if s.index == nil {
		return nil, false
	}
	slot, ok := s.index.lookup(key)
	if !ok {
		return nil, false
	}
	reg := s.get(slot)
	return reg, reg != nil
}

// Registrations 按槽位顺序返回全部注册。
func (s *Snapshot) Registrations() []*Registration {
	out := make([]*Registration, 0, s.count)
	for _, c := range s.chunks {
		if c == nil {
			continue
		}
		for _, reg := range c {
			if reg != nil {
				out = append(out, reg)
			}
		}
	}
	return out
}

// Keys 按槽位顺序返回全部已注册的 Key。
func (s *Snapshot) Keys() []Key {
	regs := s.Registrations()
	keys := make([]Key, len(regs))
	for i, reg := range regs {
		keys[i] = reg.key
	}
	return keys
}

// snapshotBuilder 在一个基础快照上暂存修改，然后一次性生成新快照。
// 同一批次内被复制过的块只复制一次。
type snapshotBuilder struct {
	base   *Snapshot
	chunks []*chunk
	owned  map[int]bool
	count  int
}

func newSnapshotBuilder(base *Snapshot) *snapshotBuilder {
	chunks := make([]*chunk, len(base.chunks))
	copy(chunks, base.chunks)
	return &snapshotBuilder{
		base:   base,
		chunks: chunks,
		owned:  make(map[int]bool),
		count:  base.count,
	}
}

// set 把 reg 写入其槽位；reg 为 nil 时清空 slot。
func (b *snapshotBuilder) set(slot int, reg *Registration) {
	ci := slot >> chunkBits
	for len(b.chunks) <= ci {
		b.chunks = append(b.chunks, nil)
	}

	if !b.owned[ci] {
		c := new(chunk)
		if prev := b.chunks[ci]; prev != nil {
			*c = *prev
		}
		b.chunks[ci] = c
		b.owned[ci] = true
	}

	c := b.chunks[ci]
	prev := c[slot&chunkMask]
	switch {
	case prev == nil && reg != nil:
		b.count++
	case prev != nil && reg == nil:
		b.count--
	}
	c[slot&chunkMask] = reg
}

func (b *snapshotBuilder) build(version uint64) *Snapshot {
	return &Snapshot{
		version: version,
		chunks:  b.chunks,
		count:   b.count,
		index:   b.base.index,
	}
}
