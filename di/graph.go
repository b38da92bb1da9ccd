package di

import (
	"go.uber.org/multierr"
)

// DependencyGraph 返回当前快照中每个注册声明的静态依赖。
//
// 静态依赖来自 Provide 分析出的构造函数参数和结构体字段，以及 WithDependsOn。
// 普通工厂在运行时解析的依赖不在图中。
func (r *Registry) DependencyGraph() map[Key][]Key {
	regs := r.Snapshot().Registrations()
	graph := make(map[Key][]Key, len(regs))
	for _, reg := range regs {
		graph[reg.key] = reg.Dependencies()
	}
	return graph
}

// Validate 对当前快照的静态依赖图做检查：
// 缺失的依赖报告为 *UnregisteredError（全部汇总），
// 发现的第一个循环报告为 *CircularDependencyError。
func (r *Registry) Validate() error {
	snap := r.Snapshot()
	regs := snap.Registrations()

	const (
		white = iota
		grey
		black
	)
	color := make(map[Key]int, len(regs))
	var stack []Key
	var errs error
	var cycle []Key

	var visit func(reg *Registration)
	visit = func(reg *Registration) {
		color[reg.key] = grey
		stack = append(stack, reg.key)

		for _, dep := range reg.deps {
			next, ok := snap.Lookup(dep)
			if !ok {
				errs = multierr.Append(errs, &UnregisteredError{Key: dep, Path: append([]Key(nil), stack...)})
				continue
			}
			switch color[dep] {
			case white:
				visit(next)
			case grey:
				if cycle == nil {
					cycle = cyclePath(stack, dep)
				}
			}
			if cycle != nil {
				break
			}
		}

		stack = stack[:len(stack)-1]
		color[reg.key] = black
	}

	for _, reg := range regs {
		if cycle != nil {
			break
		}
		if color[reg.key] == white {
			visit(reg)
		}
	}

	if cycle != nil {
		r.cycles.add(cycle)
		errs = multierr.Append(errs, &CircularDependencyError{Cycle: cycle})
	}
	return errs
}

// cyclePath 截取 stack 中从 key 首次出现到末尾的部分并闭合。
func cyclePath(stack []Key, key Key) []Key {
	start := 0
	for i, k := range stack {
		if k == key {
			start = i
			break
		}
	}
	out := append([]Key(nil), stack[start:]...)
	return append(out, key)
}
