package di

import (
	"fmt"
	"reflect"
)

// Key 标识一个已注册的依赖：类型加上可选的名称。
// Key 是可比较的值类型，可以直接作为 map 键使用。
//
// 两个 Key 相等当且仅当类型和名称都相同：
//
//	di.KeyOf[Logger]() == di.KeyOf[Logger]()            // true
//	di.NamedKey[Logger]("audit") == di.KeyOf[Logger]()  // false
type Key struct {
	typ  reflect.Type
	name string
}

// NewKey 由 reflect.Type 和名称构造 Key。
func NewKey(typ reflect.Type, name string) Key {
	return Key{typ: typ, name: name}
}

// KeyOf 返回类型 T 的默认（无名称）Key。
func KeyOf[T any]() Key {
	return Key{typ: TypeOf[T]()}
}

// NamedKey 返回类型 T 在指定名称下的 Key。
func NamedKey[T any](name string) Key {
	return Key{typ: TypeOf[T](), name: name}
}

// Type 返回 Key 的类型。
func (k Key) Type() reflect.Type {
	return k.typ
}

// Name 返回 Key 的名称，默认 Key 为空字符串。
func (k Key) Name() string {
	return k.name
}

// IsZero 报告 Key 是否为零值。
func (k Key) IsZero() bool {
	return k.typ == nil
}

func (k Key) String() string {
	if k.typ == nil {
		return "<nil>"
	}
	if k.name == "" {
		return k.typ.String()
	}
	return fmt.Sprintf("%s(name=%s)", k.typ, k.name)
}

// Token 表示一个带类型的命名依赖令牌，用于区分相同类型的不同依赖
//
// 使用场景：
//   - 需要注册多个相同类型但用途不同的实例（如多个数据库连接）
//   - 配置值（如字符串、整数等基本类型）
//
// 示例：
//
//	var DBConnectionString = di.NewToken[string]("db-connection")
//
//	di.RegisterValue(reg, "postgres://...", di.WithName(DBConnectionString.Name()))
//	conn, err := di.ResolveToken(ctx, reg, DBConnectionString)
type Token[T any] struct {
	key Key
}

// NewToken 创建一个新的 Token
//
// 参数 name 用于标识此 Token，应该是唯一的描述性名称。
func NewToken[T any](name string) *Token[T] {
	return &Token[T]{key: NamedKey[T](name)}
}

// Name 返回 Token 的名称
func (t *Token[T]) Name() string {
	return t.key.name
}

// Key 返回 Token 对应的 Key
func (t *Token[T]) Key() Key {
	return t.key
}

func (t *Token[T]) String() string {
	return fmt.Sprintf("Token[%s](%s)", t.key.typ, t.key.name)
}

// TypeOf 获取类型 T 的 reflect.Type（泛型辅助函数）
//
// 对接口类型同样有效：
//
//	loggerType := di.TypeOf[Logger]()
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
