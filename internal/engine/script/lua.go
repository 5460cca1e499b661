package script

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/go-lua"

	"github.com/weftworks/weft/internal/util"
	"github.com/weftworks/weft/pkg/api"
)

type (
	// Env is a sandboxed Lua execution environment with a bytecode compile
	// cache and a pooled set of interpreter states. Node-authored code runs
	// as the body of a chunk whose fixed bindings are passed positionally
	Env struct {
		cache     *util.LRUCache[*Compiled]
		statePool chan *lua.State
		timeout   time.Duration
	}

	// Compiled is a compiled script chunk and its binding names
	Compiled struct {
		bytecode []byte
		argNames []string
	}

	// Func is a Go function exposed to scripts. Arguments arrive converted
	// to Go values; the returned value is converted back to Lua
	Func func(args []any) (any, error)
)

const (
	statePoolSize    = 10
	globalTableIndex = -2
	arrayTableIndex  = -3
	mapTableIndex    = -3
	argLocalTemplate = "local %s = select(%d, ...)"
	globalTableName  = "_G"
	lineSeparator    = "\n"
)

var (
	ErrLoad    = errors.New("lua load error")
	ErrExecute = errors.New("lua execution error")
	ErrTimeout = errors.New("script execution timed out")
)

// The sandbox strips every global that reaches the host environment.
// Scripts see only the injected bindings and the pure stdlib
var exclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// NewEnv creates a Lua environment with the given compile-cache size and
// per-script wall-clock bound. A zero timeout disables the bound
func NewEnv(cacheSize int, timeout time.Duration) *Env {
	return &Env{
		cache:     util.NewLRUCache[*Compiled](cacheSize),
		statePool: make(chan *lua.State, statePoolSize),
		timeout:   timeout,
	}
}

// Compile compiles a script body with the given binding names, consulting
// the bytecode cache first
func (e *Env) Compile(source string, argNames []string) (*Compiled, error) {
	return e.cache.Get(cacheKey(source, argNames), func() (*Compiled, error) {
		return e.compile(e.wrapSource(source, argNames), argNames)
	})
}

// CompileExpression compiles a single Lua expression so that evaluating the
// chunk yields the expression's value
func (e *Env) CompileExpression(
	expr string, argNames []string,
) (*Compiled, error) {
	return e.Compile("return ("+expr+")", argNames)
}

// Execute runs a compiled chunk with positional binding values matching the
// chunk's binding names, returning the chunk's result as a Go value. A
// script that exceeds the environment's wall-clock bound is abandoned; its
// interpreter state is discarded rather than returned to the pool
func (e *Env) Execute(
	ctx context.Context, c *Compiled, args []any,
) (any, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type outcome struct {
		value any
		err   error
	}

	ch := make(chan outcome, 1)
	go func() {
		value, err := e.run(c, args)
		ch <- outcome{value: value, err: err}
	}()

	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

func (e *Env) run(c *Compiled, args []any) (any, error) {
	L := e.getState()

	e.setupSandbox(L)
	if err := L.Load(bytes.NewReader(c.bytecode), "chunk", "b"); err != nil {
		e.returnState(L)
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	for i := range c.argNames {
		if i < len(args) {
			goToLua(L, args[i])
			continue
		}
		L.PushNil()
	}

	if err := L.ProtectedCall(len(c.argNames), 1, 0); err != nil {
		e.returnState(L)
		return nil, fmt.Errorf("%w: %w", ErrExecute, err)
	}

	result := luaToGo(L, -1)
	L.Pop(1)
	e.returnState(L)
	return result, nil
}

func (e *Env) wrapSource(source string, argNames []string) string {
	argLocals := make([]string, len(argNames))
	for i, name := range argNames {
		argLocals[i] = fmt.Sprintf(argLocalTemplate, name, i+1)
	}
	return strings.Join([]string{
		strings.Join(argLocals, lineSeparator), source,
	}, lineSeparator)
}

func (e *Env) compile(src string, argNames []string) (*Compiled, error) {
	L := lua.NewState()

	e.setupSandbox(L)

	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	return &Compiled{
		bytecode: buf.Bytes(),
		argNames: argNames,
	}, nil
}

func (e *Env) setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(globalTableName)
	for _, name := range exclude {
		L.PushNil()
		L.SetField(globalTableIndex, name)
	}
	L.Pop(1)
}

func (e *Env) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

func (e *Env) returnState(L *lua.State) {
	L.SetTop(0)

	select {
	case e.statePool <- L:
	default:
	}
}

func cacheKey(source string, argNames []string) string {
	hash := sha256.Sum256(
		[]byte(source + "\x00" + strings.Join(argNames, ",")),
	)
	return hex.EncodeToString(hash[:])
}

func goToLua(L *lua.State, value any) {
	switch v := value.(type) {
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case float64:
		L.PushNumber(v)
	case []any:
		pushLuaArray(L, v)
	case api.Object:
		pushLuaMap(L, v)
	case map[string]any:
		pushLuaMap(L, v)
	case Func:
		pushLuaFunc(L, v)
	case nil:
		L.PushNil()
	default:
		L.PushString(fmt.Sprintf("%v", v))
	}
}

func pushLuaArray(L *lua.State, arr []any) {
	L.CreateTable(len(arr), 0)
	for i, item := range arr {
		L.PushInteger(i + 1)
		goToLua(L, item)
		L.SetTable(arrayTableIndex)
	}
}

func pushLuaMap[M ~map[string]any](L *lua.State, m M) {
	L.CreateTable(0, len(m))
	for k, val := range m {
		L.PushString(k)
		goToLua(L, val)
		L.SetTable(mapTableIndex)
	}
}

func pushLuaFunc(L *lua.State, fn Func) {
	L.PushGoFunction(func(L *lua.State) int {
		n := L.Top()
		args := make([]any, n)
		for i := 1; i <= n; i++ {
			args[i-1] = luaToGo(L, i)
		}
		result, err := fn(args)
		if err != nil {
			lua.Errorf(L, "%s", err.Error())
		}
		goToLua(L, result)
		return 1
	})
}

func luaNumberToGo(L *lua.State, index int) any {
	num, _ := L.ToNumber(index)
	if num == float64(int(num)) {
		return int(num)
	}
	return num
}

func luaToGo(L *lua.State, index int) any {
	switch L.TypeOf(index) {
	case lua.TypeNil:
		return nil
	case lua.TypeBoolean:
		return L.ToBoolean(index)
	case lua.TypeNumber:
		return luaNumberToGo(L, index)
	case lua.TypeString:
		s, _ := L.ToString(index)
		return s
	case lua.TypeTable:
		return luaTableToAny(L, index)
	default:
		return nil
	}
}

// luaTableToAny converts the table at index into a []any when every key is
// numeric, and a map[string]any otherwise. The index is normalized up front
// so iteration stays valid as keys and values come and go from the stack
func luaTableToAny(L *lua.State, index int) any {
	absIndex := L.AbsIndex(index)

	isArray := true
	length := 0

	L.PushNil()
	for L.Next(absIndex) {
		if !L.IsNumber(-2) {
			isArray = false
			L.Pop(2)
			break
		}
		length++
		L.Pop(1)
	}

	if isArray && length > 0 {
		return convertLuaArray(L, absIndex, length)
	}

	result := map[string]any{}
	L.PushNil()
	for L.Next(absIndex) {
		var key string
		if L.TypeOf(-2) != lua.TypeString {
			key = fmt.Sprintf("%v", luaToGo(L, -2))
			result[key] = luaToGo(L, -1)
			L.Pop(1)
			continue
		}
		key, _ = L.ToString(-2)
		result[key] = luaToGo(L, -1)
		L.Pop(1)
	}

	return result
}

func convertLuaArray(L *lua.State, index, length int) []any {
	arr := make([]any, length)
	absIndex := L.AbsIndex(index)
	for i := 1; i <= length; i++ {
		L.RawGetInt(absIndex, i)
		arr[i-1] = luaToGo(L, -1)
		L.Pop(1)
	}
	return arr
}
