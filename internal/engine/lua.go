package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"
	"github.com/tidwall/gjson"

	"github.com/perdura/perdura/pkg/api"
)

type (
	// ScriptWorkflow defines a workflow as an ordered pipeline of Lua
	// steps. Each step runs as a durable step, so scripted workflows get
	// the same replay and retry behavior as native ones
	ScriptWorkflow struct {
		Name  api.Name
		Steps []*ScriptStep

		// MaxRecoveryAttempts and Timeout carry through to the underlying
		// workflow registration
		MaxRecoveryAttempts int
		Retry               api.RetryPolicy
	}

	// ScriptStep is one durable Lua step in a scripted workflow
	ScriptStep struct {
		Name api.Name

		// Script computes the step outputs. It may return a table, which
		// merges into the argument flow, or a single value bound to
		// "result"
		Script string

		// When optionally gates the step. A falsy result skips the step
		// without recording an ordinal for it
		When string

		// Args names the arguments handed to the scripts, in order
		Args []string

		// Defaults is a JSON object literal supplying argument values for
		// keys the current flow does not carry
		Defaults string

		// Retry overrides the workflow retry policy for this step
		Retry *api.RetryPolicy
	}

	// ScriptRegistry compiles and holds scripted workflow definitions
	ScriptRegistry struct {
		env     *LuaEnv
		mu      sync.RWMutex
		scripts map[api.Name]*ScriptWorkflow
	}

	// LuaEnv executes sandboxed Lua with a pooled set of interpreter
	// states and a compiled bytecode cache
	LuaEnv struct {
		statePool chan *lua.State
		compiled  sync.Map
	}

	compiledLua struct {
		bytecode []byte
		argNames []string
	}
)

const (
	luaStatePoolSize    = 10
	luaGlobalTableIndex = -2
	luaTableIndex       = -3
	luaArgLocal         = "local %s = select(%d, ...)"
	luaGlobalTableName  = "_G"
)

var (
	ErrScriptNil       = errors.New("script definition requires steps")
	ErrScriptExists    = errors.New("script already registered")
	ErrScriptStepEmpty = errors.New("script step requires a script body")
	ErrBadDefaults     = errors.New("step defaults must be a JSON object")
	ErrLuaLoad         = errors.New("lua load error")
	ErrLuaExecution    = errors.New("lua execution error")
)

// Lua globals removed from the sandbox before any script runs
var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// NewScriptRegistry creates an empty scripted workflow registry
func NewScriptRegistry() *ScriptRegistry {
	return &ScriptRegistry{
		env:     NewLuaEnv(),
		scripts: map[api.Name]*ScriptWorkflow{},
	}
}

// RegisterScript compiles a scripted workflow definition and registers it
// as an executable workflow. Compilation errors surface at registration,
// not first execution
func (e *Engine) RegisterScript(def *ScriptWorkflow) error {
	if def == nil || len(def.Steps) == 0 {
		return ErrScriptNil
	}
	if def.Name == "" {
		return ErrWorkflowNameEmpty
	}
	fn, err := e.scripts.compile(def)
	if err != nil {
		return err
	}
	if err := e.scripts.add(def); err != nil {
		return err
	}
	return e.RegisterWorkflow(&Registration{
		Fn:                  fn,
		Name:                def.Name,
		MaxRecoveryAttempts: def.MaxRecoveryAttempts,
		Retry:               def.Retry,
	})
}

// Scripts returns the names of all registered scripted workflows
func (e *Engine) Scripts() []api.Name {
	e.scripts.mu.RLock()
	defer e.scripts.mu.RUnlock()
	names := make([]api.Name, 0, len(e.scripts.scripts))
	for name := range e.scripts.scripts {
		names = append(names, name)
	}
	return names
}

func (r *ScriptRegistry) add(def *ScriptWorkflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scripts[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrScriptExists, def.Name)
	}
	r.scripts[def.Name] = def
	return nil
}

// compile validates every step of the definition and builds the workflow
// function that drives the pipeline through durable steps
func (r *ScriptRegistry) compile(def *ScriptWorkflow) (WorkflowFunc, error) {
	steps := make([]*scriptExec, len(def.Steps))
	for i, step := range def.Steps {
		exec, err := r.compileStep(def.Name, step)
		if err != nil {
			return nil, err
		}
		steps[i] = exec
	}

	return func(c *Context, args api.Args) (api.Args, error) {
		flow := args
		for _, step := range steps {
			in := step.bind(flow)
			run, err := step.shouldRun(r.env, in)
			if err != nil {
				return nil, err
			}
			if !run {
				continue
			}
			out, err := c.StepWithPolicy(
				step.name, step.fn(r.env), in, step.policy(def),
			)
			if err != nil {
				return nil, err
			}
			flow = mergeArgs(flow, out)
		}
		return flow, nil
	}, nil
}

type scriptExec struct {
	name     api.Name
	body     *compiledLua
	when     *compiledLua
	defaults api.Args
	retry    *api.RetryPolicy
}

func (r *ScriptRegistry) compileStep(
	workflow api.Name, step *ScriptStep,
) (*scriptExec, error) {
	if step.Script == "" {
		return nil, fmt.Errorf(
			"%w: %s/%s", ErrScriptStepEmpty, workflow, step.Name,
		)
	}
	body, err := r.env.Compile(step.Script, step.Args)
	if err != nil {
		return nil, fmt.Errorf("step %s/%s: %w", workflow, step.Name, err)
	}
	var when *compiledLua
	if step.When != "" {
		if when, err = r.env.Compile(step.When, step.Args); err != nil {
			return nil, fmt.Errorf(
				"step %s/%s predicate: %w", workflow, step.Name, err,
			)
		}
	}
	defaults, err := parseDefaults(step.Defaults)
	if err != nil {
		return nil, fmt.Errorf("step %s/%s: %w", workflow, step.Name, err)
	}
	return &scriptExec{
		name:     step.Name,
		body:     body,
		when:     when,
		defaults: defaults,
		retry:    step.Retry,
	}, nil
}

func (s *scriptExec) bind(flow api.Args) api.Args {
	if len(s.defaults) == 0 {
		return flow
	}
	res := flow
	for name, value := range s.defaults {
		if _, ok := res[name]; !ok {
			res = res.Set(name, value)
		}
	}
	return res
}

func (s *scriptExec) shouldRun(env *LuaEnv, in api.Args) (bool, error) {
	if s.when == nil {
		return true, nil
	}
	return env.EvaluatePredicate(s.when, in)
}

func (s *scriptExec) fn(env *LuaEnv) api.StepFunc {
	return func(_ context.Context, in api.Args) (api.Args, error) {
		return env.Execute(s.body, in)
	}
}

func (s *scriptExec) policy(def *ScriptWorkflow) api.RetryPolicy {
	if s.retry != nil {
		return s.retry.WithDefaults()
	}
	return def.Retry.WithDefaults()
}

// parseDefaults decodes a JSON object literal into Args
func parseDefaults(defaults string) (api.Args, error) {
	if defaults == "" {
		return nil, nil
	}
	parsed := gjson.Parse(defaults)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("%w: %q", ErrBadDefaults, defaults)
	}
	res := api.Args{}
	parsed.ForEach(func(key, value gjson.Result) bool {
		res[api.Name(key.String())] = value.Value()
		return true
	})
	return res, nil
}

func mergeArgs(flow, out api.Args) api.Args {
	if len(out) == 0 {
		return flow
	}
	res := flow
	for name, value := range out {
		res = res.Set(name, value)
	}
	return res
}

// NewLuaEnv creates a Lua execution environment with a state pool for
// interpreter reuse
func NewLuaEnv() *LuaEnv {
	return &LuaEnv{
		statePool: make(chan *lua.State, luaStatePoolSize),
	}
}

// Compile compiles a script with the given argument names, caching by
// source so repeated registrations share bytecode
func (e *LuaEnv) Compile(
	script string, argNames []string,
) (*compiledLua, error) {
	key := strings.Join(argNames, ",") + "\x00" + script
	if val, ok := e.compiled.Load(key); ok {
		return val.(*compiledLua), nil
	}
	c, err := e.compile(script, argNames)
	if err != nil {
		return nil, err
	}
	e.compiled.Store(key, c)
	return c, nil
}

// Execute runs a compiled script with the provided inputs. A table result
// becomes the output Args; any other value is bound to "result"
func (e *LuaEnv) Execute(c *compiledLua, inputs api.Args) (api.Args, error) {
	L := e.getState()
	defer e.returnState(L)

	if err := e.call(L, c, inputs); err != nil {
		return nil, err
	}
	var result api.Args
	if L.IsTable(-1) {
		result = luaTableToArgs(L, -1)
	} else {
		result = api.Args{"result": luaToGo(L, -1)}
	}
	L.Pop(1)
	return result, nil
}

// EvaluatePredicate runs a compiled script and interprets its result as a
// boolean
func (e *LuaEnv) EvaluatePredicate(
	c *compiledLua, inputs api.Args,
) (bool, error) {
	L := e.getState()
	defer e.returnState(L)

	if err := e.call(L, c, inputs); err != nil {
		return false, err
	}
	result := L.ToBoolean(-1)
	L.Pop(1)
	return result, nil
}

func (e *LuaEnv) call(L *lua.State, c *compiledLua, inputs api.Args) error {
	e.setupSandbox(L)
	if err := L.Load(bytes.NewReader(c.bytecode), "chunk", "b"); err != nil {
		return fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	for _, name := range c.argNames {
		pushLuaArg(L, inputs, name)
	}
	if err := L.ProtectedCall(len(c.argNames), 1, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}
	return nil
}

func (e *LuaEnv) compile(
	script string, argNames []string,
) (*compiledLua, error) {
	argLocals := make([]string, len(argNames))
	for i, name := range argNames {
		argLocals[i] = fmt.Sprintf(luaArgLocal, name, i+1)
	}
	src := strings.Join([]string{
		strings.Join(argLocals, "\n"), script,
	}, "\n")

	L := lua.NewState()
	e.setupSandbox(L)
	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, err
	}
	return &compiledLua{
		bytecode: buf.Bytes(),
		argNames: argNames,
	}, nil
}

func (e *LuaEnv) setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

func (e *LuaEnv) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

func (e *LuaEnv) returnState(L *lua.State) {
	L.SetTop(0)
	select {
	case e.statePool <- L:
	default:
	}
}

func pushLuaArg(L *lua.State, inputs api.Args, argName string) {
	if value, ok := inputs[api.Name(argName)]; ok {
		goToLua(L, value)
		return
	}
	L.PushNil()
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
	case map[string]any:
		pushLuaMap(L, v)
	case api.Args:
		pushLuaArgs(L, v)
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
		L.SetTable(luaTableIndex)
	}
}

func pushLuaMap(L *lua.State, m map[string]any) {
	L.CreateTable(0, len(m))
	for k, val := range m {
		L.PushString(k)
		goToLua(L, val)
		L.SetTable(luaTableIndex)
	}
}

func pushLuaArgs(L *lua.State, a api.Args) {
	L.CreateTable(0, len(a))
	for k, val := range a {
		L.PushString(string(k))
		goToLua(L, val)
		L.SetTable(luaTableIndex)
	}
}

func luaToGo(L *lua.State, index int) any {
	switch {
	case L.IsNil(index):
		return nil
	case L.IsBoolean(index):
		return L.ToBoolean(index)
	case L.IsNumber(index):
		return luaNumberToGo(L, index)
	case L.IsString(index):
		s, _ := L.ToString(index)
		return s
	case L.IsTable(index):
		return luaTableToAny(L, index)
	default:
		return nil
	}
}

func luaNumberToGo(L *lua.State, index int) any {
	num, _ := L.ToNumber(index)
	if num == float64(int(num)) {
		return int(num)
	}
	return num
}

func luaTableToArgs(L *lua.State, index int) api.Args {
	result := api.Args{}
	L.PushNil()
	for L.Next(index - 1) {
		if L.IsString(-2) {
			key, _ := L.ToString(-2)
			result[api.Name(key)] = luaToGo(L, -1)
		}
		L.Pop(1)
	}
	return result
}

func luaTableToAny(L *lua.State, index int) any {
	isArray := true
	length := 0

	L.PushNil()
	for L.Next(index - 1) {
		if !L.IsNumber(-2) {
			isArray = false
			L.Pop(2)
			break
		}
		length++
		L.Pop(1)
	}

	if isArray && length > 0 {
		return convertLuaArray(L, index, length)
	}

	result := map[string]any{}
	L.PushNil()
	for L.Next(index - 1) {
		var key string
		if L.IsString(-2) {
			key, _ = L.ToString(-2)
		} else {
			key = fmt.Sprintf("%v", luaToGo(L, -2))
		}
		result[key] = luaToGo(L, -1)
		L.Pop(1)
	}
	return result
}

func convertLuaArray(L *lua.State, index, length int) []any {
	arr := make([]any, length)
	absIndex := index
	if index < 0 {
		absIndex = L.Top() + index + 1
	}
	for i := 1; i <= length; i++ {
		L.RawGetInt(absIndex, i)
		arr[i-1] = luaToGo(L, -1)
		L.Pop(1)
	}
	return arr
}
