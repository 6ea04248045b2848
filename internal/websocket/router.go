// internal/websocket/router.go
package websocket

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// 生命周期方法不对前端开放
var lifecycleMethods = map[string]bool{
	"Startup":  true,
	"Shutdown": true,
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Router 将 RPC 方法映射到 App 方法
type Router struct {
	app     interface{}
	methods map[string]reflect.Method
}

// NewRouter 创建新的路由器，exclude 中的方法不注册
func NewRouter(app interface{}, exclude ...string) *Router {
	r := &Router{
		app:     app,
		methods: make(map[string]reflect.Method),
	}

	skip := make(map[string]bool, len(lifecycleMethods)+len(exclude))
	for name := range lifecycleMethods {
		skip[name] = true
	}
	for _, name := range exclude {
		skip[name] = true
	}

	// 通过反射获取所有公开方法
	appType := reflect.TypeOf(app)
	for i := 0; i < appType.NumMethod(); i++ {
		method := appType.Method(i)
		if method.IsExported() && !skip[method.Name] {
			r.methods[method.Name] = method
		}
	}

	return r
}

// Methods 返回已注册的方法名（排序）
func (r *Router) Methods() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call 调用指定的 RPC 方法
func (r *Router) Call(methodName string, params []interface{}) (interface{}, error) {
	method, ok := r.methods[methodName]
	if !ok {
		return nil, fmt.Errorf("method not found: %s", methodName)
	}

	methodType := method.Type
	numIn := methodType.NumIn() - 1 // 减去 receiver

	if len(params) != numIn {
		return nil, fmt.Errorf("method %s expects %d params, got %d", methodName, numIn, len(params))
	}

	args := make([]reflect.Value, numIn+1)
	args[0] = reflect.ValueOf(r.app)

	for i, param := range params {
		paramValue, err := convertParam(param, methodType.In(i+1))
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		args[i+1] = paramValue
	}

	return processResults(method.Func.Call(args))
}

// convertParam 将 JSON 解析的值转换为目标类型
func convertParam(param interface{}, targetType reflect.Type) (reflect.Value, error) {
	if param == nil {
		return reflect.Zero(targetType), nil
	}

	// 指针参数：转换元素类型后取地址
	if targetType.Kind() == reflect.Ptr {
		elem, err := convertParam(param, targetType.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(targetType.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	}

	paramValue := reflect.ValueOf(param)

	if paramValue.Type().AssignableTo(targetType) {
		return paramValue, nil
	}

	// JSON 数字默认是 float64，整数参数必须没有小数部分
	if f, ok := param.(float64); ok {
		switch targetType.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if f != math.Trunc(f) {
				return reflect.Value{}, fmt.Errorf("cannot convert %v to %s", f, targetType)
			}
			return reflect.ValueOf(f).Convert(targetType), nil
		}
	}

	// 对象和数组通过 JSON 重新解码
	switch paramValue.Kind() {
	case reflect.Map, reflect.Slice:
		data, err := json.Marshal(param)
		if err != nil {
			return reflect.Value{}, err
		}
		target := reflect.New(targetType)
		if err := json.Unmarshal(data, target.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("cannot convert %T to %s: %w", param, targetType, err)
		}
		return target.Elem(), nil
	}

	if paramValue.Kind() != reflect.String && paramValue.Type().ConvertibleTo(targetType) && targetType.Kind() != reflect.String {
		return paramValue.Convert(targetType), nil
	}

	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", param, targetType)
}

// processResults 处理方法返回值
func processResults(results []reflect.Value) (interface{}, error) {
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		if results[0].Type().Implements(errorType) {
			if !results[0].IsNil() {
				return nil, results[0].Interface().(error)
			}
			return nil, nil
		}
		return results[0].Interface(), nil
	case 2:
		// 第二个返回值是 error
		if !results[1].IsNil() {
			return nil, results[1].Interface().(error)
		}
		return results[0].Interface(), nil
	default:
		var result []interface{}
		for i := 0; i < len(results)-1; i++ {
			result = append(result, results[i].Interface())
		}
		last := results[len(results)-1]
		if last.Type().Implements(errorType) && !last.IsNil() {
			return nil, last.Interface().(error)
		}
		return result, nil
	}
}
