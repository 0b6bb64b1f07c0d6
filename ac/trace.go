package ac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
)

// Runs `do` and recovers any panic. The recovered value is passed to the handlers,
// which may be `func()` or `func(error)`, and logged with its stack unless it is a canceled context.
// Returns the recovered value, or nil.
func HandleError(tag string, do func(), handlers ...any) (r any) {
	defer func() {
		r = recover()
		if r == nil {
			return
		}
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("%s", r)
		}
		if !errors.Is(err, context.Canceled) {
			glog.Warningf("[%s]unexpected error: %s\n", tag, ErrorJson(r, debug.Stack()))
		}
		for _, handler := range handlers {
			switch v := handler.(type) {
			case func():
				v()
			case func(error):
				v(err)
			}
		}
	}()
	do()
	return
}

func ErrorJson(err any, stack []byte) string {
	stackLines := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			stackLines = append(stackLines, line)
		}
	}
	errorJson, _ := json.Marshal(map[string]any{
		"error": fmt.Sprintf("%T=%s", err, err),
		"stack": stackLines,
	})
	return string(errorJson)
}

// logs the start and the end of `do`, with the duration and the result
func TraceWithReturnError[R any](tag string, do func() (R, error)) (R, error) {
	start := time.Now()
	glog.Infof("[trace]%s start\n", tag)
	result, err := do()
	if err != nil {
		glog.Infof("[trace]%s end (%s) err = %s\n", tag, time.Since(start), err)
	} else {
		glog.Infof("[trace]%s end (%s) = %v\n", tag, time.Since(start), result)
	}
	return result, err
}

// the function name of a callback, for logs
func CallbackName(f any) string {
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Sprintf("%T", f)
	}
	if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
		return fn.Name()
	}
	return fmt.Sprintf("%T", f)
}
