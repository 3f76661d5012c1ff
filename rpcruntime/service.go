package rpcruntime

import (
	"context"
	"fmt"
	"reflect"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// methodType is the reflection metadata for one dispatchable method,
// generalized from mini-RPC's server.methodType (server/service.go) to
// additionally recognize an optional leading context.Context parameter,
// since brokered services commonly want cancellation/deadline propagation
// that mini-RPC's fixed three-argument signature has no room for.
type methodType struct {
	method      reflect.Method
	ArgType     reflect.Type
	ReplyType   reflect.Type
	WantsContext bool
}

// service wraps a registered receiver and its dispatchable methods, same
// shape as mini-RPC's server.service.
type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService validates rcvr and scans its methods for one of two supported
// shapes:
//
//	func (receiver) Method(args *ArgsType, reply *ReplyType) error
//	func (receiver) Method(ctx context.Context, args *ArgsType, reply *ReplyType) error
//
// Methods matching neither shape are skipped, exactly as the teacher does.
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpcruntime: receiver must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpcruntime: receiver must point to a struct, got %s", typ.Elem().Kind())
	}

	svc := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	svc.registerMethods()
	return svc, nil
}

func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		m := s.typ.Method(i)
		mt := matchMethod(m)
		if mt != nil {
			s.method[m.Name] = mt
		}
	}
}

func matchMethod(m reflect.Method) *methodType {
	t := m.Type
	if t.NumOut() != 1 || t.Out(0) != errorType {
		return nil
	}
	switch t.NumIn() {
	case 3:
		if t.In(1).Kind() != reflect.Ptr || t.In(2).Kind() != reflect.Ptr {
			return nil
		}
		return &methodType{method: m, ArgType: t.In(1).Elem(), ReplyType: t.In(2).Elem()}
	case 4:
		if t.In(1) != contextType || t.In(2).Kind() != reflect.Ptr || t.In(3).Kind() != reflect.Ptr {
			return nil
		}
		return &methodType{method: m, ArgType: t.In(2).Elem(), ReplyType: t.In(3).Elem(), WantsContext: true}
	default:
		return nil
	}
}

// call invokes the method via reflection, routing the incoming context
// through when the handler declared one.
func (s *service) call(ctx context.Context, mt *methodType, argv, replyv reflect.Value) error {
	var args []reflect.Value
	if mt.WantsContext {
		args = []reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	} else {
		args = []reflect.Value{s.rcvr, argv, replyv}
	}
	results := mt.method.Func.Call(args)
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
