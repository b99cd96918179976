//go:build ndi
// +build ndi

package ndi

// #cgo LDFLAGS: -lndi
//
// #include <stdbool.h>
// #include <stdint.h>
// #include <stdlib.h>
//
// typedef struct {
//   const char *p_ndi_name;
//   const char *p_ip_address;
// } NDIlib_source_t;
//
// typedef struct {
//   bool show_local_sources;
//   const char *p_groups;
//   const char *p_extra_ips;
// } NDIlib_find_create_t;
//
// typedef struct {
//   const char *p_ndi_name;
//   const char *p_groups;
// } NDIlib_routing_create_t;
//
// typedef void *NDIlib_find_instance_t;
// typedef void *NDIlib_routing_instance_t;
//
// bool NDIlib_initialize(void);
// NDIlib_find_instance_t NDIlib_find_create_v2(const NDIlib_find_create_t *p_create_settings);
// void NDIlib_find_destroy(NDIlib_find_instance_t p_instance);
// bool NDIlib_find_wait_for_sources(NDIlib_find_instance_t p_instance, uint32_t timeout_in_ms);
// const NDIlib_source_t *NDIlib_find_get_current_sources(NDIlib_find_instance_t p_instance,
//   uint32_t *p_no_sources);
// NDIlib_routing_instance_t NDIlib_routing_create(const NDIlib_routing_create_t *p_create_settings);
// void NDIlib_routing_destroy(NDIlib_routing_instance_t p_instance);
// bool NDIlib_routing_change(NDIlib_routing_instance_t p_instance, const NDIlib_source_t *p_source);
// bool NDIlib_routing_clear(NDIlib_routing_instance_t p_instance);
import "C"

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unsafe"
)

var initializeOnce sync.Once
var initializeOK bool

func initialize() error {
	initializeOnce.Do(func() {
		initializeOK = bool(C.NDIlib_initialize())
	})
	if !initializeOK {
		return fmt.Errorf("cannot initialize the NDI runtime")
	}
	return nil
}

// NativeFinder is a Finder backed by the native SDK.
type NativeFinder struct {
	inst C.NDIlib_find_instance_t
}

// NewNativeFinder allocates a NativeFinder.
func NewNativeFinder(groups string, extraIPs string) (*NativeFinder, error) {
	err := initialize()
	if err != nil {
		return nil, err
	}

	var settings C.NDIlib_find_create_t
	settings.show_local_sources = C.bool(true)

	if groups != "" {
		cGroups := C.CString(groups)
		defer C.free(unsafe.Pointer(cGroups))
		settings.p_groups = cGroups
	}

	if extraIPs != "" {
		cExtraIPs := C.CString(extraIPs)
		defer C.free(unsafe.Pointer(cExtraIPs))
		settings.p_extra_ips = cExtraIPs
	}

	inst := C.NDIlib_find_create_v2(&settings)
	if inst == nil {
		return nil, fmt.Errorf("cannot create a NDI find instance")
	}

	return &NativeFinder{inst: inst}, nil
}

// Close implements Finder.
func (f *NativeFinder) Close() {
	C.NDIlib_find_destroy(f.inst)
}

// Find implements Finder.
func (f *NativeFinder) Find(ctx context.Context) ([]Source, error) {
	deadline, ok := ctx.Deadline()
	timeout := 1 * time.Second
	if ok {
		timeout = time.Until(deadline)
	}

	C.NDIlib_find_wait_for_sources(f.inst, C.uint32_t(timeout.Milliseconds()))

	var count C.uint32_t
	ptr := C.NDIlib_find_get_current_sources(f.inst, &count)
	if ptr == nil || count == 0 {
		return nil, nil
	}

	now := time.Now()
	entries := unsafe.Slice(ptr, int(count))
	sources := make([]Source, int(count))

	for i, entry := range entries {
		name := C.GoString(entry.p_ndi_name)
		sources[i] = Source{
			ID:       name,
			Name:     name,
			Address:  C.GoString(entry.p_ip_address),
			LastSeen: now,
		}
	}

	return sources, nil
}

// NativeRouter is a Router backed by the native SDK.
// It keeps one routing instance per output, created lazily.
type NativeRouter struct {
	deviceName string
	groups     string

	mutex     sync.Mutex
	instances map[int]C.NDIlib_routing_instance_t
}

// NewNativeRouter allocates a NativeRouter.
func NewNativeRouter(deviceName string, groups string) (*NativeRouter, error) {
	err := initialize()
	if err != nil {
		return nil, err
	}

	return &NativeRouter{
		deviceName: deviceName,
		groups:     groups,
		instances:  make(map[int]C.NDIlib_routing_instance_t),
	}, nil
}

// Close implements Router.
func (r *NativeRouter) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, inst := range r.instances {
		C.NDIlib_routing_destroy(inst)
	}
	r.instances = nil
}

func (r *NativeRouter) instance(output int) (C.NDIlib_routing_instance_t, error) {
	if inst, ok := r.instances[output]; ok {
		return inst, nil
	}

	name := C.CString(fmt.Sprintf("%s output %d", r.deviceName, output+1))
	defer C.free(unsafe.Pointer(name))

	var settings C.NDIlib_routing_create_t
	settings.p_ndi_name = name

	if r.groups != "" {
		cGroups := C.CString(r.groups)
		defer C.free(unsafe.Pointer(cGroups))
		settings.p_groups = cGroups
	}

	inst := C.NDIlib_routing_create(&settings)
	if inst == nil {
		return nil, fmt.Errorf("cannot create a NDI routing instance for output %d", output)
	}

	r.instances[output] = inst
	return inst, nil
}

// Route implements Router.
func (r *NativeRouter) Route(output int, source *Source) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	inst, err := r.instance(output)
	if err != nil {
		return err
	}

	if source == nil {
		if !bool(C.NDIlib_routing_clear(inst)) {
			return fmt.Errorf("cannot clear the route of output %d", output)
		}
		return nil
	}

	cName := C.CString(source.ID)
	defer C.free(unsafe.Pointer(cName))
	cAddress := C.CString(source.Address)
	defer C.free(unsafe.Pointer(cAddress))

	entry := C.NDIlib_source_t{
		p_ndi_name:   cName,
		p_ip_address: cAddress,
	}

	if !bool(C.NDIlib_routing_change(inst, &entry)) {
		return fmt.Errorf("cannot route output %d to '%s'", output, source.ID)
	}

	return nil
}
