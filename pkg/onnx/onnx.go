// Package onnx provides Go bindings for the ONNX Runtime C API.
//
// ONNX Runtime is a cross-platform inference engine for ONNX models.
// This package wraps the C API, providing Go-native types for
// Environment, Session, and Tensor, plus execution-provider selection.
//
// # Architecture
//
// The package exposes three core types:
//
//   - [Env]: the runtime environment, normally one per process ([DefaultEnv])
//   - [Session]: a loaded model with its execution providers
//   - [Tensor]: an N-dimensional float32, int32 or int64 tensor
//
// Usage flow:
//
//	env, _ := onnx.NewEnv("flcaption")
//	defer env.Close()
//
//	session, _ := env.NewSessionFromFile("encoder_model.onnx", nil)
//	defer session.Close()
//
//	input, _ := onnx.NewTensor([]int64{1, 80, 3000}, mel)
//	defer input.Close()
//
//	outputs, _ := session.Run([]string{"input_features"}, []*onnx.Tensor{input}, []string{"last_hidden_state"})
//	hidden, _ := outputs[0].FloatData()
//
// # Dynamic Linking
//
// ONNX Runtime is dynamically linked (.dylib/.so/.dll) via CGo.
//
// # Thread Safety
//
// Env is safe for concurrent use. Session.Run is thread-safe
// (ONNX Runtime uses internal locking).
package onnx

/*
#cgo LDFLAGS: -lonnxruntime
#include <onnxruntime_c_api.h>
#include <stdlib.h>
#include <string.h>

static const OrtApi* ort_api() {
    return OrtGetApiBase()->GetApi(ORT_API_VERSION);
}

static OrtStatus* ort_create_env(const OrtApi* api, const char* name, OrtEnv** out) {
    return api->CreateEnv(ORT_LOGGING_LEVEL_WARNING, name, out);
}

static OrtStatus* ort_create_session_options(const OrtApi* api, OrtSessionOptions** out) {
    return api->CreateSessionOptions(out);
}

static OrtStatus* ort_set_threads(const OrtApi* api, OrtSessionOptions* opts, int n) {
    return api->SetIntraOpNumThreads(opts, n);
}

static OrtStatus* ort_enable_all_optimizations(const OrtApi* api, OrtSessionOptions* opts) {
    return api->SetSessionGraphOptimizationLevel(opts, ORT_ENABLE_ALL);
}

static OrtStatus* ort_create_session_from_memory(const OrtApi* api, OrtEnv* env,
    const void* model_data, size_t model_data_len, OrtSessionOptions* opts, OrtSession** out) {
    return api->CreateSessionFromArray(env, model_data, model_data_len, opts, out);
}

static OrtStatus* ort_default_allocator(const OrtApi* api, OrtAllocator** out) {
    return api->GetAllocatorWithDefaultOptions(out);
}

// Allocator-owned tensors may have zero elements, which the
// CreateTensorWithData family rejects.
static OrtStatus* ort_create_tensor(const OrtApi* api, int64_t* shape, size_t shape_len,
    ONNXTensorElementDataType type, const void* data, size_t nbytes, OrtValue** out) {
    OrtAllocator* alloc;
    OrtStatus* status = api->GetAllocatorWithDefaultOptions(&alloc);
    if (status) return status;
    status = api->CreateTensorAsOrtValue(alloc, shape, shape_len, type, out);
    if (status) return status;
    if (nbytes == 0) return NULL;
    void* dst;
    status = api->GetTensorMutableData(*out, &dst);
    if (status) {
        api->ReleaseValue(*out);
        *out = NULL;
        return status;
    }
    memcpy(dst, data, nbytes);
    return NULL;
}

static OrtStatus* ort_run(const OrtApi* api, OrtSession* session,
    const char** input_names, const OrtValue* const* inputs, size_t num_inputs,
    const char** output_names, size_t num_outputs, OrtValue** outputs) {
    return api->Run(session, NULL, input_names, inputs, num_inputs,
        output_names, num_outputs, outputs);
}

static OrtStatus* ort_get_tensor_data(const OrtApi* api, OrtValue* value, void** out) {
    return api->GetTensorMutableData(value, out);
}

static OrtStatus* ort_get_tensor_shape(const OrtApi* api, OrtValue* value,
    int64_t* shape, size_t shape_len) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(value, &info);
    if (status) return status;
    status = api->GetDimensions(info, shape, shape_len);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

static OrtStatus* ort_get_tensor_ndim(const OrtApi* api, OrtValue* value, size_t* ndim) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(value, &info);
    if (status) return status;
    status = api->GetDimensionsCount(info, ndim);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

static OrtStatus* ort_get_tensor_type(const OrtApi* api, OrtValue* value, ONNXTensorElementDataType* out) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(value, &info);
    if (status) return status;
    status = api->GetTensorElementType(info, out);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

static OrtStatus* ort_io_count(const OrtApi* api, OrtSession* s, int output, size_t* out) {
    if (output) return api->SessionGetOutputCount(s, out);
    return api->SessionGetInputCount(s, out);
}

static OrtStatus* ort_io_name(const OrtApi* api, OrtSession* s, int output, size_t i, OrtAllocator* alloc, char** out) {
    if (output) return api->SessionGetOutputName(s, i, alloc, out);
    return api->SessionGetInputName(s, i, alloc, out);
}

// Looks up a custom metadata entry; *out is NULL when the key is absent.
static OrtStatus* ort_lookup_metadata(const OrtApi* api, OrtSession* s, OrtAllocator* alloc, const char* key, char** out) {
    OrtModelMetadata* md;
    OrtStatus* status = api->SessionGetModelMetadata(s, &md);
    if (status) return status;
    status = api->ModelMetadataLookupCustomMetadataMap(md, alloc, key, out);
    api->ReleaseModelMetadata(md);
    return status;
}

static void ort_allocator_free(const OrtApi* api, OrtAllocator* alloc, void* p) {
    api->AllocatorFree(alloc, p);
}

static const char* ort_error_message(const OrtApi* api, OrtStatus* status) {
    return api->GetErrorMessage(status);
}

static void ort_release_status(const OrtApi* api, OrtStatus* status) {
    api->ReleaseStatus(status);
}

static void ort_release_env(const OrtApi* api, OrtEnv* env) { api->ReleaseEnv(env); }
static void ort_release_session(const OrtApi* api, OrtSession* s) { api->ReleaseSession(s); }
static void ort_release_session_options(const OrtApi* api, OrtSessionOptions* o) { api->ReleaseSessionOptions(o); }
static void ort_release_value(const OrtApi* api, OrtValue* v) { api->ReleaseValue(v); }
*/
import "C"

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"unsafe"
)

// api returns the global ORT API pointer.
func api() *C.OrtApi {
	return C.ort_api()
}

// checkStatus converts an OrtStatus to a Go error.
func checkStatus(status *C.OrtStatus) error {
	if status == nil {
		return nil
	}
	msg := C.GoString(C.ort_error_message(api(), status))
	C.ort_release_status(api(), status)
	return fmt.Errorf("onnx: %s", msg)
}

// --------------------------------------------------------------------------
// Env
// --------------------------------------------------------------------------

// Env is the ONNX Runtime environment. Create one per process.
type Env struct {
	env *C.OrtEnv
}

// NewEnv creates a new ONNX Runtime environment.
func NewEnv(name string) (*Env, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var env *C.OrtEnv
	if err := checkStatus(C.ort_create_env(api(), cName, &env)); err != nil {
		return nil, err
	}

	e := &Env{env: env}
	runtime.SetFinalizer(e, (*Env).Close)
	return e, nil
}

// SessionOptions configures session creation. A nil *SessionOptions runs on
// the CPU with ONNX Runtime's default threading.
type SessionOptions struct {
	// Providers are tried in order. Providers that fail to attach are
	// skipped; the CPU provider is always available as the last resort.
	Providers []Provider
	// IntraOpThreads sets the intra-op thread pool size when positive.
	IntraOpThreads int
	Logger         *slog.Logger
}

func (o *SessionOptions) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// newOptions builds native session options, attaching every provider in
// providers that the runtime accepts. It returns the providers attached.
func newOptions(o *SessionOptions, providers []Provider) (*C.OrtSessionOptions, []Provider, error) {
	var opts *C.OrtSessionOptions
	if err := checkStatus(C.ort_create_session_options(api(), &opts)); err != nil {
		return nil, nil, err
	}
	if err := checkStatus(C.ort_enable_all_optimizations(api(), opts)); err != nil {
		C.ort_release_session_options(api(), opts)
		return nil, nil, err
	}
	if o != nil && o.IntraOpThreads > 0 {
		if err := checkStatus(C.ort_set_threads(api(), opts, C.int(o.IntraOpThreads))); err != nil {
			C.ort_release_session_options(api(), opts)
			return nil, nil, err
		}
	}
	var attached []Provider
	for _, p := range providers {
		if p == CPU {
			continue
		}
		if err := appendProvider(opts, p); err != nil {
			o.logger().Warn("execution provider unavailable", "provider", p, "err", err)
			continue
		}
		attached = append(attached, p)
	}
	return opts, attached, nil
}

// NewSession creates a session from in-memory ONNX model data. When session
// creation fails with accelerated providers attached, it is retried on the
// CPU alone.
func (e *Env) NewSession(modelData []byte, o *SessionOptions) (*Session, error) {
	if len(modelData) == 0 {
		return nil, fmt.Errorf("onnx: empty model data")
	}

	var providers []Provider
	if o != nil {
		providers = o.Providers
	}
	s, attached, err := e.newSession(modelData, o, providers)
	if err != nil && len(attached) > 0 {
		o.logger().Warn("session creation failed with accelerators, falling back to CPU",
			"providers", attached, "err", err)
		s, _, err = e.newSession(modelData, o, nil)
	}
	if err != nil {
		return nil, err
	}
	s.providers = attached
	if len(s.providers) == 0 {
		s.providers = []Provider{CPU}
	}
	return s, nil
}

func (e *Env) newSession(modelData []byte, o *SessionOptions, providers []Provider) (*Session, []Provider, error) {
	opts, attached, err := newOptions(o, providers)
	if err != nil {
		return nil, nil, err
	}
	defer C.ort_release_session_options(api(), opts)

	cData := C.CBytes(modelData)
	defer C.free(cData)

	var session *C.OrtSession
	if err := checkStatus(C.ort_create_session_from_memory(
		api(), e.env,
		cData, C.size_t(len(modelData)),
		opts, &session,
	)); err != nil {
		return nil, attached, err
	}

	s := &Session{session: session}
	runtime.SetFinalizer(s, (*Session).Close)
	return s, attached, nil
}

// NewSessionFromFile reads an .onnx file and creates a session from it.
func (e *Env) NewSessionFromFile(path string, o *SessionOptions) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model: %w", err)
	}
	s, err := e.NewSession(data, o)
	if err != nil {
		return nil, fmt.Errorf("%w (model %s)", err, path)
	}
	return s, nil
}

// Close releases the environment.
func (e *Env) Close() error {
	if e.env != nil {
		C.ort_release_env(api(), e.env)
		e.env = nil
		runtime.SetFinalizer(e, nil)
	}
	return nil
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session holds a loaded ONNX model.
type Session struct {
	session   *C.OrtSession
	providers []Provider
}

// Providers returns the execution providers the session was created with.
func (s *Session) Providers() []Provider {
	return s.providers
}

// Run executes inference with the given inputs and output names.
// Returns output tensors. The caller must close each output tensor.
func (s *Session) Run(inputNames []string, inputs []*Tensor, outputNames []string) ([]*Tensor, error) {
	if len(inputNames) != len(inputs) {
		return nil, fmt.Errorf("onnx: input names/tensors length mismatch: %d vs %d", len(inputNames), len(inputs))
	}
	if len(inputs) == 0 || len(outputNames) == 0 {
		return nil, fmt.Errorf("onnx: run needs at least one input and one output")
	}

	cInputNames := make([]*C.char, len(inputNames))
	for i, name := range inputNames {
		cInputNames[i] = C.CString(name)
		defer C.free(unsafe.Pointer(cInputNames[i]))
	}

	cInputs := make([]*C.OrtValue, len(inputs))
	for i, t := range inputs {
		cInputs[i] = t.value
	}

	cOutputNames := make([]*C.char, len(outputNames))
	for i, name := range outputNames {
		cOutputNames[i] = C.CString(name)
		defer C.free(unsafe.Pointer(cOutputNames[i]))
	}

	cOutputs := make([]*C.OrtValue, len(outputNames))

	status := C.ort_run(api(), s.session,
		&cInputNames[0], &cInputs[0], C.size_t(len(inputs)),
		&cOutputNames[0], C.size_t(len(outputNames)), &cOutputs[0],
	)
	if err := checkStatus(status); err != nil {
		return nil, err
	}

	outputs := make([]*Tensor, len(outputNames))
	for i, val := range cOutputs {
		outputs[i] = &Tensor{value: val, owned: true}
		runtime.SetFinalizer(outputs[i], (*Tensor).Close)
	}
	return outputs, nil
}

// InputNames returns the model's input names in declaration order.
func (s *Session) InputNames() ([]string, error) {
	return s.ioNames(0)
}

// OutputNames returns the model's output names in declaration order.
func (s *Session) OutputNames() ([]string, error) {
	return s.ioNames(1)
}

func (s *Session) ioNames(output C.int) ([]string, error) {
	var alloc *C.OrtAllocator
	if err := checkStatus(C.ort_default_allocator(api(), &alloc)); err != nil {
		return nil, err
	}
	var n C.size_t
	if err := checkStatus(C.ort_io_count(api(), s.session, output, &n)); err != nil {
		return nil, err
	}
	names := make([]string, 0, int(n))
	for i := C.size_t(0); i < n; i++ {
		var name *C.char
		if err := checkStatus(C.ort_io_name(api(), s.session, output, i, alloc, &name)); err != nil {
			return nil, err
		}
		names = append(names, C.GoString(name))
		C.ort_allocator_free(api(), alloc, unsafe.Pointer(name))
	}
	return names, nil
}

// Metadata returns the custom metadata value stored under key.
func (s *Session) Metadata(key string) (string, bool, error) {
	var alloc *C.OrtAllocator
	if err := checkStatus(C.ort_default_allocator(api(), &alloc)); err != nil {
		return "", false, err
	}
	cKey := C.CString(key)
	defer C.free(unsafe.Pointer(cKey))

	var value *C.char
	if err := checkStatus(C.ort_lookup_metadata(api(), s.session, alloc, cKey, &value)); err != nil {
		return "", false, err
	}
	if value == nil {
		return "", false, nil
	}
	defer C.ort_allocator_free(api(), alloc, unsafe.Pointer(value))
	return C.GoString(value), true, nil
}

// Close releases the session.
func (s *Session) Close() error {
	if s.session != nil {
		C.ort_release_session(api(), s.session)
		s.session = nil
		runtime.SetFinalizer(s, nil)
	}
	return nil
}

// --------------------------------------------------------------------------
// Tensor
// --------------------------------------------------------------------------

// ElementType is the element type of a tensor.
type ElementType int

const (
	Float32 ElementType = C.ONNX_TENSOR_ELEMENT_DATA_TYPE_FLOAT
	Int32   ElementType = C.ONNX_TENSOR_ELEMENT_DATA_TYPE_INT32
	Int64   ElementType = C.ONNX_TENSOR_ELEMENT_DATA_TYPE_INT64
)

// Tensor is an N-dimensional tensor (OrtValue). Tensors own a copy of their
// data, so the source slice may be reused after construction.
type Tensor struct {
	value *C.OrtValue
	owned bool // if true, Close releases the OrtValue
}

func numel(shape []int64) (int64, error) {
	total := int64(1)
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("onnx: negative dimension in shape %v", shape)
		}
		total *= d
	}
	return total, nil
}

func newTensor(shape []int64, typ ElementType, data unsafe.Pointer, nbytes int) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("onnx: scalar tensors are not supported")
	}
	cShape := make([]C.int64_t, len(shape))
	for i, d := range shape {
		cShape[i] = C.int64_t(d)
	}
	// ort_create_tensor copies data into allocator-owned memory and keeps
	// no reference to it.
	var value *C.OrtValue
	if err := checkStatus(C.ort_create_tensor(
		api(),
		&cShape[0], C.size_t(len(shape)),
		C.ONNXTensorElementDataType(typ),
		data, C.size_t(nbytes),
		&value,
	)); err != nil {
		return nil, err
	}

	t := &Tensor{value: value, owned: true}
	runtime.SetFinalizer(t, (*Tensor).Close)
	return t, nil
}

// NewTensor creates a float32 tensor with the given shape and data. Shapes
// with a zero dimension produce an empty tensor and accept nil data.
func NewTensor(shape []int64, data []float32) (*Tensor, error) {
	total, err := numel(shape)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < total {
		return nil, fmt.Errorf("onnx: tensor data too short: got %d, need %d", len(data), total)
	}
	if total == 0 {
		return newTensor(shape, Float32, nil, 0)
	}
	return newTensor(shape, Float32, unsafe.Pointer(&data[0]), int(total)*4)
}

// NewInt64Tensor creates an int64 tensor with the given shape and data.
func NewInt64Tensor(shape []int64, data []int64) (*Tensor, error) {
	total, err := numel(shape)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < total {
		return nil, fmt.Errorf("onnx: tensor data too short: got %d, need %d", len(data), total)
	}
	if total == 0 {
		return newTensor(shape, Int64, nil, 0)
	}
	return newTensor(shape, Int64, unsafe.Pointer(&data[0]), int(total)*8)
}

// NewInt32Tensor creates an int32 tensor with the given shape and data.
func NewInt32Tensor(shape []int64, data []int32) (*Tensor, error) {
	total, err := numel(shape)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < total {
		return nil, fmt.Errorf("onnx: tensor data too short: got %d, need %d", len(data), total)
	}
	if total == 0 {
		return newTensor(shape, Int32, nil, 0)
	}
	return newTensor(shape, Int32, unsafe.Pointer(&data[0]), int(total)*4)
}

// ElementType returns the element type of the tensor.
func (t *Tensor) ElementType() (ElementType, error) {
	var typ C.ONNXTensorElementDataType
	if err := checkStatus(C.ort_get_tensor_type(api(), t.value, &typ)); err != nil {
		return 0, err
	}
	return ElementType(typ), nil
}

func (t *Tensor) elements() (int, error) {
	shape, err := t.Shape()
	if err != nil {
		return 0, err
	}
	total, err := numel(shape)
	return int(total), err
}

// FloatData copies the tensor data into a new float32 slice.
func (t *Tensor) FloatData() ([]float32, error) {
	if typ, err := t.ElementType(); err != nil {
		return nil, err
	} else if typ != Float32 {
		return nil, fmt.Errorf("onnx: tensor element type %d is not float32", typ)
	}
	total, err := t.elements()
	if err != nil || total <= 0 {
		return nil, err
	}
	var ptr unsafe.Pointer
	if err := checkStatus(C.ort_get_tensor_data(api(), t.value, &ptr)); err != nil {
		return nil, err
	}
	out := make([]float32, total)
	C.memcpy(unsafe.Pointer(&out[0]), ptr, C.size_t(total*4))
	return out, nil
}

// Int64Data copies the tensor data into a new int64 slice.
func (t *Tensor) Int64Data() ([]int64, error) {
	if typ, err := t.ElementType(); err != nil {
		return nil, err
	} else if typ != Int64 {
		return nil, fmt.Errorf("onnx: tensor element type %d is not int64", typ)
	}
	total, err := t.elements()
	if err != nil || total <= 0 {
		return nil, err
	}
	var ptr unsafe.Pointer
	if err := checkStatus(C.ort_get_tensor_data(api(), t.value, &ptr)); err != nil {
		return nil, err
	}
	out := make([]int64, total)
	C.memcpy(unsafe.Pointer(&out[0]), ptr, C.size_t(total*8))
	return out, nil
}

// Shape returns the tensor dimensions.
func (t *Tensor) Shape() ([]int64, error) {
	var ndim C.size_t
	if err := checkStatus(C.ort_get_tensor_ndim(api(), t.value, &ndim)); err != nil {
		return nil, err
	}

	if ndim == 0 {
		return nil, nil
	}

	shape := make([]C.int64_t, int(ndim))
	if err := checkStatus(C.ort_get_tensor_shape(api(), t.value, &shape[0], ndim)); err != nil {
		return nil, err
	}
	out := make([]int64, len(shape))
	for i, d := range shape {
		out[i] = int64(d)
	}
	return out, nil
}

// Close releases the tensor.
func (t *Tensor) Close() error {
	if t.value != nil && t.owned {
		C.ort_release_value(api(), t.value)
		t.value = nil
		runtime.SetFinalizer(t, nil)
	}
	return nil
}

// CloseAll closes every non-nil tensor in ts.
func CloseAll(ts []*Tensor) {
	for _, t := range ts {
		if t != nil {
			t.Close()
		}
	}
}
