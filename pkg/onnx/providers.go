package onnx

/*
#include <onnxruntime_c_api.h>
#include <stdlib.h>

static OrtStatus* ort_append_cuda(const OrtApi* api, OrtSessionOptions* opts) {
    OrtCUDAProviderOptionsV2* cuda;
    OrtStatus* status = api->CreateCUDAProviderOptions(&cuda);
    if (status) return status;
    status = api->SessionOptionsAppendExecutionProvider_CUDA_V2(opts, cuda);
    api->ReleaseCUDAProviderOptions(cuda);
    return status;
}

static OrtStatus* ort_append_tensorrt(const OrtApi* api, OrtSessionOptions* opts) {
    OrtTensorRTProviderOptionsV2* trt;
    OrtStatus* status = api->CreateTensorRTProviderOptions(&trt);
    if (status) return status;
    status = api->SessionOptionsAppendExecutionProvider_TensorRT_V2(opts, trt);
    api->ReleaseTensorRTProviderOptions(trt);
    return status;
}

static OrtStatus* ort_append_named(const OrtApi* api, OrtSessionOptions* opts, const char* name) {
    return api->SessionOptionsAppendExecutionProvider(opts, name, NULL, NULL, 0);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"unsafe"
)

// Provider names an ONNX Runtime execution provider.
type Provider string

const (
	CPU      Provider = "cpu"
	CUDA     Provider = "cuda"
	TensorRT Provider = "tensorrt"
	CoreML   Provider = "coreml"
	DirectML Provider = "directml"
	WebGPU   Provider = "webgpu"
	XNNPACK  Provider = "xnnpack"
)

// ErrUnknownProvider is returned by ParseProvider for unrecognised names.
var ErrUnknownProvider = errors.New("onnx: unknown execution provider")

// ParseProvider parses a provider name, case-insensitively.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case CPU, CUDA, TensorRT, CoreML, DirectML, WebGPU, XNNPACK:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// runtimeName is the name the generic append API expects.
func (p Provider) runtimeName() string {
	switch p {
	case CoreML:
		return "CoreML"
	case DirectML:
		return "DML"
	case WebGPU:
		return "WebGPU"
	case XNNPACK:
		return "XNNPACK"
	}
	return string(p)
}

// PlatformProviders returns the accelerated providers worth trying on goos,
// in preference order, followed by CPU.
func PlatformProviders(goos string) []Provider {
	switch goos {
	case "darwin":
		return []Provider{CoreML, CPU}
	case "linux":
		return []Provider{TensorRT, CUDA, WebGPU, CPU}
	case "windows":
		return []Provider{TensorRT, CUDA, WebGPU, DirectML, CPU}
	}
	return []Provider{CPU}
}

// ProviderError reports that an execution provider could not be attached.
// It is recoverable: sessions continue with the next provider.
type ProviderError struct {
	Provider Provider
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("onnx: provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func appendProvider(opts *C.OrtSessionOptions, p Provider) error {
	var status *C.OrtStatus
	switch p {
	case CPU:
		return nil
	case CUDA:
		status = C.ort_append_cuda(api(), opts)
	case TensorRT:
		status = C.ort_append_tensorrt(api(), opts)
	case CoreML, DirectML, WebGPU, XNNPACK:
		name := C.CString(p.runtimeName())
		defer C.free(unsafe.Pointer(name))
		status = C.ort_append_named(api(), opts, name)
	default:
		return &ProviderError{Provider: p, Err: ErrUnknownProvider}
	}
	if err := checkStatus(status); err != nil {
		return &ProviderError{Provider: p, Err: err}
	}
	return nil
}

// Probe reports whether provider p can be attached to a session in this
// process. A nil error means the provider is usable; otherwise the error is
// a *ProviderError.
func Probe(p Provider) error {
	opts, _, err := newOptions(nil, nil)
	if err != nil {
		return &ProviderError{Provider: p, Err: err}
	}
	defer C.ort_release_session_options(api(), opts)
	return appendProvider(opts, p)
}

// SelectProviders probes candidates in order and returns those that attach,
// always ending with CPU.
func SelectProviders(candidates []Provider, logger *slog.Logger) []Provider {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Provider
	for _, p := range candidates {
		if p == CPU {
			continue
		}
		if err := Probe(p); err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) {
				logger.Info("execution provider skipped", "provider", pe.Provider, "err", pe.Err)
			}
			continue
		}
		out = append(out, p)
	}
	return append(out, CPU)
}

// ResolveProviders parses names and probes them in order. An empty list
// probes the platform chain for the running OS.
func ResolveProviders(names []string, logger *slog.Logger) ([]Provider, error) {
	candidates := PlatformProviders(runtime.GOOS)
	if len(names) > 0 {
		candidates = nil
		for _, n := range names {
			p, err := ParseProvider(n)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, p)
		}
	}
	return SelectProviders(candidates, logger), nil
}
