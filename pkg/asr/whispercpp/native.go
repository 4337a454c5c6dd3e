//go:build whispercpp

package whispercpp

/*
#cgo LDFLAGS: -lwhisper -lstdc++ -lm

#include <stdlib.h>
#include <whisper.h>
*/
import "C"

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/tokenizer"
)

// Available reports whether the native engine is compiled in.
func Available() bool { return true }

type native struct {
	ctx     *C.struct_whisper_context
	state   *C.struct_whisper_state
	threads C.int
	nVocab  int
}

func newNative(path string, opts asr.Options) (engine, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	params := C.whisper_context_default_params()
	params.use_gpu = C.bool(len(opts.Providers) == 0 || opts.Providers[0] != "cpu")

	ctx := C.whisper_init_from_file_with_params(cPath, params)
	if ctx == nil {
		return nil, fmt.Errorf("%w: whisper.cpp cannot load %s", asr.ErrModelLoad, path)
	}
	state := C.whisper_init_state(ctx)
	if state == nil {
		C.whisper_free(ctx)
		return nil, fmt.Errorf("%w: whisper.cpp cannot allocate state", asr.ErrModelLoad)
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = min(4, runtime.NumCPU())
	}
	return &native{
		ctx:     ctx,
		state:   state,
		threads: C.int(threads),
		nVocab:  int(C.whisper_n_vocab(ctx)),
	}, nil
}

func (n *native) info() asr.ModelInfo {
	return asr.ModelInfo{
		ContextLength: int(C.whisper_model_n_text_ctx(n.ctx)),
		Multilingual:  C.whisper_is_multilingual(n.ctx) != 0,
	}
}

func (n *native) vocab() *tokenizer.Tokenizer {
	sp := special{
		sot:          int64(C.whisper_token_sot(n.ctx)),
		eot:          int64(C.whisper_token_eot(n.ctx)),
		transcribe:   int64(C.whisper_token_transcribe(n.ctx)),
		translate:    int64(C.whisper_token_translate(n.ctx)),
		noTimestamps: int64(C.whisper_token_not(n.ctx)),
		noSpeech:     int64(C.whisper_token_nosp(n.ctx)),
		langs:        map[int64]string{},
	}
	if C.whisper_is_multilingual(n.ctx) != 0 {
		for i := C.int(0); i <= C.whisper_lang_max_id(); i++ {
			sp.langs[int64(C.whisper_token_lang(n.ctx, i))] = C.GoString(C.whisper_lang_str(i))
		}
	}
	return buildVocab(n.nVocab, func(id int64) string {
		return C.GoString(C.whisper_token_to_str(n.ctx, C.whisper_token(id)))
	}, sp)
}

func (n *native) encode(pcm []float32) error {
	if n.ctx == nil {
		return fmt.Errorf("whispercpp: backend closed")
	}
	if ret := C.whisper_pcm_to_mel_with_state(n.ctx, n.state, (*C.float)(unsafe.Pointer(&pcm[0])), C.int(len(pcm)), n.threads); ret != 0 {
		return fmt.Errorf("whispercpp: log-mel returned %d", int(ret))
	}
	if ret := C.whisper_encode_with_state(n.ctx, n.state, 0, n.threads); ret != 0 {
		return fmt.Errorf("whispercpp: encode returned %d", int(ret))
	}
	return nil
}

// decode returns the last row of whisper.cpp's [n_tokens, n_vocab] logits.
func (n *native) decode(tokens []int64, nPast int) ([]float32, error) {
	if n.ctx == nil {
		return nil, fmt.Errorf("whispercpp: backend closed")
	}
	ids := make([]C.whisper_token, len(tokens))
	for i, id := range tokens {
		ids[i] = C.whisper_token(id)
	}
	if ret := C.whisper_decode_with_state(n.ctx, n.state, &ids[0], C.int(len(ids)), C.int(nPast), n.threads); ret != 0 {
		return nil, fmt.Errorf("whispercpp: decode returned %d", int(ret))
	}
	all := unsafe.Slice((*float32)(unsafe.Pointer(C.whisper_get_logits_from_state(n.state))), len(ids)*n.nVocab)
	return append([]float32(nil), all[(len(ids)-1)*n.nVocab:]...), nil
}

func (n *native) close() error {
	if n.state != nil {
		C.whisper_free_state(n.state)
		n.state = nil
	}
	if n.ctx != nil {
		C.whisper_free(n.ctx)
		n.ctx = nil
	}
	return nil
}
