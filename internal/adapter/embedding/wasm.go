package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"hindsight/internal/domain"
)

// WASM guest ABI: the model ships as a WASM binary exporting
//
//	malloc(size u32) -> ptr u32
//	free(ptr u32, size u32)
//	embed(ptr u32, len u32) -> u64   // result ptr<<32 | byte_len
//
// where the result bytes are 384 little-endian float32s. The engine knows
// nothing else about the model.
const (
	guestMalloc = "malloc"
	guestFree   = "free"
	guestEmbed  = "embed"

	// defaultMemoryPages caps guest memory at 64MB (1024 pages of 64KB).
	defaultMemoryPages = 1024
)

// WASMProvider implements domain.EmbeddingProvider by invoking a local model
// compiled to WASM inside a wazero sandbox. Model instantiation can take
// hundreds of milliseconds, so it happens lazily on first use; Warmup is
// optional.
type WASMProvider struct {
	modelPath string
	logger    *slog.Logger

	initOnce sync.Once
	initErr  error
	runtime  wazero.Runtime
	module   api.Module

	// Guest calls are serialized: a WASM instance owns one linear memory.
	callMu sync.Mutex
}

// NewWASMProvider creates a provider for the model binary at modelPath.
// The module is not loaded until the first Embed or Warmup call.
func NewWASMProvider(modelPath string, logger *slog.Logger) *WASMProvider {
	return &WASMProvider{modelPath: modelPath, logger: logger}
}

// Warmup forces model instantiation so the first Embed call is fast. The
// load runs once: a failed load is not retried, and later Warmup and Embed
// calls return the same error.
func (p *WASMProvider) Warmup(ctx context.Context) error {
	return p.init(ctx)
}

func (p *WASMProvider) init(ctx context.Context) error {
	p.initOnce.Do(func() {
		bin, err := os.ReadFile(p.modelPath)
		if err != nil {
			p.initErr = fmt.Errorf("%w: read model %s: %v", domain.ErrModelLoad, p.modelPath, err)
			return
		}

		rtCfg := wazero.NewRuntimeConfig().
			WithCloseOnContextDone(true).
			WithMemoryLimitPages(defaultMemoryPages)
		rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

		mod, err := rt.Instantiate(ctx, bin)
		if err != nil {
			rt.Close(ctx)
			p.initErr = fmt.Errorf("%w: instantiate model: %v", domain.ErrModelLoad, err)
			return
		}

		for _, name := range []string{guestMalloc, guestEmbed} {
			if mod.ExportedFunction(name) == nil {
				mod.Close(ctx)
				rt.Close(ctx)
				p.initErr = fmt.Errorf("%w: model does not export %s", domain.ErrModelLoad, name)
				return
			}
		}

		p.runtime = rt
		p.module = mod
		p.logger.Info("embedding model loaded",
			"path", p.modelPath,
			"max_memory_mb", defaultMemoryPages*64/1024,
		)
	})
	return p.initErr
}

// Embed implements domain.EmbeddingProvider.
func (p *WASMProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := p.init(ctx); err != nil {
		return nil, err
	}

	p.callMu.Lock()
	defer p.callMu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *WASMProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	data := []byte(text)
	ptr, err := p.writeBytes(ctx, data)
	if err != nil {
		return nil, err
	}
	defer p.freeBytes(ctx, ptr, uint32(len(data)))

	results, err := p.module.ExportedFunction(guestEmbed).Call(ctx, uint64(ptr), uint64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: embed call: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: embed returned no result", domain.ErrEmbeddingFailed)
	}

	resPtr := uint32(results[0] >> 32)
	resLen := uint32(results[0])
	if resLen != domain.EmbeddingDimensions*4 {
		return nil, fmt.Errorf("%w: embed returned %d bytes, want %d", domain.ErrEmbeddingFailed, resLen, domain.EmbeddingDimensions*4)
	}

	buf, ok := p.module.Memory().Read(resPtr, resLen)
	if !ok {
		return nil, fmt.Errorf("%w: memory read out of bounds at ptr=%d len=%d", domain.ErrEmbeddingFailed, resPtr, resLen)
	}

	v := make([]float32, domain.EmbeddingDimensions)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	p.freeBytes(ctx, resPtr, resLen)

	return Normalize(v), nil
}

// writeBytes copies data into guest memory via the guest's malloc.
func (p *WASMProvider) writeBytes(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	results, err := p.module.ExportedFunction(guestMalloc).Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: malloc(%d): %v", domain.ErrEmbeddingFailed, len(data), err)
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, fmt.Errorf("%w: malloc returned null pointer", domain.ErrEmbeddingFailed)
	}
	ptr := uint32(results[0])
	if !p.module.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("%w: memory write out of bounds at ptr=%d len=%d", domain.ErrEmbeddingFailed, ptr, len(data))
	}
	return ptr, nil
}

// freeBytes releases guest memory; missing free export is tolerated.
func (p *WASMProvider) freeBytes(ctx context.Context, ptr, size uint32) {
	if ptr == 0 || size == 0 {
		return
	}
	free := p.module.ExportedFunction(guestFree)
	if free == nil {
		return
	}
	_, _ = free.Call(ctx, uint64(ptr), uint64(size))
}

// Close releases the runtime and module.
func (p *WASMProvider) Close(ctx context.Context) error {
	if p.runtime == nil {
		return nil
	}
	return p.runtime.Close(ctx)
}

// Dimensions implements domain.EmbeddingProvider.
func (p *WASMProvider) Dimensions() int { return domain.EmbeddingDimensions }

// Name implements domain.EmbeddingProvider.
func (p *WASMProvider) Name() string { return "wasm-local" }

// Normalize scales v to unit L2 norm. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*WASMProvider)(nil)
