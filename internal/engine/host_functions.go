package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/bytecodealliance/wasmtime-go/v25"

	"github.com/wavs-network/operator/internal/engine/sandbox"
	"github.com/wavs-network/operator/internal/logging"
	"github.com/wavs-network/operator/internal/types"
)

// Status codes returned by every "wavs" host call that can fail: all share
// the same out-param convention (see writeOut), so they share the same
// negative sentinel space too.
const (
	hostStatusDenied         int32 = -1
	hostStatusNotFound       int32 = -2
	hostStatusBufferTooShort int32 = -3
	hostStatusHostError      int32 = -4
)

const maxHTTPFetchResponseBytes = 1 << 20 // 1 MiB, guards a misbehaving remote

// guestMemory reads/writes a component's linear memory using the
// (ptr, len) convention every host import below shares: the guest passes a
// byte range it owns, and out-params are written into a caller-provided
// buffer the guest allocated via its own exported "alloc".
type guestMemory struct {
	caller *wasmtime.Caller
}

func (g guestMemory) mem() (*wasmtime.Memory, error) {
	ext := g.caller.GetExport("memory")
	if ext == nil || ext.Memory() == nil {
		return nil, fmt.Errorf("component does not export linear memory")
	}
	return ext.Memory(), nil
}

func (g guestMemory) read(ptr, length int32) ([]byte, error) {
	mem, err := g.mem()
	if err != nil {
		return nil, err
	}
	data := mem.UnsafeData(g.caller)
	if int(ptr) < 0 || int(ptr)+int(length) > len(data) {
		return nil, fmt.Errorf("guest pointer out of bounds")
	}
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out, nil
}

func (g guestMemory) write(ptr int32, b []byte) error {
	mem, err := g.mem()
	if err != nil {
		return err
	}
	data := mem.UnsafeData(g.caller)
	if int(ptr) < 0 || int(ptr)+len(b) > len(data) {
		return fmt.Errorf("guest pointer out of bounds")
	}
	copy(data[ptr:], b)
	return nil
}

// writeOut implements the two-call convention every variable-length "wavs"
// host call uses: pass outLenCap 0 to learn how many bytes the value needs
// (the return value, always >= 0), then call again with a buffer of at
// least that size to actually receive it. Returns hostStatusBufferTooShort
// if the guest's buffer is too small for a non-zero outLenCap.
func writeOut(gm guestMemory, outPtr, outLenCap int32, data []byte) int32 {
	if outLenCap == 0 {
		return int32(len(data))
	}
	if int32(len(data)) > outLenCap {
		return hostStatusBufferTooShort
	}
	if err := gm.write(outPtr, data); err != nil {
		return hostStatusHostError
	}
	return int32(len(data))
}

// hostHTTPResponse is the value threaded through the outbound-fetch circuit
// breaker and serialized back to the guest as JSON.
type hostHTTPResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

type hostHTTPRequest struct {
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

// defineHostFunctions wires the "wavs" host import module a component links
// against: logging, component_kv (get/set/delete/compare-and-swap),
// env/config lookup, and the HTTP capability (a presence gate plus the
// actual outbound fetch, circuit-broken per Engine so one misbehaving
// remote can't take down every component sharing it).
func (e *Engine) defineHostFunctions(ctx context.Context, linker *wasmtime.Linker, store *wasmtime.Store, host *sandbox.Host, component types.Component, service types.ServiceID, workflow types.WorkflowID) error {
	componentLog := logging.NewComponentLogger(string(service), string(workflow), component.Source.Digest.String())
	kv := e.store.KVFor(string(service), string(workflow))

	err := linker.FuncWrap("wavs", "log",
		func(caller *wasmtime.Caller, levelPtr, levelLen, msgPtr, msgLen int32) {
			if err := host.AllowLogging(); err != nil {
				return
			}
			gm := guestMemory{caller: caller}
			level, errL := gm.read(levelPtr, levelLen)
			msg, errM := gm.read(msgPtr, msgLen)
			if errL != nil || errM != nil {
				return
			}
			componentLog.Log(string(level), string(msg))
		},
	)
	if err != nil {
		return err
	}

	err = linker.FuncWrap("wavs", "env_get",
		func(caller *wasmtime.Caller, keyPtr, keyLen, outPtr, outLenCap int32) int32 {
			gm := guestMemory{caller: caller}
			key, err := gm.read(keyPtr, keyLen)
			if err != nil {
				return hostStatusHostError
			}
			if err := host.CheckEnv(string(key)); err != nil {
				return hostStatusDenied
			}
			value, ok := os.LookupEnv(string(key))
			if !ok {
				return hostStatusNotFound
			}
			return writeOut(gm, outPtr, outLenCap, []byte(value))
		},
	)
	if err != nil {
		return err
	}

	err = linker.FuncWrap("wavs", "config_get",
		func(caller *wasmtime.Caller, keyPtr, keyLen, outPtr, outLenCap int32) int32 {
			if err := host.AllowConfig(); err != nil {
				return hostStatusDenied
			}
			gm := guestMemory{caller: caller}
			key, err := gm.read(keyPtr, keyLen)
			if err != nil {
				return hostStatusHostError
			}
			value, ok := component.Config[string(key)]
			if !ok {
				return hostStatusNotFound
			}
			return writeOut(gm, outPtr, outLenCap, []byte(value))
		},
	)
	if err != nil {
		return err
	}

	err = linker.FuncWrap("wavs", "fs_check",
		func(caller *wasmtime.Caller) int32 {
			if err := host.CheckFilesystem(); err != nil {
				return hostStatusDenied
			}
			return 0
		},
	)
	if err != nil {
		return err
	}

	err = linker.FuncWrap("wavs", "http_check",
		func(caller *wasmtime.Caller, hostPtr, hostLen int32) int32 {
			gm := guestMemory{caller: caller}
			h, err := gm.read(hostPtr, hostLen)
			if err != nil {
				return hostStatusHostError
			}
			if err := host.CheckHTTP(string(h)); err != nil {
				return hostStatusDenied
			}
			return 0
		},
	)
	if err != nil {
		return err
	}

	err = linker.FuncWrap("wavs", "http_fetch",
		func(caller *wasmtime.Caller, reqPtr, reqLen, outPtr, outLenCap int32) int32 {
			gm := guestMemory{caller: caller}
			reqBytes, err := gm.read(reqPtr, reqLen)
			if err != nil {
				return hostStatusHostError
			}
			var req hostHTTPRequest
			if err := json.Unmarshal(reqBytes, &req); err != nil {
				return hostStatusHostError
			}
			parsed, err := url.Parse(req.URL)
			if err != nil {
				return hostStatusHostError
			}
			if err := host.CheckHTTP(parsed.Hostname()); err != nil {
				return hostStatusDenied
			}

			resp, err := e.doHTTPFetch(ctx, req)
			if err != nil {
				return hostStatusHostError
			}
			respBytes, err := json.Marshal(resp)
			if err != nil {
				return hostStatusHostError
			}
			return writeOut(gm, outPtr, outLenCap, respBytes)
		},
	)
	if err != nil {
		return err
	}

	err = linker.FuncWrap("wavs", "kv_get",
		func(caller *wasmtime.Caller, keyPtr, keyLen, outPtr, outLenCap int32) int32 {
			if err := host.AllowKV(); err != nil {
				return hostStatusDenied
			}
			gm := guestMemory{caller: caller}
			key, err := gm.read(keyPtr, keyLen)
			if err != nil {
				return hostStatusHostError
			}
			value, ok, err := kv.Get(string(key))
			if err != nil {
				return hostStatusHostError
			}
			if !ok {
				return hostStatusNotFound
			}
			return writeOut(gm, outPtr, outLenCap, value)
		},
	)
	if err != nil {
		return err
	}

	err = linker.FuncWrap("wavs", "kv_set",
		func(caller *wasmtime.Caller, keyPtr, keyLen, valPtr, valLen int32) int32 {
			if err := host.AllowKV(); err != nil {
				return hostStatusDenied
			}
			gm := guestMemory{caller: caller}
			key, errK := gm.read(keyPtr, keyLen)
			val, errV := gm.read(valPtr, valLen)
			if errK != nil || errV != nil {
				return hostStatusHostError
			}
			if err := kv.Set(string(key), val); err != nil {
				return hostStatusHostError
			}
			return 0
		},
	)
	if err != nil {
		return err
	}

	err = linker.FuncWrap("wavs", "kv_delete",
		func(caller *wasmtime.Caller, keyPtr, keyLen int32) int32 {
			if err := host.AllowKV(); err != nil {
				return hostStatusDenied
			}
			gm := guestMemory{caller: caller}
			key, err := gm.read(keyPtr, keyLen)
			if err != nil {
				return hostStatusHostError
			}
			if err := kv.Delete(string(key)); err != nil {
				return hostStatusHostError
			}
			return 0
		},
	)
	if err != nil {
		return err
	}

	// kv_cas returns 1 if the swap happened, 0 if the current value didn't
	// match oldValue, and a negative status on denial/error. A zero-length
	// oldValue/newValue pointer pair (len 0) means "key must not exist" /
	// "delete the key", matching ComponentKV.CompareAndSwap's nil
	// convention.
	err = linker.FuncWrap("wavs", "kv_cas",
		func(caller *wasmtime.Caller, keyPtr, keyLen, oldPtr, oldLen, newPtr, newLen int32) int32 {
			if err := host.AllowKV(); err != nil {
				return hostStatusDenied
			}
			gm := guestMemory{caller: caller}
			key, errK := gm.read(keyPtr, keyLen)
			if errK != nil {
				return hostStatusHostError
			}
			var oldValue, newValue []byte
			if oldLen > 0 {
				v, err := gm.read(oldPtr, oldLen)
				if err != nil {
					return hostStatusHostError
				}
				oldValue = v
			}
			if newLen > 0 {
				v, err := gm.read(newPtr, newLen)
				if err != nil {
					return hostStatusHostError
				}
				newValue = v
			}
			swapped, err := kv.CompareAndSwap(string(key), oldValue, newValue)
			if err != nil {
				return hostStatusHostError
			}
			if swapped {
				return 1
			}
			return 0
		},
	)
	if err != nil {
		return err
	}

	return nil
}

// doHTTPFetch performs the actual outbound request a granted component's
// http_fetch call triggers, behind a per-Engine circuit breaker so one
// unreachable remote host can't pile up retries across every component
// sharing this Engine. Grounded on infrastructure/resilience/resilience.go's
// sony/gobreaker wrapper, narrowed to exactly the Execute call this one
// call site needs.
func (e *Engine) doHTTPFetch(ctx context.Context, req hostHTTPRequest) (*hostHTTPResponse, error) {
	return e.httpBreaker.Execute(func() (*hostHTTPResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
		if err != nil {
			return nil, err
		}
		for k, vs := range req.Headers {
			for _, v := range vs {
				httpReq.Header.Add(k, v)
			}
		}

		resp, err := e.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPFetchResponseBytes))
		if err != nil {
			return nil, err
		}
		return &hostHTTPResponse{Status: resp.StatusCode, Headers: resp.Header, Body: body}, nil
	})
}

// runExport calls the component's "run" export with payload written into
// guest memory, and reads back the response the guest wrote at the
// pointer/length it returns. Trigger components and aggregator components
// share this calling convention; they differ only in what payload bytes
// mean and how the caller decodes the response.
func (e *Engine) runExport(store *wasmtime.Store, instance *wasmtime.Instance, payload []byte) ([]byte, error) {
	runFn := instance.GetExport(store, "run")
	if runFn == nil || runFn.Func() == nil {
		return nil, fmt.Errorf("component does not export \"run\"")
	}

	allocFn := instance.GetExport(store, "alloc")
	memExport := instance.GetExport(store, "memory")
	if allocFn == nil || allocFn.Func() == nil || memExport == nil || memExport.Memory() == nil {
		return nil, fmt.Errorf("component does not export \"alloc\"/\"memory\"")
	}

	ptrVal, err := allocFn.Func().Call(store, int32(len(payload)))
	if err != nil {
		return nil, err
	}
	ptr, ok := ptrVal.(int32)
	if !ok {
		return nil, fmt.Errorf("alloc did not return i32")
	}

	mem := memExport.Memory()
	data := mem.UnsafeData(store)
	if int(ptr)+len(payload) > len(data) {
		return nil, fmt.Errorf("guest allocation too small")
	}
	copy(data[ptr:], payload)

	result, err := runFn.Func().Call(store, ptr, int32(len(payload)))
	if err != nil {
		return nil, err
	}

	packed, ok := result.(int64)
	if !ok {
		return nil, fmt.Errorf("run did not return packed (ptr<<32|len)")
	}
	outPtr := int32(packed >> 32)
	outLen := int32(packed & 0xffffffff)

	data = mem.UnsafeData(store)
	if int(outPtr) < 0 || int(outPtr)+int(outLen) > len(data) {
		return nil, fmt.Errorf("guest returned out-of-bounds response")
	}
	out := make([]byte, outLen)
	copy(out, data[outPtr:outPtr+outLen])
	return out, nil
}

// encodeTriggerData is the wire format handed to every component on
// invocation: plain JSON over the full TriggerData record, so a component
// sees every field relevant to its trigger kind (block number, tx hash,
// topics, attributes, ...) rather than only the raw log/event payload.
// wasmtime-go's core API used here has no component-model record types to
// encode into instead.
func encodeTriggerData(t types.TriggerData) []byte {
	b, err := json.Marshal(t)
	if err != nil {
		// TriggerData has no unmarshalable fields (no channels, funcs,
		// cycles); a marshal failure here would be a programmer error, not
		// a runtime condition a component can react to.
		return nil
	}
	return b
}

// encodePacket is the wire format handed to aggregator components: plain
// JSON, matching the level of fidelity encodeTriggerData already settled
// for the wasmtime-go core API used here (no component-model record types).
func encodePacket(p types.Packet) ([]byte, error) {
	return json.Marshal(p)
}

// decodeAggregatorActions parses an aggregator component's response as a
// JSON array of AggregatorActions.
func decodeAggregatorActions(out []byte) ([]types.AggregatorAction, error) {
	if len(out) == 0 {
		return nil, nil
	}
	var actions []types.AggregatorAction
	if err := json.Unmarshal(out, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}
