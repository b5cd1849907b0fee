package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"github.com/stretchr/testify/require"

	"github.com/wavs-network/operator/internal/storage"
	"github.com/wavs-network/operator/internal/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "wavs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e, err := New(Config{
		ModuleCacheSize:         8,
		DefaultFuelLimit:        10_000_000,
		DefaultTimeLimitSeconds: 5,
		ScratchDir:              filepath.Join(t.TempDir(), "scratch"),
	}, store)
	require.NoError(t, err)
	return e
}

func compileWat(t *testing.T, wat string) []byte {
	t.Helper()
	wasm, err := wasmtime.Wat2Wasm(wat)
	require.NoError(t, err)
	return wasm
}

// queryWat builds a component exporting run(ptr,len) that passes its whole
// input as the key/request to a single "wavs" host import of the
// (keyPtr,keyLen,outPtr,outLenCap)->i32 shape, and returns a response whose
// first 4 bytes are the little-endian status and whose remainder (when
// status >= 0) is whatever the host wrote into the out buffer — this is
// the same layout env_get, config_get, and http_fetch share.
func queryWat(importName string) string {
	return fmt.Sprintf(`(module
  (import "wavs" %q (func $call (param i32 i32 i32 i32) (result i32)))
  (memory (export "memory") 2)
  (func (export "alloc") (param i32) (result i32)
    i32.const 1024)
  (func (export "run") (param i32 i32) (result i64)
    (local $status i32)
    (local $len i32)
    (local.set $status (call $call (local.get 0) (local.get 1) (i32.const 2048) (i32.const 256)))
    (i32.store (i32.const 2044) (local.get $status))
    (local.set $len (i32.const 4))
    (if (i32.ge_s (local.get $status) (i32.const 0))
      (then (local.set $len (i32.add (i32.const 4) (local.get $status)))))
    (i64.or
      (i64.shl (i64.const 2044) (i64.const 32))
      (i64.extend_i32_u (local.get $len))))
)`, importName)
}

// parseStatusAndValue splits a queryWat-shaped response into its status code
// and (when non-negative) the value the host wrote back.
func parseStatusAndValue(t *testing.T, resp []byte) (int32, []byte) {
	t.Helper()
	require.GreaterOrEqual(t, len(resp), 4)
	status := int32(binary.LittleEndian.Uint32(resp[:4]))
	if status < 0 {
		return status, nil
	}
	require.Len(t, resp[4:], int(status))
	return status, resp[4:]
}

func rawTrigger(data string) types.TriggerData {
	return types.TriggerData{Kind: types.TriggerDataRaw, Data: []byte(data)}
}

func TestEngine_EnvGet_AllowedAndPresent(t *testing.T) {
	t.Setenv("WAVS_TEST_ENV_VAR", "hello-from-host")

	e := newTestEngine(t)
	component := types.Component{
		Source:      types.ComponentSource{Kind: types.ComponentSourceBytecode, Bytecode: compileWat(t, queryWat("env_get"))},
		Permissions: types.Permissions{EnvKeys: []string{"WAVS_TEST_ENV_VAR"}},
	}

	resp, err := e.Invoke(context.Background(), "svc-1", "wf-1", component, rawTrigger("WAVS_TEST_ENV_VAR"))
	require.NoError(t, err)

	status, value := parseStatusAndValue(t, resp.Payload)
	require.Equal(t, int32(len("hello-from-host")), status)
	require.Equal(t, "hello-from-host", string(value))
}

func TestEngine_EnvGet_DeniedWhenNotAllowlisted(t *testing.T) {
	t.Setenv("WAVS_TEST_ENV_VAR", "hello-from-host")

	e := newTestEngine(t)
	component := types.Component{
		Source:      types.ComponentSource{Kind: types.ComponentSourceBytecode, Bytecode: compileWat(t, queryWat("env_get"))},
		Permissions: types.Permissions{}, // no EnvKeys granted
	}

	resp, err := e.Invoke(context.Background(), "svc-1", "wf-1", component, rawTrigger("WAVS_TEST_ENV_VAR"))
	require.NoError(t, err)

	status, _ := parseStatusAndValue(t, resp.Payload)
	require.Equal(t, hostStatusDenied, status)
}

func TestEngine_EnvGet_NotFound(t *testing.T) {
	e := newTestEngine(t)
	component := types.Component{
		Source:      types.ComponentSource{Kind: types.ComponentSourceBytecode, Bytecode: compileWat(t, queryWat("env_get"))},
		Permissions: types.Permissions{EnvKeys: []string{"WAVS_DOES_NOT_EXIST"}},
	}

	resp, err := e.Invoke(context.Background(), "svc-1", "wf-1", component, rawTrigger("WAVS_DOES_NOT_EXIST"))
	require.NoError(t, err)

	status, _ := parseStatusAndValue(t, resp.Payload)
	require.Equal(t, hostStatusNotFound, status)
}

func TestEngine_ConfigGet_ReturnsComponentConfigValue(t *testing.T) {
	e := newTestEngine(t)
	component := types.Component{
		Source: types.ComponentSource{Kind: types.ComponentSourceBytecode, Bytecode: compileWat(t, queryWat("config_get"))},
		Config: map[string]string{"threshold": "42"},
	}

	resp, err := e.Invoke(context.Background(), "svc-1", "wf-1", component, rawTrigger("threshold"))
	require.NoError(t, err)

	status, value := parseStatusAndValue(t, resp.Payload)
	require.Equal(t, int32(len("42")), status)
	require.Equal(t, "42", string(value))
}

const fsCheckWat = `(module
  (import "wavs" "fs_check" (func $fs_check (result i32)))
  (memory (export "memory") 1)
  (func (export "alloc") (param i32) (result i32)
    i32.const 1024)
  (func (export "run") (param i32 i32) (result i64)
    (local $status i32)
    (local.set $status (call $fs_check))
    (i32.store (i32.const 2044) (local.get $status))
    (i64.or
      (i64.shl (i64.const 2044) (i64.const 32))
      (i64.const 4)))
)`

func TestEngine_FilesystemCapability_DeniedByDefault(t *testing.T) {
	e := newTestEngine(t)
	component := types.Component{
		Source: types.ComponentSource{Kind: types.ComponentSourceBytecode, Bytecode: compileWat(t, fsCheckWat)},
	}

	resp, err := e.Invoke(context.Background(), "svc-1", "wf-1", component, rawTrigger(""))
	require.NoError(t, err)
	status, _ := parseStatusAndValue(t, resp.Payload)
	require.Equal(t, hostStatusDenied, status)
}

func TestEngine_FilesystemCapability_AllowedPreopensScratchDir(t *testing.T) {
	e := newTestEngine(t)
	component := types.Component{
		Source:      types.ComponentSource{Kind: types.ComponentSourceBytecode, Bytecode: compileWat(t, fsCheckWat)},
		Permissions: types.Permissions{Filesystem: true},
	}

	resp, err := e.Invoke(context.Background(), "svc-1", "wf-1", component, rawTrigger(""))
	require.NoError(t, err)
	status, _ := parseStatusAndValue(t, resp.Payload)
	require.Equal(t, int32(0), status)

	// The grant must also have materialized a real, per-(service,workflow)
	// scratch directory on the host, since fs_check gates the WASI preopen
	// this capability actually performs, not just a boolean.
	dir, err := e.componentScratchDir("svc-1", "wf-1")
	require.NoError(t, err)
	require.DirExists(t, dir)

	otherDir, err := e.componentScratchDir("svc-1", "wf-2")
	require.NoError(t, err)
	require.NotEqual(t, dir, otherDir)
}

func TestEngine_HTTPFetch_PerformsRealOutboundRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	reqJSON := fmt.Sprintf(`{"method":"GET","url":%q}`, srv.URL+"/ok")
	watSrc := fmt.Sprintf(`(module
  (import "wavs" "http_fetch" (func $http_fetch (param i32 i32 i32 i32) (result i32)))
  (memory (export "memory") 2)
  (data (i32.const 3000) "%s")
  (func (export "alloc") (param i32) (result i32)
    i32.const 1024)
  (func (export "run") (param i32 i32) (result i64)
    (local $status i32)
    (local $len i32)
    (local.set $status (call $http_fetch (i32.const 3000) (i32.const %d) (i32.const 5000) (i32.const 2048)))
    (i32.store (i32.const 4996) (local.get $status))
    (local.set $len (i32.const 4))
    (if (i32.ge_s (local.get $status) (i32.const 0))
      (then (local.set $len (i32.add (i32.const 4) (local.get $status)))))
    (i64.or
      (i64.shl (i64.const 4996) (i64.const 32))
      (i64.extend_i32_u (local.get $len))))
)`, strings.ReplaceAll(reqJSON, `"`, `\"`), len(reqJSON))

	e := newTestEngine(t)
	component := types.Component{
		Source:      types.ComponentSource{Kind: types.ComponentSourceBytecode, Bytecode: compileWat(t, watSrc)},
		Permissions: types.Permissions{HTTPAllowAll: true},
	}

	resp, err := e.Invoke(context.Background(), "svc-1", "wf-1", component, rawTrigger(""))
	require.NoError(t, err)

	status, value := parseStatusAndValue(t, resp.Payload)
	require.Greater(t, status, int32(0))

	var got hostHTTPResponse
	require.NoError(t, json.Unmarshal(value, &got))
	require.Equal(t, http.StatusOK, got.Status)
	require.Contains(t, string(got.Body), `"ok":true`)
}

func TestEngine_HTTPFetch_DeniedHostNeverDials(t *testing.T) {
	reqJSON := `{"method":"GET","url":"http://127.0.0.1:1/unreachable"}`
	watSrc := fmt.Sprintf(`(module
  (import "wavs" "http_fetch" (func $http_fetch (param i32 i32 i32 i32) (result i32)))
  (memory (export "memory") 2)
  (data (i32.const 3000) "%s")
  (func (export "alloc") (param i32) (result i32)
    i32.const 1024)
  (func (export "run") (param i32 i32) (result i64)
    (local $status i32)
    (local.set $status (call $http_fetch (i32.const 3000) (i32.const %d) (i32.const 5000) (i32.const 2048)))
    (i32.store (i32.const 4996) (local.get $status))
    (i64.or
      (i64.shl (i64.const 4996) (i64.const 32))
      (i64.const 4)))
)`, strings.ReplaceAll(reqJSON, `"`, `\"`), len(reqJSON))

	e := newTestEngine(t)
	component := types.Component{
		Source:      types.ComponentSource{Kind: types.ComponentSourceBytecode, Bytecode: compileWat(t, watSrc)},
		Permissions: types.Permissions{HTTPAllowHosts: []string{"api.example.com"}},
	}

	resp, err := e.Invoke(context.Background(), "svc-1", "wf-1", component, rawTrigger(""))
	require.NoError(t, err)
	status, _ := parseStatusAndValue(t, resp.Payload)
	require.Equal(t, hostStatusDenied, status)
}

const kvRoundTripWat = `(module
  (import "wavs" "kv_set" (func $kv_set (param i32 i32 i32 i32) (result i32)))
  (import "wavs" "kv_get" (func $kv_get (param i32 i32 i32 i32) (result i32)))
  (import "wavs" "kv_cas" (func $kv_cas (param i32 i32 i32 i32 i32 i32) (result i32)))
  (import "wavs" "kv_delete" (func $kv_delete (param i32 i32) (result i32)))
  (memory (export "memory") 2)
  (data (i32.const 3000) "counter")
  (data (i32.const 3010) "1")
  (data (i32.const 3020) "2")
  (func (export "alloc") (param i32) (result i32)
    i32.const 1024)
  (func (export "run") (param i32 i32) (result i64)
    (i32.store (i32.const 5000) (call $kv_set (i32.const 3000) (i32.const 7) (i32.const 3010) (i32.const 1)))
    (i32.store (i32.const 5004) (call $kv_get (i32.const 3000) (i32.const 7) (i32.const 4000) (i32.const 64)))
    (i32.store (i32.const 5008) (call $kv_cas (i32.const 3000) (i32.const 7) (i32.const 3010) (i32.const 1) (i32.const 3020) (i32.const 1)))
    (i32.store (i32.const 5012) (call $kv_get (i32.const 3000) (i32.const 7) (i32.const 4100) (i32.const 64)))
    (i32.store (i32.const 5016) (call $kv_delete (i32.const 3000) (i32.const 7)))
    (i32.store (i32.const 5020) (call $kv_get (i32.const 3000) (i32.const 7) (i32.const 4200) (i32.const 64)))
    (i64.or
      (i64.shl (i64.const 5000) (i64.const 32))
      (i64.const 24)))
)`

func TestEngine_KVCapability_SetGetCasDeleteRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	component := types.Component{
		Source: types.ComponentSource{Kind: types.ComponentSourceBytecode, Bytecode: compileWat(t, kvRoundTripWat)},
	}

	resp, err := e.Invoke(context.Background(), "svc-1", "wf-1", component, rawTrigger(""))
	require.NoError(t, err)
	require.Len(t, resp.Payload, 24)

	statuses := make([]int32, 6)
	for i := range statuses {
		statuses[i] = int32(binary.LittleEndian.Uint32(resp.Payload[i*4 : i*4+4]))
	}

	require.Equal(t, int32(0), statuses[0], "kv_set")
	require.Equal(t, int32(1), statuses[1], "kv_get after set sees len(\"1\")=1")
	require.Equal(t, int32(1), statuses[2], "kv_cas swaps when old value matches")
	require.Equal(t, int32(1), statuses[3], "kv_get after cas sees len(\"2\")=1")
	require.Equal(t, int32(0), statuses[4], "kv_delete")
	require.Equal(t, hostStatusNotFound, statuses[5], "kv_get after delete")
}

func TestEngine_KVCapability_ScopedPerServiceWorkflow(t *testing.T) {
	e := newTestEngine(t)
	component := types.Component{
		Source: types.ComponentSource{Kind: types.ComponentSourceBytecode, Bytecode: compileWat(t, kvRoundTripWat)},
	}

	_, err := e.Invoke(context.Background(), "svc-1", "wf-1", component, rawTrigger(""))
	require.NoError(t, err)

	// A different workflow sees a disjoint bucket: its own "counter" key is
	// untouched by the first invocation's set/cas/delete sequence above.
	kv := e.store.KVFor("svc-1", "wf-2")
	_, ok, err := kv.Get("counter")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEngine_FuelExhaustion_TrapsInvocation(t *testing.T) {
	// An infinite loop burns fuel until wasmtime traps with OutOfFuel.
	const loopWat = `(module
  (memory (export "memory") 1)
  (func (export "alloc") (param i32) (result i32)
    i32.const 1024)
  (func (export "run") (param i32 i32) (result i64)
    (loop $forever
      (br $forever))
    (i64.const 0))
)`
	e := newTestEngine(t)
	component := types.Component{
		Source:    types.ComponentSource{Kind: types.ComponentSourceBytecode, Bytecode: compileWat(t, loopWat)},
		FuelLimit: 1000,
	}

	_, err := e.Invoke(context.Background(), "svc-1", "wf-1", component, rawTrigger(""))
	require.Error(t, err)
}
