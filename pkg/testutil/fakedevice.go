// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const (
	FakeDeviceUsername  = "admin"
	FakeDevicePassword  = "a10"
	fakeDeviceSignature = "0123456789abcdef"
	fakeDeviceBasePath  = "/axapi/v3"
)

// RecordedRequest is one call received by a FakeDevice
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	Body          map[string]interface{}
	FileName      string
	FileContent   string
}

type injectedFailure struct {
	method  string
	path    string
	status  int
	message string
	times   int
}

// FakeDevice is an in-memory aXAPI v3 appliance served over TLS. Objects are
// keyed by their resource URL: a POST to a collection stores the object under
// collection + "/" + name, PUT and DELETE address that key directly.
type FakeDevice struct {
	Server *httptest.Server

	mu       sync.Mutex
	objects  map[string]map[string]interface{}
	requests []RecordedRequest
	failures []*injectedFailure
	logoffs  int
	sessions int
}

// NewFakeDevice starts a fake appliance that is closed with the test
func NewFakeDevice(t *testing.T) *FakeDevice {
	t.Helper()

	f := &FakeDevice{objects: make(map[string]map[string]interface{})}
	f.Server = httptest.NewTLSServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Server.Close)
	return f
}

// Host returns the listener address without port
func (f *FakeDevice) Host() string {
	host, _, _ := net.SplitHostPort(f.Server.Listener.Addr().String())
	return host
}

// Port returns the listener port
func (f *FakeDevice) Port() int {
	_, port, _ := net.SplitHostPort(f.Server.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// HTTPClient returns a client trusting the fake's certificate
func (f *FakeDevice) HTTPClient() *http.Client {
	return f.Server.Client()
}

// FailOn makes the next n requests matching method and path answer with status
// and message. n <= 0 fails every matching request.
func (f *FakeDevice) FailOn(method, path string, status int, message string, n int) {
	if n < 0 {
		n = 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, &injectedFailure{
		method: method, path: fakeDeviceBasePath + path, status: status, message: message, times: n,
	})
}

// Put seeds an object at a resource path such as /slb/template/client-ssl/name
func (f *FakeDevice) Put(path string, obj map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[fakeDeviceBasePath+path] = obj
}

// Object returns the stored object at a resource path
func (f *FakeDevice) Object(path string) (map[string]interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[fakeDeviceBasePath+path]
	return obj, ok
}

// Requests returns the calls received so far, auth and logoff included
func (f *FakeDevice) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// RequestsTo returns the calls whose method and path match
func (f *FakeDevice) RequestsTo(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range f.Requests() {
		if r.Method == method && r.Path == fakeDeviceBasePath+path {
			out = append(out, r)
		}
	}
	return out
}

// ExpireSessions invalidates every signature handed out so far. Signed calls
// answer 401 until the client authenticates again.
func (f *FakeDevice) ExpireSessions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
}

func (f *FakeDevice) signature() string {
	if f.sessions == 0 {
		return fakeDeviceSignature
	}
	return fmt.Sprintf("%s-%d", fakeDeviceSignature, f.sessions)
}

// Logoffs returns how many sessions were closed
func (f *FakeDevice) Logoffs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logoffs
}

func (f *FakeDevice) handle(w http.ResponseWriter, r *http.Request) {
	rec, err := readRequest(r)
	if err != nil {
		writeDeviceError(w, http.StatusBadRequest, err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, rec)

	if status, msg, ok := f.injected(r.Method, r.URL.Path); ok {
		writeDeviceError(w, status, msg)
		return
	}

	switch r.URL.Path {
	case fakeDeviceBasePath + "/auth":
		creds, _ := rec.Body["credentials"].(map[string]interface{})
		if creds["username"] != FakeDeviceUsername || creds["password"] != FakeDevicePassword {
			writeDeviceError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"authresponse": map[string]interface{}{"signature": f.signature()},
		})
		return
	case fakeDeviceBasePath + "/logoff":
		f.logoffs++
		writeJSON(w, http.StatusOK, map[string]interface{}{"response": map[string]interface{}{"status": "OK"}})
		return
	}

	if rec.Authorization != "A10 "+f.signature() {
		writeDeviceError(w, http.StatusUnauthorized, "Invalid session ID")
		return
	}

	switch r.Method {
	case http.MethodPost:
		name, obj := objectName(rec.Body)
		if name == "" {
			writeDeviceError(w, http.StatusBadRequest, "object name is required")
			return
		}
		key := r.URL.Path + "/" + name
		if _, exists := f.objects[key]; exists {
			writeDeviceError(w, http.StatusBadRequest, "Object already exists")
			return
		}
		f.objects[key] = obj
		writeJSON(w, http.StatusOK, rec.Body)
	case http.MethodPut:
		if _, exists := f.objects[r.URL.Path]; !exists {
			writeDeviceError(w, http.StatusNotFound, "Object specified does not exist")
			return
		}
		_, obj := objectName(rec.Body)
		f.objects[r.URL.Path] = obj
		writeJSON(w, http.StatusOK, rec.Body)
	case http.MethodDelete:
		if _, exists := f.objects[r.URL.Path]; !exists {
			writeDeviceError(w, http.StatusNotFound, "Object specified does not exist")
			return
		}
		delete(f.objects, r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{"response": map[string]interface{}{"status": "OK"}})
	case http.MethodGet:
		obj, exists := f.objects[r.URL.Path]
		if !exists {
			writeDeviceError(w, http.StatusNotFound, "Object specified does not exist")
			return
		}
		writeJSON(w, http.StatusOK, obj)
	default:
		writeDeviceError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (f *FakeDevice) injected(method, path string) (int, string, bool) {
	for _, fail := range f.failures {
		if fail.method != method || fail.path != path || fail.times == -1 {
			continue
		}
		if fail.times > 0 {
			fail.times--
			if fail.times == 0 {
				fail.times = -1
			}
		}
		return fail.status, fail.message, true
	}
	return 0, "", false
}

// objectName returns the device name of a {"kind": {...}} body and its payload.
// Virtual ports are keyed as {port-number}+{protocol}, files by "file".
func objectName(body map[string]interface{}) (string, map[string]interface{}) {
	for _, v := range body {
		obj, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if num, ok := obj["port-number"].(float64); ok {
			proto, _ := obj["protocol"].(string)
			return fmt.Sprintf("%d+%s", int(num), proto), obj
		}
		if name, ok := obj["name"].(string); ok {
			return name, obj
		}
		if file, ok := obj["file"].(string); ok {
			return file, obj
		}
		return "", obj
	}
	return "", nil
}

func readRequest(r *http.Request) (RecordedRequest, error) {
	rec := RecordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
	}

	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return rec, err
			}
			data, err := io.ReadAll(part)
			if err != nil {
				return rec, err
			}
			switch part.FormName() {
			case "json":
				if err := json.Unmarshal(data, &rec.Body); err != nil {
					return rec, err
				}
			case "file":
				rec.FileName = part.FileName()
				rec.FileContent = string(data)
			}
		}
		return rec, nil
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return rec, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Body); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDeviceError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"response": map[string]interface{}{
			"status": "fail",
			"err":    map[string]interface{}{"code": 1023460352, "msg": msg},
		},
	})
}
