// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/comm"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/kernels"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/transport"
)

// bridgeFixture is a full service surface over a mocked kernel runtime.
type bridgeFixture struct {
	router   *gin.Engine
	registry *kernels.Registry
	catalog  *kernels.Catalog
	proc     *kernels.MockProcess
}

func writeTestSpec(t *testing.T, dir, name string) {
	t.Helper()
	kernelDir := filepath.Join(dir, name)
	if err := os.MkdirAll(kernelDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	spec := `{"display_name":"Python 3","language":"python","argv":["python3","-f","{connection_file}"]}`
	if err := os.WriteFile(filepath.Join(kernelDir, "kernel.json"), []byte(spec), 0o644); err != nil {
		t.Fatalf("write kernel.json: %v", err)
	}
}

// fakeKernel echoes comm_open and answers RPCs with {"pong":true}.
func fakeKernel(end *transport.Pipe) {
	go func() {
		for {
			select {
			case env, ok := <-end.Recv():
				if !ok {
					return
				}
				switch env.MsgType {
				case comm.MessageTypeCommOpen:
					_ = end.Send(context.Background(), &comm.Envelope{
						MsgType: comm.MessageTypeCommOpen,
						CommID:  env.CommID,
						MsgID:   uuid.NewString(),
					})
				case comm.MessageTypeCommMsg:
					_ = end.Send(context.Background(), &comm.Envelope{
						MsgType:  comm.MessageTypeCommMsg,
						CommID:   env.CommID,
						MsgID:    uuid.NewString(),
						ParentID: env.MsgID,
						Data:     json.RawMessage(`{"jsonrpc":"2.0","result":{"pong":true}}`),
					})
				}
			case <-end.Done():
				return
			}
		}
	}()
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	specDir := t.TempDir()
	writeTestSpec(t, specDir, "python3")
	catalog, err := kernels.NewCatalog([]string{specDir}, nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	proc := kernels.NewMockProcess(777)
	pm := &kernels.MockProcessManager{
		StartFunc: func(ctx context.Context, argv, env []string, output io.Writer) (kernels.Process, error) {
			return proc, nil
		},
	}
	store, err := kernels.OpenStoreInMemory()
	if err != nil {
		t.Fatalf("OpenStoreInMemory: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := kernels.NewRegistry(kernels.RegistryConfig{
		Catalog:  catalog,
		Launcher: kernels.NewLauncher(pm, t.TempDir(), nil),
		Store:    store,
		ConnDir:  t.TempDir(),
		Connect: func(ctx context.Context, info kernels.ConnectionInfo) (comm.Transport, error) {
			bridgeEnd, kernelEnd := transport.NewPipe()
			fakeKernel(kernelEnd)
			return bridgeEnd, nil
		},
		StartTimeout:  5 * time.Second,
		ShutdownGrace: 100 * time.Millisecond,
	})

	router := gin.New()
	router.GET("/health", HealthCheck)
	v1 := router.Group("/v1")
	{
		v1.GET("/kernels", ListKernels(catalog))
		v1.POST("/kernels/refresh", RefreshKernels(catalog))
		v1.GET("/sessions", ListSessions(registry))
		v1.POST("/sessions", CreateSession(registry))
		v1.GET("/sessions/history", SessionHistory(registry))
		v1.GET("/sessions/:sessionId", GetSession(registry))
		v1.DELETE("/sessions/:sessionId", DeleteSession(registry))
		v1.POST("/sessions/:sessionId/interrupt", InterruptSession(registry))
		v1.GET("/sessions/:sessionId/channels/ws", HandleChannelBridge(registry))
	}
	return &bridgeFixture{router: router, registry: registry, catalog: catalog, proc: proc}
}

func (fx *bridgeFixture) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	fx := newBridgeFixture(t)
	rec := fx.request(t, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestListKernels(t *testing.T) {
	fx := newBridgeFixture(t)
	rec := fx.request(t, "GET", "/v1/kernels", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Kernels []struct {
			Name     string `json:"name"`
			Language string `json:"language"`
		} `json:"kernels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Kernels) != 1 || resp.Kernels[0].Name != "python3" {
		t.Errorf("kernels = %+v", resp.Kernels)
	}
}

func TestCreateSessionLifecycle(t *testing.T) {
	fx := newBridgeFixture(t)

	rec := fx.request(t, "POST", "/v1/sessions", `{"kernel":"python3"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var sess struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.State != "ready" {
		t.Errorf("state = %s, want ready", sess.State)
	}

	rec = fx.request(t, "GET", "/v1/sessions/"+sess.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	rec = fx.request(t, "GET", "/v1/sessions", "")
	if !strings.Contains(rec.Body.String(), sess.ID) {
		t.Errorf("session missing from list: %s", rec.Body.String())
	}

	rec = fx.request(t, "POST", "/v1/sessions/"+sess.ID+"/interrupt", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("interrupt status = %d, want 200", rec.Code)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		fx.proc.Exit(0)
	}()
	rec = fx.request(t, "DELETE", "/v1/sessions/"+sess.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = fx.request(t, "GET", "/v1/sessions/"+sess.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}

	rec = fx.request(t, "GET", "/v1/sessions/history", "")
	if !strings.Contains(rec.Body.String(), sess.ID) {
		t.Errorf("session missing from history: %s", rec.Body.String())
	}
}

func TestCreateSessionValidation(t *testing.T) {
	fx := newBridgeFixture(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "missing kernel", body: `{}`, want: http.StatusBadRequest},
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "path traversal", body: `{"kernel":"../evil"}`, want: http.StatusBadRequest},
		{name: "unknown kernel", body: `{"kernel":"fortran77"}`, want: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := fx.request(t, "POST", "/v1/sessions", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestSessionNotFoundResponses(t *testing.T) {
	fx := newBridgeFixture(t)
	for _, tc := range []struct{ method, path string }{
		{"GET", "/v1/sessions/ghost"},
		{"DELETE", "/v1/sessions/ghost"},
		{"POST", "/v1/sessions/ghost/interrupt"},
	} {
		rec := fx.request(t, tc.method, tc.path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
}

func TestRefreshKernels(t *testing.T) {
	fx := newBridgeFixture(t)
	rec := fx.request(t, "POST", "/v1/kernels/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
