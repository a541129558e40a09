// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/comm"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/datatypes"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/observability"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/transport"
)

// =============================================================================
// Sessions
// =============================================================================

// ErrUnknownKernel is returned when a session references a kernelspec the
// catalog does not have.
var ErrUnknownKernel = errors.New("kernels: unknown kernel")

// Session is one running kernel with its transport, dispatcher and the
// comm channels opened on it.
type Session struct {
	ID        string
	Kernel    string
	StartedAt time.Time
	LogPath   string

	proc       *KernelProcess
	transport  comm.Transport
	dispatcher *comm.Dispatcher
	logger     *slog.Logger

	// done is closed by the exit watcher after the final session record
	// has been persisted.
	done chan struct{}

	mu       sync.Mutex
	state    datatypes.SessionState
	exitCode *int
	endedAt  *time.Time
	clients  map[string]*comm.Client
}

// State returns the session lifecycle state.
func (s *Session) State() datatypes.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChannelCount returns how many comm channels the session tracks.
func (s *Session) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Record returns the persistable view of the session.
func (s *Session) Record() datatypes.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := datatypes.SessionRecord{
		ID:        s.ID,
		Kernel:    s.Kernel,
		State:     s.state,
		LogPath:   s.LogPath,
		StartedAt: s.StartedAt,
		ExitCode:  s.exitCode,
		EndedAt:   s.endedAt,
	}
	return rec
}

// OpenClient creates and opens a comm channel on this session.
//
// The open handshake is bounded by the client's open timeout; the error
// from Open is surfaced unchanged (no retries — the caller decides).
func (s *Session) OpenClient(ctx context.Context, opts comm.ClientOptions) (*comm.Client, error) {
	if s.State() != datatypes.SessionReady {
		return nil, fmt.Errorf("kernels: session %s is %s", s.ID, s.State())
	}
	if opts.Logger == nil {
		opts.Logger = s.logger
	}
	client := comm.NewClient(s.dispatcher, opts)
	s.mu.Lock()
	s.clients[client.ID()] = client
	s.mu.Unlock()
	if err := client.Open(ctx); err != nil {
		s.mu.Lock()
		delete(s.clients, client.ID())
		s.mu.Unlock()
		return nil, err
	}
	// Reap the bookkeeping entry when the channel dies, however it dies.
	go func() {
		<-client.Done()
		s.mu.Lock()
		delete(s.clients, client.ID())
		s.mu.Unlock()
	}()
	return client, nil
}

// Client looks up an open channel by comm id.
func (s *Session) Client(commID string) (*comm.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[commID]
	return c, ok
}

func (s *Session) setState(state datatypes.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) closeAllClients() {
	s.mu.Lock()
	clients := make([]*comm.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.Close()
	}
}

// =============================================================================
// Registry
// =============================================================================

// ConnectFn establishes the message transport for a freshly launched
// kernel. The default implementation waits for the kernel's endpoint to
// accept connections, then performs a single signed WebSocket dial.
type ConnectFn func(ctx context.Context, info ConnectionInfo) (comm.Transport, error)

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	Catalog  *Catalog
	Launcher *Launcher
	Store    *Store

	// Connect may be overridden in tests. Defaults to DialKernel.
	Connect ConnectFn

	// ConnDir is where connection files are written.
	ConnDir string

	// StartTimeout bounds kernel start (launch + transport connect).
	// Defaults to 30s.
	StartTimeout time.Duration

	// ShutdownGrace is how long Shutdown waits after SIGTERM before
	// escalating to SIGKILL. Defaults to 5s.
	ShutdownGrace time.Duration

	Logger *slog.Logger
}

// Registry maps session handles to running kernel sessions.
//
// Registration and unregistration are plain map operations under a mutex;
// starting a session delegates to the launcher and transport connect, and
// the ready result is awaited by the caller.
type Registry struct {
	cfg RegistryConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Connect == nil {
		cfg.Connect = DialKernel
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	return &Registry{cfg: cfg, sessions: make(map[string]*Session)}
}

// StartSession launches the named kernel and waits for its transport to
// connect. The session is registered and persisted before the caller gets
// it back.
func (r *Registry) StartSession(ctx context.Context, kernelName string) (*Session, error) {
	spec, ok := r.cfg.Catalog.Get(kernelName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKernel, kernelName)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StartTimeout)
	defer cancel()

	id := uuid.NewString()
	info, err := NewConnectionInfo()
	if err != nil {
		return nil, err
	}
	connFile, err := WriteConnectionFile(r.cfg.ConnDir, id, info)
	if err != nil {
		return nil, err
	}

	proc, err := r.cfg.Launcher.Launch(ctx, spec, id, connFile)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        id,
		Kernel:    kernelName,
		StartedAt: time.Now().UTC(),
		LogPath:   proc.LogPath,
		proc:      proc,
		logger:    r.cfg.Logger.With("session_id", id, "kernel", kernelName),
		done:      make(chan struct{}),
		state:     datatypes.SessionStarting,
		clients:   make(map[string]*comm.Client),
	}
	r.persist(sess)

	tr, err := r.cfg.Connect(ctx, info)
	if err != nil {
		sess.logger.Error("kernel transport connect failed", "error", err)
		_ = proc.Signal(syscall.SIGKILL)
		sess.setState(datatypes.SessionExited)
		r.persist(sess)
		return nil, fmt.Errorf("kernels: connect to kernel: %w", err)
	}

	sess.transport = tr
	sess.dispatcher = comm.NewDispatcher(tr, sess.logger)
	go sess.dispatcher.Run()
	sess.setState(datatypes.SessionReady)

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()
	r.persist(sess)
	observability.DefaultMetrics.SessionsActive.Inc()

	go r.watchExit(sess)
	sess.logger.Info("session ready", "pid", proc.Pid())
	return sess, nil
}

// Get returns a live session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// List returns all live sessions.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// Interrupt delivers SIGINT to the session's kernel process.
func (r *Registry) Interrupt(id string) error {
	sess, ok := r.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	return sess.proc.Signal(os.Interrupt)
}

// Shutdown stops a session: channels are closed, the transport is torn
// down, and the process gets SIGTERM with a SIGKILL escalation after the
// grace period.
//
// The exit watcher is the sole receiver of the process exit; Shutdown
// waits on the session's done channel, which closes only after the final
// record (exit code and end time included) has been persisted.
func (r *Registry) Shutdown(ctx context.Context, id string) error {
	sess, ok := r.Get(id)
	if !ok {
		return ErrSessionNotFound
	}

	sess.closeAllClients()
	_ = sess.transport.Close()
	// Mark before signaling so the exit watcher knows this is deliberate.
	sess.setState(datatypes.SessionShutdown)
	_ = sess.proc.Signal(syscall.SIGTERM)

	grace := time.NewTimer(r.cfg.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-sess.done:
	case <-grace.C:
		sess.logger.Warn("kernel ignored SIGTERM, escalating to SIGKILL")
		_ = sess.proc.Signal(syscall.SIGKILL)
		select {
		case <-sess.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	r.unregister(sess)
	return nil
}

// Records returns the persisted history of sessions, including ones from
// earlier bridge runs.
func (r *Registry) Records() ([]datatypes.SessionRecord, error) {
	if r.cfg.Store == nil {
		return nil, nil
	}
	return r.cfg.Store.List()
}

// watchExit is the sole receiver of the process exit. For a requested
// shutdown it persists the exit record and signals the waiting Shutdown;
// for an unsolicited exit it additionally closes the transport, which
// shuts the dispatcher down and drives every open channel to Closed with
// a transport-loss notification.
func (r *Registry) watchExit(sess *Session) {
	defer close(sess.done)
	code := <-sess.proc.Exited()
	if sess.State() == datatypes.SessionShutdown {
		r.persistExit(sess, code)
		return
	}
	sess.logger.Warn("kernel process exited", "exit_code", code)
	observability.DefaultMetrics.KernelExitsTotal.WithLabelValues(sess.Kernel).Inc()
	_ = sess.transport.Close()
	sess.setState(datatypes.SessionExited)
	r.persistExit(sess, code)
	r.unregister(sess)
}

func (r *Registry) unregister(sess *Session) {
	r.mu.Lock()
	_, live := r.sessions[sess.ID]
	delete(r.sessions, sess.ID)
	r.mu.Unlock()
	if live {
		observability.DefaultMetrics.SessionsActive.Dec()
	}
	r.persist(sess)
}

func (r *Registry) persist(sess *Session) {
	if r.cfg.Store == nil {
		return
	}
	if err := r.cfg.Store.Put(sess.Record()); err != nil {
		sess.logger.Error("failed to persist session record", "error", err)
	}
}

func (r *Registry) persistExit(sess *Session, code int) {
	now := time.Now().UTC()
	sess.mu.Lock()
	sess.exitCode = &code
	sess.endedAt = &now
	sess.mu.Unlock()
	r.persist(sess)
}

// =============================================================================
// Default transport connect
// =============================================================================

// endpointPollInterval paces the wait for a starting kernel's endpoint.
const endpointPollInterval = 100 * time.Millisecond

// DialKernel waits for the kernel's endpoint to start accepting
// connections, then performs a single signed WebSocket dial. The wait is
// bounded by ctx; the dial itself is not retried.
func DialKernel(ctx context.Context, info ConnectionInfo) (comm.Transport, error) {
	addr := fmt.Sprintf("%s:%d", info.IP, info.Port)
	if err := waitForEndpoint(ctx, addr); err != nil {
		return nil, err
	}
	key, err := info.KeyBytes()
	if err != nil {
		return nil, err
	}
	signer := transport.NewSigner(key)
	return transport.DialWebSocket(ctx, info.URL(), signer, nil)
}

func waitForEndpoint(ctx context.Context, addr string) error {
	ticker := time.NewTicker(endpointPollInterval)
	defer ticker.Stop()
	for {
		conn, err := net.DialTimeout("tcp", addr, endpointPollInterval)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("kernels: kernel endpoint %s never came up: %w", addr, ctx.Err())
		}
	}
}
