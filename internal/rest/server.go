// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pbinitiative/zenengine/internal/config"
	"github.com/pbinitiative/zenengine/internal/log"
	"github.com/pbinitiative/zenengine/internal/otel"
	"github.com/pbinitiative/zenengine/internal/rest/middleware"
	"github.com/pbinitiative/zenengine/pkg/bpmn"
	"github.com/pbinitiative/zenengine/pkg/ptr"
	"github.com/pbinitiative/zenengine/pkg/storage"
)

type Server struct {
	engine  *bpmn.Engine
	addr    string
	handler http.Handler
	server  *http.Server
}

func NewServer(engine *bpmn.Engine, conf config.Config, requests *otel.RequestMetrics) *Server {
	r := chi.NewRouter()
	s := Server{
		engine:  engine,
		addr:    conf.Server.Addr,
		handler: r,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              conf.Server.Addr,
		},
	}
	r.Use(middleware.Cors())
	r.Use(middleware.CorrelationId())
	r.Use(middleware.Opentelemetry(conf, requests))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/process-definitions/{processId}", s.getProcessDefinitions)
		r.Post("/process-instances", s.startProcessInstance)
		r.Get("/process-instances/{key}", s.getProcessInstance)
		r.Delete("/process-instances/{key}", s.abortProcessInstance)
		r.Post("/process-instances/{key}/suspend", s.suspendProcessInstance)
		r.Post("/process-instances/{key}/resume", s.resumeProcessInstance)
		r.Post("/signals", s.signal)
		r.Post("/messages", s.message)
		r.Get("/work-items", s.getWorkItems)
		r.Post("/work-items/{key}/complete", s.completeWorkItem)
	})
	// register system endpoints
	r.Route("/system", func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJson(w, http.StatusOK, map[string]string{"name": engine.Name(), "status": "UP"})
		})
	})
	return &s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	log.Info("ZenEngine REST server listening on %s", listener.Addr())
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Error starting server: %s", err)
		}
	}()
	return listener, nil
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Error("Error stopping server: %s", err)
	}
}

func (s *Server) getProcessDefinitions(w http.ResponseWriter, r *http.Request) {
	definitions, err := s.engine.FindProcessesById(r.Context(), chi.URLParam(r, "processId"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if len(definitions) == 0 {
		writeError(w, r, http.StatusNotFound, ApiError{Message: "process definition not found", Type: "NOT_FOUND"})
		return
	}
	res := make([]ProcessDefinition, 0, len(definitions))
	for _, def := range definitions {
		res = append(res, toProcessDefinition(def))
	}
	writeJson(w, http.StatusOK, res)
}

func (s *Server) startProcessInstance(w http.ResponseWriter, r *http.Request) {
	var req StartProcessRequest
	if !readJson(w, r, &req) {
		return
	}
	if req.ProcessId == "" {
		writeError(w, r, http.StatusBadRequest, ApiError{Message: "processId is required", Type: "BAD_REQUEST"})
		return
	}
	instance, err := s.engine.StartProcess(r.Context(), req.ProcessId, ptr.Deref(req.Variables, map[string]any{}))
	var fault *bpmn.ExecutionFaultError
	if err != nil && !errors.As(err, &fault) {
		s.writeEngineError(w, r, err)
		return
	}
	// an instance that ended in ERROR is still reported, its state tells the client
	writeJson(w, http.StatusCreated, toProcessInstance(instance))
}

func (s *Server) getProcessInstance(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	instance, err := s.engine.FindProcessInstance(r.Context(), key)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, toProcessInstance(instance))
}

func (s *Server) abortProcessInstance(w http.ResponseWriter, r *http.Request) {
	s.onInstance(w, r, s.engine.AbortProcessInstance)
}

func (s *Server) suspendProcessInstance(w http.ResponseWriter, r *http.Request) {
	s.onInstance(w, r, s.engine.SuspendProcessInstance)
}

func (s *Server) resumeProcessInstance(w http.ResponseWriter, r *http.Request) {
	s.onInstance(w, r, s.engine.ResumeProcessInstance)
}

func (s *Server) onInstance(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, key int64) error) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), key); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	instance, err := s.engine.FindProcessInstance(r.Context(), key)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, toProcessInstance(instance))
}

func (s *Server) signal(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !readJson(w, r, &req) || !requireName(w, r, req) {
		return
	}
	var (
		triggered int
		err       error
	)
	if req.ProcessInstanceKey != nil {
		triggered, err = s.engine.SignalEventOnInstance(r.Context(), *req.ProcessInstanceKey, req.Name, req.Payload)
	} else {
		triggered, err = s.engine.SignalEvent(r.Context(), req.Name, req.Payload)
	}
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, SignalResponse{Triggered: triggered})
}

func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !readJson(w, r, &req) || !requireName(w, r, req) {
		return
	}
	delivered, err := s.engine.SendMessage(r.Context(), req.Name, req.Payload, ptr.Deref(req.ProcessInstanceKey, 0))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, MessageResponse{Delivered: delivered})
}

func (s *Server) getWorkItems(w http.ResponseWriter, r *http.Request) {
	var processInstanceKey int64
	if raw := r.URL.Query().Get("processInstanceKey"); raw != "" {
		key, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, ApiError{Message: fmt.Sprintf("invalid processInstanceKey %s", raw), Type: "BAD_REQUEST"})
			return
		}
		processInstanceKey = key
	}
	items := s.engine.PendingWorkItems(processInstanceKey)
	res := make([]WorkItem, 0, len(items))
	for _, item := range items {
		res = append(res, toWorkItem(item))
	}
	writeJson(w, http.StatusOK, res)
}

func (s *Server) completeWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var req CompleteWorkItemRequest
	if r.ContentLength != 0 && !readJson(w, r, &req) {
		return
	}
	err := s.engine.CompleteWorkItem(r.Context(), key, ptr.Deref(req.Variables, nil))
	var fault *bpmn.ExecutionFaultError
	if err != nil && !errors.As(err, &fault) {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, bpmn.ErrInstanceNotFound), errors.Is(err, bpmn.ErrWorkItemNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, ApiError{Message: err.Error(), Type: "NOT_FOUND"})
	case errors.Is(err, bpmn.ErrInstanceTerminated), errors.Is(err, bpmn.ErrInstanceSuspended):
		writeError(w, r, http.StatusConflict, ApiError{Message: err.Error(), Type: "CONFLICT"})
	default:
		var engineErr *bpmn.BpmnEngineError
		if errors.As(err, &engineErr) {
			writeError(w, r, http.StatusBadRequest, ApiError{Message: err.Error(), Type: "BAD_REQUEST"})
			return
		}
		writeError(w, r, http.StatusInternalServerError, ApiError{Message: err.Error(), Type: "ERROR"})
	}
}

func keyParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "key")
	key, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ApiError{Message: fmt.Sprintf("invalid key %s", raw), Type: "BAD_REQUEST"})
		return 0, false
	}
	return key, true
}

func requireName(w http.ResponseWriter, r *http.Request, req EventRequest) bool {
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, ApiError{Message: "name is required", Type: "BAD_REQUEST"})
		return false
	}
	return true
}

func readJson(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, ApiError{Message: fmt.Sprintf("invalid request body: %s", err), Type: "BAD_REQUEST"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, status int, apiErr ApiError) {
	if status >= http.StatusInternalServerError {
		log.Errorf(r.Context(), "%s %s failed: %s", r.Method, r.URL.Path, apiErr.Message)
	}
	writeJson(w, status, apiErr)
}

func writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
