package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/flowlens/internal/core"
	"firestige.xyz/flowlens/internal/engine"
)

// stateResponse is the body of GET /state.
type stateResponse struct {
	State  engine.State `json:"state"`
	Error  string       `json:"error,omitempty"`
	Device string       `json:"device,omitempty"`
	Since  time.Time    `json:"since"`
}

// startRequest overrides the configured capture and aggregation settings.
// Durations accept Go duration strings ("250ms").
type startRequest struct {
	Source        string         `mapstructure:"source"`
	Interface     string         `mapstructure:"interface"`
	File          string         `mapstructure:"file"`
	Filter        *string        `mapstructure:"filter"`
	SnapLen       int            `mapstructure:"snap_len"`
	Speed         *float64       `mapstructure:"speed"`
	Extra         map[string]any `mapstructure:"extra"`
	TickInterval  time.Duration  `mapstructure:"tick_interval"`
	HalfLife      time.Duration  `mapstructure:"half_life"`
	IdleThreshold time.Duration  `mapstructure:"idle_threshold"`
	MaxFlows      *int           `mapstructure:"max_flows"`
	KeyMode       string         `mapstructure:"key_mode"`
}

type filterRequest struct {
	Filter string `json:"filter"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStateResponse(s.ctrl.Status()))
}

func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.feed.TryReadLatest()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no snapshot published yet"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) diagnosticsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Diagnostics())
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to decode request: %w", err))
		return
	}
	var req startRequest
	if err := decodeStart(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := s.session(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.Start(r.Context(), session); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.logger.WithField("device", s.ctrl.Status().Device).Info("capture started via API")
	writeJSON(w, http.StatusOK, toStateResponse(s.ctrl.Status()))
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(s.ctrl.Status()))
}

func (s *Server) filterHandler(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to decode request: %w", err))
		return
	}
	if err := s.ctrl.UpdateFilter(r.Context(), req.Filter); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// session merges a start request over the configured defaults.
func (s *Server) session(req startRequest) (engine.Session, error) {
	capture := s.base.Capture
	agg := s.base.Aggregation

	if req.Source != "" {
		capture.Source = req.Source
	}
	if req.Interface != "" {
		capture.Interface = req.Interface
	}
	if req.File != "" {
		capture.File = req.File
	}
	if req.Filter != nil {
		capture.Filter = *req.Filter
	}
	if req.SnapLen > 0 {
		capture.SnapLen = req.SnapLen
	}
	if req.Speed != nil {
		capture.Speed = *req.Speed
	}
	if req.Extra != nil {
		capture.Extra = req.Extra
	}
	if req.TickInterval > 0 {
		agg.TickInterval = req.TickInterval
	}
	if req.HalfLife > 0 {
		agg.HalfLife = req.HalfLife
		if req.IdleThreshold == 0 {
			agg.IdleThreshold = 3 * req.HalfLife
		}
	}
	if req.IdleThreshold > 0 {
		agg.IdleThreshold = req.IdleThreshold
	}
	if req.MaxFlows != nil {
		agg.MaxFlows = *req.MaxFlows
	}
	if req.KeyMode != "" {
		agg.KeyMode = req.KeyMode
	}
	return engine.SessionFromConfig(capture, agg)
}

// decodeStart decodes a loosely typed JSON body. Unknown keys are rejected.
func decodeStart(raw map[string]any, out *startRequest) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(durationHook, mapstructure.StringToTimeDurationHookFunc()),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid start request: %w", err)
	}
	return nil
}

// durationHook reads bare JSON numbers as milliseconds.
func durationHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	if f, ok := data.(float64); ok {
		return time.Duration(f * float64(time.Millisecond)), nil
	}
	return data, nil
}

// statusFor maps engine and capture errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrAlreadyRunning), errors.Is(err, core.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, core.ErrConfigInvalid), errors.Is(err, core.ErrUnsupportedFilter):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrEngineClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toStateResponse(st engine.Status) stateResponse {
	resp := stateResponse{State: st.State, Device: st.Device, Since: st.Since}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
