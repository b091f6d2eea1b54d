package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"replicator/internal/config"
	"replicator/internal/coordinator"
	"replicator/internal/observability/logger"
	"replicator/internal/replication"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	opts Options
}

type writeRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type writeResponse struct {
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
	Acks      int    `json:"acks"`
	Required  int    `json:"required"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return ErrInvalidJSON.WithDetail(err.Error()).WithCause(err)
	}
	return nil
}

func (h *handlers) write(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	res, err := h.opts.Writer.Write(r.Context(), req.Key, req.Value)
	switch {
	case err == nil:
	case errors.Is(err, coordinator.ErrEmptyKey):
		WriteError(w, ErrMissingKey)
		return
	case errors.Is(err, coordinator.ErrQuorumFailure):
		WriteError(w, ErrQuorumFailure.WithDetail(err.Error()).WithCause(err))
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		WriteError(w, ErrTimeout.WithCause(err))
		return
	default:
		logger.From(r.Context()).Error("write failed", logger.Key(req.Key), zap.Error(err))
		WriteError(w, ErrInternal.WithCause(err))
		return
	}

	writeJSON(w, http.StatusCreated, writeResponse{
		Key:       res.Key,
		Timestamp: res.Timestamp.UnixMilli(),
		Acks:      res.Outcome.Acks,
		Required:  res.Outcome.Required,
	})
}

func (h *handlers) replicate(w http.ResponseWriter, r *http.Request) {
	var body replication.JSONMessage
	if err := decodeJSON(w, r, &body); err != nil {
		WriteError(w, err)
		return
	}
	if _, err := h.opts.Applier.Apply(body.Message()); err != nil {
		switch {
		case errors.Is(err, replication.ErrEmptyKey):
			WriteError(w, ErrMissingKey)
		case errors.Is(err, replication.ErrMissingTimestamp):
			WriteError(w, ErrMissingTimestamp)
		default:
			WriteError(w, ErrInternal.WithCause(err))
		}
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		WriteError(w, ErrInvalidKey.WithDetail(err.Error()).WithCause(err))
		return
	}
	value, _ := h.opts.Store.Get(key)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, value)
}

// keyParam returns the decoded {key} segment. chi matches on RawPath when the
// request carries escapes that Path cannot represent, such as %2F, and then
// hands back the escaped form.
func keyParam(r *http.Request) (string, error) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return key, nil
	}
	return url.PathUnescape(key)
}

func (h *handlers) dump(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.opts.Store.DumpValues())
}

func (h *handlers) dumpVersions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.opts.Store.DumpTimestamps())
}

type configResponse struct {
	WriteQuorum int  `json:"writeQuorum"`
	Versioned   bool `json:"versioned"`
}

func (h *handlers) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		WriteQuorum: h.opts.Settings.WriteQuorum(),
		Versioned:   h.opts.Settings.Versioned(),
	})
}

type setConfigResponse struct {
	Success     bool `json:"success"`
	WriteQuorum int  `json:"writeQuorum"`
}

func (h *handlers) setConfig(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(w, r, &body); err != nil {
		WriteError(w, err)
		return
	}
	raw, ok := body["writeQuorum"]
	if !ok {
		WriteError(w, ErrUnknownConfigKey)
		return
	}
	n, err := quorumFromJSON(raw)
	if err != nil {
		WriteError(w, ErrInvalidQuorum.WithDetail(err.Error()).WithCause(err))
		return
	}

	prev := h.opts.Settings.SetWriteQuorum(n)
	h.opts.Metrics.QuorumChanged()
	logger.From(r.Context()).Info("write quorum changed",
		zap.Int("previous", prev),
		logger.Quorum(n))
	writeJSON(w, http.StatusOK, setConfigResponse{Success: true, WriteQuorum: n})
}

// quorumFromJSON accepts a JSON integer, an integral number such as 3.0, or
// a string holding an integer.
func quorumFromJSON(v any) (int, error) {
	switch t := v.(type) {
	case json.Number:
		if _, err := t.Int64(); err != nil {
			if f, ferr := t.Float64(); ferr == nil && f == math.Trunc(f) && math.Abs(f) <= math.MaxInt32 {
				return int(f), nil
			}
		}
		return config.ParseWriteQuorum(t.String())
	case string:
		return config.ParseWriteQuorum(t)
	default:
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(v)
		return config.ParseWriteQuorum(string(bytes.TrimSpace(buf.Bytes())))
	}
}

type readyResponse struct {
	Status string `json:"status"`
	Node   string `json:"node"`
	Role   string `json:"role"`
	Peers  any    `json:"peers,omitempty"`
}

func (h *handlers) readyz(w http.ResponseWriter, _ *http.Request) {
	resp := readyResponse{Status: "ok", Node: h.opts.NodeID, Role: h.opts.Role}
	if h.opts.Peers != nil {
		resp.Peers = h.opts.Peers()
	}
	writeJSON(w, http.StatusOK, resp)
}
