// Package api is a thin JSON admin surface over the store, queue, and
// radio — node listing/history, queuing a command, and radio status.
// Grounded on app.py's Flask blueprint and, for Go routing idiom, on the
// teacher corpus's RestApi/MountRoutes(*mux.Router) shape. There is
// deliberately no template rendering, login/session handling, or
// persisted admin config I/O here — those stay external collaborators.
package api

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	basestation "github.com/lss-lora/basestation"
	"github.com/lss-lora/basestation/queue"
	"github.com/lss-lora/basestation/radio"
	"github.com/lss-lora/basestation/store"
)

// API holds the collaborators its handlers read from. All fields are
// required.
type API struct {
	Store  *store.Store
	Queue  *queue.Queue
	Radio  radio.Radio
	Logger *logrus.Logger
}

// New constructs an API. logger may be nil, in which case
// logrus.StandardLogger() is used.
func New(st *store.Store, q *queue.Queue, r radio.Radio, logger *logrus.Logger) *API {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &API{Store: st, Queue: q, Radio: r, Logger: logger}
}

// MountRoutes registers every admin endpoint under r.
func (a *API) MountRoutes(r *mux.Router) {
	sub := r.PathPrefix("/api").Subrouter()
	sub.StrictSlash(true)

	sub.HandleFunc("/nodes", a.getNodes).Methods(http.MethodGet)
	sub.HandleFunc("/nodes/{id}", a.getNode).Methods(http.MethodGet)
	sub.HandleFunc("/nodes/{id}/history", a.getNodeHistory).Methods(http.MethodGet)
	sub.HandleFunc("/nodes/{id}/commands", a.postNodeCommand).Methods(http.MethodPost)
	sub.HandleFunc("/queue", a.getQueue).Methods(http.MethodGet)
	sub.HandleFunc("/radio", a.getRadioStatus).Methods(http.MethodGet)
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func handleError(rw http.ResponseWriter, log *logrus.Logger, err error, status int) {
	log.WithError(err).Warn("api request failed")
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(errorResponse{Status: http.StatusText(status), Error: err.Error()})
}

func writeJSON(rw http.ResponseWriter, log *logrus.Logger, payload interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(payload); err != nil {
		log.WithError(err).Error("failed to encode api response")
	}
}

func nodeIDFromPath(r *http.Request) (uint8, error) {
	raw := mux.Vars(r)["id"]
	n, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(n), nil
}

type nodeView struct {
	NodeID         uint8              `json:"node_id"`
	Location       string             `json:"location"`
	Zone           string             `json:"zone"`
	BatteryPercent uint8              `json:"battery_percent"`
	PowerState     uint8              `json:"power_state"`
	RSSI           *float32           `json:"rssi"`
	SNR            *float32           `json:"snr"`
	Online         bool               `json:"online"`
	LastSeen       time.Time          `json:"last_seen"`
	Values         map[string]float64 `json:"values"`
}

func toNodeView(n store.NodeState) nodeView {
	values := make(map[string]float64, len(n.Values))
	for k, v := range n.Values {
		values[k.Name()] = float64(v)
	}
	return nodeView{
		NodeID:         n.NodeID,
		Location:       n.Location,
		Zone:           n.Zone,
		BatteryPercent: n.BatteryPercent,
		PowerState:     n.PowerState,
		RSSI:           n.RSSI,
		SNR:            n.SNR,
		Online:         n.Online,
		LastSeen:       n.LastSeen,
		Values:         values,
	}
}

func (a *API) getNodes(rw http.ResponseWriter, r *http.Request) {
	nodes := a.Store.GetAllNodes()
	out := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toNodeView(n))
	}
	writeJSON(rw, a.Logger, out)
}

func (a *API) getNode(rw http.ResponseWriter, r *http.Request) {
	id, err := nodeIDFromPath(r)
	if err != nil {
		handleError(rw, a.Logger, err, http.StatusBadRequest)
		return
	}
	n, ok := a.Store.GetNode(id)
	if !ok {
		handleError(rw, a.Logger, errNodeNotFound(id), http.StatusNotFound)
		return
	}
	writeJSON(rw, a.Logger, toNodeView(n))
}

type historyPointView struct {
	Timestamp      time.Time          `json:"timestamp"`
	BatteryPercent uint8              `json:"battery_percent"`
	RSSI           *float32           `json:"rssi"`
	SNR            *float32           `json:"snr"`
	Values         map[string]float64 `json:"values"`
}

func (a *API) getNodeHistory(rw http.ResponseWriter, r *http.Request) {
	id, err := nodeIDFromPath(r)
	if err != nil {
		handleError(rw, a.Logger, err, http.StatusBadRequest)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			since = time.Unix(secs, 0)
		}
	}

	points := a.Store.GetHistory(id, limit, since)
	out := make([]historyPointView, 0, len(points))
	for _, p := range points {
		values := make(map[string]float64, len(p.Values))
		for k, v := range p.Values {
			values[k.Name()] = float64(v)
		}
		out = append(out, historyPointView{
			Timestamp:      p.Timestamp,
			BatteryPercent: p.BatteryPercent,
			RSSI:           p.RSSI,
			SNR:            p.SNR,
			Values:         values,
		})
	}
	writeJSON(rw, a.Logger, out)
}

type commandRequest struct {
	CommandType uint8  `json:"command_type"`
	Data        string `json:"data"` // hex-encoded
}

type commandResponse struct {
	Queued         bool  `json:"queued"`
	SequenceNumber uint8 `json:"sequence_number"`
}

func (a *API) postNodeCommand(rw http.ResponseWriter, r *http.Request) {
	id, err := nodeIDFromPath(r)
	if err != nil {
		handleError(rw, a.Logger, err, http.StatusBadRequest)
		return
	}
	if basestation.IsReservedNode(id) {
		handleError(rw, a.Logger, basestation.ErrReservedNode, http.StatusBadRequest)
		return
	}

	var req commandRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(rw, a.Logger, err, http.StatusBadRequest)
		return
	}

	var data []byte
	if req.Data != "" {
		data, err = hex.DecodeString(req.Data)
		if err != nil {
			handleError(rw, a.Logger, err, http.StatusBadRequest)
			return
		}
	}

	seq := a.Queue.Enqueue(id, req.CommandType, data)
	rw.WriteHeader(http.StatusAccepted)
	writeJSON(rw, a.Logger, commandResponse{Queued: true, SequenceNumber: seq})
}

func (a *API) getQueue(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, a.Logger, a.Queue.AllPending())
}

func (a *API) getRadioStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, a.Logger, a.Radio.Status())
}

func decode(r io.Reader, val interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(val)
}

type nodeNotFoundError struct{ nodeID uint8 }

func (e nodeNotFoundError) Error() string {
	return "node " + strconv.Itoa(int(e.nodeID)) + " not found"
}

func errNodeNotFound(id uint8) error { return nodeNotFoundError{nodeID: id} }
