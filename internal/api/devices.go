package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/owfs-core/internal/bridges/onewire"
	"github.com/nerrad567/owfs-core/internal/device"
	"github.com/nerrad567/owfs-core/internal/service"
)

// ServerView is the JSON form of a registered server.
type ServerView struct {
	Address   string `json:"address"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Connected *bool  `json:"connected,omitempty"`
	Devices   int    `json:"devices"`
}

// DeviceView is a device snapshot plus its family structure, when loaded.
type DeviceView struct {
	device.Snapshot
	Attributes []device.Attribute `json:"attributes,omitempty"`
}

// attributeBody is the request and response body of the attribute endpoints.
type attributeBody struct {
	Device    string `json:"device,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	Value     string `json:"value"`
}

func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	located := make(map[string]int)
	for _, dev := range s.orch.Devices() {
		if loc := dev.Location(); loc != "" {
			located[loc]++
		}
	}

	servers := s.orch.Servers()
	views := make([]ServerView, 0, len(servers))
	for _, srv := range servers {
		addr := srv.Addr()
		v := ServerView{
			Address: addr.String(),
			Host:    addr.Host,
			Port:    addr.Port,
			Devices: located[addr.String()],
		}
		if c, ok := srv.(interface{ Connected() bool }); ok {
			connected := c.Connected()
			v.Connected = &connected
		}
		views = append(views, v)
	}
	slices.SortFunc(views, func(a, b ServerView) int { return strings.Compare(a.Address, b.Address) })

	writeJSON(w, http.StatusOK, map[string]any{"servers": views, "count": len(views)})
}

// handleScan runs one scan of every registered server and answers when all
// of them have finished. ?polling=false skips starting attribute pollers.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	polling := r.URL.Query().Get("polling") != "false"
	if err := s.orch.RequestScanAll(r.Context(), polling); err != nil {
		s.logger.Warn("scan request failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "scanned",
		"servers": len(s.orch.Servers()),
		"devices": len(s.orch.Devices()),
	})
}

// handleListDevices lists devices sorted by ID. Supports ?family= and
// ?server= filters.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	family := strings.ToUpper(r.URL.Query().Get("family"))
	server := r.URL.Query().Get("server")

	views := make([]DeviceView, 0)
	for _, dev := range s.orch.Devices() {
		if family != "" && dev.Family() != family {
			continue
		}
		if server != "" && dev.Location() != server {
			continue
		}
		views = append(views, DeviceView{Snapshot: dev.Snapshot()})
	}
	slices.SortFunc(views, func(a, b DeviceView) int { return strings.Compare(a.ID, b.ID) })

	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, DeviceView{
		Snapshot:   dev.Snapshot(),
		Attributes: dev.Class().Attributes(),
	})
}

// handleReadAttribute reads an attribute live from the server the device is
// located on. The reading also reaches the event stream as DeviceValue.
func (s *Server) handleReadAttribute(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	attr := chi.URLParam(r, "*")
	if a, known := dev.Class().Attribute(attr); known && !a.Access.Readable() {
		writeBadRequest(w, "attribute "+attr+" is not readable")
		return
	}
	acc, ok := s.accessorFor(w, dev)
	if !ok {
		return
	}

	value, err := acc.ReadAttribute(r.Context(), dev, attr)
	if err != nil {
		s.writeBusError(w, err, dev, attr)
		return
	}
	writeJSON(w, http.StatusOK, attributeBody{Device: dev.ID(), Attribute: attr, Value: value})
}

func (s *Server) handleWriteAttribute(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	attr := chi.URLParam(r, "*")
	if a, known := dev.Class().Attribute(attr); known && !a.Access.Writable() {
		writeBadRequest(w, "attribute "+attr+" is not writable")
		return
	}

	var body attributeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	acc, ok := s.accessorFor(w, dev)
	if !ok {
		return
	}

	if err := acc.WriteAttribute(r.Context(), dev, attr, body.Value); err != nil {
		s.writeBusError(w, err, dev, attr)
		return
	}
	s.logger.Info("attribute written", "device", dev.ID(), "attribute", attr)
	writeJSON(w, http.StatusOK, attributeBody{Device: dev.ID(), Attribute: attr, Value: body.Value})
}

func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	id := device.NormalizeID(chi.URLParam(r, "id"))
	dev, ok := s.orch.Device(id)
	if !ok {
		writeNotFound(w, "device not found: "+id)
		return nil, false
	}
	return dev, true
}

// accessorFor finds the server dev is located on.
func (s *Server) accessorFor(w http.ResponseWriter, dev *device.Device) (AttributeAccessor, bool) {
	loc := dev.Location()
	if loc == "" {
		writeUnavailable(w, "device "+dev.ID()+" is not located on any server")
		return nil, false
	}

	var srv service.Server
	for _, candidate := range s.orch.Servers() {
		if candidate.Addr().String() == loc {
			srv = candidate
			break
		}
	}
	if srv == nil {
		writeUnavailable(w, "server "+loc+" is no longer registered")
		return nil, false
	}

	acc, ok := srv.(AttributeAccessor)
	if !ok {
		writeUnavailable(w, "server "+loc+" does not support attribute access")
		return nil, false
	}
	return acc, true
}

// writeBusError maps an attribute access failure to a status. A missing
// path gets a hint when the class structure has a close match.
func (s *Server) writeBusError(w http.ResponseWriter, err error, dev *device.Device, attr string) {
	switch {
	case errors.Is(err, onewire.ErrNotFound):
		msg := err.Error()
		if hint, ok := dev.Class().Suggest(attr); ok {
			msg += "; did you mean " + hint + "?"
		}
		writeNotFound(w, msg)
	case errors.Is(err, onewire.ErrNotConnected), errors.Is(err, onewire.ErrConnectionLost):
		writeUnavailable(w, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	}
}
